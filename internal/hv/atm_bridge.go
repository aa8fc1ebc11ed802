package hv

import (
	"strconv"

	"github.com/GNS3/dynamips-fabric/internal/atmfab"
	"github.com/GNS3/dynamips-fabric/internal/nio"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

// NewAtmBridgeModule builds the "atm_bridge" module, ported from
// common/hv_atm_bridge.c's atmbr_cmd_array/hypervisor_atm_bridge_init.
func NewAtmBridgeModule(reg *registry.Registry) *Module {
	m := NewModule("atm_bridge", reg)
	m.RegisterAll([]*Cmd{
		{Name: "create", MinParam: 1, MaxParam: 1, Handler: atmbrCreate},
		{Name: "rename", MinParam: 2, MaxParam: 2, Handler: atmbrRename},
		{Name: "delete", MinParam: 1, MaxParam: 1, Handler: atmbrDelete},
		{Name: "configure", MinParam: 5, MaxParam: 5, Handler: atmbrConfigure},
		{Name: "unconfigure", MinParam: 1, MaxParam: 1, Handler: atmbrUnconfigure},
		{Name: "list", MinParam: 0, MaxParam: 0, Handler: atmbrList},
	})
	return m
}

func atmbrCreate(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	t := atmfab.NewBridge(argv[0])
	if err := reg.Add(argv[0], registry.TypeATMBridge, t, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create ATM bridge '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "ATM bridge '%s' created", argv[0])
}

func atmbrRename(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if reg.Exists(argv[1], registry.TypeATMBridge) != nil {
		return conn.Reply(ErrRename, true, "unable to rename ATM bridge '%s', '%s' already exists", argv[0], argv[1])
	}
	h, ok := findObject(conn, reg, argv[0], registry.TypeATMBridge)
	if !ok {
		return nil
	}
	defer h.Release()

	if err := reg.Rename(argv[0], argv[1], registry.TypeATMBridge); err != nil {
		return conn.Reply(ErrRename, true, "unable to rename ATM bridge '%s'", argv[0])
	}
	h.Data().(*atmfab.Bridge).Name = argv[1]
	return conn.Reply(InfoOK, true, "ATM bridge '%s' renamed to '%s'", argv[0], argv[1])
}

func atmbrDelete(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if err := reg.DeleteIfUnused(argv[0], registry.TypeATMBridge); err != nil {
		return conn.Reply(ErrDelete, true, "unable to delete ATM bridge '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "ATM bridge '%s' deleted", argv[0])
}

// atmbrConfigure wires an Ethernet-side NIO and an ATM-side NIO together
// through a bridge, the Go shape of atm_bridge_configure(argv[1],
// argv[2], vpi, vci).
func atmbrConfigure(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeATMBridge)
	if !ok {
		return nil
	}
	defer th.Release()
	t := th.Data().(*atmfab.Bridge)

	eth, ok := lookupNIO(conn, reg, argv[1])
	if !ok {
		return nil
	}
	defer eth.Release()
	atm, ok := lookupNIO(conn, reg, argv[2])
	if !ok {
		return nil
	}
	defer atm.Release()

	vpi, err1 := strconv.Atoi(argv[3])
	vci, err2 := strconv.Atoi(argv[4])
	if err1 != nil || err2 != nil {
		return conn.Reply(ErrInvParam, true, "invalid VPI/VCI")
	}

	if err := t.Configure(eth.Data().(*nio.NIO), atm.Data().(*nio.NIO), uint32(vpi), uint32(vci)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to configure bridge: %v", err)
	}
	return conn.Reply(InfoOK, true, "ATM bridge configured")
}

func atmbrUnconfigure(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeATMBridge)
	if !ok {
		return nil
	}
	defer th.Release()
	th.Data().(*atmfab.Bridge).Unconfigure()
	return conn.Reply(InfoOK, true, "ATM bridge unconfigured")
}

func atmbrList(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	reg.ForeachType(registry.TypeATMBridge, func(name string, data any) {
		conn.Reply(InfoMsg, false, "%s", name)
	})
	return conn.Reply(InfoOK, true, "OK")
}
