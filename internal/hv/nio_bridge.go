package hv

import (
	"github.com/GNS3/dynamips-fabric/internal/ethbridge"
	"github.com/GNS3/dynamips-fabric/internal/nio"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

// NewNioBridgeModule builds the "nio_bridge" module, ported from
// common/hv_nio_bridge.c's nio_bridge_cmd_array/
// hypervisor_nio_bridge_init. Where the original netio_bridge_t is a
// raw Ethernet-frame relay with no MAC learning, this module backs
// onto internal/ethbridge.Bridge, a learning hub.
func NewNioBridgeModule(reg *registry.Registry) *Module {
	m := NewModule("nio_bridge", reg)
	m.RegisterAll([]*Cmd{
		{Name: "create", MinParam: 1, MaxParam: 1, Handler: niobrCreate},
		{Name: "delete", MinParam: 1, MaxParam: 1, Handler: niobrDelete},
		{Name: "rename", MinParam: 2, MaxParam: 2, Handler: niobrRename},
		{Name: "add_nio", MinParam: 2, MaxParam: 2, Handler: niobrAddNIO},
		{Name: "remove_nio", MinParam: 2, MaxParam: 2, Handler: niobrRemoveNIO},
		{Name: "list", MinParam: 0, MaxParam: 0, Handler: niobrList},
	})
	return m
}

func niobrCreate(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	br := ethbridge.New(argv[0])
	if err := reg.Add(argv[0], registry.TypeEthBridge, br, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create NIO bridge '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "NIO bridge '%s' created", argv[0])
}

func niobrDelete(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if err := reg.DeleteIfUnused(argv[0], registry.TypeEthBridge); err != nil {
		return conn.Reply(ErrDelete, true, "unable to delete NIO bridge '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "NIO bridge '%s' deleted", argv[0])
}

func niobrRename(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if reg.Exists(argv[1], registry.TypeEthBridge) != nil {
		return conn.Reply(ErrRename, true, "unable to rename NIO bridge '%s', '%s' already exists", argv[0], argv[1])
	}
	h, ok := findObject(conn, reg, argv[0], registry.TypeEthBridge)
	if !ok {
		return nil
	}
	defer h.Release()

	if err := reg.Rename(argv[0], argv[1], registry.TypeEthBridge); err != nil {
		return conn.Reply(ErrRename, true, "unable to rename NIO bridge '%s'", argv[0])
	}
	h.Data().(*ethbridge.Bridge).Name = argv[1]
	return conn.Reply(InfoOK, true, "NIO bridge '%s' renamed to '%s'", argv[0], argv[1])
}

func niobrAddNIO(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeEthBridge)
	if !ok {
		return nil
	}
	defer th.Release()

	nh, ok := lookupNIO(conn, reg, argv[1])
	if !ok {
		return nil
	}
	defer nh.Release()

	if err := th.Data().(*ethbridge.Bridge).AddNIO(nh.Data().(*nio.NIO)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to bind NIO '%s' to bridge '%s': %v", argv[1], argv[0], err)
	}
	return conn.Reply(InfoOK, true, "NIO '%s' bound.", argv[1])
}

func niobrRemoveNIO(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeEthBridge)
	if !ok {
		return nil
	}
	defer th.Release()

	if err := th.Data().(*ethbridge.Bridge).RemoveNIO(argv[1]); err != nil {
		return conn.Reply(codeFor(err), true, "unable to unbind NIO '%s' from bridge '%s': %v", argv[1], argv[0], err)
	}
	return conn.Reply(InfoOK, true, "NIO '%s' unbound.", argv[1])
}

func niobrList(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	reg.ForeachType(registry.TypeEthBridge, func(name string, data any) {
		conn.Reply(InfoMsg, false, "%s", name)
	})
	return conn.Reply(InfoOK, true, "OK")
}
