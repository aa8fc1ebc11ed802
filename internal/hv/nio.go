package hv

import (
	"errors"
	"strconv"

	"github.com/GNS3/dynamips-fabric/internal/nio"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

var errInvalidDirection = errors.New("hv: invalid filter direction")

// NewNioModule builds the "nio" module, ported from common/hv_nio.c's
// nio_cmd_array/hypervisor_nio_init.
//
// create_vde has no home here: internal/nio carries no VDE transport
// (no example repo in the pack wires libvdeplug, and the ecosystem has
// no pure-Go VDE client), so the command is dropped rather than faked.
// create_gen_eth and create_linux_eth map onto NewPcap and NewRawEther
// respectively, the two transports that actually read live interface
// traffic.
func NewNioModule(reg *registry.Registry) *Module {
	m := NewModule("nio", reg)
	m.RegisterAll([]*Cmd{
		{Name: "create_udp", MinParam: 4, MaxParam: 4, Handler: nioCreateUDP},
		{Name: "create_udp_auto", MinParam: 4, MaxParam: 4, Handler: nioCreateUDPAuto},
		{Name: "connect_udp_auto", MinParam: 3, MaxParam: 3, Handler: nioConnectUDPAuto},
		{Name: "create_mcast", MinParam: 3, MaxParam: 3, Handler: nioCreateMcast},
		{Name: "set_mcast_ttl", MinParam: 2, MaxParam: 2, Handler: nioSetMcastTTL},
		{Name: "create_unix", MinParam: 3, MaxParam: 3, Handler: nioCreateUnix},
		{Name: "create_tap", MinParam: 2, MaxParam: 2, Handler: nioCreateTAP},
		{Name: "create_gen_eth", MinParam: 2, MaxParam: 2, Handler: nioCreateGenEth},
		{Name: "create_linux_eth", MinParam: 2, MaxParam: 2, Handler: nioCreateLinuxEth},
		{Name: "create_null", MinParam: 1, MaxParam: 1, Handler: nioCreateNull},
		{Name: "create_fifo", MinParam: 1, MaxParam: 1, Handler: nioCreateFIFO},
		{Name: "crossconnect_fifo", MinParam: 2, MaxParam: 2, Handler: nioCrossconnectFIFO},
		{Name: "rename", MinParam: 2, MaxParam: 2, Handler: nioRename},
		{Name: "delete", MinParam: 1, MaxParam: 1, Handler: nioDelete},
		{Name: "set_debug", MinParam: 2, MaxParam: 2, Handler: nioSetDebug},
		{Name: "bind_filter", MinParam: 3, MaxParam: 3, Handler: nioBindFilter},
		{Name: "unbind_filter", MinParam: 2, MaxParam: 2, Handler: nioUnbindFilter},
		{Name: "setup_filter", MinParam: 2, MaxParam: 10, Handler: nioSetupFilter},
		{Name: "get_stats", MinParam: 1, MaxParam: 1, Handler: nioGetStats},
		{Name: "reset_stats", MinParam: 1, MaxParam: 1, Handler: nioResetStats},
		{Name: "set_bandwidth", MinParam: 2, MaxParam: 2, Handler: nioSetBandwidth},
		{Name: "list", MinParam: 0, MaxParam: 0, Handler: nioList},
	})
	return m
}

func registerNIO(conn *Conn, reg *registry.Registry, name string, n *nio.NIO, err error, what string) error {
	if err != nil {
		return conn.Reply(ErrCreate, true, "unable to create %s", what)
	}
	if err := reg.Add(name, registry.TypeNIO, n, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create %s", what)
	}
	return nil
}

func nioCreateUDP(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	localPort, e1 := strconv.Atoi(argv[1])
	remotePort, e2 := strconv.Atoi(argv[3])
	if e1 != nil || e2 != nil {
		return conn.Reply(ErrInvParam, true, "invalid port")
	}

	n, err := nio.NewUDP(argv[0], "0.0.0.0", localPort, argv[2], remotePort)
	if rerr := registerNIO(conn, reg, argv[0], n, err, "UDP NIO"); rerr != nil {
		return rerr
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioCreateUDPAuto(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	start, e1 := strconv.Atoi(argv[2])
	end, e2 := strconv.Atoi(argv[3])
	if e1 != nil || e2 != nil {
		return conn.Reply(ErrInvParam, true, "invalid port range")
	}

	n, port, err := nio.NewUDPAuto(argv[0], argv[1], start, end)
	if err != nil {
		return conn.Reply(ErrCreate, true, "unable to create UDP Auto NIO")
	}
	if err := reg.Add(argv[0], registry.TypeNIO, n, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create UDP Auto NIO")
	}
	return conn.Reply(InfoOK, true, "%d", port)
}

func nioConnectUDPAuto(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	port, err := strconv.Atoi(argv[2])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid port")
	}

	if err := nio.ConnectAuto(h.Data().(*nio.NIO), argv[1], port); err != nil {
		return conn.Reply(ErrCreate, true, "unable to connect NIO")
	}
	return conn.Reply(InfoOK, true, "NIO '%s' connected", argv[0])
}

func nioCreateMcast(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	port, err := strconv.Atoi(argv[2])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid port")
	}

	n, cerr := nio.NewMulticast(argv[0], argv[1], port)
	if rerr := registerNIO(conn, reg, argv[0], n, cerr, "Multicast NIO"); rerr != nil {
		return rerr
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioSetMcastTTL(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	ttl, err := strconv.Atoi(argv[1])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid TTL")
	}

	if err := h.Data().(*nio.NIO).SetMulticastTTL(ttl); err != nil {
		return conn.Reply(ErrUnspecified, true, "unable to set TTL")
	}
	return conn.Reply(InfoOK, true, "NIO '%s' TTL changed", argv[0])
}

func nioCreateUnix(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	n, err := nio.NewUnix(argv[0], argv[1], argv[2])
	if rerr := registerNIO(conn, reg, argv[0], n, err, "UNIX NIO"); rerr != nil {
		return rerr
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioCreateTAP(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	n, err := nio.NewTAP(argv[0], argv[1])
	if rerr := registerNIO(conn, reg, argv[0], n, err, "TAP NIO"); rerr != nil {
		return rerr
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioCreateGenEth(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	n, err := nio.NewPcap(argv[0], argv[1])
	if rerr := registerNIO(conn, reg, argv[0], n, err, "generic ethernet NIO"); rerr != nil {
		return rerr
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioCreateLinuxEth(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	n, err := nio.NewRawEther(argv[0], argv[1])
	if rerr := registerNIO(conn, reg, argv[0], n, err, "Linux raw ethernet NIO"); rerr != nil {
		return rerr
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioCreateNull(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	n := nio.NewNull(argv[0])
	if err := reg.Add(argv[0], registry.TypeNIO, n, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create Null NIO")
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioCreateFIFO(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	n := nio.NewFIFO(argv[0])
	if err := reg.Add(argv[0], registry.TypeNIO, n, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create FIFO NIO")
	}
	return conn.Reply(InfoOK, true, "NIO '%s' created", argv[0])
}

func nioCrossconnectFIFO(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	a, ok := lookupNIO(conn, reg, argv[0])
	if !ok {
		return nil
	}
	defer a.Release()
	b, ok := lookupNIO(conn, reg, argv[1])
	if !ok {
		return nil
	}
	defer b.Release()

	if err := nio.CrossConnectFIFO(a.Data().(*nio.NIO), b.Data().(*nio.NIO)); err != nil {
		return conn.Reply(ErrBinding, true, "unable to cross-connect FIFO NIOs")
	}
	return conn.Reply(InfoOK, true, "OK")
}

func nioRename(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if reg.Exists(argv[1], registry.TypeNIO) != nil {
		return conn.Reply(ErrRename, true, "unable to rename NIO '%s', '%s' already exists", argv[0], argv[1])
	}
	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	if err := reg.Rename(argv[0], argv[1], registry.TypeNIO); err != nil {
		return conn.Reply(ErrRename, true, "unable to rename NIO '%s'", argv[0])
	}
	h.Data().(*nio.NIO).Name = argv[1]
	return conn.Reply(InfoOK, true, "NIO '%s' renamed to '%s'", argv[0], argv[1])
}

func nioDelete(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if err := reg.DeleteIfUnused(argv[0], registry.TypeNIO); err != nil {
		return conn.Reply(ErrDelete, true, "unable to delete NIO '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "NIO '%s' deleted", argv[0])
}

func nioSetDebug(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	level, err := strconv.Atoi(argv[1])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid debug level")
	}
	h.Data().(*nio.NIO).Debug = level != 0
	return conn.Reply(InfoOK, true, "OK")
}

func nioBindFilter(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	dir, err := parseDirection(argv[1])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid direction")
	}

	if err := h.Data().(*nio.NIO).BindFilter(dir, argv[2], nil); err != nil {
		return conn.Reply(ErrUnkObj, true, "Unknown filter %s", argv[2])
	}
	return conn.Reply(InfoOK, true, "OK")
}

func nioUnbindFilter(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	dir, err := parseDirection(argv[1])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid direction")
	}

	h.Data().(*nio.NIO).UnbindFilter(dir)
	return conn.Reply(InfoOK, true, "OK")
}

func nioSetupFilter(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	dir, err := parseDirection(argv[1])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid direction")
	}

	if err := h.Data().(*nio.NIO).SetupFilter(dir, argv[2:]); err != nil {
		return conn.Reply(ErrUnspecified, true, "Failed to setup filter")
	}
	return conn.Reply(InfoOK, true, "OK")
}

func nioGetStats(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	s := h.Data().(*nio.NIO).Stats()
	return conn.Reply(InfoOK, true, "%d %d %d %d", s.PktsIn, s.PktsOut, s.BytesIn, s.BytesOut)
}

func nioResetStats(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	h.Data().(*nio.NIO).ResetStats()
	return conn.Reply(InfoOK, true, "OK")
}

func nioSetBandwidth(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	h, ok := findObject(conn, reg, argv[0], registry.TypeNIO)
	if !ok {
		return nil
	}
	defer h.Release()

	kbps, err := strconv.Atoi(argv[1])
	if err != nil {
		return conn.Reply(ErrInvParam, true, "invalid bandwidth")
	}
	h.Data().(*nio.NIO).SetBandwidth(kbps)
	return conn.Reply(InfoOK, true, "OK")
}

func nioList(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	reg.ForeachType(registry.TypeNIO, func(name string, data any) {
		conn.Reply(InfoMsg, false, "%s", name)
	})
	return conn.Reply(InfoOK, true, "OK")
}

// parseDirection accepts the original's 0/1/2 (RX/TX/BOTH) encoding.
func parseDirection(s string) (nio.Direction, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch v {
	case 0:
		return nio.DirRX, nil
	case 1:
		return nio.DirTX, nil
	case 2:
		return nio.DirBoth, nil
	default:
		return 0, errInvalidDirection
	}
}
