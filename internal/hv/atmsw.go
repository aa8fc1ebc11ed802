package hv

import (
	"strconv"

	"github.com/GNS3/dynamips-fabric/internal/atmfab"
	"github.com/GNS3/dynamips-fabric/internal/nio"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

// NewAtmswModule builds the "atmsw" module, ported from hv_atmsw.c's
// atmsw_cmd_array/hypervisor_atmsw_init.
func NewAtmswModule(reg *registry.Registry) *Module {
	m := NewModule("atmsw", reg)
	m.RegisterAll([]*Cmd{
		{Name: "create", MinParam: 1, MaxParam: 1, Handler: atmswCreate},
		{Name: "delete", MinParam: 1, MaxParam: 1, Handler: atmswDelete},
		{Name: "rename", MinParam: 2, MaxParam: 2, Handler: atmswRename},
		{Name: "create_vpc", MinParam: 5, MaxParam: 5, Handler: atmswCreateVPC},
		{Name: "delete_vpc", MinParam: 5, MaxParam: 5, Handler: atmswDeleteVPC},
		{Name: "create_vcc", MinParam: 7, MaxParam: 7, Handler: atmswCreateVCC},
		{Name: "delete_vcc", MinParam: 7, MaxParam: 7, Handler: atmswDeleteVCC},
		{Name: "list", MinParam: 0, MaxParam: 0, Handler: atmswList},
	})
	return m
}

func atmswCreate(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	sw := atmfab.NewSwitch(argv[0])
	if err := reg.Add(argv[0], registry.TypeATMSwitch, sw, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create ATM switch '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "ATMSW '%s' created", argv[0])
}

func atmswDelete(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if err := reg.DeleteIfUnused(argv[0], registry.TypeATMSwitch); err != nil {
		return conn.Reply(ErrDelete, true, "unable to delete ATMSW '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "ATMSW '%s' deleted", argv[0])
}

func atmswRename(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if reg.Exists(argv[1], registry.TypeATMSwitch) != nil {
		return conn.Reply(ErrRename, true, "unable to rename ATMSW '%s', '%s' already exists", argv[0], argv[1])
	}
	h, ok := findObject(conn, reg, argv[0], registry.TypeATMSwitch)
	if !ok {
		return nil
	}
	defer h.Release()

	if err := reg.Rename(argv[0], argv[1], registry.TypeATMSwitch); err != nil {
		return conn.Reply(ErrRename, true, "unable to rename ATMSW '%s'", argv[0])
	}
	h.Data().(*atmfab.Switch).Name = argv[1]
	return conn.Reply(InfoOK, true, "ATMSW '%s' renamed to '%s'", argv[0], argv[1])
}

func atmswCreateVPC(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeATMSwitch)
	if !ok {
		return nil
	}
	defer th.Release()
	t := th.Data().(*atmfab.Switch)

	in, ok := lookupNIO(conn, reg, argv[1])
	if !ok {
		return nil
	}
	defer in.Release()
	out, ok := lookupNIO(conn, reg, argv[3])
	if !ok {
		return nil
	}
	defer out.Release()

	vpiIn, err1 := strconv.Atoi(argv[2])
	vpiOut, err2 := strconv.Atoi(argv[4])
	if err1 != nil || err2 != nil {
		return conn.Reply(ErrInvParam, true, "invalid VPI")
	}

	if err := t.CreateVPC(in.Data().(*nio.NIO), out.Data().(*nio.NIO), uint32(vpiIn), uint32(vpiOut)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to create VPC: %v", err)
	}
	return conn.Reply(InfoOK, true, "VPC created")
}

func atmswDeleteVPC(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeATMSwitch)
	if !ok {
		return nil
	}
	defer th.Release()
	t := th.Data().(*atmfab.Switch)

	in, ok := lookupNIO(conn, reg, argv[1])
	if !ok {
		return nil
	}
	defer in.Release()
	out, ok := lookupNIO(conn, reg, argv[3])
	if !ok {
		return nil
	}
	defer out.Release()

	vpiIn, err1 := strconv.Atoi(argv[2])
	vpiOut, err2 := strconv.Atoi(argv[4])
	if err1 != nil || err2 != nil {
		return conn.Reply(ErrInvParam, true, "invalid VPI")
	}

	if err := t.DeleteVPC(in.Data().(*nio.NIO), out.Data().(*nio.NIO), uint32(vpiIn), uint32(vpiOut)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to delete VPC: %v", err)
	}
	return conn.Reply(InfoOK, true, "VPC deleted")
}

func atmswCreateVCC(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeATMSwitch)
	if !ok {
		return nil
	}
	defer th.Release()
	t := th.Data().(*atmfab.Switch)

	in, ok := lookupNIO(conn, reg, argv[1])
	if !ok {
		return nil
	}
	defer in.Release()
	out, ok := lookupNIO(conn, reg, argv[4])
	if !ok {
		return nil
	}
	defer out.Release()

	vpiIn, e1 := strconv.Atoi(argv[2])
	vciIn, e2 := strconv.Atoi(argv[3])
	vpiOut, e3 := strconv.Atoi(argv[5])
	vciOut, e4 := strconv.Atoi(argv[6])
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return conn.Reply(ErrInvParam, true, "invalid VPI/VCI")
	}

	if err := t.CreateVCC(in.Data().(*nio.NIO), out.Data().(*nio.NIO),
		uint32(vpiIn), uint32(vciIn), uint32(vpiOut), uint32(vciOut)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to create VCC: %v", err)
	}
	return conn.Reply(InfoOK, true, "VCC created")
}

func atmswDeleteVCC(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeATMSwitch)
	if !ok {
		return nil
	}
	defer th.Release()
	t := th.Data().(*atmfab.Switch)

	in, ok := lookupNIO(conn, reg, argv[1])
	if !ok {
		return nil
	}
	defer in.Release()
	out, ok := lookupNIO(conn, reg, argv[4])
	if !ok {
		return nil
	}
	defer out.Release()

	vpiIn, e1 := strconv.Atoi(argv[2])
	vciIn, e2 := strconv.Atoi(argv[3])
	vpiOut, e3 := strconv.Atoi(argv[5])
	vciOut, e4 := strconv.Atoi(argv[6])
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return conn.Reply(ErrInvParam, true, "invalid VPI/VCI")
	}

	if err := t.DeleteVCC(in.Data().(*nio.NIO), out.Data().(*nio.NIO),
		uint32(vpiIn), uint32(vciIn), uint32(vpiOut), uint32(vciOut)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to delete VCC: %v", err)
	}
	return conn.Reply(InfoOK, true, "VCC deleted")
}

func atmswList(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	reg.ForeachType(registry.TypeATMSwitch, func(name string, data any) {
		conn.Reply(InfoMsg, false, "%s", name)
	})
	return conn.Reply(InfoOK, true, "OK")
}
