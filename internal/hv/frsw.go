package hv

import (
	"strconv"

	"github.com/GNS3/dynamips-fabric/internal/frsw"
	"github.com/GNS3/dynamips-fabric/internal/nio"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

// NewFrswModule builds the "frsw" module, ported from
// common/hv_frsw.c's frsw_cmd_array/hypervisor_frsw_init.
func NewFrswModule(reg *registry.Registry) *Module {
	m := NewModule("frsw", reg)
	m.RegisterAll([]*Cmd{
		{Name: "create", MinParam: 1, MaxParam: 1, Handler: frswCreate},
		{Name: "delete", MinParam: 1, MaxParam: 1, Handler: frswDelete},
		{Name: "rename", MinParam: 2, MaxParam: 2, Handler: frswRename},
		{Name: "create_vc", MinParam: 5, MaxParam: 5, Handler: frswCreateVC},
		{Name: "delete_vc", MinParam: 5, MaxParam: 5, Handler: frswDeleteVC},
		{Name: "list", MinParam: 0, MaxParam: 0, Handler: frswList},
	})
	return m
}

func frswCreate(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	sw := frsw.NewSwitch(argv[0])
	if err := reg.Add(argv[0], registry.TypeFRSwitch, sw, nil); err != nil {
		return conn.Reply(ErrCreate, true, "unable to create frame-relay switch '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "FRSW '%s' created", argv[0])
}

func frswDelete(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if err := reg.DeleteIfUnused(argv[0], registry.TypeFRSwitch); err != nil {
		return conn.Reply(ErrDelete, true, "unable to delete FRSW '%s'", argv[0])
	}
	return conn.Reply(InfoOK, true, "FRSW '%s' deleted", argv[0])
}

func frswRename(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	if reg.Exists(argv[1], registry.TypeFRSwitch) != nil {
		return conn.Reply(ErrRename, true, "unable to rename FRSW '%s', '%s' already exists", argv[0], argv[1])
	}
	h, ok := findObject(conn, reg, argv[0], registry.TypeFRSwitch)
	if !ok {
		return nil
	}
	defer h.Release()

	if err := reg.Rename(argv[0], argv[1], registry.TypeFRSwitch); err != nil {
		return conn.Reply(ErrRename, true, "unable to rename FRSW '%s'", argv[0])
	}
	h.Data().(*frsw.Switch).Name = argv[1]
	return conn.Reply(InfoOK, true, "FRSW '%s' renamed to '%s'", argv[0], argv[1])
}

func frswCreateVC(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeFRSwitch)
	if !ok {
		return nil
	}
	defer th.Release()
	t := th.Data().(*frsw.Switch)

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

	dlciIn, err1 := strconv.Atoi(argv[2])
	dlciOut, err2 := strconv.Atoi(argv[4])
	if err1 != nil || err2 != nil {
		return conn.Reply(ErrInvParam, true, "invalid DLCI")
	}

	if err := t.CreateVC(in.Data().(*nio.NIO), uint32(dlciIn), out.Data().(*nio.NIO), uint32(dlciOut)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to create VC: %v", err)
	}
	return conn.Reply(InfoOK, true, "VC created")
}

func frswDeleteVC(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	th, ok := findObject(conn, reg, argv[0], registry.TypeFRSwitch)
	if !ok {
		return nil
	}
	defer th.Release()
	t := th.Data().(*frsw.Switch)

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

	dlciIn, err1 := strconv.Atoi(argv[2])
	dlciOut, err2 := strconv.Atoi(argv[4])
	if err1 != nil || err2 != nil {
		return conn.Reply(ErrInvParam, true, "invalid DLCI")
	}

	if err := t.DeleteVC(in.Data().(*nio.NIO), uint32(dlciIn), out.Data().(*nio.NIO), uint32(dlciOut)); err != nil {
		return conn.Reply(codeFor(err), true, "unable to delete VC: %v", err)
	}
	return conn.Reply(InfoOK, true, "VC deleted")
}

func frswList(conn *Conn, argv []string) error {
	reg := conn.CurModule().Opt.(*registry.Registry)

	reg.ForeachType(registry.TypeFRSwitch, func(name string, data any) {
		conn.Reply(InfoMsg, false, "%s", name)
	})
	return conn.Reply(InfoOK, true, "OK")
}

// lookupNIO is hypervisor_find_object specialized to OBJ_TYPE_NIO,
// shared by every module that wires NIOs into a switch/bridge.
func lookupNIO(conn *Conn, reg *registry.Registry, name string) (*registry.Handle, bool) {
	return findObject(conn, reg, name, registry.TypeNIO)
}
