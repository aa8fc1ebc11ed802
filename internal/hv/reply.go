package hv

import (
	"errors"

	"github.com/GNS3/dynamips-fabric/internal/atmfab"
	"github.com/GNS3/dynamips-fabric/internal/ethbridge"
	"github.com/GNS3/dynamips-fabric/internal/frsw"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

// codeFor maps a package sentinel error to the HSC_ERR_* code a command
// handler should reply with, the dispatch table equivalent of each C
// handler's own hand-picked hypervisor_send_reply call. Handlers that
// need a more specific code than their error conveys (e.g.
// HSC_ERR_BINDING for a VC creation failure, which frsw/atmfab report
// as a plain error) still call conn.Reply directly; codeFor exists for
// the common "look up an object by name, reply unknown-object on miss"
// path shared by every module.
func codeFor(err error) Code {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return ErrUnkObj
	case errors.Is(err, registry.ErrDuplicate):
		return ErrCreate
	case errors.Is(err, registry.ErrInUse):
		return ErrDelete
	case errors.Is(err, frsw.ErrConnExists), errors.Is(err, frsw.ErrNotFound):
		return ErrBinding
	case errors.Is(err, atmfab.ErrVPExists),
		errors.Is(err, atmfab.ErrVCExists),
		errors.Is(err, atmfab.ErrVPOnVCI),
		errors.Is(err, atmfab.ErrVCOnVPI),
		errors.Is(err, atmfab.ErrNotFound):
		return ErrBinding
	case errors.Is(err, atmfab.ErrBridgeConfigured):
		return ErrBinding
	case errors.Is(err, ethbridge.ErrPortExists), errors.Is(err, ethbridge.ErrPortNotFound):
		return ErrBinding
	default:
		return ErrUnspecified
	}
}

// findObject looks up name in reg under typ, replying HSC_ERR_UNK_OBJ on
// a miss, the Go analogue of hypervisor_find_object. On success the
// caller owns the returned Handle and must Release it.
func findObject(conn *Conn, reg *registry.Registry, name string, typ registry.Type) (*registry.Handle, bool) {
	h, err := reg.Find(name, typ)
	if err != nil {
		conn.Reply(ErrUnkObj, true, "unknown object '%s'", name)
		return nil, false
	}
	return h, true
}
