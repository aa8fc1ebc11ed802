// Package registry implements the fabric's object directory: a named,
// type-tagged, reference-counted map that every long-lived fabric object
// (NIOs, switches, bridges) registers into. Lookup hands back a
// borrowed Handle that the caller must Release exactly once.
//
// The design follows the "registry with reference counting" pattern: an
// owning map keyed by (type, name) guarded by one lock per type-bucket,
// the same granularity minimega's internal/bridge package uses for its
// own bridgeLock (one mutex per concern, not per entry).
package registry

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/GNS3/dynamips-fabric/pkg/minilog"
)

// Well-known object type tags. Additional types may be registered by
// callers; the registry itself only cares that (Type, Name) is unique.
type Type string

const (
	TypeNIO        Type = "nio"
	TypeATMSwitch  Type = "atmsw"
	TypeATMBridge  Type = "atm_bridge"
	TypeFRSwitch   Type = "frsw"
	TypeEthBridge  Type = "nio_bridge"
	TypeNIC        Type = "nic"
)

var (
	ErrDuplicate = errors.New("registry: name already in use")
	ErrNotFound  = errors.New("registry: object not found")
	ErrInUse     = errors.New("registry: object still referenced")
)

// FreeFunc releases whatever resources an object holds. It is invoked by
// DeleteIfUnused/DeleteType once the last reference is dropped.
type FreeFunc func(data any)

type entry struct {
	name     string
	typ      Type
	data     any
	refCount int
	free     FreeFunc
}

type bucket struct {
	mu      sync.Mutex
	objects map[string]*entry
}

// Registry is the fabric-wide object directory. The zero value is not
// usable; construct with New.
type Registry struct {
	mu      sync.Mutex // guards the buckets map itself (bucket creation)
	buckets map[Type]*bucket
}

func New() *Registry {
	return &Registry{buckets: make(map[Type]*bucket)}
}

func (r *Registry) bucketFor(t Type) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[t]
	if !ok {
		b = &bucket{objects: make(map[string]*entry)}
		r.buckets[t] = b
	}
	return b
}

// Handle is a borrowed reference returned by Find. Release must be called
// exactly once; failing to do so leaks a reference and makes
// DeleteIfUnused fail forever.
type Handle struct {
	r    *Registry
	typ  Type
	name string
}

// Data returns the object backing this handle. Valid until Release.
func (h *Handle) Data() any {
	b := h.r.bucketFor(h.typ)
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.objects[h.name]; ok {
		return e.data
	}
	return nil
}

func (h *Handle) Name() string { return h.name }

// Release decrements the reference count taken by Find.
func (h *Handle) Release() {
	_ = h.r.Release(h.name, h.typ)
}

// Add registers a new object under (name, typ). Returns ErrDuplicate if the
// name is already taken for that type. The new object starts with
// refCount == 1, mirroring the C original's "registry_add gives the
// creator an implicit reference".
func (r *Registry) Add(name string, typ Type, data any, free FreeFunc) error {
	b := r.bucketFor(typ)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[name]; ok {
		return fmt.Errorf("%w: %v/%v", ErrDuplicate, typ, name)
	}

	b.objects[name] = &entry{name: name, typ: typ, data: data, refCount: 1, free: free}
	log.Debug("registry: added %v/%v", typ, name)
	return nil
}

// Find looks up an object and increments its reference count. The caller
// must call Release (or Handle.Release) exactly once.
func (r *Registry) Find(name string, typ Type) (*Handle, error) {
	b := r.bucketFor(typ)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v/%v", ErrNotFound, typ, name)
	}
	e.refCount++
	return &Handle{r: r, typ: typ, name: name}, nil
}

// Exists returns the raw object pointer without incrementing the
// reference count ("no-ref" lookup), for read-only inspection by code
// that already holds a reference to something that owns the name (e.g. a
// config-file parser cross-checking NIO names while building a switch
// table under its own lock).
func (r *Registry) Exists(name string, typ Type) any {
	b := r.bucketFor(typ)
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.objects[name]; ok {
		return e.data
	}
	return nil
}

// Release decrements the reference count for (name, typ).
func (r *Registry) Release(name string, typ Type) error {
	b := r.bucketFor(typ)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.objects[name]
	if !ok {
		return fmt.Errorf("%w: %v/%v", ErrNotFound, typ, name)
	}
	if e.refCount > 0 {
		e.refCount--
	}
	return nil
}

// Rename changes an object's registered name, failing if the new name is
// already taken.
func (r *Registry) Rename(oldName, newName string, typ Type) error {
	b := r.bucketFor(typ)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[newName]; ok {
		return fmt.Errorf("%w: %v/%v", ErrDuplicate, typ, newName)
	}
	e, ok := b.objects[oldName]
	if !ok {
		return fmt.Errorf("%w: %v/%v", ErrNotFound, typ, oldName)
	}
	delete(b.objects, oldName)
	e.name = newName
	b.objects[newName] = e
	return nil
}

// DeleteIfUnused removes and frees the object if, and only if, its
// reference count has dropped to 1 or below (the implicit reference taken
// by Add, with no outstanding Find-without-Release). Returns ErrInUse
// otherwise.
func (r *Registry) DeleteIfUnused(name string, typ Type) error {
	b := r.bucketFor(typ)
	b.mu.Lock()

	e, ok := b.objects[name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %v/%v", ErrNotFound, typ, name)
	}
	if e.refCount > 1 {
		b.mu.Unlock()
		return fmt.Errorf("%w: %v/%v has %d references", ErrInUse, typ, name, e.refCount)
	}
	delete(b.objects, name)
	b.mu.Unlock()

	if e.free != nil {
		e.free(e.data)
	}
	log.Debug("registry: deleted %v/%v", typ, name)
	return nil
}

// Visitor is called once per object during ForeachType.
// Deleting the current object from within the visitor is permitted; it
// does not invalidate iteration.
type Visitor func(name string, data any)

// ForeachType visits every registered object of the given type. The
// snapshot is taken under the bucket lock but the visitor itself runs
// without it held, so a visitor may call back into the registry (e.g. to
// delete the object it's visiting) without deadlocking.
func (r *Registry) ForeachType(typ Type, visit Visitor) {
	b := r.bucketFor(typ)

	b.mu.Lock()
	names := make([]string, 0, len(b.objects))
	datas := make([]any, 0, len(b.objects))
	for name, e := range b.objects {
		names = append(names, name)
		datas = append(datas, e.data)
	}
	b.mu.Unlock()

	for i, name := range names {
		visit(name, datas[i])
	}
}

// DeleteType force-deletes every object of the given type regardless of
// reference count, invoking free for each. Used during process shutdown.
func (r *Registry) DeleteType(typ Type, free FreeFunc) {
	b := r.bucketFor(typ)

	b.mu.Lock()
	entries := make([]*entry, 0, len(b.objects))
	for _, e := range b.objects {
		entries = append(entries, e)
	}
	b.objects = make(map[string]*entry)
	b.mu.Unlock()

	for _, e := range entries {
		f := e.free
		if f == nil {
			f = free
		}
		if f != nil {
			f(e.data)
		}
	}
}
