// Package engine implements the generic DMA-ring descriptor engine
// shared by every emulated NIC: guest-memory access, descriptor
// read/writeback under a selectable word permutation ("software
// style"), the RX/TX ring state machines, and a reusable MII/PHY
// register block. Individual chips in internal/nic wrap one
// engine.Ring with their own CSR/BCR register files.
package engine

import (
	"encoding/binary"
	"errors"
	"sync"
)

// ErrOutOfRange is returned by a GuestMem access past the backing
// store's bounds.
var ErrOutOfRange = errors.New("engine: guest memory access out of range")

// GuestMem abstracts the guest's physical address space the way a
// real NIC's bus-master DMA engine would see it: byte-addressed reads
// and writes plus big-endian 32-bit word helpers for descriptor
// fields, matching physmem_copy_from_vm/physmem_copy_to_vm's role.
type GuestMem interface {
	ReadAt(addr uint32, buf []byte) error
	WriteAt(addr uint32, buf []byte) error
	ReadUint32(addr uint32) (uint32, error)
	WriteUint32(addr uint32, v uint32) error
}

// FlatGuestMem is a []byte-backed GuestMem, the production
// implementation for a VM's linear physical RAM and the fake used in
// tests.
type FlatGuestMem struct {
	mu  sync.RWMutex
	mem []byte
}

// NewFlatGuestMem allocates a zeroed guest memory of the given size.
func NewFlatGuestMem(size int) *FlatGuestMem {
	return &FlatGuestMem{mem: make([]byte, size)}
}

func (g *FlatGuestMem) ReadAt(addr uint32, buf []byte) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	end := uint64(addr) + uint64(len(buf))
	if end > uint64(len(g.mem)) {
		return ErrOutOfRange
	}
	copy(buf, g.mem[addr:end])
	return nil
}

func (g *FlatGuestMem) WriteAt(addr uint32, buf []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	end := uint64(addr) + uint64(len(buf))
	if end > uint64(len(g.mem)) {
		return ErrOutOfRange
	}
	copy(g.mem[addr:end], buf)
	return nil
}

func (g *FlatGuestMem) ReadUint32(addr uint32) (uint32, error) {
	var buf [4]byte
	if err := g.ReadAt(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (g *FlatGuestMem) WriteUint32(addr uint32, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return g.WriteAt(addr, buf[:])
}
