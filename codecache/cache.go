/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package codecache owns compiled units: their code, their arena slots and
// the primitives to give them an exit and to invalidate them.
package codecache

import (
	"sync"

	"github.com/google/btree"
	"github.com/launix-de/NonLockingReadMap"
	"github.com/launix-de/deopt/jit"
	"go.uber.org/zap"
)

// trampolineSize bytes at offset 0 form the shared "back to the
// interpreter" routine every exit stub jumps to.
const trampolineSize = 8

/*
Cache is mutated only under the VM lock (jit.VMLock). Enter is called by
running execution contexts without that lock: a unit that has been
invalidated is rejected through the dead bitmap without blocking, the slot
table itself is guarded by mu.
*/
type Cache struct {
	mu     sync.RWMutex
	code   *CodeBlock
	slots  []slot
	free   []uint32
	dead   NonLockingReadMap.NonBlockingBitMap // slot index -> not enterable
	byAddr *btree.BTreeG[*Unit]
	labels map[string][]jit.UnitRef

	// OnFree is called after a unit has been freed, with the VM lock held.
	OnFree func(jit.UnitRef)

	log *zap.Logger

	exitsWritten  int64
	invalidations int64
}

// New creates a cache backed by size bytes of code memory.
func New(size int, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		code:   NewCodeBlock(size),
		byAddr: btree.NewG[*Unit](8, unitLess),
		labels: make(map[string][]jit.UnitRef),
		log:    log,
	}
	trampoline := make([]byte, trampolineSize)
	for i := range trampoline {
		trampoline[i] = opInt3
	}
	if err := c.code.Write(trampoline); err != nil {
		panic("codecache: code block too small for the exit trampoline")
	}
	return c
}

// Code exposes the underlying code block.
func (c *Cache) Code() *CodeBlock {
	return c.code
}

func (c *Cache) lookup(ref jit.UnitRef) *Unit {
	if int(ref.Index) >= len(c.slots) {
		return nil
	}
	s := &c.slots[ref.Index]
	if s.gen != ref.Gen {
		return nil
	}
	return s.unit
}

// Unit returns the unit behind ref, nil for stale handles.
func (c *Cache) Unit(ref jit.UnitRef) *Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(ref)
}

// NewUnit copies body into the code block and returns its handle.
func (c *Cache) NewUnit(label string, body []byte) (jit.UnitRef, error) {
	// the entry must be able to hold a jump
	size := len(body)
	if size < jmpSize {
		size = jmpSize
	}
	if err := c.code.Reserve(size + jmpSize); err != nil {
		c.log.Warn("code block exhausted", zap.String("label", label), zap.Int("size", c.code.Size()))
		return jit.UnitRef{}, err
	}
	u := &Unit{Label: label, Start: c.code.Pos()}
	c.code.Write(body)
	for i := len(body); i < size; i++ {
		c.code.Write([]byte{0x90})
	}
	u.ExitSlot = c.code.Pos()
	c.code.Write([]byte{opInt3, opInt3, opInt3, opInt3, opInt3})
	u.End = c.code.Pos()

	c.mu.Lock()
	var idx uint32
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		idx = uint32(len(c.slots))
		c.slots = append(c.slots, slot{})
	}
	u.Ref = jit.UnitRef{Index: idx, Gen: c.slots[idx].gen}
	c.slots[idx].unit = u
	c.labels[label] = append(c.labels[label], u.Ref)
	c.mu.Unlock()
	c.dead.Set(uint(idx), false)

	c.byAddr.ReplaceOrInsert(u)
	c.log.Debug("unit emitted", zap.String("label", label), zap.Stringer("unit", u.Ref), zap.Int("start", u.Start))
	return u.Ref, nil
}

// EnsureEntryExit writes the exit stub of unit once. Stale or invalidated
// units are ignored.
func (c *Cache) EnsureEntryExit(ref jit.UnitRef) {
	u := c.Unit(ref)
	if u == nil || u.HasExit || u.Invalidated {
		return
	}
	c.code.PatchJump(u.ExitSlot, 0)
	u.HasExit = true
	c.exitsWritten++
}

// InvalidateUnit makes ref non-enterable and redirects its entry to the
// exit. Repeated calls and stale handles are no-ops.
func (c *Cache) InvalidateUnit(ref jit.UnitRef) {
	c.mu.Lock()
	u := c.lookup(ref)
	if u == nil || u.Invalidated {
		c.mu.Unlock()
		return
	}
	u.Invalidated = true
	c.labels[u.Label] = removeRef(c.labels[u.Label], ref)
	c.mu.Unlock()
	c.dead.Set(uint(ref.Index), true)

	if u.Start >= c.code.Frozen() {
		if !u.HasExit {
			c.code.PatchJump(u.ExitSlot, 0)
			u.HasExit = true
			c.exitsWritten++
		}
		c.code.PatchJump(u.Start, u.ExitSlot)
	}
	c.invalidations++
	c.log.Debug("unit invalidated", zap.String("label", u.Label), zap.Stringer("unit", ref))
}

// Enter reports whether ref may be entered. It is safe to call from any
// goroutine without the VM lock.
func (c *Cache) Enter(ref jit.UnitRef) bool {
	if c.dead.Get(uint(ref.Index)) {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	u := c.lookup(ref)
	return u != nil && !u.Invalidated
}

// Free releases the arena slot of ref. The code bytes stay where they are.
func (c *Cache) Free(ref jit.UnitRef) {
	c.mu.Lock()
	u := c.lookup(ref)
	if u == nil {
		c.mu.Unlock()
		return
	}
	s := &c.slots[ref.Index]
	s.unit = nil
	s.gen++
	c.free = append(c.free, ref.Index)
	c.labels[u.Label] = removeRef(c.labels[u.Label], ref)
	if len(c.labels[u.Label]) == 0 {
		delete(c.labels, u.Label)
	}
	c.mu.Unlock()
	c.dead.Set(uint(ref.Index), true)

	c.byAddr.Delete(u)
	if c.OnFree != nil {
		c.OnFree(ref)
	}
}

// EachUnit calls fn for every enterable unit in address order.
func (c *Cache) EachUnit(fn func(jit.UnitRef)) {
	var refs []jit.UnitRef
	c.byAddr.Ascend(func(u *Unit) bool {
		if !u.Invalidated {
			refs = append(refs, u.Ref)
		}
		return true
	})
	for _, r := range refs {
		fn(r)
	}
}

// UnitAt finds the unit whose code contains pos.
func (c *Cache) UnitAt(pos int) *Unit {
	var found *Unit
	c.byAddr.DescendLessOrEqual(&Unit{Start: pos}, func(u *Unit) bool {
		found = u
		return false
	})
	if found == nil || pos >= found.End {
		return nil
	}
	return found
}

// Versions lists the enterable units compiled for label, oldest first.
func (c *Cache) Versions(label string) []jit.UnitRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]jit.UnitRef(nil), c.labels[label]...)
}

// FreezeForInvalidation seals all code written so far. Everything in it
// has just been invalidated and may still be executing on some stack.
func (c *Cache) FreezeForInvalidation() {
	c.code.Freeze()
	c.log.Debug("code block frozen", zap.Int("bytes", c.code.Frozen()))
}

// Stats reports the exits written, the units invalidated and the number
// of allocated units.
func (c *Cache) Stats() (exits int64, invalidations int64, live int) {
	return c.exitsWritten, c.invalidations, c.byAddr.Len()
}

func removeRef(list []jit.UnitRef, ref jit.UnitRef) []jit.UnitRef {
	for i, r := range list {
		if r == ref {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
