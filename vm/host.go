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

// Package vm is a small host runtime around the assumption registry: it
// owns classes, method tables, globals and execution contexts and fires the
// registry callbacks whenever one of them changes.
package vm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/launix-de/deopt/codecache"
	"github.com/launix-de/deopt/jit"
	"github.com/launix-de/deopt/settings"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/*
Host state is only touched inside h.Lock.Enter. Execution contexts are
goroutines; they run units through Execute, which holds the world lock
for reading. The VM lock barrier takes the world lock for writing, so
while code is patched no context is inside a unit.
*/
type Host struct {
	ID       uuid.UUID
	Lock     *jit.VMLock
	Inv      *jit.Invariants
	Cache    *codecache.Cache
	Settings *settings.SettingsT

	log     *zap.Logger
	enabled bool // Settings.Enabled, fixed at New

	world sync.RWMutex

	redefined [bopCount]jit.RedefinitionFlag
	classes   map[string]*Class
	classByID map[jit.ClassID]*Class
	entries   entryTable
	globals   map[string]string
	hooks     bool
	multi     atomic.Bool
	running   atomic.Int32
	groupMu   sync.Mutex
	group     *errgroup.Group
	groupCtx  context.Context
	printMu   sync.Mutex
}

// Config for New. Settings defaults to the process-wide settings.Settings;
// New freezes it.
type Config struct {
	Settings *settings.SettingsT
	Logger   *zap.Logger
}

// New boots a host with the builtin classes, its code cache and registry.
func New(cfg Config) *Host {
	h := &Host{
		ID:        uuid.New(),
		Settings:  cfg.Settings,
		log:       cfg.Logger,
		classes:   make(map[string]*Class),
		classByID: make(map[jit.ClassID]*Class),
		globals:   make(map[string]string),
	}
	if h.Settings == nil {
		h.Settings = &settings.Settings
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.Settings.Freeze()
	h.enabled = h.Settings.Enabled
	h.Lock = jit.NewVMLock(h.barrier)
	h.Cache = codecache.New(int(h.Settings.ExecMemSize), h.log.Named("codecache"))
	h.Inv = jit.New(jit.Config{
		Capabilities: h,
		Cache:        h.Cache,
		Options:      h.Settings.Options(),
		Lock:         h.Lock,
		Logger:       h.log.Named("jit"),
	})
	h.Cache.OnFree = h.Inv.ForgetUnit
	h.group, h.groupCtx = errgroup.WithContext(context.Background())
	for _, b := range builtinClasses {
		h.defineClass(b.name, b.flag)
	}
	h.log.Info("host started", zap.Stringer("id", h.ID))
	return h
}

// barrier stops every context at its next unit boundary until the VM lock
// is released again.
func (h *Host) barrier() func() {
	h.world.Lock()
	return h.world.Unlock
}

// OperatorRedefined implements jit.Capabilities.
func (h *Host) OperatorRedefined(flag jit.RedefinitionFlag, op jit.BasicOperator) bool {
	if op >= bopCount {
		return true
	}
	return h.redefined[op]&flag != 0
}

// MultiContext implements jit.Capabilities. Once a second context has been
// spawned the host never returns to single-context mode.
func (h *Host) MultiContext() bool {
	return h.multi.Load()
}

func (h *Host) defineClass(name string, flag jit.RedefinitionFlag) *Class {
	c := &Class{
		Name:    name,
		ID:      jit.ClassID{Slot: uint32(len(h.classes))},
		Flag:    flag,
		methods: make(map[jit.MethodID]jit.MethodEntry),
	}
	h.classes[name] = c
	h.classByID[c.ID] = c
	return c
}

// DefineClass creates a class or returns the existing one.
func (h *Host) DefineClass(name string) (c *Class) {
	h.Lock.Enter(func() {
		if c = h.classes[name]; c == nil {
			c = h.defineClass(name, 0)
		}
	})
	return
}

// Class looks up a class by name.
func (h *Host) Class(name string) (c *Class, err error) {
	h.Lock.Enter(func() {
		c = h.classes[name]
	})
	if c == nil {
		return nil, fmt.Errorf("unknown class: %s", name)
	}
	return c, nil
}

// ClassNames lists all classes, sorted.
func (h *Host) ClassNames() (names []string) {
	h.Lock.Enter(func() {
		for n := range h.classes {
			names = append(names, n)
		}
	})
	sort.Strings(names)
	return
}

// Lookup resolves name on the class.
func (h *Host) Lookup(class string, name jit.MethodID) (entry jit.MethodEntry, ok bool) {
	h.Lock.Enter(func() {
		if c := h.classes[class]; c != nil {
			entry, ok = c.methods[name]
		}
	})
	return
}

// DefineMethod (re)defines name on class. Units that assumed the old
// lookup result or the old entry are invalidated first.
func (h *Host) DefineMethod(class string, name jit.MethodID) (entry jit.MethodEntry, err error) {
	h.Lock.Enter(func() {
		c := h.classes[class]
		if c == nil {
			err = fmt.Errorf("unknown class: %s", class)
			return
		}
		h.Inv.OnMethodLookupChanged(c.ID, name)
		if old, ok := c.methods[name]; ok {
			h.Inv.OnMethodEntryInvalidated(old.Handle)
			h.entries.retire(old.Handle)
		}
		entry = jit.MethodEntry{Handle: h.entries.alloc(), CalledID: name}
		c.methods[name] = entry
	})
	if err == nil {
		h.log.Debug("method defined", zap.String("class", class), zap.String("name", string(name)), zap.Stringer("entry", entry.Handle))
	}
	return
}

// RemoveMethod drops name from class.
func (h *Host) RemoveMethod(class string, name jit.MethodID) (err error) {
	h.Lock.Enter(func() {
		c := h.classes[class]
		if c == nil {
			err = fmt.Errorf("unknown class: %s", class)
			return
		}
		old, ok := c.methods[name]
		if !ok {
			err = fmt.Errorf("undefined method %s for %s", name, class)
			return
		}
		h.Inv.OnMethodLookupChanged(c.ID, name)
		h.Inv.OnMethodEntryInvalidated(old.Handle)
		h.entries.retire(old.Handle)
		delete(c.methods, name)
	})
	return
}

// RedefineOperator marks op as redefined on a builtin class.
func (h *Host) RedefineOperator(class string, op jit.BasicOperator) (err error) {
	h.Lock.Enter(func() {
		c := h.classes[class]
		switch {
		case c == nil:
			err = fmt.Errorf("unknown class: %s", class)
		case c.Flag == 0:
			err = fmt.Errorf("operators of %s are not tracked", class)
		case op >= bopCount:
			err = fmt.Errorf("unknown operator: %d", op)
		default:
			h.redefined[op] |= c.Flag
			h.Inv.OnOperatorRedefined(c.Flag, op)
		}
	})
	if err == nil {
		h.log.Info("operator redefined", zap.String("class", class), zap.String("op", OperatorName(op)))
	}
	return
}

// SetGlobal assigns a global binding.
func (h *Host) SetGlobal(name string, value string) {
	h.Lock.Enter(func() {
		h.globals[name] = value
		h.Inv.OnGlobalBindingChanged()
	})
}

// Global reads a global binding.
func (h *Host) Global(name string) (value string, ok bool) {
	h.Lock.Enter(func() {
		value, ok = h.globals[name]
	})
	return
}

// EnableHooks turns on the event hook facility. Generated code contains no
// hook calls, so everything compiled so far is thrown away.
func (h *Host) EnableHooks() {
	h.Lock.Enter(func() {
		if h.hooks {
			return
		}
		h.hooks = true
		h.Inv.InvalidateAll()
	})
}

// HooksEnabled reports whether EnableHooks has been called.
func (h *Host) HooksEnabled() (on bool) {
	h.Lock.Enter(func() { on = h.hooks })
	return
}

// ClearMethodCache flushes every cached method resolution.
func (h *Host) ClearMethodCache() {
	h.Lock.Enter(func() {
		h.Inv.InvalidateAllMethodLookups()
	})
}

// SpawnContext starts fn as a new execution context. Units assuming single
// context mode are invalidated before fn can run any of them.
func (h *Host) SpawnContext(fn func(ctx context.Context) error) {
	h.Lock.Enter(func() {
		h.Inv.OnContextSpawnImminent()
		h.multi.Store(true)
	})
	h.running.Add(1)
	h.groupMu.Lock()
	g, ctx := h.group, h.groupCtx
	h.groupMu.Unlock()
	g.Go(func() error {
		defer h.running.Add(-1)
		return fn(ctx)
	})
}

// Running is the number of contexts that have not finished yet.
func (h *Host) Running() int {
	return int(h.running.Load())
}

// Wait blocks until every spawned context has returned and reports the
// first error.
func (h *Host) Wait() error {
	h.groupMu.Lock()
	g := h.group
	h.group, h.groupCtx = errgroup.WithContext(context.Background())
	h.groupMu.Unlock()
	return g.Wait()
}

// Execute enters the newest version of label and, if it is enterable,
// runs body while the world lock keeps patching away. It reports whether
// generated code ran; with the JIT disabled it never does. body must not
// enter the VM lock.
func (h *Host) Execute(label string, body func(jit.UnitRef)) bool {
	if !h.enabled {
		return false
	}
	h.world.RLock()
	defer h.world.RUnlock()
	versions := h.Cache.Versions(label)
	for i := len(versions) - 1; i >= 0; i-- {
		if h.Cache.Enter(versions[i]) {
			if body != nil {
				body(versions[i])
			}
			return true
		}
	}
	return false
}
