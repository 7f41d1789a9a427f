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
package jit

import (
	"sort"

	"go.uber.org/zap"
)

/*
Invariants tracks which compiled units depend on which runtime assumption.

Tracked assumptions:
 - a basic operator is not redefined on a class           (basicOperators)
 - a resolved method entry is still valid                  (cmeValidity)
 - method lookup of (class, name) still yields that entry  (methodLookup)
 - only one execution context runs                         (singleContext)
 - global bindings did not change                          (globalBindings)

cmeValidity and methodLookup lists are removed when they fire. The other
three are kept, so a second event walks the same (already dead) units again
and relies on the invalidator being idempotent.

A unit freed by the code cache is removed from every list through ForgetUnit,
the reverse index deps tells which lists to look at.
*/

type opKey struct {
	flag RedefinitionFlag
	op   BasicOperator
}

// Invariants is the assumption registry. It performs no locking of its own;
// every method must be called with the VM lock held.
type Invariants struct {
	caps    Capabilities
	cache   CodeCache
	patcher GlobalPatcher
	opts    Options
	lock    *VMLock
	log     *zap.Logger

	basicOperators map[opKey][]UnitRef
	cmeValidity    map[Handle][]UnitRef
	methodLookup   map[ClassID]map[MethodID][]UnitRef
	singleContext  []UnitRef
	globalBindings []UnitRef

	deps map[UnitRef][]Key

	stats Counters
}

// Config wires the registry to its collaborators. Capabilities and Cache
// are required; the rest have defaults.
type Config struct {
	Capabilities Capabilities
	Cache        CodeCache
	Options      Options
	Lock         *VMLock
	Logger       *zap.Logger
}

// New creates the registry. It has to exist before any generated code runs.
func New(cfg Config) *Invariants {
	if cfg.Capabilities == nil || cfg.Cache == nil {
		panic("jit: registry needs capabilities and a code cache")
	}
	inv := &Invariants{
		caps:           cfg.Capabilities,
		cache:          cfg.Cache,
		opts:           cfg.Options,
		lock:           cfg.Lock,
		log:            cfg.Logger,
		basicOperators: make(map[opKey][]UnitRef),
		cmeValidity:    make(map[Handle][]UnitRef),
		methodLookup:   make(map[ClassID]map[MethodID][]UnitRef),
		deps:           make(map[UnitRef][]Key),
	}
	if inv.opts == nil {
		inv.opts = defaultOptions{}
	}
	if inv.log == nil {
		inv.log = zap.NewNop()
	}
	if p, ok := cfg.Cache.(GlobalPatcher); ok {
		inv.patcher = p
	}
	return inv
}

// Stats returns the invalidation counters.
func (inv *Invariants) Stats() *Counters {
	return &inv.stats
}

func (inv *Invariants) mustHoldLock(op string) {
	if inv.lock == nil || !inv.opts.CheckLocking() {
		return
	}
	if !inv.lock.Held() {
		panic("jit: " + op + " called without holding the VM lock")
	}
}

func (inv *Invariants) count(which Counter) {
	if inv.opts.StatsEnabled() {
		inv.stats.incr(which)
	}
}

// link appends unit to list unless it is already there and remembers the
// edge in the reverse index. The reverse index entry of a unit is short,
// so the duplicate check looks there instead of scanning list.
func (inv *Invariants) link(list []UnitRef, unit UnitRef, key Key) []UnitRef {
	for _, k := range inv.deps[unit] {
		if k == key {
			return list
		}
	}
	inv.deps[unit] = append(inv.deps[unit], key)
	return append(list, unit)
}

// Dependents returns a copy of the units registered under key.
func (inv *Invariants) Dependents(key Key) []UnitRef {
	var list []UnitRef
	switch key.Kind {
	case KindOperator:
		list = inv.basicOperators[opKey{key.Flag, key.Op}]
	case KindMethodEntry:
		list = inv.cmeValidity[key.Entry]
	case KindMethodLookup:
		list = inv.methodLookup[key.Class][key.Method]
	case KindSingleContext:
		list = inv.singleContext
	case KindGlobalBinding:
		list = inv.globalBindings
	}
	if len(list) == 0 {
		return nil
	}
	return append([]UnitRef(nil), list...)
}

// Has reports whether key currently has an entry in its index, even an
// empty one. SingleContext and GlobalBinding always exist.
func (inv *Invariants) Has(key Key) bool {
	switch key.Kind {
	case KindOperator:
		_, ok := inv.basicOperators[opKey{key.Flag, key.Op}]
		return ok
	case KindMethodEntry:
		_, ok := inv.cmeValidity[key.Entry]
		return ok
	case KindMethodLookup:
		_, ok := inv.methodLookup[key.Class][key.Method]
		return ok
	}
	return true
}

// Keys lists every key with at least one dependent, sorted.
func (inv *Invariants) Keys() []Key {
	var keys []Key
	for k, list := range inv.basicOperators {
		if len(list) > 0 {
			keys = append(keys, OperatorKey(k.flag, k.op))
		}
	}
	for h, list := range inv.cmeValidity {
		if len(list) > 0 {
			keys = append(keys, MethodEntryKey(h))
		}
	}
	for class, names := range inv.methodLookup {
		for name, list := range names {
			if len(list) > 0 {
				keys = append(keys, MethodLookupKey(class, name))
			}
		}
	}
	if len(inv.singleContext) > 0 {
		keys = append(keys, SingleContextKey())
	}
	if len(inv.globalBindings) > 0 {
		keys = append(keys, GlobalBindingKey())
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// Assumptions lists the keys unit is registered under.
func (inv *Invariants) Assumptions(unit UnitRef) []Key {
	return append([]Key(nil), inv.deps[unit]...)
}

// ForgetUnit drops a freed unit from every index it was registered in.
// Unknown units are ignored.
func (inv *Invariants) ForgetUnit(unit UnitRef) {
	inv.mustHoldLock("ForgetUnit")
	keys, ok := inv.deps[unit]
	if !ok {
		return
	}
	delete(inv.deps, unit)
	for _, key := range keys {
		switch key.Kind {
		case KindOperator:
			k := opKey{key.Flag, key.Op}
			if list, ok := inv.basicOperators[k]; ok {
				inv.basicOperators[k] = without(list, unit)
			}
		case KindMethodEntry:
			if list, ok := inv.cmeValidity[key.Entry]; ok {
				if list = without(list, unit); len(list) == 0 {
					delete(inv.cmeValidity, key.Entry)
				} else {
					inv.cmeValidity[key.Entry] = list
				}
			}
		case KindMethodLookup:
			names := inv.methodLookup[key.Class]
			if list, ok := names[key.Method]; ok {
				if list = without(list, unit); len(list) == 0 {
					delete(names, key.Method)
					if len(names) == 0 {
						delete(inv.methodLookup, key.Class)
					}
				} else {
					names[key.Method] = list
				}
			}
		case KindSingleContext:
			inv.singleContext = without(inv.singleContext, unit)
		case KindGlobalBinding:
			inv.globalBindings = without(inv.globalBindings, unit)
		}
	}
	inv.log.Debug("unit forgotten", zap.Stringer("unit", unit), zap.Int("assumptions", len(keys)))
}

// forgetKey removes key from the reverse index entries of units.
func (inv *Invariants) forgetKey(units []UnitRef, key Key) {
	for _, u := range units {
		keys := inv.deps[u]
		for i, k := range keys {
			if k == key {
				keys = append(keys[:i], keys[i+1:]...)
				break
			}
		}
		if len(keys) == 0 {
			delete(inv.deps, u)
		} else {
			inv.deps[u] = keys
		}
	}
}

func without(list []UnitRef, unit UnitRef) []UnitRef {
	for i, u := range list {
		if u == unit {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
