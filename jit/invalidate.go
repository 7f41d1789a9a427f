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
	"github.com/launix-de/deopt/trace"
	"go.uber.org/zap"
)

// invalidate passes every unit to the invalidator. units must not alias an
// index slice: invalidators may free units, which edits the indices.
func (inv *Invariants) invalidate(units []UnitRef, which Counter) {
	for _, u := range units {
		inv.cache.InvalidateUnit(u)
		inv.count(which)
	}
}

func (inv *Invariants) traceEvent(name string, units int) {
	if t := trace.Current(); t != nil {
		t.EventArgs(name, "jit", "i", map[string]any{"units": units})
	}
	inv.log.Debug(name, zap.Int("units", units))
}

// OnOperatorRedefined is called by the host when op gets redefined on the
// class behind flag.
func (inv *Invariants) OnOperatorRedefined(flag RedefinitionFlag, op BasicOperator) {
	if !inv.opts.Enabled() {
		return
	}
	inv.mustHoldLock("OnOperatorRedefined")
	k := opKey{flag, op}
	list, ok := inv.basicOperators[k]
	if !ok {
		inv.basicOperators[k] = nil
	}
	units := append([]UnitRef(nil), list...)
	inv.invalidate(units, CounterBopRedefined)
	inv.traceEvent("operator redefined", len(units))
}

// OnMethodEntryInvalidated is called when a cached method entry becomes
// invalid. The key is removed, so a second call for the same entry does
// nothing.
func (inv *Invariants) OnMethodEntryInvalidated(entry Handle) {
	if !inv.opts.Enabled() {
		return
	}
	inv.mustHoldLock("OnMethodEntryInvalidated")
	units, ok := inv.cmeValidity[entry]
	if !ok {
		return
	}
	delete(inv.cmeValidity, entry)
	inv.forgetKey(units, MethodEntryKey(entry))
	inv.invalidate(units, CounterMethodLookup)
	inv.traceEvent("method entry invalidated", len(units))
}

// OnMethodLookupChanged is called before the result of looking up name on
// class changes. Only the (class, name) list is removed; other names of the
// same class and the same name on other classes stay registered.
func (inv *Invariants) OnMethodLookupChanged(class ClassID, name MethodID) {
	if !inv.opts.Enabled() {
		return
	}
	inv.mustHoldLock("OnMethodLookupChanged")
	names, ok := inv.methodLookup[class]
	if !ok {
		return
	}
	units, ok := names[name]
	if !ok {
		return
	}
	delete(names, name)
	if len(names) == 0 {
		delete(inv.methodLookup, class)
	}
	inv.forgetKey(units, MethodLookupKey(class, name))
	inv.invalidate(units, CounterMethodLookup)
	inv.traceEvent("method lookup changed", len(units))
}

// OnContextSpawnImminent is called before a new execution context starts.
// It must return before the new context may run any generated code.
func (inv *Invariants) OnContextSpawnImminent() {
	if !inv.opts.Enabled() {
		return
	}
	inv.mustHoldLock("OnContextSpawnImminent")
	units := append([]UnitRef(nil), inv.singleContext...)
	inv.invalidate(units, CounterContextSpawn)
	inv.traceEvent("context spawn", len(units))
}

// OnGlobalBindingChanged is called whenever a global binding changes.
func (inv *Invariants) OnGlobalBindingChanged() {
	if !inv.opts.Enabled() {
		return
	}
	inv.mustHoldLock("OnGlobalBindingChanged")
	units := append([]UnitRef(nil), inv.globalBindings...)
	inv.invalidate(units, CounterGlobalBinding)
	inv.traceEvent("global binding changed", len(units))
}
