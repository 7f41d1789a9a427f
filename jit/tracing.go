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

import "go.uber.org/zap"

// InvalidateAll makes every live unit non-enterable. Hosts call it when an
// event hook facility gets switched on: generated code carries no hooks, so
// none of it may run afterwards. Units already on a stack leave through the
// exits installed by EnsureEntryExit at their next boundary.
//
// Since no registered unit can fire anymore, all indices are emptied, and
// the code cache gets a chance to freeze the code that was invalidated.
func (inv *Invariants) InvalidateAll() {
	if !inv.opts.Enabled() {
		return
	}
	inv.mustHoldLock("InvalidateAll")

	var units []UnitRef
	inv.cache.EachUnit(func(u UnitRef) {
		units = append(units, u)
	})
	inv.invalidate(units, CounterTracing)

	inv.basicOperators = make(map[opKey][]UnitRef)
	inv.cmeValidity = make(map[Handle][]UnitRef)
	inv.methodLookup = make(map[ClassID]map[MethodID][]UnitRef)
	inv.singleContext = nil
	inv.globalBindings = nil
	inv.deps = make(map[UnitRef][]Key)

	if inv.patcher != nil {
		inv.patcher.FreezeForInvalidation()
	}
	inv.traceEvent("invalidate all", len(units))
	inv.log.Info("invalidated all generated code", zap.Int("units", len(units)))
}

// InvalidateAllMethodLookups is called when the host flushes its global
// method cache. Every unit relying on a method entry or a method lookup is
// invalidated and both indices are cleared.
func (inv *Invariants) InvalidateAllMethodLookups() {
	if !inv.opts.Enabled() {
		return
	}
	inv.mustHoldLock("InvalidateAllMethodLookups")

	seen := make(map[UnitRef]struct{})
	var units []UnitRef
	collect := func(list []UnitRef) {
		for _, u := range list {
			if _, ok := seen[u]; !ok {
				seen[u] = struct{}{}
				units = append(units, u)
			}
		}
	}
	for entry, list := range inv.cmeValidity {
		collect(list)
		inv.forgetKey(list, MethodEntryKey(entry))
	}
	for class, names := range inv.methodLookup {
		for name, list := range names {
			collect(list)
			inv.forgetKey(list, MethodLookupKey(class, name))
		}
	}
	inv.cmeValidity = make(map[Handle][]UnitRef)
	inv.methodLookup = make(map[ClassID]map[MethodID][]UnitRef)

	inv.invalidate(units, CounterMethodLookup)
	inv.traceEvent("invalidate all method lookups", len(units))
}
