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

// Recording happens while the code generator emits unit. Each call checks
// the assumption, gives the unit an entry exit and only then registers it,
// so a registered unit can always be kicked back to the interpreter.

// AssumeOperatorStable registers unit as depending on op not being
// redefined for the class behind flag. It returns false and records
// nothing if op is already redefined.
func (inv *Invariants) AssumeOperatorStable(unit UnitRef, flag RedefinitionFlag, op BasicOperator) bool {
	inv.mustHoldLock("AssumeOperatorStable")
	if inv.caps.OperatorRedefined(flag, op) {
		return false
	}
	inv.cache.EnsureEntryExit(unit)

	k := opKey{flag, op}
	inv.basicOperators[k] = inv.link(inv.basicOperators[k], unit, OperatorKey(flag, op))
	return true
}

// AssumeMethodLookupStable remembers that unit assumes looking up
// cme.CalledID on recv yields cme and that cme stays valid. The caller has
// already verified the lookup; this is pure bookkeeping. The unit fires on
// either OnMethodEntryInvalidated(cme.Handle) or
// OnMethodLookupChanged(recv, cme.CalledID).
func (inv *Invariants) AssumeMethodLookupStable(unit UnitRef, recv ClassID, cme MethodEntry) {
	inv.mustHoldLock("AssumeMethodLookupStable")
	inv.cache.EnsureEntryExit(unit)

	inv.cmeValidity[cme.Handle] = inv.link(inv.cmeValidity[cme.Handle], unit, MethodEntryKey(cme.Handle))

	names, ok := inv.methodLookup[recv]
	if !ok {
		names = make(map[MethodID][]UnitRef)
		inv.methodLookup[recv] = names
	}
	names[cme.CalledID] = inv.link(names[cme.CalledID], unit, MethodLookupKey(recv, cme.CalledID))
}

// AssumeSingleContext registers unit as valid only while one execution
// context runs. Returns false if the host is already in multi-context mode.
// The caller must hold the VM lock across this call and the spawn
// notification, otherwise a spawn can slip between check and registration.
func (inv *Invariants) AssumeSingleContext(unit UnitRef) bool {
	inv.mustHoldLock("AssumeSingleContext")
	if inv.caps.MultiContext() {
		return false
	}
	inv.cache.EnsureEntryExit(unit)
	inv.singleContext = inv.link(inv.singleContext, unit, SingleContextKey())
	return true
}

// AssumeGlobalBindingsStable registers unit as depending on the global
// binding state not changing.
func (inv *Invariants) AssumeGlobalBindingsStable(unit UnitRef) {
	inv.mustHoldLock("AssumeGlobalBindingsStable")
	inv.cache.EnsureEntryExit(unit)
	inv.globalBindings = inv.link(inv.globalBindings, unit, GlobalBindingKey())
	inv.log.Debug("assume global bindings stable", zap.Stringer("unit", unit))
}
