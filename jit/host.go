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

/*
Collaborators
=============

The registry only does bookkeeping. Everything that touches generated code
or host state is reached through the interfaces below:

  Capabilities     host predicates, pure reads
  ExitGuarantee    gives a unit a patch point back into the interpreter
  UnitInvalidator  makes a unit permanently non-enterable
  UnitWalker       enumerates live units for the global invalidation
  GlobalPatcher    optional, freezes the code block after global invalidation
  Options          feature toggles, read through getters only

All calls into the registry (recording as well as dispatch) must happen
while the caller holds the host's VM lock. See lock.go.
*/

// Capabilities answers host questions at recording time.
type Capabilities interface {
	// OperatorRedefined reports whether op has been redefined on the class
	// behind flag.
	OperatorRedefined(flag RedefinitionFlag, op BasicOperator) bool
	// MultiContext reports whether more than one execution context is or
	// has been active.
	MultiContext() bool
}

// ExitGuarantee must leave the unit with a deoptimization exit. Calling it
// twice for the same unit must not emit a second exit.
type ExitGuarantee interface {
	EnsureEntryExit(unit UnitRef)
}

// UnitInvalidator makes a unit non-enterable. It is called again for units
// that are already invalidated or freed and must treat both as no-ops.
type UnitInvalidator interface {
	InvalidateUnit(unit UnitRef)
}

// UnitWalker enumerates every live unit.
type UnitWalker interface {
	EachUnit(fn func(UnitRef))
}

// GlobalPatcher is implemented by code caches that need to seal their
// code region after every unit has been invalidated.
type GlobalPatcher interface {
	FreezeForInvalidation()
}

// Options are the feature toggles the registry reads.
type Options interface {
	Enabled() bool
	StatsEnabled() bool
	CheckLocking() bool
}

// CodeCache bundles the code cache side of the collaborators.
type CodeCache interface {
	ExitGuarantee
	UnitInvalidator
	UnitWalker
}

type defaultOptions struct{}

func (defaultOptions) Enabled() bool      { return true }
func (defaultOptions) StatsEnabled() bool { return true }
func (defaultOptions) CheckLocking() bool { return false }
