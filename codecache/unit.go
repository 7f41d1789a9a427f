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
package codecache

import "github.com/launix-de/deopt/jit"

// Unit is one compiled code fragment in the block.
//
//	Start            entry point, patched with a jump to the exit on invalidation
//	Start..ExitSlot  body
//	ExitSlot         5 bytes reserved for the exit stub (jmp to the trampoline)
//	End              first byte after the unit
type Unit struct {
	Ref      jit.UnitRef
	Label    string // e.g. "Integer#+@3"
	Start    int
	ExitSlot int
	End      int

	HasExit     bool // exit stub written
	Invalidated bool
}

// slot of the unit arena. gen is bumped on every Free so old handles go stale.
type slot struct {
	gen  uint32
	unit *Unit
}

func unitLess(a, b *Unit) bool {
	return a.Start < b.Start
}
