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
package vm

import (
	"fmt"

	"github.com/launix-de/deopt/jit"
)

// redefinition flags of the builtin classes
const (
	FlagInteger jit.RedefinitionFlag = 1 << iota
	FlagFloat
	FlagString
	FlagArray
	FlagHash
	FlagSymbol
)

// basic operators
const (
	BopPlus jit.BasicOperator = iota
	BopMinus
	BopMult
	BopDiv
	BopMod
	BopEq
	BopLt
	BopLe
	BopGt
	BopGe
	BopLtLt
	BopAref
	bopCount
)

var bopNames = [bopCount]string{"+", "-", "*", "/", "%", "==", "<", "<=", ">", ">=", "<<", "[]"}

var builtinClasses = []struct {
	name string
	flag jit.RedefinitionFlag
}{
	{"Integer", FlagInteger},
	{"Float", FlagFloat},
	{"String", FlagString},
	{"Array", FlagArray},
	{"Hash", FlagHash},
	{"Symbol", FlagSymbol},
}

// ParseOperator maps "+" etc. to the operator id.
func ParseOperator(name string) (jit.BasicOperator, error) {
	for i, n := range bopNames {
		if n == name {
			return jit.BasicOperator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operator: %s", name)
}

// OperatorName is the inverse of ParseOperator.
func OperatorName(op jit.BasicOperator) string {
	if op < bopCount {
		return bopNames[op]
	}
	return fmt.Sprintf("op%d", op)
}

// Class is a receiver class with its method table. Flag is zero for
// classes whose operators the host does not track.
type Class struct {
	Name    string
	ID      jit.ClassID
	Flag    jit.RedefinitionFlag
	methods map[jit.MethodID]jit.MethodEntry
}

// entryTable hands out method entry identities. A retired slot is reused
// with the next generation, so a new entry never equals an old one.
type entryTable struct {
	gens []uint32
	free []uint32
}

func (t *entryTable) alloc() jit.Handle {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		return jit.Handle{Slot: slot, Gen: t.gens[slot]}
	}
	t.gens = append(t.gens, 0)
	return jit.Handle{Slot: uint32(len(t.gens) - 1)}
}

func (t *entryTable) retire(h jit.Handle) {
	if int(h.Slot) >= len(t.gens) || t.gens[h.Slot] != h.Gen {
		return
	}
	t.gens[h.Slot]++
	t.free = append(t.free, h.Slot)
}
