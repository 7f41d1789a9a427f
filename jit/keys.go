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

import "fmt"

// UnitRef is a non-owning handle to a compiled unit. Index addresses a slot
// in the unit arena of the code cache, Gen must match the slot's current
// generation. A handle whose generation no longer matches is stale and
// every collaborator treats it as a no-op.
type UnitRef struct {
	Index uint32
	Gen   uint32
}

func (u UnitRef) String() string {
	return fmt.Sprintf("unit#%d.%d", u.Index, u.Gen)
}

// Handle is an opaque identity with a generation counter. Hosts hand these
// out instead of addresses so a recycled slot never aliases an old key.
type Handle struct {
	Slot uint32
	Gen  uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.Slot, h.Gen)
}

// ClassID identifies a receiver class.
type ClassID = Handle

// MethodID is the name a method was called by.
type MethodID string

// RedefinitionFlag is the per-class bit the host uses to track operator
// redefinitions (one bit per builtin class).
type RedefinitionFlag uint32

// BasicOperator enumerates the host's redefinable core operators.
type BasicOperator uint32

// MethodEntry is a resolved method implementation. CalledID is the name
// the entry was resolved for; the lookup index is keyed by it.
type MethodEntry struct {
	Handle   Handle
	CalledID MethodID
}

// Kind tags the variant of an assumption Key.
type Kind uint8

const (
	KindOperator      Kind = iota // OperatorStability(flag, op)
	KindMethodEntry                // MethodEntryValidity(entry)
	KindMethodLookup               // MethodLookupStability(class, name)
	KindSingleContext              // SingleContextMode
	KindGlobalBinding              // GlobalBindingState
)

var kindNames = [...]string{"operator", "method-entry", "method-lookup", "single-context", "global-binding"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Key names one runtime assumption. Only the fields of the active Kind are
// meaningful; the others stay zero so Key is usable as a map key.
type Key struct {
	Kind   Kind
	Flag   RedefinitionFlag
	Op     BasicOperator
	Entry  Handle
	Class  ClassID
	Method MethodID
}

func OperatorKey(flag RedefinitionFlag, op BasicOperator) Key {
	return Key{Kind: KindOperator, Flag: flag, Op: op}
}

func MethodEntryKey(entry Handle) Key {
	return Key{Kind: KindMethodEntry, Entry: entry}
}

func MethodLookupKey(class ClassID, name MethodID) Key {
	return Key{Kind: KindMethodLookup, Class: class, Method: name}
}

func SingleContextKey() Key {
	return Key{Kind: KindSingleContext}
}

func GlobalBindingKey() Key {
	return Key{Kind: KindGlobalBinding}
}

func (k Key) String() string {
	switch k.Kind {
	case KindOperator:
		return fmt.Sprintf("operator(flag=%#x, op=%d)", uint32(k.Flag), k.Op)
	case KindMethodEntry:
		return fmt.Sprintf("method-entry(%s)", k.Entry)
	case KindMethodLookup:
		return fmt.Sprintf("method-lookup(class=%s, %s)", k.Class, k.Method)
	default:
		return k.Kind.String()
	}
}

// less orders keys by kind first, then by their fields.
func (k Key) less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	switch k.Kind {
	case KindOperator:
		if k.Flag != o.Flag {
			return k.Flag < o.Flag
		}
		return k.Op < o.Op
	case KindMethodEntry:
		return handleLess(k.Entry, o.Entry)
	case KindMethodLookup:
		if k.Class != o.Class {
			return handleLess(k.Class, o.Class)
		}
		return k.Method < o.Method
	}
	return false
}

func handleLess(a, b Handle) bool {
	if a.Slot != b.Slot {
		return a.Slot < b.Slot
	}
	return a.Gen < b.Gen
}
