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
	"errors"
	"fmt"
	"strings"

	"github.com/launix-de/deopt/jit"
	"go.uber.org/zap"
)

var (
	// ErrAssumptionFailed means an assumption was already false at compile time.
	ErrAssumptionFailed = errors.New("assumption does not hold")
	// ErrTooManyVersions means the label reached MaxVersions live units.
	ErrTooManyVersions = errors.New("too many versions")
	// ErrDisabled is returned by Compile when the JIT is switched off.
	ErrDisabled = errors.New("jit disabled")
)

// Compile emits a unit for label whose code relies on every key. If one of
// the assumptions does not hold, the half-registered unit is freed again
// and ErrAssumptionFailed is returned.
//
// Method lookup keys name the class and method; the entry recorded is the
// one the lookup yields right now.
func (h *Host) Compile(label string, keys ...jit.Key) (ref jit.UnitRef, err error) {
	if !h.enabled {
		return jit.UnitRef{}, ErrDisabled
	}
	h.Lock.Enter(func() {
		if n := len(h.Cache.Versions(label)); n >= h.Settings.MaxVersions {
			err = fmt.Errorf("%s: %w (%d)", label, ErrTooManyVersions, n)
			return
		}
		ref, err = h.Cache.NewUnit(label, encodeBody(label, keys))
		if err != nil {
			return
		}
		for _, key := range keys {
			if err = h.assume(ref, key); err != nil {
				h.Cache.Free(ref)
				ref = jit.UnitRef{}
				return
			}
		}
	})
	if err != nil {
		h.log.Debug("compile failed", zap.String("label", label), zap.Error(err))
	} else {
		h.log.Debug("compiled", zap.String("label", label), zap.Stringer("unit", ref), zap.Int("assumptions", len(keys)))
	}
	return
}

func (h *Host) assume(ref jit.UnitRef, key jit.Key) error {
	switch key.Kind {
	case jit.KindOperator:
		if !h.Inv.AssumeOperatorStable(ref, key.Flag, key.Op) {
			return fmt.Errorf("%s: %w", key, ErrAssumptionFailed)
		}
	case jit.KindMethodLookup:
		c := h.classByID[key.Class]
		if c == nil {
			return fmt.Errorf("%s: unknown class", key)
		}
		entry, ok := c.methods[key.Method]
		if !ok {
			return fmt.Errorf("undefined method %s for %s: %w", key.Method, c.Name, ErrAssumptionFailed)
		}
		h.Inv.AssumeMethodLookupStable(ref, c.ID, entry)
	case jit.KindSingleContext:
		if !h.Inv.AssumeSingleContext(ref) {
			return fmt.Errorf("%s: %w", key, ErrAssumptionFailed)
		}
	case jit.KindGlobalBinding:
		h.Inv.AssumeGlobalBindingsStable(ref)
	default:
		return fmt.Errorf("%s cannot be assumed directly, use a method lookup", key)
	}
	return nil
}

// encodeBody produces the bytes standing in for the generated code.
func encodeBody(label string, keys []jit.Key) []byte {
	body := []byte(label)
	for _, k := range keys {
		body = append(body, byte(k.Kind))
	}
	return body
}

// Free releases the newest version of label.
func (h *Host) Free(label string) (err error) {
	h.Lock.Enter(func() {
		versions := h.Cache.Versions(label)
		if len(versions) == 0 {
			err = fmt.Errorf("no live unit for %s", label)
			return
		}
		h.Cache.Free(versions[len(versions)-1])
	})
	return
}

// ParseAssumption reads the textual form used by the prompt:
//
//	op:Integer:+       operator + not redefined on Integer
//	method:Foo:bar     lookup of bar on Foo stays the same
//	single             single execution context
//	globals            global bindings unchanged
func (h *Host) ParseAssumption(s string) (jit.Key, error) {
	parts := strings.Split(s, ":")
	switch parts[0] {
	case "op":
		if len(parts) != 3 {
			return jit.Key{}, fmt.Errorf("expected op:Class:operator, got %s", s)
		}
		c, err := h.Class(parts[1])
		if err != nil {
			return jit.Key{}, err
		}
		if c.Flag == 0 {
			return jit.Key{}, fmt.Errorf("operators of %s are not tracked", c.Name)
		}
		op, err := ParseOperator(parts[2])
		if err != nil {
			return jit.Key{}, err
		}
		return jit.OperatorKey(c.Flag, op), nil
	case "method":
		if len(parts) != 3 {
			return jit.Key{}, fmt.Errorf("expected method:Class:name, got %s", s)
		}
		c, err := h.Class(parts[1])
		if err != nil {
			return jit.Key{}, err
		}
		return jit.MethodLookupKey(c.ID, jit.MethodID(parts[2])), nil
	case "single":
		return jit.SingleContextKey(), nil
	case "globals":
		return jit.GlobalBindingKey(), nil
	}
	return jit.Key{}, fmt.Errorf("unknown assumption: %s", s)
}
