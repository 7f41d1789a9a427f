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
	"fmt"
	"io"
	"sync/atomic"
)

// Counter names one of the invalidation statistics.
type Counter int

const (
	CounterBopRedefined Counter = iota
	CounterMethodLookup
	CounterContextSpawn
	CounterGlobalBinding
	CounterTracing
	numCounters
)

var counterNames = [numCounters]string{
	"invalidate_bop_redefined",
	"invalidate_method_lookup",
	"invalidate_context_spawn",
	"invalidate_global_binding",
	"invalidate_tracing",
}

func (c Counter) String() string {
	return counterNames[c]
}

// Counters are read by the stats reporter while other goroutines run
// generated code, so they are atomic even though all writers hold the VM lock.
type Counters struct {
	v [numCounters]atomic.Int64
}

func (c *Counters) incr(which Counter) {
	c.v[which].Add(1)
}

// Get returns the current value of one counter.
func (c *Counters) Get(which Counter) int64 {
	return c.v[which].Load()
}

// Snapshot returns all counters by name.
func (c *Counters) Snapshot() map[string]int64 {
	result := make(map[string]int64, numCounters)
	for i := Counter(0); i < numCounters; i++ {
		result[counterNames[i]] = c.v[i].Load()
	}
	return result
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	for i := range c.v {
		c.v[i].Store(0)
	}
}

// Print writes one "name: value" line per counter in declaration order.
func (c *Counters) Print(w io.Writer) {
	for i := Counter(0); i < numCounters; i++ {
		fmt.Fprintf(w, "%-28s %d\n", counterNames[i]+":", c.v[i].Load())
	}
}
