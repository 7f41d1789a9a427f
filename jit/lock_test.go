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
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestVMLockRecursive(t *testing.T) {
	barriers, resumes := 0, 0
	l := NewVMLock(func() func() {
		barriers++
		return func() { resumes++ }
	})
	assert.False(t, l.Held())
	l.Enter(func() {
		assert.Equal(t, 1, l.Depth())
		l.Enter(func() {
			assert.Equal(t, 2, l.Depth())
			l.Enter(func() {
				assert.Equal(t, 3, l.Depth())
			})
			assert.Equal(t, 2, l.Depth())
		})
		assert.True(t, l.Held())
	})
	assert.False(t, l.Held())
	assert.Equal(t, 1, barriers)
	assert.Equal(t, 1, resumes)
}

func TestVMLockReleasedOnPanic(t *testing.T) {
	l := NewVMLock(nil)
	assert.Panics(t, func() {
		l.Enter(func() { panic("boom") })
	})
	done := make(chan struct{})
	go func() {
		l.Enter(func() {})
		close(done)
	}()
	<-done
}

func TestVMLockExclusive(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewVMLock(nil)
	var wg sync.WaitGroup
	inside, maxInside, total := 0, 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Enter(func() {
					inside++
					if inside > maxInside {
						maxInside = inside
					}
					l.Enter(func() { total++ })
					inside--
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 800, total)
}

func TestVMLockHeldPerGoroutine(t *testing.T) {
	l := NewVMLock(nil)
	l.Enter(func() {
		held := make(chan bool)
		go func() { held <- l.Held() }()
		assert.False(t, <-held)
	})
}

func TestCounters(t *testing.T) {
	var c Counters
	c.incr(CounterTracing)
	c.incr(CounterTracing)
	c.incr(CounterBopRedefined)
	assert.EqualValues(t, 2, c.Get(CounterTracing))
	assert.Equal(t, map[string]int64{
		"invalidate_bop_redefined":  1,
		"invalidate_method_lookup":  0,
		"invalidate_context_spawn":  0,
		"invalidate_global_binding": 0,
		"invalidate_tracing":        2,
	}, c.Snapshot())

	var buf bytes.Buffer
	c.Print(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "invalidate_bop_redefined:"))
	assert.True(t, strings.HasSuffix(lines[4], " 2"))

	c.Reset()
	assert.Zero(t, c.Get(CounterTracing))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "operator(flag=0x1, op=3)", OperatorKey(1, 3).String())
	assert.Equal(t, "method-entry(4.2)", MethodEntryKey(Handle{Slot: 4, Gen: 2}).String())
	assert.Equal(t, "method-lookup(class=1.0, foo)", MethodLookupKey(ClassID{Slot: 1}, "foo").String())
	assert.Equal(t, "single-context", SingleContextKey().String())
	assert.Equal(t, "global-binding", GlobalBindingKey().String())
	assert.Equal(t, "unit#3.1", UnitRef{Index: 3, Gen: 1}.String())
}
