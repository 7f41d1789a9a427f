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
	"sync"

	"github.com/jtolds/gls"
)

// VMLock is the single mutual-exclusion domain for compiled-code state.
// Recording, dispatch and code patching all happen inside Enter. The lock
// is recursive: a goroutine that already holds it re-enters without
// blocking, the nesting depth lives in goroutine-local storage.
type VMLock struct {
	mu      sync.Mutex
	mgr     *gls.ContextManager
	barrier func() func()
}

type lockDepthKey struct{ l *VMLock }

// NewVMLock creates a lock. barrier, if not nil, runs on every outermost
// acquisition after the mutex is taken; hosts use it to stop other
// execution contexts before code gets patched. The function it returns, if
// any, resumes them when the lock is released.
func NewVMLock(barrier func() func()) *VMLock {
	return &VMLock{mgr: gls.NewContextManager(), barrier: barrier}
}

// Enter runs fn while holding the lock.
func (l *VMLock) Enter(fn func()) {
	if depth := l.Depth(); depth > 0 {
		l.mgr.SetValues(gls.Values{lockDepthKey{l}: depth + 1}, fn)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock() // also on panic, otherwise the whole VM deadlocks
	if l.barrier != nil {
		if resume := l.barrier(); resume != nil {
			defer resume()
		}
	}
	l.mgr.SetValues(gls.Values{lockDepthKey{l}: 1}, fn)
}

// Depth is the nesting level of the calling goroutine, 0 if not held.
func (l *VMLock) Depth() int {
	v, ok := l.mgr.GetValue(lockDepthKey{l})
	if !ok {
		return 0
	}
	return v.(int)
}

// Held reports whether the calling goroutine holds the lock.
func (l *VMLock) Held() bool {
	return l.Depth() > 0
}
