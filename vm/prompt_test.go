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
	"bytes"
	"testing"

	"github.com/launix-de/deopt/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, h *Host, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	for _, line := range lines {
		require.NoError(t, h.Exec(line, &out), line)
	}
	return out.String()
}

func TestExecSession(t *testing.T) {
	h := newTestHost(t)
	out := run(t, h,
		"class Foo",
		"def Foo bar",
		"compile loop op:Integer:+ method:Foo:bar globals",
		"run loop",
	)
	assert.Contains(t, out, "class Foo")
	assert.Contains(t, out, "jit unit#0.0")

	out = run(t, h, "units loop", "deps")
	assert.Contains(t, out, "operator Integer#+")
	assert.Contains(t, out, "method-lookup Foo#bar")
	assert.Contains(t, out, "global-binding")

	out = run(t, h, "redefine Integer +", "run loop", "stats")
	assert.Contains(t, out, "interpreter")
	assert.Contains(t, out, "invalidate_bop_redefined:    1")
	assert.Contains(t, out, "units_invalidated:")
}

func TestExecSpawn(t *testing.T) {
	h := newTestHost(t)
	out := run(t, h,
		"compile solo single",
		"compile shared globals",
		"spawn solo 5",
		"spawn shared 5",
		"wait",
	)
	assert.Contains(t, out, "solo ran 0/5 times")
	assert.Contains(t, out, "shared ran 5/5 times")
}

func TestExecSettings(t *testing.T) {
	h := newTestHost(t)
	out := run(t, h, "set max-versions 1", "set MaxVersions", "set")
	assert.Contains(t, out, "1\n")
	assert.Contains(t, out, "ExecMemSize")

	run(t, h, "compile f")
	var buf bytes.Buffer
	assert.ErrorIs(t, h.Exec("compile f", &buf), ErrTooManyVersions)
	assert.Error(t, h.Exec("set max-versions 0", &buf))
}

func TestExecErrors(t *testing.T) {
	h := newTestHost(t)
	var out bytes.Buffer
	assert.NoError(t, h.Exec("   ", &out))
	assert.Error(t, h.Exec("frobnicate", &out))
	assert.Error(t, h.Exec("def", &out))
	assert.Error(t, h.Exec("def Nope x", &out))
	assert.Error(t, h.Exec("redefine Integer ^", &out))
	assert.Error(t, h.Exec("compile f op:Integer", &out))
	assert.Error(t, h.Exec("spawn f x", &out))
	assert.Error(t, h.Exec("free f", &out))
	assert.ErrorIs(t, h.Exec("quit", &out), ErrQuit)
	assert.NoError(t, h.Exec("help", &out))
	assert.Contains(t, out.String(), "commands:")
}

func TestExecCannotToggleJIT(t *testing.T) {
	h := newTestHost(t)
	out := run(t, h, "compile add op:Integer:+")
	assert.Contains(t, out, "add unit#0.0")

	var buf bytes.Buffer
	assert.ErrorIs(t, h.Exec("set Enabled false", &buf), settings.ErrFixedAtStartup)
	assert.ErrorIs(t, h.Exec("set exec-mem-size 1MiB", &buf), settings.ErrFixedAtStartup)
	out = run(t, h, "redefine Integer +", "run add", "set Enabled")
	assert.Contains(t, out, "interpreter")
	assert.Contains(t, out, "true")
}
