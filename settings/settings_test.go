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
package settings

import (
	"os"
	"path/filepath"
	"testing"

	units "github.com/docker/go-units"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOption(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.ParseOption("--exec-mem-size=64MiB"))
	require.NoError(t, s.ParseOption("gen-stats"))
	require.NoError(t, s.ParseOption("--no-enabled"))
	require.NoError(t, s.ParseOption("max_versions=2"))
	require.NoError(t, s.ParseOption("check-locking=on"))

	want := Defaults()
	want.ExecMemSize = 64 * units.MiB
	want.GenStats = true
	want.Enabled = false
	want.MaxVersions = 2
	want.CheckLocking = true
	if diff := cmp.Diff(want, s, cmp.AllowUnexported(SettingsT{})); diff != "" {
		t.Errorf("settings (-want +got):\n%s", diff)
	}

	assert.Error(t, s.ParseOption("--"))
	assert.Error(t, s.ParseOption("bogus=1"))
	assert.Error(t, s.ParseOption("max-versions=0"))
	assert.Error(t, s.ParseOption("exec-mem-size=lots"))
	assert.Error(t, s.ParseOption("trace-compression=zip"))
}

func TestGetSet(t *testing.T) {
	s := Defaults()
	v, err := s.Get("ExecMemSize")
	require.NoError(t, err)
	assert.Equal(t, "256MiB", v)

	require.NoError(t, s.Set("TraceDir", "/tmp/traces"))
	v, err = s.Get("trace-dir")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/traces", v)

	_, err = s.Get("nope")
	assert.Error(t, err)

	list := s.List()
	require.Len(t, list, len(Names))
	assert.Equal(t, [2]string{"Enabled", "true"}, list[0])
	assert.Equal(t, [2]string{"MaxVersions", "4"}, list[2])
}

func TestOptionsSeeLaterChanges(t *testing.T) {
	s := Defaults()
	o := s.Options()
	assert.True(t, o.Enabled())
	assert.False(t, o.StatsEnabled())
	s.Enabled = false
	s.GenStats = true
	s.CheckLocking = true
	assert.False(t, o.Enabled())
	assert.True(t, o.StatsEnabled())
	assert.True(t, o.CheckLocking())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deopt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gen_stats: true
max_versions: 8
exec_mem_size: 1MiB
trace_compression: lz4
`), 0o644))

	s := Defaults()
	require.NoError(t, s.LoadFile(path))
	assert.True(t, s.GenStats)
	assert.True(t, s.Enabled, "unset keys keep their value")
	assert.Equal(t, 8, s.MaxVersions)
	assert.EqualValues(t, units.MiB, s.ExecMemSize)
	assert.Equal(t, "lz4", s.TraceCompression)
}

func TestLoadFileRejects(t *testing.T) {
	dir := t.TempDir()
	s := Defaults()
	assert.Error(t, s.LoadFile(filepath.Join(dir, "missing.yaml")))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("max_versions: 0\n"), 0o644))
	assert.Error(t, s.LoadFile(bad))

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("gen_stats: [\n"), 0o644))
	assert.Error(t, s.LoadFile(broken))

	assert.Equal(t, Defaults(), s, "failed loads leave the settings alone")
}

func TestApplyTrace(t *testing.T) {
	dir := t.TempDir()
	s := Defaults()
	s.Trace = true
	s.TraceDir = dir
	require.NoError(t, s.Apply())
	s.Trace = false
	require.NoError(t, s.Apply())

	files, err := filepath.Glob(filepath.Join(dir, "trace_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestFrozenSettings(t *testing.T) {
	s := Defaults()
	s.Freeze()
	assert.ErrorIs(t, s.Set("Enabled", "false"), ErrFixedAtStartup)
	assert.ErrorIs(t, s.ParseOption("no-enabled"), ErrFixedAtStartup)
	assert.ErrorIs(t, s.Set("exec_mem_size", "1MiB"), ErrFixedAtStartup)
	require.NoError(t, s.Set("gen-stats", "on"))
	assert.True(t, s.Enabled)

	path := filepath.Join(t.TempDir(), "deopt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabled: false\nexec_mem_size: 1MiB\nmax_versions: 9\n"), 0o644))
	require.NoError(t, s.LoadFile(path))
	assert.True(t, s.Enabled, "running value kept")
	assert.EqualValues(t, 256*units.MiB, s.ExecMemSize)
	assert.Equal(t, 9, s.MaxVersions)
	assert.True(t, s.Frozen())
}
