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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dc0d/onexit"
	units "github.com/docker/go-units"
	"github.com/launix-de/deopt/jit"
	"github.com/launix-de/deopt/trace"
	"gopkg.in/yaml.v3"
)

type SettingsT struct {
	Enabled          bool   `yaml:"enabled"`
	ExecMemSize      int64  `yaml:"-"` // bytes
	MaxVersions      int    `yaml:"max_versions"`
	GenStats         bool   `yaml:"gen_stats"`
	CheckLocking     bool   `yaml:"check_locking"`
	Trace            bool   `yaml:"trace"`
	TraceDir         string `yaml:"trace_dir"`
	TraceCompression string `yaml:"trace_compression"` // "", lz4, xz

	frozen bool // Enabled and ExecMemSize are fixed once a host runs
}

var Settings SettingsT = Defaults()

// Defaults returns the settings a fresh process starts with.
func Defaults() SettingsT {
	return SettingsT{
		Enabled:     true,
		ExecMemSize: 256 * units.MiB,
		MaxVersions: 4,
	}
}

// Options exposes s to the jit package through getters. Later changes to
// s are seen by the registry.
func (s *SettingsT) Options() jit.Options { return options{s} }

type options struct{ s *SettingsT }

func (o options) Enabled() bool      { return o.s.Enabled }
func (o options) StatsEnabled() bool { return o.s.GenStats }
func (o options) CheckLocking() bool { return o.s.CheckLocking }

// ErrFixedAtStartup is returned when a setting that a running host depends
// on is changed.
var ErrFixedAtStartup = errors.New("setting is fixed at startup")

// Freeze fixes Enabled and ExecMemSize. A host calls it when it boots;
// while the JIT is off no invalidation is dispatched, so it must not come
// back on later.
func (s *SettingsT) Freeze() { s.frozen = true }

// Frozen reports whether Freeze has been called.
func (s *SettingsT) Frozen() bool { return s.frozen }

// Names lists the settings in the order List reports them.
var Names = []string{"Enabled", "ExecMemSize", "MaxVersions", "GenStats", "CheckLocking", "Trace", "TraceDir", "TraceCompression"}

// List returns name, value pairs for every setting.
func (s *SettingsT) List() [][2]string {
	result := make([][2]string, 0, len(Names))
	for _, name := range Names {
		v, _ := s.Get(name)
		result = append(result, [2]string{name, v})
	}
	return result
}

// Get returns a setting by name, formatted as text.
func (s *SettingsT) Get(name string) (string, error) {
	switch canonical(name) {
	case "enabled":
		return strconv.FormatBool(s.Enabled), nil
	case "execmemsize":
		return units.BytesSize(float64(s.ExecMemSize)), nil
	case "maxversions":
		return strconv.Itoa(s.MaxVersions), nil
	case "genstats":
		return strconv.FormatBool(s.GenStats), nil
	case "checklocking":
		return strconv.FormatBool(s.CheckLocking), nil
	case "trace":
		return strconv.FormatBool(s.Trace), nil
	case "tracedir":
		return s.TraceDir, nil
	case "tracecompression":
		return s.TraceCompression, nil
	default:
		return "", fmt.Errorf("unknown setting: %s", name)
	}
}

// Set assigns a setting from text. It does not apply side effects like
// opening the trace file; see Apply.
func (s *SettingsT) Set(name string, value string) error {
	var err error
	c := canonical(name)
	if s.frozen && (c == "enabled" || c == "execmemsize") {
		return fmt.Errorf("%s: %w", name, ErrFixedAtStartup)
	}
	switch c {
	case "enabled":
		s.Enabled, err = parseBool(value)
	case "execmemsize":
		var sz int64
		if sz, err = units.RAMInBytes(value); err == nil {
			if sz <= 0 {
				return fmt.Errorf("exec-mem-size must be positive: %s", value)
			}
			s.ExecMemSize = sz
		}
	case "maxversions":
		var n int
		if n, err = strconv.Atoi(value); err == nil {
			if n < 1 {
				return fmt.Errorf("max-versions must be at least 1: %s", value)
			}
			s.MaxVersions = n
		}
	case "genstats":
		s.GenStats, err = parseBool(value)
	case "checklocking":
		s.CheckLocking, err = parseBool(value)
	case "trace":
		s.Trace, err = parseBool(value)
	case "tracedir":
		s.TraceDir = value
	case "tracecompression":
		switch value {
		case "", "none", "lz4", "xz":
			s.TraceCompression = value
		default:
			return fmt.Errorf("unknown trace compression: %s", value)
		}
	default:
		return fmt.Errorf("unknown setting: %s", name)
	}
	if err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	return nil
}

// ParseOption parses one command line option of the form
// "--exec-mem-size=64MiB", "gen-stats" (boolean true) or "no-gen-stats".
func (s *SettingsT) ParseOption(opt string) error {
	opt = strings.TrimLeft(opt, "-")
	if opt == "" {
		return fmt.Errorf("empty option")
	}
	name, value, hasValue := strings.Cut(opt, "=")
	if !hasValue {
		value = "true"
		if rest, ok := strings.CutPrefix(name, "no-"); ok {
			name, value = rest, "false"
		}
	}
	return s.Set(name, value)
}

// fileSettings mirrors SettingsT for YAML with sizes as text.
type fileSettings struct {
	SettingsT   `yaml:",inline"`
	ExecMemSize string `yaml:"exec_mem_size"`
}

// LoadFile reads settings from a YAML file over the current values. Once
// frozen, Enabled and ExecMemSize keep their running values.
func (s *SettingsT) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	f := fileSettings{SettingsT: *s}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("settings: %s: %w", path, err)
	}
	next := f.SettingsT
	if s.frozen {
		next.Enabled = s.Enabled
	} else if f.ExecMemSize != "" {
		if err := next.Set("ExecMemSize", f.ExecMemSize); err != nil {
			return fmt.Errorf("settings: %s: %w", path, err)
		}
	}
	if next.MaxVersions < 1 {
		return fmt.Errorf("settings: %s: max_versions must be at least 1", path)
	}
	*s = next
	return nil
}

// Apply performs the side effects of the current values: it opens or
// closes the trace file.
func (s *SettingsT) Apply() error {
	return trace.SetTrace(s.Trace, s.TraceDir, s.TraceCompression)
}

var (
	exitOnce sync.Once
	exitHook func()
)

// InitSettings applies Settings and registers Shutdown as exit hook. Call
// it once after the settings have been filled. stats is printed on
// shutdown when GenStats is on.
func InitSettings(stats func()) error {
	if err := Settings.Apply(); err != nil {
		return err
	}
	exitHook = stats
	onexit.Register(Shutdown)
	return nil
}

// Shutdown prints the stats and closes the trace file. Only the first call
// does anything.
func Shutdown() {
	exitOnce.Do(func() {
		if Settings.GenStats && exitHook != nil {
			exitHook()
		}
		trace.SetTrace(false, "", "") // close trace file on exit
	})
}

func canonical(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}
