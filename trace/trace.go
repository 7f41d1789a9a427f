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

// Package trace writes chrome://tracing compatible event files.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

type Tracefile struct {
	isFirst bool
	out     io.Writer
	closers []io.Closer // closed in order: compressor first, then file
	m       sync.Mutex
}

var current atomic.Pointer[Tracefile]

// Current returns the active trace or nil.
func Current() *Tracefile {
	return current.Load()
}

// SetTrace closes the active trace and, if on, opens a new one in dir.
// compression is "", "lz4" or "xz".
func SetTrace(on bool, dir string, compression string) error {
	if old := current.Swap(nil); old != nil {
		old.Close()
	}
	if !on {
		return nil
	}
	name := filepath.Join(dir, "trace_"+uuid.NewString()+".json")
	switch compression {
	case "", "none":
	case "lz4", "xz":
		name += "." + compression
	default:
		return fmt.Errorf("trace: unknown compression %q", compression)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	t, err := NewCompressedTrace(f, compression)
	if err != nil {
		f.Close()
		return err
	}
	current.Store(t)
	return nil
}

// NewTrace starts a trace on file.
func NewTrace(file io.WriteCloser) *Tracefile {
	t, _ := NewCompressedTrace(file, "")
	return t
}

// NewCompressedTrace starts a trace on file, compressing with the named codec.
func NewCompressedTrace(file io.WriteCloser, compression string) (*Tracefile, error) {
	result := new(Tracefile)
	switch compression {
	case "", "none":
		result.out = file
	case "lz4":
		zw := lz4.NewWriter(file)
		result.out = zw
		result.closers = append(result.closers, zw)
	case "xz":
		zw, err := xz.NewWriter(file)
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		result.out = zw
		result.closers = append(result.closers, zw)
	default:
		return nil, fmt.Errorf("trace: unknown compression %q", compression)
	}
	result.closers = append(result.closers, file)
	result.out.Write([]byte("["))
	result.isFirst = true
	return result, nil
}

func (t *Tracefile) Close() {
	t.m.Lock()
	defer t.m.Unlock()
	t.out.Write([]byte("]"))
	for _, c := range t.closers {
		c.Close()
	}
}

func (t *Tracefile) Duration(name string, cat string, f func()) {
	t.EventHalf(name, cat, "B", 0, 0)
	defer t.EventHalf(name, cat, "E", 0, 0)
	f()
}

func (t *Tracefile) Event(name string, cat string, typ string) {
	t.EventHalf(name, cat, typ, 0, 0)
}

func (t *Tracefile) EventHalf(name string, cat string, typ string, tid int, pid int) {
	ts := time.Since(start).Microseconds()
	t.EventFull(name, cat, typ, ts, tid, pid, nil)
}

// EventArgs records an event with an args object shown in the viewer.
func (t *Tracefile) EventArgs(name string, cat string, typ string, args map[string]any) {
	ts := time.Since(start).Microseconds()
	t.EventFull(name, cat, typ, ts, 0, 0, args)
}

type event struct {
	Name  string         `json:"name"`
	Cat   string         `json:"cat"`
	Ph    string         `json:"ph"`
	Ts    int64          `json:"ts"`
	Pid   int            `json:"pid"`
	Tid   int            `json:"tid"`
	Scope string         `json:"s"`
	Args  map[string]any `json:"args,omitempty"`
}

/*
*

	@name string function
	@cat string comma separated categories (for filtering)
	@typ B/E for begin/end, i for instant events
	@ts timestamp in microseconds
	@pid process id
	@tid thread id
	@args shown in the detail pane
*/
func (t *Tracefile) EventFull(name string, cat string, typ string, ts int64, tid int, pid int, args map[string]any) {
	b, err := json.Marshal(event{name, cat, typ, ts, pid, tid, "g", args})
	if err != nil {
		return
	}
	t.m.Lock()
	if t.isFirst {
		t.isFirst = false
	} else {
		t.out.Write([]byte(",\n"))
	}
	t.out.Write(b)
	t.m.Unlock()
}

var start time.Time = time.Now()
