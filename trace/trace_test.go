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
package trace

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func decode(t *testing.T, data []byte) []event {
	t.Helper()
	var events []event
	require.NoError(t, json.Unmarshal(data, &events), string(data))
	return events
}

func TestTraceEvents(t *testing.T) {
	var out bufCloser
	tf := NewTrace(&out)
	tf.EventArgs("operator redefined", "jit", "i", map[string]any{"units": 2})
	tf.Duration("compile", "jit", func() {})
	tf.Close()
	assert.True(t, out.closed)

	events := decode(t, out.Bytes())
	require.Len(t, events, 3)
	assert.Equal(t, "operator redefined", events[0].Name)
	assert.Equal(t, "i", events[0].Ph)
	assert.EqualValues(t, 2, events[0].Args["units"])
	assert.Equal(t, "B", events[1].Ph)
	assert.Equal(t, "E", events[2].Ph)
	assert.LessOrEqual(t, events[1].Ts, events[2].Ts)
}

func TestCompressedTrace(t *testing.T) {
	for _, compression := range []string{"lz4", "xz"} {
		t.Run(compression, func(t *testing.T) {
			var out bufCloser
			tf, err := NewCompressedTrace(&out, compression)
			require.NoError(t, err)
			tf.Event("invalidate all", "jit", "i")
			tf.Close()

			var r io.Reader
			if compression == "lz4" {
				r = lz4.NewReader(&out.Buffer)
			} else {
				r, err = xz.NewReader(&out.Buffer)
				require.NoError(t, err)
			}
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			events := decode(t, data)
			require.Len(t, events, 1)
			assert.Equal(t, "invalidate all", events[0].Name)
		})
	}
	_, err := NewCompressedTrace(&bufCloser{}, "zip")
	assert.Error(t, err)
}

func TestSetTrace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SetTrace(true, dir, "lz4"))
	require.NotNil(t, Current())
	Current().Event("x", "jit", "i")
	require.NoError(t, SetTrace(false, "", ""))
	assert.Nil(t, Current())

	files, err := filepath.Glob(filepath.Join(dir, "trace_*.json.lz4"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(lz4.NewReader(f))
	require.NoError(t, err)
	assert.Len(t, decode(t, data), 1)

	assert.Error(t, SetTrace(true, dir, "zip"))
	assert.Nil(t, Current())
}
