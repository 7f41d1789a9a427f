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
package codecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchJumpEncoding(t *testing.T) {
	w := NewCodeBlock(64)
	require.NoError(t, w.Write([]byte{1, 2, 3, 0x90, 0x90, 0x90, 0x90, 0x90}))
	w.PatchJump(3, 0)
	assert.Equal(t, []byte{1, 2, 3, opJmpRel32, 0xF8, 0xFF, 0xFF, 0xFF}, w.Bytes())

	target, ok := w.JumpTarget(3)
	require.True(t, ok)
	assert.Equal(t, 0, target)
	_, ok = w.JumpTarget(0)
	assert.False(t, ok)

	// forward jumps
	require.NoError(t, w.Write(make([]byte, 20)))
	w.PatchJump(10, 25)
	target, ok = w.JumpTarget(10)
	require.True(t, ok)
	assert.Equal(t, 25, target)
}

func TestPatchJumpBounds(t *testing.T) {
	w := NewCodeBlock(64)
	w.Write(make([]byte, 10))
	assert.NotPanics(t, func() { w.PatchJump(5, 0) })
	assert.Panics(t, func() { w.PatchJump(6, 0) }, "beyond written code")
	w.Freeze()
	assert.Equal(t, 10, w.Frozen())
	assert.Panics(t, func() { w.PatchJump(0, 0) })
}

func TestReserve(t *testing.T) {
	w := NewCodeBlock(4)
	assert.NoError(t, w.Reserve(4))
	assert.ErrorIs(t, w.Reserve(5), ErrOutOfMemory)
	assert.ErrorIs(t, w.Write(make([]byte, 5)), ErrOutOfMemory)
	assert.Zero(t, w.Pos())
	assert.Equal(t, 4, w.Size())
}
