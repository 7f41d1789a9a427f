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
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned when the code block has no room left.
var ErrOutOfMemory = errors.New("codecache: executable memory exhausted")

const (
	opJmpRel32 = 0xE9
	opInt3     = 0xCC
	jmpSize    = 5
)

// CodeBlock is the platform-independent code emitter. It only knows how to
// place bytes and patch rel32 jumps; the byte encoding of jumps follows
// amd64 (E9 rel32).
type CodeBlock struct {
	mem    []byte
	pos    int
	frozen int // bytes below this offset must not be written anymore
}

// NewCodeBlock allocates a block of size bytes.
func NewCodeBlock(size int) *CodeBlock {
	return &CodeBlock{mem: make([]byte, size)}
}

// Pos is the current write position.
func (w *CodeBlock) Pos() int { return w.pos }

// Size is the capacity of the block.
func (w *CodeBlock) Size() int { return len(w.mem) }

// Frozen is the length of the prefix that can no longer be patched.
func (w *CodeBlock) Frozen() int { return w.frozen }

// Bytes returns the emitted code.
func (w *CodeBlock) Bytes() []byte { return w.mem[:w.pos] }

// Reserve checks that n more bytes fit.
func (w *CodeBlock) Reserve(n int) error {
	if w.pos+n > len(w.mem) {
		return ErrOutOfMemory
	}
	return nil
}

// Write appends raw bytes.
func (w *CodeBlock) Write(b []byte) error {
	if err := w.Reserve(len(b)); err != nil {
		return err
	}
	copy(w.mem[w.pos:], b)
	w.pos += len(b)
	return nil
}

// PatchJump overwrites the bytes at `at` with a jump to target. Patching a
// frozen region is a bug in the caller.
func (w *CodeBlock) PatchJump(at int, target int) {
	if at < w.frozen {
		panic(fmt.Sprintf("codecache: patch at %d inside frozen region (%d)", at, w.frozen))
	}
	if at+jmpSize > w.pos {
		panic("codecache: patch beyond written code")
	}
	w.encodeJmp(at, target)
}

func (w *CodeBlock) encodeJmp(at int, target int) {
	w.mem[at] = opJmpRel32
	binary.LittleEndian.PutUint32(w.mem[at+1:], uint32(int32(target-(at+jmpSize))))
}

// JumpTarget decodes the jump at `at`. ok is false if there is no jump.
func (w *CodeBlock) JumpTarget(at int) (target int, ok bool) {
	if at+jmpSize > w.pos || w.mem[at] != opJmpRel32 {
		return 0, false
	}
	rel := int32(binary.LittleEndian.Uint32(w.mem[at+1:]))
	return at + jmpSize + int(rel), true
}

// Freeze marks everything written so far as immutable.
func (w *CodeBlock) Freeze() {
	w.frozen = w.pos
}
