// Package arena implements a bump allocator used as the per-run memory scope
// for the agent orchestrator: JSON nodes, parsed response views, and
// tool-result strings are all owned by one Arena and freed en masse when a
// run ends.
package arena

import (
	"errors"
)

// DefaultBlockSize is the size of a freshly allocated block when none is
// requested explicitly.
const DefaultBlockSize = 64 * 1024

// align is the alignment every allocation is rounded up to.
const align = 8

// ErrOutOfMemory is returned when the host allocator cannot satisfy a
// request (practically: a requested size overflows or a new block cannot be
// carved from the runtime's memory).
var ErrOutOfMemory = errors.New("arena: out of memory")

type block struct {
	buf    []byte
	cursor int
	next   *block
}

// Arena is a singly linked chain of blocks. It is not safe for concurrent
// use; callers needing one arena per goroutine must construct one each.
type Arena struct {
	first *block
	cur   *block
}

// New creates an Arena with one DefaultBlockSize block.
func New() *Arena {
	return NewSize(DefaultBlockSize)
}

// NewSize creates an Arena whose first block is sized blockSize (rounded up
// to DefaultBlockSize if smaller).
func NewSize(blockSize int) *Arena {
	if blockSize < DefaultBlockSize {
		blockSize = DefaultBlockSize
	}
	b := &block{buf: make([]byte, blockSize)}
	return &Arena{first: b, cur: b}
}

func roundUp(n int) int {
	return (n + align - 1) &^ (align - 1)
}

// Alloc returns an 8-byte-aligned region of n bytes. The contents are not
// zeroed; use Calloc for zeroed memory.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrOutOfMemory
	}
	if n == 0 {
		return a.cur.buf[a.cur.cursor:a.cur.cursor], nil
	}
	need := roundUp(n)
	if a.cur.cursor+need > len(a.cur.buf) {
		size := DefaultBlockSize
		if need > size {
			size = need
		}
		nb := &block{buf: make([]byte, size)}
		a.cur.next = nb
		a.cur = nb
	}
	start := a.cur.cursor
	a.cur.cursor += need
	return a.cur.buf[start : start+n : start+need], nil
}

// Calloc is Alloc with the returned region zeroed (fresh blocks are already
// zero-valued Go memory, so this only matters for documentation/clarity at
// call sites that rely on zeroing).
func (a *Arena) Calloc(n int) ([]byte, error) {
	b, err := a.Alloc(n)
	if err != nil {
		return nil, err
	}
	for i := range b {
		b[i] = 0
	}
	return b, nil
}

// DupString copies s into the arena and NUL-terminates it, returning a view
// over the copy excluding the terminator. NUL-termination exists purely to
// ease interop with C-style consumers; Go code should use the returned
// string/slice length, never scan for the terminator.
func (a *Arena) DupString(s string) (string, error) {
	b, err := a.Alloc(len(s) + 1)
	if err != nil {
		return "", err
	}
	copy(b, s)
	b[len(s)] = 0
	return string(b[:len(s)]), nil
}

// Reset frees all blocks past the first and rewinds the first block's
// cursor to zero. The first block is retained to avoid a malloc on the next
// run using this arena.
func (a *Arena) Reset() {
	a.first.next = nil
	a.first.cursor = 0
	a.cur = a.first
}

// Savepoint is an opaque cursor into the arena's current block. It is valid
// only as long as no block boundary has been crossed between Savepoint and
// Restore; restoring across a block boundary is undefined behavior that
// Restore does not detect.
type Savepoint struct {
	b      *block
	cursor int
}

// Save records the cursor of the current block.
func (a *Arena) Save() Savepoint {
	return Savepoint{b: a.cur, cursor: a.cur.cursor}
}

// Restore rewinds to sp. Callers must not call Restore after an allocation
// has forced a new block to be created since Save was called; doing so
// restores into the wrong block and is not checked here.
func (a *Arena) Restore(sp Savepoint) {
	sp.b.cursor = sp.cursor
}

// Used reports the number of bytes allocated in the current block, for
// diagnostics/tests.
func (a *Arena) Used() int {
	return a.cur.cursor
}
