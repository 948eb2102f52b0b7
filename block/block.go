// Package block implements the Block type: an in-memory buffer for one
// aligned range of a cached file, plus its state and ref-count discipline.
//
// A Block's immutable fields (owning file identity, offset, length,
// prefetch flag) are safe to read without synchronization. Its mutable
// fields (ref-count, downloaded, failed, error) are guarded by whatever
// lock the owning file engine uses for its block map (its download lock).
// Block itself does not lock; callers are expected to
// already hold that lock, which is why every mutator below is documented
// as requiring it.
package block

import (
	"github.com/meigma/blockcache/internal/assertx"
)

// Block is one aligned, fixed-size range of a cached file.
type Block struct {
	// Index is the block's position in the file (byte offset / buffer
	// size).
	Index int

	// Offset is the block's byte offset within the file, a multiple of the
	// buffer size.
	Offset int64

	// Length is the block's length in bytes: the buffer size, except for
	// the last block of a file, which is file_size - offset.
	Length int64

	// Prefetch records whether this block was created by the prefetch
	// policy rather than a direct client read.
	Prefetch bool

	buf []byte

	// refCount, downloaded, failed, and err are mutable under the owning
	// file's download lock.
	refCount   int
	downloaded bool
	failed     bool
	err        error
}

// New allocates a Block for index with buffer storage sized to length.
// The ref-count starts at zero. A reader that creates a Block takes the
// first reference via Ref immediately afterward; a prefetch Block takes
// none until its fetch completes.
func New(index int, offset, length int64, prefetch bool) *Block {
	assertx.True(length >= 0, "block length must be >= 0, got %d", length)
	return &Block{
		Index:    index,
		Offset:   offset,
		Length:   length,
		Prefetch: prefetch,
		buf:      make([]byte, length),
	}
}

// Bytes returns the block's backing buffer. Callers must not retain slices
// into it beyond the block's lifetime: it is freed once the ref-count
// reaches zero and the block has finished (downloaded or failed).
func (b *Block) Bytes() []byte { return b.buf }

// RefCount returns the current reference count. Requires the caller to
// hold the owning file's download lock.
func (b *Block) RefCount() int { return b.refCount }

// Ref increments the reference count. Requires the caller to hold the
// owning file's download lock.
func (b *Block) Ref() {
	b.refCount++
}

// Unref decrements the reference count and returns the count after
// decrementing. It panics if the count would go negative — ref-count
// discipline forms a closed graph of increment/decrement sites, and a
// negative count means one of them double-released. Requires the
// caller to hold the owning file's download lock.
func (b *Block) Unref() int {
	assertx.True(b.refCount > 0, "block %d: Unref with refCount=%d", b.Index, b.refCount)
	b.refCount--
	return b.refCount
}

// Finished reports whether the origin has responded for this block, i.e.
// Downloaded() or Failed() is true.
func (b *Block) Finished() bool { return b.downloaded || b.failed }

// Downloaded reports whether the origin fetch completed successfully.
func (b *Block) Downloaded() bool { return b.downloaded }

// Failed reports whether the origin fetch failed.
func (b *Block) Failed() bool { return b.failed }

// Err returns the error recorded by MarkFailed, or nil.
func (b *Block) Err() error { return b.err }

// MarkDownloaded transitions the block to the downloaded state. It panics
// if the block already finished, enforcing the "downloaded XOR failed,
// exactly once" invariant. Requires the caller to hold the
// owning file's download lock.
func (b *Block) MarkDownloaded() {
	assertx.True(!b.Finished(), "block %d: MarkDownloaded after already finished", b.Index)
	b.downloaded = true
}

// MarkFailed transitions the block to the failed state with err. Requires
// the caller to hold the owning file's download lock.
func (b *Block) MarkFailed(err error) {
	assertx.True(!b.Finished(), "block %d: MarkFailed after already finished", b.Index)
	b.failed = true
	b.err = err
}

// ReadyToFree reports whether the block satisfies the destruction
// precondition: ref-count is zero and the origin has responded
// (downloaded or failed).
func (b *Block) ReadyToFree() bool {
	return b.refCount == 0 && b.Finished()
}

// Ref is a scope-tied reference on a Block: Acquire takes it, and
// Release hands the block to the release callback exactly once.
type Ref struct {
	b       *Block
	release func(*Block)
}

// Acquire takes one reference on b and returns a handle whose Release
// runs release(b). Requires the caller to hold the owning file's
// download lock.
func Acquire(b *Block, release func(*Block)) *Ref {
	b.Ref()
	return &Ref{b: b, release: release}
}

// Release runs the release callback on its first call; later calls do
// nothing.
func (r *Ref) Release() {
	if b := r.b; b != nil {
		r.b = nil
		r.release(b)
	}
}
