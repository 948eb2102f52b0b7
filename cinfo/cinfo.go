// Package cinfo implements the .cinfo side-car file: a bit-exact,
// little-endian on-disk format that records, for one cached data file, the
// buffer size, file size, per-block present and prefetch bits, per-block
// write-called bits, and an appended log of detach-time I/O statistics.
package cinfo

import (
	"errors"
	"fmt"
	"io"

	"github.com/meigma/blockcache/internal/bitset"
)

// ErrZeroFileSize is returned by Open when a pre-existing info file records
// a file_size of zero; File.Open treats this as a fatal open failure.
var ErrZeroFileSize = errors.New("cinfo: file_size is zero")

// ErrFileSizeMismatch is returned by Open when the caller-supplied file
// size disagrees with the on-disk file_size. The on-disk value is treated
// as authoritative; Open fails rather than silently overriding it.
var ErrFileSizeMismatch = errors.New("cinfo: on-disk file_size disagrees with caller-supplied size")

// CInfo is the in-memory mirror of the side-car file.
type CInfo struct {
	BufferSize      int64
	FileSize        int64
	PrefetchEnabled bool
	BitsTotal       int

	present     *bitset.Set
	prefetch    *bitset.Set // nil when !PrefetchEnabled
	writeCalled *bitset.Set

	records []AStat // appended stat log, in file order
}

// New creates a fresh, all-zero CInfo for a file of the given size. It does
// not touch disk; call WriteHeader to persist it.
func New(bufferSize, fileSize int64, prefetchEnabled bool) (*CInfo, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("cinfo: buffer size must be > 0, got %d", bufferSize)
	}
	if fileSize == 0 {
		return nil, ErrZeroFileSize
	}
	n := bitsTotal(fileSize, bufferSize)
	c := &CInfo{
		BufferSize:      bufferSize,
		FileSize:        fileSize,
		PrefetchEnabled: prefetchEnabled,
		BitsTotal:       n,
		present:         bitset.New(n),
		writeCalled:     bitset.New(n),
	}
	if prefetchEnabled {
		c.prefetch = bitset.New(n)
	}
	return c, nil
}

// Open parses a pre-existing .cinfo file read from r, whose total length is
// totalLen. expectedFileSize is the caller's own notion of the remote
// file's size (e.g. from a stat against the origin); Open fails if it
// disagrees with the value recorded on disk rather than silently
// overriding it.
func Open(r io.ReaderAt, totalLen int64, expectedFileSize int64) (*CInfo, error) {
	if totalLen < headerLen {
		return nil, fmt.Errorf("cinfo: truncated header (%d bytes)", totalLen)
	}
	hdr := make([]byte, headerLen)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("cinfo: read header: %w", err)
	}
	_, bufferSize, fileSize, prefetchEnabled := decodeHeader(hdr)
	if fileSize == 0 {
		return nil, ErrZeroFileSize
	}
	if expectedFileSize != 0 && fileSize != expectedFileSize {
		return nil, fmt.Errorf("%w: on-disk=%d caller=%d", ErrFileSizeMismatch, fileSize, expectedFileSize)
	}

	n := bitsTotal(fileSize, bufferSize)
	bl := bitset.ByteLen(n)

	off := int64(headerLen)
	presentBuf := make([]byte, bl)
	if _, err := r.ReadAt(presentBuf, off); err != nil {
		return nil, fmt.Errorf("cinfo: read present bits: %w", err)
	}
	off += int64(bl)

	var prefetchSet *bitset.Set
	if prefetchEnabled {
		prefetchBuf := make([]byte, bl)
		if _, err := r.ReadAt(prefetchBuf, off); err != nil {
			return nil, fmt.Errorf("cinfo: read prefetch bits: %w", err)
		}
		off += int64(bl)
		prefetchSet = bitset.FromBytes(prefetchBuf, n)
	}

	writeCalledBuf := make([]byte, bl)
	if _, err := r.ReadAt(writeCalledBuf, off); err != nil {
		return nil, fmt.Errorf("cinfo: read write-called bits: %w", err)
	}
	off += int64(bl)

	c := &CInfo{
		BufferSize:      bufferSize,
		FileSize:        fileSize,
		PrefetchEnabled: prefetchEnabled,
		BitsTotal:       n,
		present:         bitset.FromBytes(presentBuf, n),
		prefetch:        prefetchSet,
		writeCalled:     bitset.FromBytes(writeCalledBuf, n),
	}

	for off+astatLen <= totalLen {
		buf := make([]byte, astatLen)
		if _, err := r.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("cinfo: read stat record at %d: %w", off, err)
		}
		c.records = append(c.records, decodeAStat(buf))
		off += astatLen
	}

	return c, nil
}

// HeaderRegionLen returns the byte length of the fixed header plus all bit
// vectors — the region WriteHeader rewrites in one positioned write, and
// the offset at which the appended stat log begins.
func (c *CInfo) HeaderRegionLen() int64 {
	bl := int64(bitset.ByteLen(c.BitsTotal))
	n := int64(headerLen) + bl + bl // present + write_called
	if c.PrefetchEnabled {
		n += bl
	}
	return n
}

// headerRegionBytes encodes the fixed header plus all bit vectors as a
// single contiguous buffer, suitable for one positioned write at offset 0.
func (c *CInfo) headerRegionBytes() []byte {
	bl := bitset.ByteLen(c.BitsTotal)
	buf := make([]byte, c.HeaderRegionLen())
	encodeHeader(buf[:headerLen], c.BufferSize, c.FileSize, c.PrefetchEnabled)
	off := headerLen
	copy(buf[off:off+bl], c.present.Bytes())
	off += bl
	if c.PrefetchEnabled {
		copy(buf[off:off+bl], c.prefetch.Bytes())
		off += bl
	}
	copy(buf[off:off+bl], c.writeCalled.Bytes())
	return buf
}

// Writer is the positioned-write half of the disk backend CInfo persists
// through.
type Writer interface {
	WriteAt(p []byte, off int64) (int, error)
}

// Syncer flushes a Writer's prior writes to stable storage.
type Syncer interface {
	Fsync() error
}

// WriteHeader rewrites the fixed-offset header and all bit vectors as a
// single positioned write at offset 0.
func (c *CInfo) WriteHeader(w Writer) error {
	buf := c.headerRegionBytes()
	n, err := w.WriteAt(buf, 0)
	if err != nil {
		return fmt.Errorf("cinfo: write header: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("cinfo: short header write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// AppendIOStat appends one AStat record at EOF. Failures are logged by the
// caller and are non-fatal to the file engine; the
// record is still tracked in memory so IOStats reflects it even if the
// write itself failed.
func (c *CInfo) AppendIOStat(w Writer, s AStat) error {
	off := c.HeaderRegionLen() + int64(len(c.records))*astatLen
	buf := make([]byte, astatLen)
	encodeAStat(buf, s)
	c.records = append(c.records, s)
	n, err := w.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("cinfo: append io stat: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("cinfo: short io stat write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// IOStats returns the appended detach-time stat log, in file order.
func (c *CInfo) IOStats() []AStat {
	return c.records
}

// IsComplete reports whether every present bit is set.
func (c *CInfo) IsComplete() bool {
	return c.present.All()
}

// PresentSet reports whether block i has been written back to disk.
func (c *CInfo) PresentSet(i int) bool { return c.present.Get(i) }

// SetPresent marks block i as present on disk. A present bit never clears
// once set.
func (c *CInfo) SetPresent(i int) { c.present.Set(i) }

// PrefetchSet reports whether block i was originally fetched speculatively.
// Always false when prefetch is disabled.
func (c *CInfo) PrefetchSet(i int) bool {
	if c.prefetch == nil {
		return false
	}
	return c.prefetch.Get(i)
}

// SetPrefetch marks block i as having been fetched speculatively. A no-op
// when prefetch is disabled.
func (c *CInfo) SetPrefetch(i int) {
	if c.prefetch == nil {
		return
	}
	c.prefetch.Set(i)
}

// WriteCalledSet reports whether block i's disk write has been issued.
func (c *CInfo) WriteCalledSet(i int) bool { return c.writeCalled.Get(i) }

// SetWriteCalled marks block i's disk write as issued.
func (c *CInfo) SetWriteCalled(i int) { c.writeCalled.Set(i) }

// FirstUnprefetchedGap scans for the first block index that is neither
// present on disk nor currently excluded by inFlight, for use by the
// prefetch scan.
func (c *CInfo) FirstUnprefetchedGap(inFlight func(i int) bool) int {
	for i := 0; i < c.BitsTotal; i++ {
		if !c.present.Get(i) && !inFlight(i) {
			return i
		}
	}
	return -1
}

// BlockLen returns the length in bytes of block i: BufferSize, except for
// the last block, which is FileSize - offset.
func (c *CInfo) BlockLen(i int) int64 {
	off := int64(i) * c.BufferSize
	if off+c.BufferSize > c.FileSize {
		return c.FileSize - off
	}
	return c.BufferSize
}
