package engine

import (
	"fmt"

	"github.com/meigma/blockcache/block"
	"github.com/meigma/blockcache/internal/assertx"
	"github.com/meigma/blockcache/origin"
)

// Read fills buf with bytes starting at localOffset, a position relative
// to the start of this File's cached range (not the absolute origin
// offset). It classifies every block the request touches into one of
// three buckets — already in the block map, present on disk, or not yet
// fetched — services the on-disk portion synchronously, kicks off origin
// fetches for the rest, and blocks until every outstanding piece of the
// request has landed, or until the first in-memory block is seen to have
// failed (direct fetches are always waited for).
func (f *File) Read(buf []byte, localOffset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	bs := f.cfg.BufferSize
	idxFirst := int(localOffset / bs)
	idxLast := int((localOffset + int64(len(buf)) - 1) / bs)

	var taken []int // every block index this call took a reference on
	var onDisk []int
	type directReq struct {
		idx       int
		destOff   int64 // offset into buf
		originOff int64 // absolute origin offset
		length    int64
	}
	var direct []directReq

	f.mu.Lock()
	for idx := idxFirst; idx <= idxLast; idx++ {
		if b, ok := f.blocks[idx]; ok {
			b.Ref()
			taken = append(taken, idx)
			continue
		}
		if f.cfi.PresentSet(idx) {
			onDisk = append(onDisk, idx)
			continue
		}
		if f.coord.RequestRAMBlock() {
			length := f.cfi.BlockLen(idx)
			originOff := f.offset + int64(idx)*bs
			nb := block.New(idx, originOff, length, false)
			nb.Ref()
			f.blocks[idx] = nb
			if f.prefetchState == PrefetchOn && len(f.blocks) >= f.cfg.PrefetchMaxBlocks {
				f.prefetchState = PrefetchHold
				f.coord.DeregisterPrefetchFile(f)
			}
			handler := origin.NewBlockHandler(nb, f.processBlockResponse)
			f.reader.Read(handler, nb.Bytes(), originOff, length)
			taken = append(taken, idx)
			continue
		}
		destOff, originOff, length := f.overlap(idx, localOffset, int64(len(buf)))
		direct = append(direct, directReq{idx: idx, destOff: destOff, originOff: originOff, length: length})
	}
	f.mu.Unlock()

	var directHandler *origin.Handler
	if len(direct) > 0 {
		directHandler = origin.NewDirectHandler(len(direct))
		for _, d := range direct {
			f.reader.Read(directHandler, buf[d.destOff:d.destOff+d.length], d.originOff, d.length)
		}
	}

	bytesRead := int64(len(buf))
	var readErr error

	for _, idx := range onDisk {
		destOff, blockLocalOff, length := f.diskOverlap(idx, localOffset, int64(len(buf)))
		n, err := f.data.ReadAt(buf[destOff:destOff+length], blockLocalOff)
		if err != nil || int64(n) != length {
			readErr = fmt.Errorf("%w: short disk read for block %d: %w", ErrReadFailed, idx, err)
			bytesRead = -1
			break
		}
		f.mu.Lock()
		f.bytesDisk += length
		if f.cfi.PrefetchSet(idx) {
			f.prefetchHitCnt++
		}
		f.mu.Unlock()
	}

	if readErr == nil {
		processed := make(map[int]bool, len(taken))
		f.mu.Lock()
		remaining := len(taken) - len(processed)
		for remaining > 0 {
			for _, idx := range taken {
				if processed[idx] {
					continue
				}
				b := f.blocks[idx]
				if b == nil || !b.Finished() {
					continue
				}
				processed[idx] = true
				remaining--
				if b.Failed() {
					readErr = fmt.Errorf("%w: block %d: %w", ErrReadFailed, idx, b.Err())
					bytesRead = -1
					continue
				}
				destOff, blockLocalOff, length := f.overlapLocal(idx, localOffset, int64(len(buf)))
				copy(buf[destOff:destOff+length], b.Bytes()[blockLocalOff:blockLocalOff+length])
				f.bytesRAM += length
				if b.Prefetch {
					f.prefetchHitCnt++
				}
			}
			if readErr != nil || remaining == 0 {
				break
			}
			f.cond.Wait()
		}
		f.mu.Unlock()
	}

	if directHandler != nil {
		if err := directHandler.Wait(); err != nil {
			if readErr == nil {
				readErr = fmt.Errorf("%w: %w", ErrReadFailed, err)
				bytesRead = -1
			}
		} else {
			var directSize int64
			for _, d := range direct {
				directSize += d.length
			}
			f.mu.Lock()
			f.bytesMissed += directSize
			f.mu.Unlock()
		}
	}

	// Every index in taken got exactly one reference above; release them
	// all now regardless of how the read turned out. If readErr fired
	// before every block finished, some of these are released while
	// still unresolved — that is fine, decRefLocked only frees the block
	// once it both has zero refs and has finished.
	f.mu.Lock()
	for _, idx := range taken {
		if b, ok := f.blocks[idx]; ok {
			f.decRefLocked(idx, b)
		}
	}
	f.mu.Unlock()

	assertx.True(bytesRead < 0 || bytesRead <= int64(len(buf)), "file %s: bytesRead %d exceeds request %d", f.path, bytesRead, len(buf))

	if bytesRead < 0 {
		return 0, readErr
	}
	return int(bytesRead), nil
}

// overlap computes where the byte range of block idx intersects the
// request [localOffset, localOffset+reqLen), returning the destination
// offset into the request buffer, the absolute origin offset, and the
// overlap length — used for blocks fetched directly, bypassing the block
// map entirely.
func (f *File) overlap(idx int, localOffset, reqLen int64) (destOff, originOff, length int64) {
	bs := f.cfg.BufferSize
	blockLocalStart := int64(idx) * bs
	blockLen := f.cfi.BlockLen(idx)
	blockLocalEnd := blockLocalStart + blockLen

	reqStart := localOffset
	reqEnd := localOffset + reqLen

	start := max64(blockLocalStart, reqStart)
	end := min64(blockLocalEnd, reqEnd)
	length = end - start

	destOff = start - reqStart
	originOff = f.offset + start
	return destOff, originOff, length
}

// diskOverlap is overlap, but returns a position within the data file
// (local to this File's range) instead of an absolute origin offset, for
// reading blocks already present on disk.
func (f *File) diskOverlap(idx int, localOffset, reqLen int64) (destOff, blockLocalOff, length int64) {
	destOff, originOff, length := f.overlap(idx, localOffset, reqLen)
	return destOff, originOff - f.offset, length
}

// overlapLocal is overlap, but returns an offset within the block's own
// buffer instead of an absolute origin offset, for copying out of a
// finished in-memory Block.
func (f *File) overlapLocal(idx int, localOffset, reqLen int64) (destOff, blockBufOff, length int64) {
	destOff, originOff, length := f.overlap(idx, localOffset, reqLen)
	bs := f.cfg.BufferSize
	blockLocalStart := int64(idx) * bs
	blockBufOff = (originOff - f.offset) - blockLocalStart
	return destOff, blockBufOff, length
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
