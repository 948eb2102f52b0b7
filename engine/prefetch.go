package engine

import (
	"github.com/meigma/blockcache/block"
	"github.com/meigma/blockcache/origin"
)

// Prefetch is the coordinator's tick entry point for one registered
// file: it looks for the first block that is neither present on disk
// nor already in flight and, if the process-wide budget allows, issues
// a speculative fetch for it. It is a no-op if prefetch is not
// currently On for this file (e.g. it was just put On Hold by another
// goroutine, or the file closed) — the coordinator calls this
// optimistically for every registered file on every tick and relies on
// this check rather than deregistering synchronously from every site.
func (f *File) Prefetch() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.prefetchState != PrefetchOn {
		return
	}

	idx := f.cfi.FirstUnprefetchedGap(func(i int) bool {
		_, inFlight := f.blocks[i]
		return inFlight
	})
	if idx < 0 {
		f.prefetchState = PrefetchComplete
		f.coord.DeregisterPrefetchFile(f)
		return
	}

	if !f.coord.RequestRAMBlock() {
		return
	}

	bs := f.cfg.BufferSize
	length := f.cfi.BlockLen(idx)
	originOff := f.offset + int64(idx)*bs
	nb := block.New(idx, originOff, length, true)
	// No reference is taken here: a purely speculative block is kept
	// alive only by the write-back task's reference (taken in
	// processBlockResponse on success) until it lands on disk, at which
	// point it is freed from the map immediately — a later real read
	// finds it via the present bit, not the block map.
	f.blocks[idx] = nb
	f.prefetchReadCnt++
	if len(f.blocks) >= f.cfg.PrefetchMaxBlocks {
		f.prefetchState = PrefetchHold
		f.coord.DeregisterPrefetchFile(f)
	}

	handler := origin.NewBlockHandler(nb, f.processBlockResponse)
	f.reader.Read(handler, nb.Bytes(), originOff, length)
}
