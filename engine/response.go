package engine

import (
	"fmt"

	"github.com/meigma/blockcache/block"
	"github.com/meigma/blockcache/internal/assertx"
)

// processBlockResponse is the BlockHandler completion callback the origin
// Reader invokes once b's fetch is done, successfully or not. On success
// it marks the block downloaded, takes an extra reference on behalf of
// the write-back task it hands off to the coordinator, and enqueues that
// task. On failure it marks the block failed and takes and immediately
// drops a reference of its own: pending readers already waiting on b
// observe the failure and release their own reference separately, but a
// purely speculative prefetch block (refCount=0 at creation, held alive
// only by the write-back reference this path never takes) has nothing
// else to drop it, so without this it would never leave the block map.
func (f *File) processBlockResponse(b *block.Block, n int, err error) {
	f.mu.Lock()
	if err != nil || int64(n) != b.Length {
		if err == nil {
			err = fmt.Errorf("short origin read: got %d of %d bytes", n, b.Length)
		}
		b.MarkFailed(err)
		b.Ref()
		f.decRefLocked(b.Index, b)
		f.mu.Unlock()
		return
	}
	b.MarkDownloaded()
	b.Ref() // write-back task's reference; released in WriteBlockToDisk or BlockRemovedFromWriteQ
	f.mu.Unlock()
	f.cond.Broadcast()

	f.coord.AddWriteTask(f, b)
}

// WriteBlockToDisk performs the actual write-back for b: a positioned
// write of its buffer to the data file, retried on short writes up to
// the configured limit. On success it marks the block present on disk,
// releases the write-back task's reference, and updates the write-called
// bit and sync-threshold bookkeeping that may schedule an fsync job. On
// failure (retries exhausted) it returns an error without touching the
// present bit or releasing the reference — the caller (the coordinator's
// write-back worker) must call BlockRemovedFromWriteQ to release it.
func (f *File) WriteBlockToDisk(b *block.Block) error {
	buf := b.Bytes()
	var written int
	var lastErr error
	for attempt := 0; attempt < f.cfg.WriteRetryLimit; attempt++ {
		n, err := f.data.WriteAt(buf[written:], b.Offset-f.offset+int64(written))
		written += n
		if err != nil {
			lastErr = err
			continue
		}
		if written >= len(buf) {
			lastErr = nil
			break
		}
	}
	if written < len(buf) {
		return fmt.Errorf("engine: write-back for block %d: %d of %d bytes written: %w", b.Index, written, len(buf), lastErr)
	}

	f.mu.Lock()
	assertx.True(!f.cfi.PresentSet(b.Index), "file %s: block %d written back twice", f.path, b.Index)
	f.cfi.SetPresent(b.Index)
	f.decRefLocked(b.Index, b)
	f.mu.Unlock()

	scheduleSync := false
	f.syncMu.Lock()
	if f.inSync {
		f.writesDuringSync = append(f.writesDuringSync, b.Index)
	} else {
		f.cfi.SetWriteCalled(b.Index)
		f.nonFlushedCnt++
		if f.nonFlushedCnt >= f.cfg.SyncThreshold {
			f.nonFlushedCnt = 0
			f.inSync = true
			scheduleSync = true
		}
	}
	f.syncMu.Unlock()
	if scheduleSync {
		f.sched.Schedule(&diskSyncJob{f: f})
	}

	return nil
}

// BlockRemovedFromWriteQ releases the write-back task's reference on b
// without having written it: either the write failed after exhausting
// its retries, or the coordinator discarded the task before running it
// (e.g. while draining its queue during shutdown).
func (f *File) BlockRemovedFromWriteQ(b *block.Block) {
	f.mu.Lock()
	f.decRefLocked(b.Index, b)
	f.mu.Unlock()
}
