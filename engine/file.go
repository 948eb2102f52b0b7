// Package engine implements File: the per-cached-file controller that
// classifies reads against an in-memory block map and an on-disk .cinfo
// side-car, coalesces concurrent fetches of the same block through a
// single origin request, and writes completed blocks back to disk under
// a process-wide budget enforced by a Coordinator.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/meigma/blockcache/block"
	"github.com/meigma/blockcache/cinfo"
	"github.com/meigma/blockcache/config"
	"github.com/meigma/blockcache/internal/assertx"
	"github.com/meigma/blockcache/origin"
	"github.com/meigma/blockcache/scheduler"
)

// File is one cached remote byte range, backed by a data file and a
// .cinfo side-car on local disk.
type File struct {
	cfg    *config.Config
	coord  Coordinator
	reader origin.Reader
	sched  scheduler.Scheduler
	logger *slog.Logger

	path     string // data file path; the info file is path+".cinfo"
	offset   int64  // absolute origin offset this File's range starts at
	fileSize int64

	data origin.File
	info origin.File

	// mu guards the block map, ref-counts, the .cinfo present and
	// prefetch bit vectors, and prefetch state — this
	// implementation folds the prefetch-state-transition lock into the
	// block-map lock, since every map-size-driven transition already
	// holds it and the shutdown/wake transitions can cheaply take it too
	// (see DESIGN.md).
	mu     sync.Mutex
	cond   *sync.Cond
	blocks map[int]*block.Block
	cfi    *cinfo.CInfo

	prefetchState   PrefetchState
	prefetchReadCnt int64
	prefetchHitCnt  int64
	ioActive        bool

	// syncMu guards the write-back accounting that drives fsync
	// scheduling, including the .cinfo write-called bits, independently
	// of mu.
	syncMu           sync.Mutex
	inSync           bool
	writesDuringSync []int // block indices whose write_called bit is deferred until the in-flight sync finishes
	nonFlushedCnt    int

	bytesDisk   int64
	bytesRAM    int64
	bytesMissed int64

	closed bool
}

// Open opens or creates the data file and .cinfo side-car at path for a
// remote range of length fileSize starting at offset. If a pre-existing
// info file is found, its recorded file size must agree with fileSize.
func Open(cfg *config.Config, coord Coordinator, reader origin.Reader, sched scheduler.Scheduler, backend origin.Backend, logger *slog.Logger, path string, offset, fileSize int64) (*File, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	data, err := backend.Open(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open data file: %w", ErrOpenFailed, err)
	}

	infoPath := path + ".cinfo"
	cfi, info, err := openOrCreateInfo(backend, infoPath, cfg, fileSize)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	f := &File{
		cfg:      cfg,
		coord:    coord,
		reader:   reader,
		sched:    sched,
		logger:   logger,
		path:     path,
		offset:   offset,
		fileSize: fileSize,
		data:     data,
		info:     info,
		blocks:   make(map[int]*block.Block),
		cfi:      cfi,
		ioActive: true,
	}
	f.cond = sync.NewCond(&f.mu)

	if cfg.PrefetchEnabled() {
		if cfi.IsComplete() {
			f.prefetchState = PrefetchComplete
		} else {
			f.prefetchState = PrefetchOn
			coord.RegisterPrefetchFile(f)
		}
	} else {
		f.prefetchState = PrefetchOff
	}

	return f, nil
}

func openOrCreateInfo(backend origin.Backend, infoPath string, cfg *config.Config, fileSize int64) (*cinfo.CInfo, origin.File, error) {
	info, err := backend.Open(infoPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open info file: %w", err)
	}

	size, err := info.Size()
	if err != nil {
		info.Close()
		return nil, nil, fmt.Errorf("stat info file: %w", err)
	}

	if size > 0 {
		cfi, err := cinfo.Open(info, size, fileSize)
		if err != nil {
			info.Close()
			return nil, nil, err
		}
		return cfi, info, nil
	}

	cfi, err := cinfo.New(cfg.BufferSize, fileSize, cfg.PrefetchEnabled())
	if err != nil {
		info.Close()
		return nil, nil, err
	}
	if err := cfi.WriteHeader(info); err != nil {
		info.Close()
		return nil, nil, err
	}
	if err := info.Fsync(); err != nil {
		info.Close()
		return nil, nil, err
	}
	return cfi, info, nil
}

// Stats is a snapshot of one File's lifetime I/O counters, suitable for
// an appended .cinfo stat record.
type Stats struct {
	BytesDisk   int64
	BytesRAM    int64
	BytesMissed int64
}

func (f *File) statsLocked() Stats {
	return Stats{BytesDisk: f.bytesDisk, BytesRAM: f.bytesRAM, BytesMissed: f.bytesMissed}
}

// Close stops prefetch, waits out any pending write-back for blocks
// already queued, drops every block still held only by the cache itself
// (never handed to a reader), flushes the .cinfo header, appends a
// detach-time stat record, and closes both file handles. Close is not
// safe to call concurrently with Open or with another Close on the same
// File.
func (f *File) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.ioActive = false
	if f.prefetchState == PrefetchOn || f.prefetchState == PrefetchHold {
		f.prefetchState = PrefetchStopped
		f.coord.DeregisterPrefetchFile(f)
	}

	// Wait for every in-flight origin fetch and every in-flight
	// write-back to settle before closing the file handles out from
	// under them: closing while a fetch is still filling a block's
	// buffer, or while a write-back is still positioned-writing it,
	// would race the disk handle's Close against that I/O. A block not
	// yet ready to free is either still fetching or still queued for
	// write-back (assumes no concurrent Read calls this File once Close
	// has started).
	for {
		allReady := true
		for _, b := range f.blocks {
			if !b.ReadyToFree() {
				allReady = false
				break
			}
		}
		if allReady {
			break
		}
		f.cond.Wait()
	}

	for idx := range f.blocks {
		delete(f.blocks, idx)
		f.coord.ReleaseRAMBlock()
	}
	f.closed = true
	stats := f.statsLocked()
	f.mu.Unlock()

	var errs []error
	if err := f.cfi.WriteHeader(f.info); err != nil {
		errs = append(errs, err)
	}
	if err := f.cfi.AppendIOStat(f.info, toAStat(stats)); err != nil {
		f.logger.Warn("engine: append detach stat failed", "path", f.path, "err", err)
	}
	if err := f.info.Fsync(); err != nil {
		errs = append(errs, err)
	}
	if err := f.info.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := f.data.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("engine: close %s: %v", f.path, errs)
	}
	return nil
}

// WakeUp marks the File active again and, if prefetch is Stopped and the
// file is not complete, turns prefetch back On and re-registers the File
// with the coordinator. It does nothing once Close has run, and Close is
// the only place prefetch becomes Stopped, so a File that Close stopped
// is not reactivated. Nothing in this tree calls WakeUp.
func (f *File) WakeUp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.ioActive = true
	if f.prefetchState == PrefetchStopped && !f.cfi.IsComplete() {
		f.prefetchState = PrefetchOn
		f.coord.RegisterPrefetchFile(f)
	}
}

func toAStat(s Stats) cinfo.AStat {
	return cinfo.AStat{BytesDisk: s.BytesDisk, BytesRAM: s.BytesRAM, BytesMissed: s.BytesMissed}
}

// decRefLocked drops one reference from b and, if that was the last
// reference and the origin has already responded, removes it from the
// block map and returns its RAM permit. Requires f.mu held.
func (f *File) decRefLocked(idx int, b *block.Block) {
	n := b.Unref()
	assertx.True(n >= 0, "file %s: block %d ref-count went negative", f.path, idx)
	if n == 0 && b.Finished() {
		f.freeBlockLocked(idx, b)
	}
	f.cond.Broadcast()
}

// freeBlockLocked removes b from the block map, returns its RAM permit,
// and resumes prefetch if the map had been held off purely because of
// its size. Requires f.mu held and b.ReadyToFree().
func (f *File) freeBlockLocked(idx int, b *block.Block) {
	assertx.True(b.ReadyToFree(), "file %s: freeBlockLocked on block %d not ready (refs=%d finished=%v)",
		f.path, idx, b.RefCount(), b.Finished())
	delete(f.blocks, idx)
	f.coord.ReleaseRAMBlock()
	if f.prefetchState == PrefetchHold && len(f.blocks) < f.cfg.PrefetchMaxBlocks {
		f.prefetchState = PrefetchOn
		f.coord.RegisterPrefetchFile(f)
	}
}
