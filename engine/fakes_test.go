package engine

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/meigma/blockcache/block"
	"github.com/meigma/blockcache/origin"
	"github.com/meigma/blockcache/scheduler"
)

// memFile is an in-memory origin.File, standing in for a real disk
// handle in every engine test.
type memFile struct {
	mu  sync.Mutex
	buf []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:end], p)
	return len(p), nil
}

func (f *memFile) Fsync() error { return nil }
func (f *memFile) Close() error { return nil }

func (f *memFile) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.buf)), nil
}

func (f *memFile) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.buf))
	copy(out, f.buf)
	return out
}

// memBackend hands out memFile handles from an in-memory map, keyed by
// path, so a data file and its .cinfo side-car independently persist
// across Open/Close within one test.
type memBackend struct {
	mu    sync.Mutex
	files map[string]*memFile
}

func newMemBackend() *memBackend {
	return &memBackend{files: make(map[string]*memFile)}
}

func (b *memBackend) Create(path string, mode os.FileMode) (origin.File, error) {
	b.mu.Lock()
	b.files[path] = &memFile{}
	b.mu.Unlock()
	return b.get(path), nil
}

func (b *memBackend) Open(path string, flag int, mode os.FileMode) (origin.File, error) {
	return b.get(path), nil
}

func (b *memBackend) get(path string) *memFile {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[path]
	if !ok {
		f = &memFile{}
		b.files[path] = f
	}
	return f
}

// remoteReader serves Read requests against an in-memory "remote" byte
// slice, asynchronously (on a fresh goroutine), exactly as the Reader
// contract requires: Read returns before the handler fires. failAt, if
// set, makes every fetch touching that absolute origin offset fail
// instead of succeed.
type remoteReader struct {
	remote []byte
	failAt map[int64]bool
}

func (r *remoteReader) Read(handler *origin.Handler, buf []byte, offset, length int64) {
	go func() {
		if r.failAt[offset] {
			handler.Done(0, errors.New("remoteReader: injected failure"))
			return
		}
		end := offset + length
		if end > int64(len(r.remote)) {
			end = int64(len(r.remote))
		}
		n := copy(buf, r.remote[offset:end])
		handler.Done(n, nil)
	}()
}

// fakeCoordinator is a minimal, synchronous engine.Coordinator: a
// counted RAM-block budget, an immediately-run write-back (no separate
// worker goroutine or writing-slot budget — this test double folds
// that gating into the real coordinator's job, not this File's), and a
// set tracking which files are currently registered for prefetch.
type fakeCoordinator struct {
	mu           sync.Mutex
	ramAvailable int
	registered   map[*File]bool
}

func newFakeCoordinator(ramBudget int) *fakeCoordinator {
	return &fakeCoordinator{ramAvailable: ramBudget, registered: make(map[*File]bool)}
}

func (c *fakeCoordinator) RequestRAMBlock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ramAvailable <= 0 {
		return false
	}
	c.ramAvailable--
	return true
}

func (c *fakeCoordinator) ReleaseRAMBlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ramAvailable++
}

func (c *fakeCoordinator) AddWriteTask(f *File, b *block.Block) {
	if err := f.WriteBlockToDisk(b); err != nil {
		f.BlockRemovedFromWriteQ(b)
	}
}

func (c *fakeCoordinator) RegisterPrefetchFile(f *File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[f] = true
}

func (c *fakeCoordinator) DeregisterPrefetchFile(f *File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.registered, f)
}

func (c *fakeCoordinator) isRegistered(f *File) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered[f]
}

// inlineScheduler runs every job synchronously on the calling goroutine.
type inlineScheduler struct{}

func (inlineScheduler) Schedule(job scheduler.Job) { job.DoIt() }
