package coordinator

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/meigma/blockcache/config"
	"github.com/meigma/blockcache/engine"
	"github.com/meigma/blockcache/origin"
	"github.com/meigma/blockcache/scheduler"
)

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

type memBackend struct {
	mu    sync.Mutex
	files map[string]*memFile
}

func newMemBackend() *memBackend { return &memBackend{files: make(map[string]*memFile)} }

func (b *memBackend) Create(path string, mode os.FileMode) (origin.File, error) {
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

// remoteReader completes every fetch asynchronously from the in-memory
// remote slice, exactly as the Reader contract requires.
type remoteReader struct {
	remote []byte
}

func (r *remoteReader) Read(handler *origin.Handler, buf []byte, offset, length int64) {
	go func() {
		end := offset + length
		if end > int64(len(r.remote)) {
			end = int64(len(r.remote))
		}
		n := copy(buf, r.remote[offset:end])
		handler.Done(n, nil)
	}()
}

func newTestCoordinator(t *testing.T, cfg *config.Config) *Coordinator {
	t.Helper()
	c := New(cfg, WithScheduler(inlineScheduler{}))
	t.Cleanup(c.Close)
	return c
}

type inlineScheduler struct{}

func (inlineScheduler) Schedule(job scheduler.Job) { job.DoIt() }

func testConfig(t *testing.T, bufferSize int64, prefetchMax, ramBudget, writeSlots int) *config.Config {
	t.Helper()
	cfg, err := config.New(
		config.WithBufferSize(bufferSize),
		config.WithPrefetchMaxBlocks(prefetchMax),
		config.WithRAMBlockBudget(ramBudget),
		config.WithWritingSlotsMax(writeSlots),
		config.WithSyncThreshold(2),
	)
	if err != nil {
		t.Fatalf("config.New() error = %v", err)
	}
	return cfg
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestRequestRAMBlockRespectsBudget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 8, 0, 2, 16)
	c := newTestCoordinator(t, cfg)

	if !c.RequestRAMBlock() {
		t.Fatalf("first RequestRAMBlock() = false, want true")
	}
	if !c.RequestRAMBlock() {
		t.Fatalf("second RequestRAMBlock() = false, want true")
	}
	if c.RequestRAMBlock() {
		t.Fatalf("third RequestRAMBlock() = true, want false (budget exhausted)")
	}
	c.ReleaseRAMBlock()
	if !c.RequestRAMBlock() {
		t.Fatalf("RequestRAMBlock() after release = false, want true")
	}
}

func TestReadThroughFileWritesBackViaWorkerPool(t *testing.T) {
	t.Parallel()

	remote := make([]byte, 32)
	for i := range remote {
		remote[i] = byte(i)
	}
	cfg := testConfig(t, 8, 0, 1024, 16)
	c := newTestCoordinator(t, cfg)

	backend := newMemBackend()
	reader := &remoteReader{remote: remote}
	f, err := engine.Open(cfg, c, reader, inlineScheduler{}, backend, nil, "data/f1", 0, int64(len(remote)))
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}

	buf := make([]byte, len(remote))
	n, err := f.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != len(remote) || !bytes.Equal(buf, remote) {
		t.Fatalf("Read() = %v (n=%d), want %v", buf, n, remote)
	}

	waitUntil(t, time.Second, func() bool {
		return bytes.Equal(backend.get("data/f1").bytes(), remote)
	})

	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestTickAdvancesRegisteredFilePrefetch(t *testing.T) {
	t.Parallel()

	remote := bytes.Repeat([]byte{0x42}, 20) // 5 blocks of 4 bytes
	cfg := testConfig(t, 4, 8, 1024, 16)
	c := newTestCoordinator(t, cfg)

	backend := newMemBackend()
	reader := &remoteReader{remote: remote}
	f, err := engine.Open(cfg, c, reader, inlineScheduler{}, backend, nil, "data/f2", 0, int64(len(remote)))
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}

	c.Start(5 * time.Millisecond)

	waitUntil(t, 2*time.Second, func() bool {
		return bytes.Equal(backend.get("data/f2").bytes(), remote)
	})

	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
