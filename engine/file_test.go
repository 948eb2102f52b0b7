package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/meigma/blockcache/config"
)

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

func newTestFile(t *testing.T, remote []byte, cfg *config.Config, coord *fakeCoordinator, failAt map[int64]bool) (*File, *memBackend) {
	t.Helper()
	backend := newMemBackend()
	reader := &remoteReader{remote: remote, failAt: failAt}
	f, err := Open(cfg, coord, reader, inlineScheduler{}, backend, nil, "data/f1", 0, int64(len(remote)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return f, backend
}

func testConfig(t *testing.T, bufferSize int64, prefetchMax int) *config.Config {
	t.Helper()
	cfg, err := config.New(
		config.WithBufferSize(bufferSize),
		config.WithPrefetchMaxBlocks(prefetchMax),
		config.WithRAMBlockBudget(1024),
		config.WithWritingSlotsMax(1024),
		config.WithSyncThreshold(2),
	)
	if err != nil {
		t.Fatalf("config.New() error = %v", err)
	}
	return cfg
}

func TestOpenRegistersForPrefetchWhenIncomplete(t *testing.T) {
	t.Parallel()

	remote := bytes.Repeat([]byte{0xAB}, 40)
	cfg := testConfig(t, 8, 4)
	coord := newFakeCoordinator(1024)
	f, _ := newTestFile(t, remote, cfg, coord, nil)

	if f.prefetchState != PrefetchOn {
		t.Fatalf("prefetchState = %v, want On", f.prefetchState)
	}
	if !coord.isRegistered(f) {
		t.Fatalf("file was not registered for prefetch on open")
	}
}

func TestReadFetchesFromOriginCopiesBytesAndWritesBack(t *testing.T) {
	t.Parallel()

	remote := make([]byte, 32)
	for i := range remote {
		remote[i] = byte(i)
	}
	cfg := testConfig(t, 8, 0)
	coord := newFakeCoordinator(1024)
	f, backend := newTestFile(t, remote, cfg, coord, nil)

	buf := make([]byte, len(remote))
	n, err := f.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != len(remote) {
		t.Fatalf("Read() n = %d, want %d", n, len(remote))
	}
	if !bytes.Equal(buf, remote) {
		t.Fatalf("Read() copied %v, want %v", buf, remote)
	}

	waitUntil(t, time.Second, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cfi.IsComplete()
	})

	dataBytes := backend.get("data/f1").bytes()
	if !bytes.Equal(dataBytes, remote) {
		t.Fatalf("data file = %v, want %v", dataBytes, remote)
	}
}

func TestReadHitsDiskOnSecondPass(t *testing.T) {
	t.Parallel()

	remote := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 4) // 16 bytes
	cfg := testConfig(t, 4, 0)
	coord := newFakeCoordinator(1024)
	f, _ := newTestFile(t, remote, cfg, coord, nil)

	buf := make([]byte, len(remote))
	if _, err := f.Read(buf, 0); err != nil {
		t.Fatalf("first Read() error = %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cfi.IsComplete()
	})

	buf2 := make([]byte, len(remote))
	n, err := f.Read(buf2, 0)
	if err != nil {
		t.Fatalf("second Read() error = %v", err)
	}
	if n != len(remote) || !bytes.Equal(buf2, remote) {
		t.Fatalf("second Read() = %v (n=%d), want %v", buf2, n, remote)
	}

	f.mu.Lock()
	bytesDisk := f.bytesDisk
	f.mu.Unlock()
	if bytesDisk != int64(len(remote)) {
		t.Fatalf("bytesDisk = %d, want %d (second read should be an all-disk hit)", bytesDisk, len(remote))
	}
}

func TestReadFallsBackToDirectWhenRAMBudgetExhausted(t *testing.T) {
	t.Parallel()

	remote := bytes.Repeat([]byte{0x7A}, 16)
	cfg := testConfig(t, 4, 0)
	coord := newFakeCoordinator(0) // no RAM budget at all
	f, backend := newTestFile(t, remote, cfg, coord, nil)

	buf := make([]byte, len(remote))
	n, err := f.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != len(remote) || !bytes.Equal(buf, remote) {
		t.Fatalf("Read() = %v (n=%d), want %v", buf, n, remote)
	}

	// Nothing should have been written to the data file: every block
	// went straight through as a direct read, never entering the map.
	if got := backend.get("data/f1").bytes(); len(got) != 0 {
		t.Fatalf("data file = %v, want empty (RAM budget exhausted, no blocks admitted)", got)
	}
	f.mu.Lock()
	nBlocks := len(f.blocks)
	f.mu.Unlock()
	if nBlocks != 0 {
		t.Fatalf("blocks map has %d entries, want 0", nBlocks)
	}
}

func TestReadPropagatesOriginFailure(t *testing.T) {
	t.Parallel()

	remote := bytes.Repeat([]byte{0x00}, 16)
	cfg := testConfig(t, 4, 0)
	coord := newFakeCoordinator(1024)
	failAt := map[int64]bool{4: true} // second block fails
	f, _ := newTestFile(t, remote, cfg, coord, failAt)

	buf := make([]byte, len(remote))
	_, err := f.Read(buf, 0)
	if err == nil {
		t.Fatalf("Read() error = nil, want failure from injected origin error")
	}

	// Every reference this call took must still have been released.
	f.mu.Lock()
	defer f.mu.Unlock()
	for idx, b := range f.blocks {
		if b.RefCount() != 0 {
			t.Errorf("block %d ref-count = %d after failed Read, want 0", idx, b.RefCount())
		}
	}
}

func TestCloseFreesUnreferencedBlocksAndDeregistersPrefetch(t *testing.T) {
	t.Parallel()

	remote := bytes.Repeat([]byte{0x5C}, 16)
	cfg := testConfig(t, 4, 8)
	coord := newFakeCoordinator(1024)
	f, _ := newTestFile(t, remote, cfg, coord, nil)

	buf := make([]byte, len(remote))
	if _, err := f.Read(buf, 0); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cfi.IsComplete()
	})

	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if coord.isRegistered(f) {
		t.Fatalf("file still registered for prefetch after Close")
	}
	f.mu.Lock()
	nBlocks := len(f.blocks)
	f.mu.Unlock()
	if nBlocks != 0 {
		t.Fatalf("blocks map has %d entries after Close, want 0", nBlocks)
	}
}

func TestPrefetchAdvancesUntilComplete(t *testing.T) {
	t.Parallel()

	remote := bytes.Repeat([]byte{0x99}, 20) // 5 blocks of 4 bytes
	cfg := testConfig(t, 4, 8)
	coord := newFakeCoordinator(1024)
	f, _ := newTestFile(t, remote, cfg, coord, nil)

	for i := 0; i < 5; i++ {
		f.Prefetch()
	}

	waitUntil(t, time.Second, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cfi.IsComplete()
	})
	// One more tick, exactly as the coordinator's periodic scan would
	// eventually deliver, is what actually flips the state to Complete.
	f.Prefetch()

	f.mu.Lock()
	state := f.prefetchState
	nBlocks := len(f.blocks)
	f.mu.Unlock()
	if state != PrefetchComplete {
		t.Fatalf("prefetchState = %v, want Complete", state)
	}
	if nBlocks != 0 {
		t.Fatalf("blocks map has %d entries once complete, want 0 (each freed after write-back)", nBlocks)
	}
	if coord.isRegistered(f) {
		t.Fatalf("file still registered for prefetch once complete")
	}
}
