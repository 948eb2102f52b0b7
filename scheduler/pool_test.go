package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsEveryJob(t *testing.T) {
	t.Parallel()

	p := NewPool(4, 16)
	defer p.Close()

	var ran atomic.Int64
	const n = 50
	for i := 0; i < n; i++ {
		p.Schedule(JobFunc(func() { ran.Add(1) }))
	}
	p.Close()
	if got := ran.Load(); got != n {
		t.Fatalf("ran %d jobs, want %d", got, n)
	}
}

func TestPoolJobPanicDoesNotKillWorker(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 4)
	defer p.Close()

	done := make(chan struct{})
	p.Schedule(JobFunc(func() { panic("boom") }))
	p.Schedule(JobFunc(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process job after a prior job panicked")
	}
}
