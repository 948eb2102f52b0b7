package engine

import "github.com/meigma/blockcache/block"

// Coordinator is the subset of the process-wide budget and prefetch
// registry that a File needs. It is defined here, not in package
// coordinator, so that package coordinator can depend on package engine
// (it holds *File values and drives their Prefetch tick) without a cycle;
// the concrete coordinator.Coordinator satisfies this interface
// structurally.
type Coordinator interface {
	// RequestRAMBlock asks for one RAM-block permit. false means the
	// budget is exhausted; the caller must fall back to a direct,
	// block-map-bypassing read instead of creating a Block.
	RequestRAMBlock() bool

	// ReleaseRAMBlock returns a previously granted RAM-block permit.
	ReleaseRAMBlock()

	// AddWriteTask enqueues b for asynchronous write-back, subject to the
	// coordinator's own writing-slot budget. The coordinator eventually
	// calls f.WriteBlockToDisk(b); if the task is discarded instead of
	// run (e.g. the coordinator is draining its queue), it must call
	// f.BlockRemovedFromWriteQ(b) instead.
	AddWriteTask(f *File, b *block.Block)

	// RegisterPrefetchFile adds f to the pool of files the coordinator's
	// prefetch tick may choose to advance.
	RegisterPrefetchFile(f *File)

	// DeregisterPrefetchFile removes f from that pool. A no-op if f is
	// not currently registered.
	DeregisterPrefetchFile(f *File)
}
