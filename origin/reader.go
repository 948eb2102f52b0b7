// Package origin declares the external collaborators kept out of the core
// cache's scope: the asynchronous remote-read interface the file
// engine drives fetches through, and the disk backend it persists blocks
// and the .cinfo side-car through. Only the interfaces used by package
// engine live here; connection management, wire marshalling, and
// authentication are the concrete Reader implementations' problem (see
// originimpl).
package origin

import (
	"sync"

	"github.com/meigma/blockcache/block"
)

// Reader performs asynchronous positioned reads against a remote file.
// Read initiates one read and returns immediately; completion is
// delivered later via handler.Done, from whatever goroutine the Reader
// chooses to run it on.
type Reader interface {
	Read(handler *Handler, buf []byte, offset, length int64)
}

// handlerKind distinguishes the two response-handler shapes, encoded as a
// closed sum type rather than separate types behind an interface: a
// single-shot completion for one block, or an aggregated wait for a
// fan-out of direct reads.
type handlerKind int

const (
	kindBlock handlerKind = iota
	kindDirect
)

// Handler is delivered to Reader.Read and completed exactly once via Done.
type Handler struct {
	kind handlerKind

	// kindBlock
	blk        *block.Block
	onBlockDone func(b *block.Block, n int, err error)

	// kindDirect
	direct *directState
}

// NewBlockHandler returns a single-shot handler that forwards completion of
// b's fetch to onDone — in the file engine, onDone is
// File.processBlockResponse.
func NewBlockHandler(b *block.Block, onDone func(b *block.Block, n int, err error)) *Handler {
	return &Handler{kind: kindBlock, blk: b, onBlockDone: onDone}
}

// NewDirectHandler returns a handler that aggregates n completions behind
// one condition variable, for a direct-bypass read spanning several
// blocks at once. The first non-zero error wins.
func NewDirectHandler(n int) *Handler {
	d := &directState{remaining: n}
	d.cond = sync.NewCond(&d.mu)
	return &Handler{kind: kindDirect, direct: d}
}

// Done completes one outstanding read against this handler. Block handlers
// self-destroy after this call (the caller drops its only reference);
// direct handlers decrement their remaining counter and broadcast once it
// reaches zero.
func (h *Handler) Done(n int, err error) {
	switch h.kind {
	case kindBlock:
		h.onBlockDone(h.blk, n, err)
	case kindDirect:
		h.direct.done(n, err)
	}
}

// Wait blocks until a direct handler's remaining counter reaches zero and
// returns the first error observed, if any. Wait panics if called on a
// block handler.
func (h *Handler) Wait() error {
	if h.kind != kindDirect {
		panic("origin: Wait called on a non-direct Handler")
	}
	return h.direct.wait()
}

type directState struct {
	mu        sync.Mutex
	cond      *sync.Cond
	remaining int
	err       error
}

func (d *directState) done(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil && d.err == nil {
		d.err = err
	}
	d.remaining--
	if d.remaining <= 0 {
		d.cond.Broadcast()
	}
}

func (d *directState) wait() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.remaining > 0 {
		d.cond.Wait()
	}
	return d.err
}
