// Package blockcache implements a read-through, on-disk block cache for a
// remote file-access protocol.
//
// A client opens a remote file through [engine.File]. Reads are served from
// local disk when a block has already been written back, from an in-memory
// [block.Block] while a fetch from the origin is in flight, or forwarded
// directly to the origin when the process-wide RAM budget has no room. The
// cache prefetches unread blocks in the background and persists both block
// data and a side-car [cinfo.CInfo] file recording which blocks are present
// and aggregate I/O statistics.
//
// # Packages
//
//   - [github.com/meigma/blockcache/block] — the Block type and its
//     ref-counted handle.
//   - [github.com/meigma/blockcache/cinfo] — the on-disk .cinfo side-car
//     format.
//   - [github.com/meigma/blockcache/origin] — external collaborator
//     interfaces (asynchronous origin reads, disk I/O, job scheduling) plus
//     the two response-handler shapes.
//   - [github.com/meigma/blockcache/scheduler] — a bounded worker-pool
//     Scheduler.
//   - [github.com/meigma/blockcache/engine] — the per-file controller:
//     block map, fetch coalescing, write-back, prefetch, sync.
//   - [github.com/meigma/blockcache/coordinator] — the process-wide RAM and
//     writing-slot admission gate, prefetch registration, and metrics.
//   - [github.com/meigma/blockcache/config] — configuration consumed by the
//     above, assembled with functional options.
//   - [github.com/meigma/blockcache/originimpl] — concrete origin
//     implementations (S3, OCI registry) for production use.
package blockcache
