// Package config holds the configuration consumed by the cache engine and
// coordinator, assembled through functional options.
package config

import "fmt"

// Defaults for tunables left unset by the caller.
const (
	// DefaultSyncThreshold is the number of accumulated write-backs (T) that
	// triggers a disk sync job.
	DefaultSyncThreshold = 100

	// DefaultWriteRetryLimit is the number of short-write/EINTR retries a
	// write-back attempts before giving up silently.
	DefaultWriteRetryLimit = 10

	// DefaultBufferSize is used when a Config is built without WithBufferSize.
	DefaultBufferSize = 1 << 20 // 1 MiB
)

// Config carries every tunable the cache engine and coordinator read.
type Config struct {
	// BufferSize is the size in bytes of one block (the last block of a
	// file may be shorter).
	BufferSize int64

	// PrefetchMaxBlocks bounds how many blocks of a single file may be
	// resident in RAM before prefetch holds off. Zero disables prefetch.
	PrefetchMaxBlocks int

	// Username is the identity to tag file creation with. Nothing in this
	// module reads it; it is neither logged nor exported as a metric.
	Username string

	// RAMBlockBudget is the process-wide number of in-memory blocks the
	// coordinator will admit across all open files.
	RAMBlockBudget int

	// WritingSlotsMax is the process-wide number of blocks that may be
	// queued for write-back at once.
	WritingSlotsMax int

	// SyncThreshold is the number of write-backs that must accumulate
	// before a sync job is scheduled.
	SyncThreshold int

	// WriteRetryLimit bounds write-back retries on short writes/EINTR.
	WriteRetryLimit int
}

// Option configures a Config.
type Option func(*Config)

// WithBufferSize sets the block size in bytes.
func WithBufferSize(n int64) Option {
	return func(c *Config) { c.BufferSize = n }
}

// WithPrefetchMaxBlocks sets the per-file RAM block ceiling that gates
// prefetch. Zero disables prefetch.
func WithPrefetchMaxBlocks(n int) Option {
	return func(c *Config) { c.PrefetchMaxBlocks = n }
}

// WithUsername tags file creation with the given identity.
func WithUsername(u string) Option {
	return func(c *Config) { c.Username = u }
}

// WithRAMBlockBudget sets the process-wide RAM block budget.
func WithRAMBlockBudget(n int) Option {
	return func(c *Config) { c.RAMBlockBudget = n }
}

// WithWritingSlotsMax sets the process-wide pending write-back capacity.
func WithWritingSlotsMax(n int) Option {
	return func(c *Config) { c.WritingSlotsMax = n }
}

// WithSyncThreshold overrides the default sync threshold T.
func WithSyncThreshold(n int) Option {
	return func(c *Config) { c.SyncThreshold = n }
}

// WithWriteRetryLimit overrides the default write-back retry limit.
func WithWriteRetryLimit(n int) Option {
	return func(c *Config) { c.WriteRetryLimit = n }
}

// New builds a Config from defaults plus opts, and validates it.
func New(opts ...Option) (*Config, error) {
	c := &Config{
		BufferSize:      DefaultBufferSize,
		RAMBlockBudget:  1024,
		WritingSlotsMax: 256,
		SyncThreshold:   DefaultSyncThreshold,
		WriteRetryLimit: DefaultWriteRetryLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the invariants required of each field.
func (c *Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("config: buffer size must be > 0, got %d", c.BufferSize)
	}
	if c.PrefetchMaxBlocks < 0 {
		return fmt.Errorf("config: prefetch max blocks must be >= 0, got %d", c.PrefetchMaxBlocks)
	}
	if c.RAMBlockBudget <= 0 {
		return fmt.Errorf("config: ram budget blocks must be > 0, got %d", c.RAMBlockBudget)
	}
	if c.WritingSlotsMax <= 0 {
		return fmt.Errorf("config: writing slots max must be > 0, got %d", c.WritingSlotsMax)
	}
	if c.SyncThreshold <= 0 {
		return fmt.Errorf("config: sync threshold must be > 0, got %d", c.SyncThreshold)
	}
	if c.WriteRetryLimit <= 0 {
		return fmt.Errorf("config: write retry limit must be > 0, got %d", c.WriteRetryLimit)
	}
	return nil
}

// PrefetchEnabled reports whether PrefetchMaxBlocks allows speculative
// fetches at all.
func (c *Config) PrefetchEnabled() bool {
	return c.PrefetchMaxBlocks > 0
}
