package scheduler

import "fmt"

// Config holds the static configuration for a FIFOScheduler and its
// CacheManager, following the functional-options pattern of the
// teacher's nanovllm.Config.
type Config struct {
	BlockCount      int
	BlockTokenCount int
	MaxSeqLen       int
	MaxNumSeqs      int

	EnableFallback  bool
	MaxPreemptCount int

	// InflightReserveBlocks is how many free blocks must be held back
	// per currently running stream before a new stream may be admitted,
	// per spec.md §4.4.2 / §9's "expose it as a tuning parameter" note.
	InflightReserveBlocks int

	ReuseIndexCapacity int
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// NewConfig creates a Config with sane defaults and applies opts,
// panicking on a statically invalid configuration exactly as the
// teacher's NewConfig does.
func NewConfig(blockCount, blockTokenCount int, opts ...ConfigOption) *Config {
	c := &Config{
		BlockCount:            blockCount,
		BlockTokenCount:       blockTokenCount,
		MaxSeqLen:             4096,
		MaxNumSeqs:            256,
		EnableFallback:        true,
		MaxPreemptCount:       8,
		InflightReserveBlocks: 1,
		ReuseIndexCapacity:    blockCount,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		panic(err)
	}

	return c
}

func (c *Config) validate() error {
	if c.BlockTokenCount < 1 {
		return fmt.Errorf("block_token_count must be >= 1")
	}
	if c.BlockCount < 2 {
		return fmt.Errorf("block_count must be >= 2 (1 usable block plus sentinel)")
	}
	if c.MaxSeqLen < 1 {
		return fmt.Errorf("max_seq_len must be >= 1")
	}
	if c.MaxNumSeqs < 1 {
		return fmt.Errorf("max_num_seqs must be >= 1")
	}
	if c.InflightReserveBlocks < 0 {
		return fmt.Errorf("inflight_reserve_blocks must be >= 0")
	}
	if c.MaxPreemptCount < 0 {
		return fmt.Errorf("max_preempt_count must be >= 0")
	}
	return nil
}

// WithMaxSeqLen sets the per-stream hard length bound.
func WithMaxSeqLen(n int) ConfigOption {
	return func(c *Config) { c.MaxSeqLen = n }
}

// WithMaxNumSeqs bounds how many streams may run concurrently.
func WithMaxNumSeqs(n int) ConfigOption {
	return func(c *Config) { c.MaxNumSeqs = n }
}

// WithEnableFallback toggles whether running streams may be preempted to
// make room, per spec.md §4.4.3.
func WithEnableFallback(b bool) ConfigOption {
	return func(c *Config) { c.EnableFallback = b }
}

// WithMaxPreemptCount bounds how many times a single stream may be
// preempted before it is stopped outright.
func WithMaxPreemptCount(n int) ConfigOption {
	return func(c *Config) { c.MaxPreemptCount = n }
}

// WithInflightReserveBlocks sets the per-running-stream headroom reserved
// during admission.
func WithInflightReserveBlocks(n int) ConfigOption {
	return func(c *Config) { c.InflightReserveBlocks = n }
}

// WithReuseIndexCapacity overrides the reuse index's entry capacity; it
// defaults to BlockCount.
func WithReuseIndexCapacity(n int) ConfigOption {
	return func(c *Config) { c.ReuseIndexCapacity = n }
}
