package scheduler

import "testing"

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig(16, 8)
	if !c.EnableFallback {
		t.Errorf("expected fallback enabled by default")
	}
	if c.InflightReserveBlocks != 1 {
		t.Errorf("expected default inflight reserve of 1, got %d", c.InflightReserveBlocks)
	}
	if c.ReuseIndexCapacity != 16 {
		t.Errorf("expected reuse index capacity to default to block count, got %d", c.ReuseIndexCapacity)
	}
}

func TestNewConfigPanicsOnTooFewBlocks(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for block_count < 2")
		}
	}()
	NewConfig(1, 8)
}

func TestWithOptionsOverrideDefaults(t *testing.T) {
	c := NewConfig(16, 8, WithEnableFallback(false), WithMaxPreemptCount(3), WithInflightReserveBlocks(2))
	if c.EnableFallback {
		t.Errorf("expected fallback disabled")
	}
	if c.MaxPreemptCount != 3 {
		t.Errorf("expected max preempt count 3, got %d", c.MaxPreemptCount)
	}
	if c.InflightReserveBlocks != 2 {
		t.Errorf("expected inflight reserve 2, got %d", c.InflightReserveBlocks)
	}
}
