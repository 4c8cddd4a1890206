package scheduler

import "testing"

func TestCreateCacheConfigDerivesBlockCount(t *testing.T) {
	cfg, err := CreateCacheConfig(CacheConfigParams{
		NumLayers:         2,
		NumKVHeads:        4,
		HeadSize:          64,
		DtypeBytes:        2,
		BlockTokenCount:   16,
		DeviceFreeBytes:   1 << 20,
		TargetUtilization: 0.9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantBlockSize := int64(2 * 2 * 4 * 64 * 16 * 2)
	if cfg.BlockSizeBytes != wantBlockSize {
		t.Errorf("expected block size %d, got %d", wantBlockSize, cfg.BlockSizeBytes)
	}
	if cfg.BlockCount < minViableBlocks {
		t.Errorf("expected a viable block count, got %d", cfg.BlockCount)
	}
}

func TestCreateCacheConfigRejectsTooSmallBudget(t *testing.T) {
	_, err := CreateCacheConfig(CacheConfigParams{
		NumLayers:       32,
		NumKVHeads:      8,
		HeadSize:        128,
		DtypeBytes:      2,
		BlockTokenCount: 256,
		DeviceFreeBytes: 1024,
	})
	if err == nil {
		t.Fatalf("expected an error for a budget too small to fit minViableBlocks")
	}
}

func TestCreateCacheConfigRejectsBadShape(t *testing.T) {
	_, err := CreateCacheConfig(CacheConfigParams{NumLayers: 0})
	if err == nil {
		t.Fatalf("expected an error for a non-positive shape parameter")
	}
}
