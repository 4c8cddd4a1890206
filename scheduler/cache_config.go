package scheduler

import "fmt"

// minViableBlocks is the smallest block count this package will derive:
// one sentinel plus at least one usable block.
const minViableBlocks = 2

// CacheConfigParams are the model-shape and device inputs to
// CreateCacheConfig, mirroring the constructor arguments exercised by
// original_source/maga_transformer/cpp/schedulers/test/FIFOSchedulerTest.cc
// and the two-stage derivation in
// original_source/maga_transformer/cpp/cache/CacheConfigCreator.h.
type CacheConfigParams struct {
	NumLayers       int
	NumKVHeads      int
	HeadSize        int
	DtypeBytes      int
	BlockTokenCount int
	MaxSeqLen       int
	DeviceFreeBytes int64
	// TargetUtilization is the fraction of DeviceFreeBytes the cache is
	// allowed to claim. Zero defaults to 0.9.
	TargetUtilization float64
}

// CacheConfig is the output of CreateCacheConfig: enough to construct a
// BlockPool and to size per-block KV storage on the executor side.
type CacheConfig struct {
	BlockCount      int
	BlockTokenCount int
	NumLayers       int
	NumKVHeads      int
	HeadSize        int
	DtypeBytes      int
	BlockSizeBytes  int64
}

// CreateCacheConfig is a pure function deriving a CacheConfig from model
// shape and device memory, in two stages: first it computes the fixed
// per-block byte size implied by the model's shape (createBasicConfig in
// the original), then it divides the memory budget by that size to get a
// block count (getKVCacheMemorySize in the original). It holds no state
// and performs no I/O.
func CreateCacheConfig(p CacheConfigParams) (CacheConfig, error) {
	if p.NumLayers <= 0 || p.NumKVHeads <= 0 || p.HeadSize <= 0 || p.DtypeBytes <= 0 || p.BlockTokenCount <= 0 {
		return CacheConfig{}, fmt.Errorf("cacheconfig: all shape parameters must be positive")
	}
	util := p.TargetUtilization
	if util <= 0 {
		util = 0.9
	}

	// Stage 1: basic config — fixed per-block byte size from model shape.
	blockSizeBytes := int64(2*p.NumLayers*p.NumKVHeads*p.HeadSize*p.BlockTokenCount) * int64(p.DtypeBytes)
	if blockSizeBytes <= 0 {
		return CacheConfig{}, fmt.Errorf("cacheconfig: derived block size is non-positive")
	}

	// Stage 2: KV-cache memory sizing — budget divided by per-block size.
	budget := int64(float64(p.DeviceFreeBytes) * util)
	blockCount := int(budget / blockSizeBytes)

	if blockCount < minViableBlocks {
		return CacheConfig{}, fmt.Errorf("cacheconfig: derived block count %d below minimum viable %d", blockCount, minViableBlocks)
	}

	return CacheConfig{
		BlockCount:      blockCount,
		BlockTokenCount: p.BlockTokenCount,
		NumLayers:       p.NumLayers,
		NumKVHeads:      p.NumKVHeads,
		HeadSize:        p.HeadSize,
		DtypeBytes:      p.DtypeBytes,
		BlockSizeBytes:  blockSizeBytes,
	}, nil
}
