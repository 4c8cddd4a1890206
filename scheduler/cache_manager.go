package scheduler

import "k8s.io/klog/v2"

// CacheManager bridges the BlockPool/ReuseIndex pair and the per-stream
// block accounting described in spec.md §4.3. It is the only thing that
// mutates a GenerateStream's Blocks field.
type CacheManager struct {
	pool            *BlockPool
	reuse           *ReuseIndex
	blockTokenCount int
}

// NewCacheManager wires a BlockPool and a ReuseIndex of the given
// capacity together.
func NewCacheManager(blockCount, blockTokenCount, reuseCapacity int) *CacheManager {
	pool := NewBlockPool(blockCount)
	return &CacheManager{
		pool:            pool,
		reuse:           NewReuseIndex(pool, reuseCapacity),
		blockTokenCount: blockTokenCount,
	}
}

// FreeBlockNums exposes the pool's free list length for observability.
func (m *CacheManager) FreeBlockNums() int { return m.pool.FreeBlockNums() }

// UsableCapacity exposes the pool's non-sentinel capacity.
func (m *CacheManager) UsableCapacity() int { return m.pool.UsableCapacity() }

// evictAndMalloc allocates k blocks, asking the reuse index to evict its
// least-recently-used unreferenced entry as many times as needed to make
// room. It is atomic from the caller's point of view: on failure nothing
// is mutated beyond reuse-index evictions already performed (which only
// ever free capacity, never consume it).
func (m *CacheManager) evictAndMalloc(k int) ([]int, error) {
	for {
		ids, err := m.pool.Malloc(k)
		if err == nil {
			return ids, nil
		}
		if !m.reuse.EvictOne() {
			return nil, ErrOutOfMemory
		}
	}
}

// GrowStreamByOne allocates one more block and appends it to the
// stream's block list. The caller is responsible for only invoking this
// when the stream has actually crossed a block boundary.
func (m *CacheManager) GrowStreamByOne(s *GenerateStream) error {
	ids, err := m.evictAndMalloc(1)
	if err != nil {
		return err
	}
	s.Blocks = append(s.Blocks, ids[0])
	return nil
}

// NeedsGrowth reports whether s has just crossed into a new block and
// therefore needs one more block before the executor can write into it,
// per spec.md §4.3's block boundary rule.
func (m *CacheManager) NeedsGrowth(s *GenerateStream) bool {
	if s.SeqLength <= len(s.InputTokens) {
		// Still within, or exactly at the end of, the initial prefill
		// allocation; growth is only a decode-phase concern.
		return false
	}
	return (s.SeqLength-1)%m.blockTokenCount == 0
}

// ReleaseStream hands back every block a stream holds. If publish is
// true and the stream finished cleanly with reuse enabled, full
// block_token_count-sized chunks are published into the reuse index
// instead of being freed outright; the trailing partial block is always
// freed. publish should be false for a preemption or a cancellation,
// where there is nothing useful to index.
func (m *CacheManager) ReleaseStream(s *GenerateStream, publish bool) {
	if publish && s.ReuseCacheEnabled {
		m.publishBlocks(s)
	} else {
		for _, id := range s.Blocks {
			m.pool.Free(id)
		}
	}
	s.Blocks = nil
}

// ReleaseLastBlock frees the single most-recently-allocated block a
// stream holds, without publishing it to the reuse index. It is used
// when a stream is stopped mid-grow: the block it could not extend past
// is given back immediately, while the rest of its cache is reclaimed
// by the scheduler's reap pass on the following tick.
func (m *CacheManager) ReleaseLastBlock(s *GenerateStream) {
	if len(s.Blocks) == 0 {
		return
	}
	last := len(s.Blocks) - 1
	m.pool.Free(s.Blocks[last])
	s.Blocks = s.Blocks[:last]
}

func (m *CacheManager) publishBlocks(s *GenerateStream) {
	fullChunks := len(s.Tokens) / m.blockTokenCount
	var prefixHash uint64
	for i := 0; i < len(s.Blocks); i++ {
		if i >= fullChunks {
			// Trailing partial block: never published.
			m.pool.Free(s.Blocks[i])
			continue
		}
		chunk := s.Tokens[i*m.blockTokenCount : (i+1)*m.blockTokenCount]
		h, retained := m.reuse.Publish(prefixHash, chunk, s.Blocks[i])
		prefixHash = h
		if !retained {
			// An identical prefix was already resident; our copy is
			// redundant.
			m.pool.Free(s.Blocks[i])
		}
	}
}

// Preempt releases a running stream's cache without publishing it to the
// reuse index (the stream isn't finished, so there's nothing to index)
// and resets it to WAITING.
func (m *CacheManager) Preempt(s *GenerateStream) {
	m.ReleaseStream(s, false)
	s.Phase = Waiting
	klog.V(2).InfoS("stream preempted", "stream", s.ID())
}

// Admit checks feasibility under the inflight reservation, evicting
// reuse-index entries that no stream holds while the free list is short,
// and, if feasible, allocates. It returns impossible=true when the stream could
// never fit even with the pool entirely free, which the scheduler uses
// to decide between "stop outright" and "leave at head of waiting."
func (m *CacheManager) Admit(s *GenerateStream, reserve int) (ok bool, impossible bool, err error) {
	required := ceilDiv(s.SeqLength, m.blockTokenCount)
	if required > m.pool.UsableCapacity() {
		return false, true, nil
	}

	var reused []int
	if s.ReuseCacheEnabled {
		reused, _ = m.reuse.TryReuse(s.Tokens, m.blockTokenCount)
	}
	need := required - len(reused)
	if need < 0 {
		need = 0
	}

	// Reclaim reuse-index blocks that no stream holds before deciding the
	// stream does not fit.
	for need > m.pool.FreeBlockNums()-reserve && m.reuse.EvictOne() {
	}

	if need > m.pool.FreeBlockNums()-reserve {
		for _, id := range reused {
			m.pool.Free(id)
		}
		return false, false, nil
	}

	fresh, merr := m.evictAndMalloc(need)
	if merr != nil {
		for _, id := range reused {
			m.pool.Free(id)
		}
		return false, false, merr
	}

	blocks := make([]int, 0, required)
	blocks = append(blocks, reused...)
	blocks = append(blocks, fresh...)
	s.Blocks = blocks
	s.NumCachedTokens = len(reused) * m.blockTokenCount
	s.Phase = Prefill
	klog.V(2).InfoS("stream admitted", "stream", s.ID(), "blocks", len(blocks), "reusedBlocks", len(reused))
	return true, false, nil
}
