package scheduler

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"
)

// reuseEntry is one node of the prefix trie. Because the key under which
// it is stored already chains the hash of every preceding chunk (see
// chainHash), the hash itself encodes the trie path: there is no separate
// parent/children pointer structure to maintain.
type reuseEntry struct {
	hash       uint64
	blockID    int
	tokenCount int
}

// ReuseIndex is the content-addressed prefix cache described in spec.md
// §4.2. It maps chained hashes of block_token_count-sized token chunks to
// the block id holding that chunk, and keeps an LRU order over those
// mappings so BlockPool exhaustion can evict the least-recently-touched
// entry that is not also held by a live stream.
//
// The LRU bookkeeping mirrors zetxqx-llm-d-kv-cache-manager's
// pkg/kvcache/kvblock/in_memory.go, which layers the same hashicorp/lru
// cache over a content-addressed block index.
type ReuseIndex struct {
	pool  *BlockPool
	cache *lru.Cache[uint64, *reuseEntry]
}

// NewReuseIndex creates an index bounded by capacity entries. capacity
// should be the pool's total block count: the index can never hold more
// distinct entries than there are blocks, so this bound is never reached
// through normal Add traffic — eviction is always driven explicitly via
// EvictOne, never by the LRU cache silently dropping an entry on Add.
func NewReuseIndex(pool *BlockPool, capacity int) *ReuseIndex {
	if capacity < 1 {
		capacity = 1
	}
	cache, err := lru.New[uint64, *reuseEntry](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which is excluded above.
		panic(err)
	}
	return &ReuseIndex{pool: pool, cache: cache}
}

// chainHash computes the hash of a token chunk, chained onto the hash of
// everything before it. prefixHash == 0 marks the start of a chain.
// Ported verbatim from the teacher's BlockManager.ComputeHash.
func chainHash(prefixHash uint64, tokens []int) uint64 {
	h := xxhash.New()
	if prefixHash != 0 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], prefixHash)
		h.Write(buf[:])
	}
	buf4 := make([]byte, 4)
	for _, tok := range tokens {
		binary.LittleEndian.PutUint32(buf4, uint32(tok))
		h.Write(buf4)
	}
	return h.Sum64()
}

// TryReuse walks tokens in full blockTokenCount-sized chunks and returns
// the block ids backing the longest matching resident prefix, along with
// the number of tokens those blocks cover. Every returned block id has
// already had its reference count incremented on behalf of the caller.
func (r *ReuseIndex) TryReuse(tokens []int, blockTokenCount int) ([]int, int) {
	if blockTokenCount <= 0 || len(tokens) < blockTokenCount {
		return nil, 0
	}
	var blockIDs []int
	var prefixHash uint64
	matched := 0
	numChunks := len(tokens) / blockTokenCount
	for i := 0; i < numChunks; i++ {
		chunk := tokens[i*blockTokenCount : (i+1)*blockTokenCount]
		h := chainHash(prefixHash, chunk)
		entry, ok := r.cache.Get(h) // Get also promotes h to most-recently-used.
		if !ok {
			break
		}
		r.pool.IncRef(entry.blockID)
		blockIDs = append(blockIDs, entry.blockID)
		matched += blockTokenCount
		prefixHash = h
	}
	return blockIDs, matched
}

// Publish registers one full chunk as backed by blockID, chained onto
// prefixHash. It returns the new chain hash (to thread into the next
// call) and whether the block was retained by the index. When the hash
// was already resident — two streams finishing with an identical prefix —
// the existing entry wins and the caller's block is not retained; the
// caller is responsible for freeing it instead.
func (r *ReuseIndex) Publish(prefixHash uint64, chunk []int, blockID int) (newHash uint64, retained bool) {
	h := chainHash(prefixHash, chunk)
	if _, ok := r.cache.Get(h); ok {
		return h, false
	}
	r.cache.Add(h, &reuseEntry{hash: h, blockID: blockID, tokenCount: len(chunk)})
	klog.V(4).InfoS("reuse index published block", "blockID", blockID, "hash", h)
	return h, true
}

// EvictOne unpins the least-recently-used entry whose block is not
// currently held by any stream beyond the index's own pin (RefCount==1),
// decrementing that block's reference count and returning it to the
// BlockPool's free list. It never touches a block with RefCount > 1,
// since that block is also actively held by a running stream. Returns
// false if no eligible entry exists.
func (r *ReuseIndex) EvictOne() bool {
	for _, h := range r.cache.Keys() {
		entry, ok := r.cache.Peek(h)
		if !ok {
			continue
		}
		if r.pool.RefCount(entry.blockID) != 1 {
			continue
		}
		r.cache.Remove(h)
		r.pool.Free(entry.blockID)
		klog.V(4).InfoS("reuse index evicted block", "blockID", entry.blockID, "hash", h)
		return true
	}
	return false
}

// Len reports the number of resident entries, for observability/tests.
func (r *ReuseIndex) Len() int {
	return r.cache.Len()
}
