package scheduler

// Block is a fixed-size KV-cache slab. The pool tracks only identity and
// reference count here; token content and prefix hashing belong to
// ReuseIndex, which is the only thing that gives a block meaning beyond
// "a slot some stream currently owns."
type Block struct {
	ID       int
	RefCount int
}

// BlockPool owns a fixed array of block slots plus a free list. Block id 0
// is reserved as a sentinel / alignment block and is never handed out: a
// pool configured with N blocks reports freeBlockNums() == N-1 from the
// moment it is constructed.
//
// BlockPool is accessed only from the scheduler's single control thread;
// it carries no locks (see spec.md §5).
type BlockPool struct {
	blocks   []Block
	freeList []int
}

// NewBlockPool creates a pool of n blocks, one of which (id 0) is reserved
// as the sentinel and never appears in the free list.
func NewBlockPool(n int) *BlockPool {
	if n < 1 {
		n = 1
	}
	blocks := make([]Block, n)
	for i := range blocks {
		blocks[i] = Block{ID: i}
	}
	freeList := make([]int, 0, n-1)
	for i := 1; i < n; i++ {
		freeList = append(freeList, i)
	}
	return &BlockPool{blocks: blocks, freeList: freeList}
}

// Capacity returns the total number of blocks, including the sentinel.
func (p *BlockPool) Capacity() int {
	return len(p.blocks)
}

// UsableCapacity returns the number of blocks that can ever be handed out
// (total minus the sentinel).
func (p *BlockPool) UsableCapacity() int {
	return len(p.blocks) - 1
}

// FreeBlockNums returns the length of the free list.
func (p *BlockPool) FreeBlockNums() int {
	return len(p.freeList)
}

// RefCount returns the current reference count of a block.
func (p *BlockPool) RefCount(blockID int) int {
	p.checkID(blockID)
	return p.blocks[blockID].RefCount
}

// Malloc pops k blocks from the free list, each starting with RefCount 1.
// It is atomic: on OutOfMemory nothing is mutated.
func (p *BlockPool) Malloc(k int) ([]int, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(p.freeList) < k {
		return nil, ErrOutOfMemory
	}
	start := len(p.freeList) - k
	ids := make([]int, k)
	copy(ids, p.freeList[start:])
	p.freeList = p.freeList[:start]
	for _, id := range ids {
		p.checkID(id)
		if p.blocks[id].RefCount != 0 {
			panic("blockpool: malloc returned a block that is already referenced")
		}
		p.blocks[id].RefCount = 1
	}
	return ids, nil
}

// IncRef increments the reference count of a block currently held by at
// least one owner. Calling it on a free block is an invariant violation.
func (p *BlockPool) IncRef(blockID int) {
	p.checkID(blockID)
	if p.blocks[blockID].RefCount < 1 {
		panic("blockpool: incRef on a block with no owner")
	}
	p.blocks[blockID].RefCount++
}

// Free decrements a block's reference count. When it reaches zero the
// block returns to the free list. Returns true iff the block was returned
// to the free list by this call.
func (p *BlockPool) Free(blockID int) bool {
	p.checkID(blockID)
	if p.blocks[blockID].RefCount < 1 {
		panic("blockpool: free on a block with no owner")
	}
	p.blocks[blockID].RefCount--
	if p.blocks[blockID].RefCount == 0 {
		p.freeList = append(p.freeList, blockID)
		return true
	}
	return false
}

func (p *BlockPool) checkID(blockID int) {
	if blockID < 0 || blockID >= len(p.blocks) {
		panic("blockpool: block id out of range")
	}
}
