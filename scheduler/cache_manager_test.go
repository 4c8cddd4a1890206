package scheduler

import "testing"

func newTestStream(tokens []int, reuse bool) *GenerateStream {
	return NewGenerateStream(GenerateInput{InputTokens: tokens, ReuseCacheEnabled: reuse}, 4096)
}

func TestCacheManagerAdmitFitsAndReservesSpace(t *testing.T) {
	cm := NewCacheManager(4, 8, 4)
	st := newTestStream([]int{1}, false)

	ok, impossible, err := cm.Admit(st, 0)
	if err != nil || impossible || !ok {
		t.Fatalf("expected admission to succeed, got ok=%v impossible=%v err=%v", ok, impossible, err)
	}
	if len(st.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(st.Blocks))
	}
	if cm.FreeBlockNums() != 2 {
		t.Errorf("expected 2 free blocks remaining, got %d", cm.FreeBlockNums())
	}
}

func TestCacheManagerAdmitImpossibleWhenPoolTooSmall(t *testing.T) {
	cm := NewCacheManager(2, 2, 2)
	st := newTestStream([]int{1, 2, 3}, false)

	ok, impossible, err := cm.Admit(st, 0)
	if err != nil || ok || !impossible {
		t.Fatalf("expected impossible admission, got ok=%v impossible=%v err=%v", ok, impossible, err)
	}
	if cm.FreeBlockNums() != 1 {
		t.Errorf("a failed admission must not mutate the free list, got %d", cm.FreeBlockNums())
	}
}

func TestCacheManagerAdmitRespectsReserve(t *testing.T) {
	cm := NewCacheManager(5, 2, 5)
	st := newTestStream([]int{1, 2, 3, 4}, false)

	// 2 required, 4 free, but a reserve of 3 leaves only 1 available.
	ok, impossible, err := cm.Admit(st, 3)
	if err != nil || impossible || ok {
		t.Fatalf("expected reserve to block admission, got ok=%v impossible=%v err=%v", ok, impossible, err)
	}
	if cm.FreeBlockNums() != 4 {
		t.Errorf("a reserve-blocked admission must not mutate the free list, got %d", cm.FreeBlockNums())
	}
}

func TestCacheManagerGrowStreamByOne(t *testing.T) {
	cm := NewCacheManager(3, 2, 3)
	st := newTestStream([]int{1, 2, 3, 4}, false)
	if ok, _, err := cm.Admit(st, 0); err != nil || !ok {
		t.Fatalf("admission failed: %v", err)
	}

	st.AppendToken(5)
	if !cm.NeedsGrowth(st) {
		t.Fatalf("expected growth to be needed after crossing a block boundary")
	}

	if err := cm.GrowStreamByOne(st); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory with an exhausted pool, got %v", err)
	}
}

func TestCacheManagerNeedsGrowthWithUnitBlockTokenCount(t *testing.T) {
	cm := NewCacheManager(5, 1, 5)
	st := newTestStream([]int{1, 2}, false)
	if ok, _, err := cm.Admit(st, 0); err != nil || !ok {
		t.Fatalf("admission failed: %v", err)
	}
	if len(st.Blocks) != 2 {
		t.Fatalf("expected 2 blocks after admission, got %d", len(st.Blocks))
	}

	st.AppendToken(3)
	if !cm.NeedsGrowth(st) {
		t.Fatalf("expected growth to be needed on every appended token when block_token_count is 1")
	}
	if err := cm.GrowStreamByOne(st); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if len(st.Blocks) != 3 {
		t.Fatalf("expected 3 blocks after growth, got %d", len(st.Blocks))
	}
}

func TestCacheManagerReleaseStreamWithoutPublish(t *testing.T) {
	cm := NewCacheManager(4, 8, 4)
	st := newTestStream([]int{1}, true)
	cm.Admit(st, 0)

	cm.ReleaseStream(st, false)
	if len(st.Blocks) != 0 {
		t.Errorf("expected stream to hold no blocks after release")
	}
	if cm.FreeBlockNums() != 3 {
		t.Errorf("expected all blocks returned to the free list, got %d free", cm.FreeBlockNums())
	}
	if cm.reuse.Len() != 0 {
		t.Errorf("a release without publish must not populate the reuse index")
	}
}
