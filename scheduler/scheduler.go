package scheduler

import (
	"container/list"

	"k8s.io/klog/v2"
)

// FIFOScheduler holds the waiting and running queues and drives the
// admit/grow/preempt/emit tick described in spec.md §4.4. It runs on a
// single control thread and carries no locks, following the teacher's
// container/list-based Scheduler.
type FIFOScheduler struct {
	cfg *Config
	cm  *CacheManager

	waiting *list.List // of *GenerateStream, front = oldest
	running *list.List // of *GenerateStream, arrival order

	// pendingRelease holds streams stopped outright for cache exhaustion
	// during growAndPreempt: one block was already freed on the spot, the
	// rest of their cache is reclaimed by reap() on the following tick.
	pendingRelease []*GenerateStream
}

// NewFIFOScheduler builds a scheduler over a fresh CacheManager sized by cfg.
func NewFIFOScheduler(cfg *Config) *FIFOScheduler {
	return &FIFOScheduler{
		cfg:     cfg,
		cm:      NewCacheManager(cfg.BlockCount, cfg.BlockTokenCount, cfg.ReuseIndexCapacity),
		waiting: list.New(),
		running: list.New(),
	}
}

// FreeBlockNums exposes the underlying pool's free list length.
func (s *FIFOScheduler) FreeBlockNums() int { return s.cm.FreeBlockNums() }

// WaitingStreamsSize is the number of streams currently queued.
func (s *FIFOScheduler) WaitingStreamsSize() int { return s.waiting.Len() }

// RunningStreamsSize is the number of streams currently admitted.
func (s *FIFOScheduler) RunningStreamsSize() int { return s.running.Len() }

// IsIdle reports whether both queues are empty.
func (s *FIFOScheduler) IsIdle() bool { return s.waiting.Len() == 0 && s.running.Len() == 0 }

// Enqueue validates and appends a stream to the back of the waiting
// queue. It never touches the cache.
func (s *FIFOScheduler) Enqueue(stream *GenerateStream) error {
	if len(stream.InputTokens) == 0 {
		return ErrEmptyPrompt
	}
	if len(stream.InputTokens) > stream.MaxSeqLen {
		return ErrPromptTooLong
	}
	s.waiting.PushBack(stream)
	return nil
}

// Schedule runs one tick: reap, grow, admit, emit, in that order, per
// spec.md §4.4.1. A FatalError indicates an internal invariant violation
// was detected mid-tick; the caller may continue calling Schedule on
// subsequent ticks since no partial mutation is left dangling (the
// panic/recover boundary below only wraps phases that could panic on a
// BlockPool invariant check, and those panics happen before any stream
// state is mutated for the offending stream).
func (s *FIFOScheduler) Schedule() (batch []*GenerateStream, err error) {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*FatalError); ok {
				err = fe
				return
			}
			if msg, ok := r.(string); ok {
				err = &FatalError{Reason: msg}
				return
			}
			panic(r)
		}
	}()

	s.reap()
	s.growAndPreempt()
	s.admit()
	return s.emit(), nil
}

// reap first finishes releasing any stream that growAndPreempt stopped
// outright last tick (it gave back one block on the spot; the rest was
// left for this moment), then drops every running stream that has
// reached a terminal phase, releasing its cache with publication to the
// reuse index (clean finish only publishes; a cancellation releases
// without publishing).
func (s *FIFOScheduler) reap() {
	for _, st := range s.pendingRelease {
		s.cm.ReleaseStream(st, false)
	}
	s.pendingRelease = s.pendingRelease[:0]

	for elem := s.running.Front(); elem != nil; {
		next := elem.Next()
		st := elem.Value.(*GenerateStream)
		if st.IsStopped() {
			st.Phase = Stopped
			if st.StopReason == "" {
				st.StopReason = "stopped by client"
			}
			s.cm.ReleaseStream(st, false)
			s.running.Remove(elem)
		} else if st.IsFinished() {
			st.Phase = Finished
			s.cm.ReleaseStream(st, true)
			s.running.Remove(elem)
		}
		elem = next
	}
}

// growAndPreempt walks the running queue in arrival order and grows any
// stream that has crossed a block boundary. On growth failure it
// preempts the youngest other running stream (excluding the stream being
// grown and anything already removed this tick) and retries; if no
// victim remains, the growing stream itself is stopped. A stream stopped
// this way gives back only one block immediately — the rest of its
// release is deferred to reap() on the next tick, matching the staged
// freeBlockNums recovery in spec.md §8 scenario 3.
func (s *FIFOScheduler) growAndPreempt() {
	snapshot := make([]*GenerateStream, 0, s.running.Len())
	for elem := s.running.Front(); elem != nil; elem = elem.Next() {
		snapshot = append(snapshot, elem.Value.(*GenerateStream))
	}

	removed := make(map[int64]bool)

	for i, st := range snapshot {
		if removed[st.ID()] {
			continue
		}
		if st.Phase == Prefill {
			st.Phase = Decode
		}
		if !s.cm.NeedsGrowth(st) {
			continue
		}

		for {
			if err := s.cm.GrowStreamByOne(st); err == nil {
				break
			}

			var victimIdx int
			if s.cfg.EnableFallback {
				victimIdx = s.findYoungestVictim(snapshot, i, removed)
			} else {
				victimIdx = -1
			}
			if victimIdx < 0 {
				klog.V(2).InfoS("stopping stream, cache exhausted", "stream", st.ID(), "fallback", s.cfg.EnableFallback)
				st.Phase = Stopped
				st.StopReason = StopReasonCacheExhausted
				s.cm.ReleaseLastBlock(st)
				s.pendingRelease = append(s.pendingRelease, st)
				removed[st.ID()] = true
				break
			}

			victim := snapshot[victimIdx]
			victim.preemptCount++
			if victim.preemptCount > s.cfg.MaxPreemptCount {
				victim.Phase = Stopped
				victim.StopReason = StopReasonCacheExhausted
				s.cm.ReleaseStream(victim, false)
			} else {
				s.cm.Preempt(victim)
				s.waiting.PushFront(victim)
			}
			removed[victim.ID()] = true
		}
	}

	rebuilt := list.New()
	for _, st := range snapshot {
		if removed[st.ID()] {
			continue
		}
		rebuilt.PushBack(st)
	}
	s.running = rebuilt
}

// findYoungestVictim scans snapshot in reverse for the last-admitted
// running stream, excluding index self and anything already removed
// this tick, per spec.md §4.4.3's youngest-first policy.
func (s *FIFOScheduler) findYoungestVictim(snapshot []*GenerateStream, self int, removed map[int64]bool) int {
	for i := len(snapshot) - 1; i >= 0; i-- {
		if i == self {
			continue
		}
		if removed[snapshot[i].ID()] {
			continue
		}
		return i
	}
	return -1
}

// admit tries to move streams from the front of waiting into running,
// stopping at the first stream that cannot fit so that FIFO order is
// preserved (no head-of-line bypass), per spec.md §4.4.1 step 3.
//
// The reservation is sized once, from the count of streams still running
// when this admission pass begins (after reap and growth have removed
// finished, stopped and preempted streams): those are the streams that may need
// to grow by one block on the *next* tick. Streams admitted during this
// same admission pass are still in PREFILL and will not be asked to grow
// until a subsequent tick, so they don't add to this tick's headroom
// requirement.
func (s *FIFOScheduler) admit() {
	reserve := s.cfg.InflightReserveBlocks * s.running.Len()

	for s.waiting.Len() > 0 && s.running.Len() < s.cfg.MaxNumSeqs {
		elem := s.waiting.Front()
		st := elem.Value.(*GenerateStream)

		ok, impossible, err := s.cm.Admit(st, reserve)
		if err != nil {
			panic(&FatalError{Reason: err.Error()})
		}
		if impossible {
			st.Phase = Stopped
			st.StopReason = StopReasonCacheExhausted
			s.waiting.Remove(elem)
			klog.V(2).InfoS("stream cannot ever fit, stopping", "stream", st.ID())
			continue
		}
		if !ok {
			break
		}

		s.waiting.Remove(elem)
		s.running.PushBack(st)
	}
}

// emit collects the current running set, in arrival order, as the batch
// for this step.
func (s *FIFOScheduler) emit() []*GenerateStream {
	batch := make([]*GenerateStream, 0, s.running.Len())
	for elem := s.running.Front(); elem != nil; elem = elem.Next() {
		batch = append(batch, elem.Value.(*GenerateStream))
	}
	return batch
}
