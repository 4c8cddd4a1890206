package scheduler

import "sync/atomic"

// Phase is a GenerateStream's position in the admit -> prefill -> decode ->
// (preempt | finish | stop) state machine of spec.md §4.4.4.
type Phase int

const (
	Waiting Phase = iota
	Prefill
	Decode
	Finished
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "WAITING"
	case Prefill:
		return "PREFILL"
	case Decode:
		return "DECODE"
	case Finished:
		return "FINISHED"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether p is FINISHED or STOPPED.
func (p Phase) IsTerminal() bool {
	return p == Finished || p == Stopped
}

var nextStreamID atomic.Int64

// GenerateInput is what a client supplies to construct a GenerateStream.
type GenerateInput struct {
	InputTokens       []int
	ReuseCacheEnabled bool
	MaxNewTokens      int
	IgnoreEOS         bool
	EOS               int
}

// GenerateStream is the per-request state a client holds, mutated only by
// the scheduler (Phase, Blocks) and the executor (SeqLength, completion
// flags), per spec.md §5's single-writer rule.
type GenerateStream struct {
	id int64

	InputTokens       []int
	Tokens            []int
	SeqLength         int
	Blocks            []int
	Phase             Phase
	ReuseCacheEnabled bool
	StopReason        string
	MaxSeqLen         int
	MaxNewTokens      int
	IgnoreEOS         bool
	EOS               int

	// NumCachedTokens counts tokens served from a reused prefix, for
	// observability only; it does not affect scheduling.
	NumCachedTokens int

	preemptCount int

	finished bool
	stopped  bool
}

// NewGenerateStream constructs a stream in WAITING phase holding no blocks.
func NewGenerateStream(in GenerateInput, maxSeqLen int) *GenerateStream {
	inputTokens := make([]int, len(in.InputTokens))
	copy(inputTokens, in.InputTokens)
	tokens := make([]int, len(inputTokens))
	copy(tokens, inputTokens)
	return &GenerateStream{
		id:                nextStreamID.Add(1),
		InputTokens:       inputTokens,
		Tokens:            tokens,
		SeqLength:         len(tokens),
		Phase:             Waiting,
		ReuseCacheEnabled: in.ReuseCacheEnabled,
		MaxSeqLen:         maxSeqLen,
		MaxNewTokens:      in.MaxNewTokens,
		IgnoreEOS:         in.IgnoreEOS,
		EOS:               in.EOS,
	}
}

// ID is a stable identity for logging and for tracking which streams a
// scheduling tick has already removed from running.
func (s *GenerateStream) ID() int64 { return s.id }

// NumPromptTokens is the length of the original input.
func (s *GenerateStream) NumPromptTokens() int { return len(s.InputTokens) }

// NumCompletionTokens is how many tokens have been generated beyond the
// prompt so far.
func (s *GenerateStream) NumCompletionTokens() int { return s.SeqLength - len(s.InputTokens) }

// NumBlocks returns ceil(SeqLength / blockTokenCount).
func (s *GenerateStream) NumBlocks(blockTokenCount int) int {
	return ceilDiv(s.SeqLength, blockTokenCount)
}

// AppendToken is called by the executor (conceptually) to extend a
// stream by one generated token, and is the only thing that mutates
// SeqLength outside of prefill initialization.
func (s *GenerateStream) AppendToken(tok int) {
	s.Tokens = append(s.Tokens, tok)
	s.SeqLength++
	if !s.IgnoreEOS && tok == s.EOS {
		s.finished = true
	}
	if s.NumCompletionTokens() >= s.MaxNewTokens && s.MaxNewTokens > 0 {
		s.finished = true
	}
}

// SetFinished marks the stream as having completed generation cleanly.
// It is observed, not acted on, until the scheduler's next reap phase.
func (s *GenerateStream) SetFinished() {
	s.finished = true
}

// SetStopped marks the stream for cancellation with a client-supplied
// reason. Like SetFinished, it takes effect on the scheduler's next tick.
func (s *GenerateStream) SetStopped(reason string) {
	s.stopped = true
	s.StopReason = reason
}

// IsFinished reports the executor-set completion flag.
func (s *GenerateStream) IsFinished() bool { return s.finished }

// IsStopped reports the client-set cancellation flag.
func (s *GenerateStream) IsStopped() bool { return s.stopped }

// IsDone reports either terminal flag, or that the phase has already
// been moved to a terminal state by the scheduler.
func (s *GenerateStream) IsDone() bool {
	return s.Phase.IsTerminal() || s.finished || s.stopped
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
