package scheduler

// ModelRunner is the scheduler's only channel to the executor: it is
// handed exactly the batch schedule() produced and returns one new token
// per stream. The tensor runtime, weight formats, and numeric kernels
// behind an implementation are out of scope for this package — per
// spec.md §1 they are external collaborators specified only at this
// interface boundary.
type ModelRunner interface {
	// Run executes one model step over streams. isPrefill is true iff
	// every stream in the batch is in PREFILL phase; a mixed batch of
	// prefill and decode streams is the executor's concern, not the
	// scheduler's. Returns exactly one token id per stream, in order.
	Run(streams []*GenerateStream, isPrefill bool) ([]int, error)

	Close() error
}

// MockModelRunner is a deterministic stand-in for an executor, useful
// for exercising the scheduler in tests and the demo command without a
// real tensor runtime.
type MockModelRunner struct {
	vocab int
	eos   int
}

// NewMockModelRunner builds a mock runner that occasionally emits eos so
// streams can reach FINISHED without relying on MaxNewTokens alone.
func NewMockModelRunner(vocab, eos int) *MockModelRunner {
	return &MockModelRunner{vocab: vocab, eos: eos}
}

// Run produces one synthetic token per stream, deterministic in the
// stream's id and current length so repeated runs are reproducible.
func (m *MockModelRunner) Run(streams []*GenerateStream, isPrefill bool) ([]int, error) {
	out := make([]int, len(streams))
	for i, st := range streams {
		tok := int((st.ID() + int64(st.SeqLength)) % int64(m.vocab))
		if st.NumCompletionTokens() > 0 && st.NumCompletionTokens()%8 == 0 {
			tok = m.eos
		}
		out[i] = tok
	}
	return out, nil
}

// Close is a no-op for the mock.
func (m *MockModelRunner) Close() error { return nil }
