package scheduler

import "testing"

func TestGenerateStreamAppendToken(t *testing.T) {
	st := NewGenerateStream(GenerateInput{InputTokens: []int{1, 2, 3}, MaxNewTokens: 2, EOS: 99}, 4096)

	st.AppendToken(7)
	if st.SeqLength != 4 {
		t.Fatalf("expected seq length 4, got %d", st.SeqLength)
	}
	if st.IsFinished() {
		t.Fatalf("should not be finished after 1 of 2 max new tokens")
	}

	st.AppendToken(8)
	if !st.IsFinished() {
		t.Fatalf("expected finished after reaching MaxNewTokens")
	}
	if st.NumCompletionTokens() != 2 {
		t.Errorf("expected 2 completion tokens, got %d", st.NumCompletionTokens())
	}
}

func TestGenerateStreamEOSFinishes(t *testing.T) {
	st := NewGenerateStream(GenerateInput{InputTokens: []int{1}, EOS: 99, MaxNewTokens: 100}, 4096)
	st.AppendToken(5)
	if st.IsFinished() {
		t.Fatalf("should not be finished before eos")
	}
	st.AppendToken(99)
	if !st.IsFinished() {
		t.Fatalf("expected finished on eos token")
	}
}

func TestGenerateStreamIgnoreEOS(t *testing.T) {
	st := NewGenerateStream(GenerateInput{InputTokens: []int{1}, EOS: 99, IgnoreEOS: true, MaxNewTokens: 100}, 4096)
	st.AppendToken(99)
	if st.IsFinished() {
		t.Fatalf("eos must be ignored when IgnoreEOS is set")
	}
}

func TestNewGenerateStreamCopiesInputTokens(t *testing.T) {
	input := []int{1, 2, 3}
	st := NewGenerateStream(GenerateInput{InputTokens: input}, 4096)

	input[0] = 99
	if st.InputTokens[0] != 1 {
		t.Fatalf("expected InputTokens to be copied, mutating the caller's slice changed it to %d", st.InputTokens[0])
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		Waiting:  "WAITING",
		Prefill:  "PREFILL",
		Decode:   "DECODE",
		Finished: "FINISHED",
		Stopped:  "STOPPED",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
