package scheduler

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
)

// Output is one finished stream's generated tokens, returned by Step in
// the step the stream finishes. Streams that end STOPPED are not reported,
// so StopReason is left empty.
type Output struct {
	StreamID   int64
	TokenIDs   []int
	StopReason string
}

// Engine drives the schedule/run/postprocess loop that the teacher's
// LLMEngine drives, minus tokenizer encode/decode: this package works in
// token ids end to end, per spec.md §1's scope boundary.
type Engine struct {
	scheduler *FIFOScheduler
	runner    ModelRunner
}

// NewEngine wires a scheduler and an executor together.
func NewEngine(scheduler *FIFOScheduler, runner ModelRunner) *Engine {
	return &Engine{scheduler: scheduler, runner: runner}
}

// Submit enqueues a new stream.
func (e *Engine) Submit(stream *GenerateStream) error {
	return e.scheduler.Enqueue(stream)
}

// Close releases the executor.
func (e *Engine) Close() error {
	return e.runner.Close()
}

// IsIdle reports whether the engine has no pending or running work.
func (e *Engine) IsIdle() bool {
	return e.scheduler.IsIdle()
}

// Step runs one schedule()/executor/postprocess cycle and returns the
// streams of this step's batch that finished after their new token was
// appended. Streams the scheduler stops are not in the batch and are not
// returned.
func (e *Engine) Step() ([]Output, error) {
	batch, err := e.scheduler.Schedule()
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	isPrefill := true
	for _, st := range batch {
		if st.Phase != Prefill {
			isPrefill = false
			break
		}
	}

	tokens, err := e.runner.Run(batch, isPrefill)
	if err != nil {
		return nil, fmt.Errorf("model run: %w", err)
	}
	if len(tokens) != len(batch) {
		return nil, fmt.Errorf("model run returned %d tokens for a batch of %d", len(tokens), len(batch))
	}

	var outputs []Output
	for i, st := range batch {
		st.AppendToken(tokens[i])
		if st.IsFinished() {
			outputs = append(outputs, Output{StreamID: st.ID(), TokenIDs: st.CompletionTokenIDs()})
		}
	}
	return outputs, nil
}

// CompletionTokenIDs returns the tokens generated beyond the prompt.
func (s *GenerateStream) CompletionTokenIDs() []int {
	return s.Tokens[len(s.InputTokens):]
}

// Run drives the engine until every submitted stream has reached a
// terminal phase, reporting progress with schollz/progressbar/v3 exactly
// as the teacher's LLMEngine.Generate does.
func (e *Engine) Run(total int, showProgress bool) ([]Output, error) {
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("scheduling"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	var results []Output
	for !e.IsIdle() {
		stepOutputs, err := e.Step()
		if err != nil {
			return nil, err
		}
		results = append(results, stepOutputs...)
		if showProgress {
			bar.Add(len(stepOutputs))
		}
	}
	if showProgress {
		bar.Finish()
	}
	return results, nil
}
