// Command schedulerdemo wires a MockModelRunner through the scheduler
// package's Engine to show the admission/preemption loop running end to
// end over a handful of synthetic token-id streams, in place of the
// teacher's deleted tokenizer-dependent cmd/simple-demo.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/samaritan1998/rtp-llm/scheduler"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	numStreams := flag.Int("streams", 4, "number of synthetic streams to submit")
	promptLen := flag.Int("prompt-len", 6, "token length of each synthetic prompt")
	maxNewTokens := flag.Int("max-new-tokens", 16, "max tokens to generate per stream")
	blockCount := flag.Int("block-count", 8, "total KV-cache blocks, including the sentinel")
	blockTokenCount := flag.Int("block-token-count", 4, "tokens per KV-cache block")
	flag.Parse()
	defer klog.Flush()

	cfg := scheduler.NewConfig(*blockCount, *blockTokenCount,
		scheduler.WithEnableFallback(true),
		scheduler.WithMaxNumSeqs(*numStreams),
	)
	sched := scheduler.NewFIFOScheduler(cfg)
	runner := scheduler.NewMockModelRunner(32000, -1)
	engine := scheduler.NewEngine(sched, runner)
	defer engine.Close()

	streams := make([]*scheduler.GenerateStream, *numStreams)
	for i := 0; i < *numStreams; i++ {
		tokens := make([]int, *promptLen)
		for j := range tokens {
			tokens[j] = (i*31 + j) % 997
		}
		st := scheduler.NewGenerateStream(scheduler.GenerateInput{
			InputTokens:  tokens,
			MaxNewTokens: *maxNewTokens,
			EOS:          -1,
		}, cfg.MaxSeqLen)
		if err := engine.Submit(st); err != nil {
			fmt.Fprintf(os.Stderr, "submit stream %d: %v\n", i, err)
			os.Exit(1)
		}
		streams[i] = st
	}

	outputs, err := engine.Run(*numStreams, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\ncompleted %d streams\n", len(outputs))
	for _, st := range streams {
		fmt.Printf("stream %d: phase=%s generated=%d stop_reason=%q\n",
			st.ID(), st.Phase, st.NumCompletionTokens(), st.StopReason)
	}
}
