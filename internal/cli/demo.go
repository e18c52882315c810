package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/z1w2r3/suna-sub001/pkg/agent"
	"github.com/z1w2r3/suna-sub001/pkg/coretools"
	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/processor"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted conversation through the engine",
	Long: `Run a scripted mock conversation through the full engine stack:
streamed chunks, tool calls in both the tagged-text and native dialects,
execution, persistence, and usage accounting. Every message the engine emits
is printed to stdout as one JSON line; engine logs go to stderr.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

// demoScript covers the three shapes the engine handles: a tagged call split
// across chunk boundaries, a native call assembled from deltas, and a
// terminating tool ending the turn.
func demoScript() []llm.MockResponse {
	return []llm.MockResponse{
		{
			Chunks: []llm.Chunk{
				{Content: "Sure, echoing that now.\n"},
				{Content: "<function"},
				{Content: "_calls>\n<invoke name=\"echo\">\n<parameter name=\"text\">Hello "},
				{Content: "from the demo!</parameter>\n</invoke>\n</function_calls>"},
				{FinishReason: llm.FinishReasonStop, Usage: &llm.Usage{PromptTokens: 21, CompletionTokens: 34}},
			},
		},
		{
			Chunks: []llm.Chunk{
				{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "call_demo_time", Name: "current_time"}}},
				{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: "{}"}}},
				{FinishReason: llm.FinishReasonToolCalls, Usage: &llm.Usage{PromptTokens: 58, CompletionTokens: 12}},
			},
		},
		{
			Chunks: []llm.Chunk{
				{Content: "<function_calls>\n<invoke name=\"ask\">\n<parameter name=\"question\">Which file should I update?</parameter>\n</invoke>\n</function_calls>"},
				{FinishReason: llm.FinishReasonStop, Usage: &llm.Usage{PromptTokens: 84, CompletionTokens: 28}},
			},
		},
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	store := thread.NewMemoryStore()

	registry := tools.NewRegistry()
	if err := coretools.Register(registry, coretools.Options{}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	proc, err := processor.New(processor.Options{
		Config:   processor.DefaultConfig(),
		Registry: registry,
		Store:    store,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to build processor: %w", err)
	}

	runner, err := agent.NewRunner(agent.Config{
		Provider:  llm.NewMockProvider(demoScript()...),
		Store:     store,
		Registry:  registry,
		Processor: proc,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}

	ctx := cmd.Context()
	th, err := store.CreateThread(ctx)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	prompts := []string{
		"Echo 'Hello from the demo!' back to me.",
		"What time is it?",
		"Ask me which file to update.",
	}

	for _, prompt := range prompts {
		params := agent.DefaultRunParams()
		params.ThreadID = th.ID
		params.Prompt = prompt
		params.Model = "demo-model"

		if err := demoTurn(ctx, runner, params, enc); err != nil {
			return err
		}
	}

	msgs, err := store.Messages(ctx, th.ID)
	if err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	log.Info().
		Str("thread_id", th.ID).
		Int("messages", len(msgs)).
		Msg("Demo finished")
	return nil
}

// demoTurn runs one pass and drains the output channel to the encoder before
// returning. The channel is closed by the runner.
func demoTurn(ctx context.Context, runner *agent.Runner, params agent.RunParams, enc *json.Encoder) error {
	out := make(chan thread.Message, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for msg := range out {
			_ = enc.Encode(msg)
		}
	}()

	_, err := runner.Run(ctx, params, out)
	<-done
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}
