package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quillhq/quill/pkg/config"
	"github.com/quillhq/quill/pkg/llm"
	"github.com/quillhq/quill/pkg/logger"
	"github.com/quillhq/quill/pkg/presenter"
	"github.com/quillhq/quill/pkg/telemetry"
	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Execute a one-shot prompt",
	Long: `Execute a one-shot prompt against the configured LLM provider and stream
the response to stdout. The prompt is read from the arguments, from stdin
when piped, or both.`,
	Args: cobra.MinimumNArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyRunFlags(cmd.Flags(), &cfg)

		shutdown, err := telemetry.InitTracer(ctx, cfg.Tracing)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to initialize tracing")
		} else {
			defer shutdown(context.Background())
		}

		prompt, err := readPrompt(args)
		if err != nil {
			return err
		}

		manager, closeHistory, err := newManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeHistory()
		defer cleanupManager(context.Background(), manager)

		summary := manager.Initialize(ctx)
		if summary.Total > 0 {
			presenter.Info(fmt.Sprintf("MCP: %d/%d servers connected, %d tools available",
				summary.Connected, summary.Total, summary.ToolCount))
		}

		base, err := llm.NewProvider(cfg.Provider)
		if err != nil {
			return err
		}
		provider, err := llm.Decorate(base, cfg.Retry, cfg.Structured)
		if err != nil {
			return err
		}

		system, _ := cmd.Flags().GetString("system")
		ch, err := provider.Stream(ctx, llmtypes.Request{
			Prompt:    prompt,
			System:    system,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return errors.Wrap(err, "failed to start provider stream")
		}

		for chunk := range ch {
			switch chunk.Type {
			case llmtypes.ChunkTypeAssistant:
				fmt.Print(chunk.Content)
			case llmtypes.ChunkTypeThinking:
				logger.G(ctx).WithField("content", chunk.Content).Debug("provider thinking")
			case llmtypes.ChunkTypeSystem:
				logger.G(ctx).WithField("content", chunk.Content).
					WithField("session_id", chunk.SessionID).Debug("stream started")
			case llmtypes.ChunkTypeResult:
				fmt.Println()
			case llmtypes.ChunkTypeError:
				return errors.New(chunk.Content)
			}
		}
		return ctx.Err()
	},
}

func init() {
	runCmd.Flags().Int("retries", 0, "Number of retries after a failed provider call (overrides config)")
	runCmd.Flags().Bool("backoff", false, "Use exponential backoff between retries (overrides config)")
	runCmd.Flags().Bool("validate-contract", false, "Validate the structural contract of the chunk stream")
	runCmd.Flags().String("schema", "", "JSON Schema for structured output (inline JSON or a file path)")
	runCmd.Flags().String("system", "", "System prompt for the request")
}

// applyRunFlags folds explicitly-set run flags over the loaded configuration.
func applyRunFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("retries") {
		cfg.Retry.Attempts, _ = flags.GetInt("retries")
	}
	if flags.Changed("backoff") {
		cfg.Retry.Backoff, _ = flags.GetBool("backoff")
	}
	if flags.Changed("validate-contract") {
		cfg.Retry.ValidateContract, _ = flags.GetBool("validate-contract")
	}
	if schemaArg, _ := flags.GetString("schema"); schemaArg != "" {
		schema, err := config.LoadSchema(schemaArg)
		if err != nil {
			presenter.Warning(fmt.Sprintf("ignoring --schema: %s", err))
		} else {
			cfg.Structured.Schema = schema
		}
	}
}

// readPrompt assembles the prompt from args and piped stdin, matching the
// usual CLI convention: args first, piped content appended.
func readPrompt(args []string) (string, error) {
	stat, _ := os.Stdin.Stat()
	isPipe := (stat.Mode() & os.ModeCharDevice) == 0

	if !isPipe {
		if len(args) == 0 {
			return "", errors.New("no prompt provided")
		}
		return strings.Join(args, " "), nil
	}

	stdinBytes, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", errors.Wrap(err, "failed to read from stdin")
	}
	content := strings.TrimSpace(string(stdinBytes))
	if len(args) > 0 {
		return strings.Join(args, " ") + "\n" + content, nil
	}
	if content == "" {
		return "", errors.New("no prompt provided")
	}
	return content, nil
}
