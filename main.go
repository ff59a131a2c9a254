package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/blixt/llama-stream/config"
	"github.com/blixt/llama-stream/llm"
	"github.com/blixt/llama-stream/llm/llama"
	"github.com/blixt/llama-stream/writer"
)

const longDesc = `Send a chat request to an OpenAI-compatible server (llama-server, vLLM, ...)
and stream the answer. The model's thinking is echoed as it arrives; once an
action such as do(action=...) or finish(message=...) starts, the action is
collected and printed after a timing report.

Settings come from flags, then LLAMA_* environment variables (a .env file in
the current directory is loaded first), then defaults.

Examples:
  llama-stream "open the settings app"
  llama-stream --base-url http://gpu-box:8080 --lang en
  LLAMA_API_KEY=secret llama-stream --timeout 2m "what's on screen?"`

type chatCommander struct {
	system  string
	envFile string
	debug   bool

	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:          "llama-stream [prompt...]",
		Short:        "Stream a chat completion and split thinking from action",
		Long:         longDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.logger = newLogger(cmder.debug)
			if err := config.LoadEnv(cmder.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return cmder.run(cmd.Context(), cfg, args)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVarP(&cmder.system, "system", "s", "", "System prompt sent before the conversation")
	cmd.Flags().StringVar(&cmder.envFile, "env-file", ".env", "Environment file to load before reading LLAMA_* variables")
	cmd.Flags().BoolVarP(&cmder.debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func (c *chatCommander) run(ctx context.Context, cfg config.ModelConfig, args []string) error {
	out := writer.New(os.Stdout)
	defer out.Close()

	client := llama.New(cfg, llama.WithOutput(out), llama.WithLogger(c.logger))
	c.logger.Debug().
		Str("endpoint", client.Endpoint()).
		Str("model", cfg.ModelName).
		Dur("timeout", cfg.Timeout).
		Msg("client ready")

	conv := &conversation{provider: client, out: out}
	if c.system != "" {
		conv.messages = append(conv.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.system,
		})
	}

	if len(args) > 0 {
		_, err := conv.send(ctx, strings.Join(args, " "))
		return err
	}

	// The liner package makes the input prompt a lot nicer to use, supporting
	// arrow keys and common keyboard shortcuts.
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" {
			return nil
		}
		line.AppendHistory(input)

		if _, err := conv.send(ctx, input); err != nil {
			if ctx.Err() != nil {
				return err
			}
			// Keep the session alive; the server may just be busy.
			c.logger.Error().Err(err).Msg("request failed")
		}
	}
}

// conversation keeps the message history of an interactive session.
type conversation struct {
	provider llm.Provider
	out      *writer.Writer
	messages []openai.ChatCompletionMessage
}

// send asks the model about input and records both sides of the exchange.
// A failed request leaves the history untouched.
func (c *conversation) send(ctx context.Context, input string) (*llm.Response, error) {
	messages := append(slices.Clip(c.messages), openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input,
	})

	fmt.Println()
	c.out.Start("thinking")
	resp, err := c.provider.Request(ctx, messages)
	c.out.Close()
	if err != nil {
		return nil, err
	}

	fmt.Printf("\n%s\n\n", resp.Action)

	c.messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: resp.RawContent,
	})
	return resp, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
