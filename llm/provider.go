package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Provider sends one chat request and streams back the response.
type Provider interface {
	Request(ctx context.Context, messages []openai.ChatCompletionMessage) (*Response, error)
}
