package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/rs/zerolog"

	"github.com/blixt/llama-stream/sse"
)

// doneSentinel is the data of the event that ends a chat completion stream.
const doneSentinel = "[DONE]"

// MessageStream turns the SSE body of a streamed chat completion into the
// sequence of content deltas it carries.
type MessageStream struct {
	reader  *sse.Reader
	logger  zerolog.Logger
	err     error
	usage   *Usage
	events  int
	skipped int
}

func NewMessageStream(r io.Reader, logger zerolog.Logger) *MessageStream {
	return &MessageStream{reader: sse.NewReader(r), logger: logger}
}

// Err returns the error that stopped the stream early, if any. Events that
// fail to decode are skipped and never show up here.
func (s *MessageStream) Err() error {
	return s.err
}

// Usage returns the token usage if the server reported it.
func (s *MessageStream) Usage() *Usage {
	return s.usage
}

// Events returns the number of events read so far, sentinel included.
func (s *MessageStream) Events() int {
	return s.events
}

// Skipped returns the number of events that were dropped because their data
// was not valid JSON.
func (s *MessageStream) Skipped() int {
	return s.skipped
}

// Iter yields every non-empty content delta until the [DONE] sentinel is
// seen or the body ends.
func (s *MessageStream) Iter() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			ev, err := s.reader.Next()
			if err != nil {
				s.err = fmt.Errorf("error reading stream: %w", err)
				return
			}
			if ev == nil {
				return
			}
			s.events++
			if ev.Data == doneSentinel {
				return
			}
			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				s.skipped++
				s.logger.Debug().Err(err).Str("data", ev.Data).Msg("skipping malformed event")
				continue
			}
			if chunk.Usage != nil {
				s.usage = chunk.Usage
			}
			if len(chunk.Choices) < 1 {
				continue
			}
			text := chunk.Choices[0].Delta.text()
			if text == "" {
				continue
			}
			if !yield(text) {
				return
			}
		}
	}
}
