package llm

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blixt/llama-stream/i18n"
)

// Response is the result of one streamed chat request.
type Response struct {
	Thinking   string
	Action     string
	RawContent string

	// TimeToFirstToken is nil if the stream carried no content.
	TimeToFirstToken *time.Duration
	// TimeToThinkingEnd is nil if no action marker was seen while streaming.
	TimeToThinkingEnd *time.Duration
	TotalTime         time.Duration
}

const ruleWidth = 50

// WriteMetrics prints the timing report for r with labels in lang.
func WriteMetrics(w io.Writer, lang string, r *Response) error {
	var b strings.Builder
	heavy := strings.Repeat("=", ruleWidth)
	b.WriteString("\n")
	b.WriteString(heavy + "\n")
	fmt.Fprintf(&b, "%s:\n", i18n.Get(i18n.PerformanceMetrics, lang))
	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	if r.TimeToFirstToken != nil {
		fmt.Fprintf(&b, "%s: %.3fs\n", i18n.Get(i18n.TimeToFirstToken, lang), r.TimeToFirstToken.Seconds())
	}
	if r.TimeToThinkingEnd != nil {
		fmt.Fprintf(&b, "%s:        %.3fs\n", i18n.Get(i18n.TimeToThinkingEnd, lang), r.TimeToThinkingEnd.Seconds())
	}
	fmt.Fprintf(&b, "%s:          %.3fs\n", i18n.Get(i18n.TotalInferenceTime, lang), r.TotalTime.Seconds())
	b.WriteString(heavy + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}
