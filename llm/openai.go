package llm

// Wire types for the chunks of a streamed chat completion. Only the fields
// this package reads are declared.

type chatCompletionDelta struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Text is used instead of Content by some llama-server builds.
	Text string `json:"text"`
}

// text returns the first populated content field.
func (d chatCompletionDelta) text() string {
	if d.Content != "" {
		return d.Content
	}
	return d.Text
}

type chatCompletionChoice struct {
	Index        int                 `json:"index"`
	Delta        chatCompletionDelta `json:"delta"`
	FinishReason string              `json:"finish_reason"`
}

type chatCompletionChunk struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *Usage                 `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
