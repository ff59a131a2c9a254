package llm

import "strings"

// ParseResponse splits a complete model response into its thinking and
// action parts. The first rule that matches wins:
//
//   - "finish(message=" or "do(action=" (in that order): thinking is the
//     trimmed text before the marker, action is the marker and everything
//     after it.
//   - "<answer>": thinking is the text before the tag without <think> tags,
//     action is the text after it without the closing </answer>.
//   - anything else is returned as the action with no thinking.
func ParseResponse(content string) (thinking, action string) {
	for _, marker := range actionMarkers {
		if before, after, ok := strings.Cut(content, marker); ok {
			return strings.TrimSpace(before), marker + after
		}
	}

	if before, after, ok := strings.Cut(content, "<answer>"); ok {
		before = strings.ReplaceAll(before, "<think>", "")
		before = strings.ReplaceAll(before, "</think>", "")
		after = strings.ReplaceAll(after, "</answer>", "")
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}

	return "", content
}
