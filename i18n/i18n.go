// Package i18n holds the localized labels printed in the metrics report.
package i18n

const (
	PerformanceMetrics = "performance_metrics"
	TimeToFirstToken   = "time_to_first_token"
	TimeToThinkingEnd  = "time_to_thinking_end"
	TotalInferenceTime = "total_inference_time"
)

const (
	Chinese = "cn"
	English = "en"

	DefaultLang = Chinese
)

var messages = map[string]map[string]string{
	Chinese: {
		PerformanceMetrics: "性能指标",
		TimeToFirstToken:   "首 Token 延迟 (TTFT)",
		TimeToThinkingEnd:  "思考完成延迟",
		TotalInferenceTime: "总推理时间",
	},
	English: {
		PerformanceMetrics: "Performance Metrics",
		TimeToFirstToken:   "Time to First Token (TTFT)",
		TimeToThinkingEnd:  "Time to Thinking End",
		TotalInferenceTime: "Total Inference Time",
	},
}

// Get returns the label for key in lang. Unknown languages use the default
// table and unknown keys come back unchanged, so Get never fails.
func Get(key, lang string) string {
	table, ok := messages[lang]
	if !ok {
		table = messages[DefaultLang]
	}
	if msg, ok := table[key]; ok {
		return msg
	}
	return key
}

// Supported reports whether lang has its own table.
func Supported(lang string) bool {
	_, ok := messages[lang]
	return ok
}
