package llama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blixt/llama-stream/config"
	"github.com/blixt/llama-stream/syncbuffer"
)

// recorder is a concurrency safe output sink that remembers every write.
type recorder struct {
	mu     sync.Mutex
	writes []string
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.writes, "")
}

func (r *recorder) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func chunkEvent(t *testing.T, content string) string {
	t.Helper()
	data, err := json.Marshal(openai.ChatCompletionStreamResponse{
		ID:     "chatcmpl-1",
		Object: "chat.completion.chunk",
		Model:  "test-model",
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content}},
		},
	})
	require.NoError(t, err)
	return "data: " + string(data) + "\n\n"
}

const doneEvent = "data: [DONE]\n\n"

// streamServer serves the given raw SSE events and hands every request to
// inspect before streaming.
func streamServer(t *testing.T, events []string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, ev := range events {
			io.WriteString(w, ev)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.ModelConfig {
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Lang = "en"
	return cfg
}

func userMessage(text string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: text}}
}

func TestRequestFinishScenario(t *testing.T) {
	srv := streamServer(t, []string{
		chunkEvent(t, "I think... "),
		chunkEvent(t, "finish(message="),
		chunkEvent(t, "'done')"),
		doneEvent,
	}, nil)
	out := &recorder{}
	client := New(testConfig(srv.URL), WithOutput(out))

	resp, err := client.Request(context.Background(), userMessage("hi"))
	require.NoError(t, err)

	assert.Equal(t, "I think...", resp.Thinking)
	assert.Equal(t, "finish(message='done')", resp.Action)
	assert.Equal(t, "I think... finish(message='done')", resp.RawContent)
	require.NotNil(t, resp.TimeToFirstToken)
	require.NotNil(t, resp.TimeToThinkingEnd)
	assert.LessOrEqual(t, *resp.TimeToFirstToken, *resp.TimeToThinkingEnd)
	assert.LessOrEqual(t, *resp.TimeToThinkingEnd, resp.TotalTime)

	printed := out.String()
	assert.True(t, strings.HasPrefix(printed, "I think... \n"), printed)
	assert.NotContains(t, printed, "'done'")
	assert.Contains(t, printed, "Performance Metrics:")
	assert.Contains(t, printed, "Time to Thinking End:")
}

func TestRequestPayloadAndHeaders(t *testing.T) {
	var (
		body    map[string]any
		decoded openai.ChatCompletionRequest
		header  http.Header
		path    string
	)
	srv := streamServer(t, []string{doneEvent}, func(r *http.Request) {
		path = r.URL.Path
		header = r.Header.Clone()
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(data, &body))
		assert.NoError(t, json.Unmarshal(data, &decoded))
	})

	cfg := testConfig(srv.URL + "//")
	cfg.APIKey = "sk-local"
	cfg.ModelName = "qwen3-8b"
	cfg.MaxTokens = 256
	cfg.Temperature = 0
	cfg.TopP = 0.85
	cfg.FrequencyPenalty = 0.2
	client := New(cfg, WithOutput(io.Discard))
	assert.Equal(t, srv.URL+"/v1/chat/completions", client.Endpoint())

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "You are a phone agent."},
		{Role: openai.ChatMessageRoleUser, Content: "open settings"},
	}
	_, err := client.Request(context.Background(), messages)
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "Bearer sk-local", header.Get("Authorization"))

	for _, key := range []string{"model", "messages", "max_tokens", "temperature", "top_p", "frequency_penalty", "stream"} {
		assert.Contains(t, body, key)
	}
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, float64(0), body["temperature"])

	assert.Equal(t, "qwen3-8b", decoded.Model)
	assert.Equal(t, 256, decoded.MaxTokens)
	assert.InDelta(t, 0.85, decoded.TopP, 1e-6)
	assert.InDelta(t, 0.2, decoded.FrequencyPenalty, 1e-6)
	assert.True(t, decoded.Stream)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "open settings", decoded.Messages[1].Content)
}

func TestRequestWithoutAPIKey(t *testing.T) {
	var header http.Header
	srv := streamServer(t, []string{doneEvent}, func(r *http.Request) {
		header = r.Header.Clone()
	})
	_, err := New(testConfig(srv.URL), WithOutput(io.Discard)).Request(context.Background(), userMessage("hi"))
	require.NoError(t, err)
	assert.Empty(t, header.Get("Authorization"))
}

func TestRequestAnswerTag(t *testing.T) {
	srv := streamServer(t, []string{
		chunkEvent(t, "<answer>"),
		chunkEvent(t, "42</answer>"),
		doneEvent,
	}, nil)
	out := &recorder{}
	resp, err := New(testConfig(srv.URL), WithOutput(out)).Request(context.Background(), userMessage("6*7?"))
	require.NoError(t, err)

	assert.Equal(t, "", resp.Thinking)
	assert.Equal(t, "42", resp.Action)
	assert.NotNil(t, resp.TimeToFirstToken)
	assert.Nil(t, resp.TimeToThinkingEnd)
	assert.True(t, strings.HasPrefix(out.String(), "<answer>42</answer>"))
	assert.NotContains(t, out.String(), "Time to Thinking End")
}

func TestRequestEmptyStream(t *testing.T) {
	srv := streamServer(t, []string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n\n",
		doneEvent,
	}, nil)
	out := &recorder{}
	resp, err := New(testConfig(srv.URL), WithOutput(out)).Request(context.Background(), userMessage("hi"))
	require.NoError(t, err)

	assert.Empty(t, resp.RawContent)
	assert.Empty(t, resp.Thinking)
	assert.Empty(t, resp.Action)
	assert.Nil(t, resp.TimeToFirstToken)
	assert.Nil(t, resp.TimeToThinkingEnd)
	assert.Positive(t, resp.TotalTime)
	assert.Contains(t, out.String(), "Total Inference Time:")
	assert.NotContains(t, out.String(), "TTFT")
}

func TestRequestSkipsMalformedEvents(t *testing.T) {
	srv := streamServer(t, []string{
		chunkEvent(t, "Step one. "),
		"data: {\"choices\": [\n\n",
		`data: {"choices":[{"delta":{"text":"do(action=\"Home\")"}}]}` + "\n\n",
		doneEvent,
	}, nil)
	resp, err := New(testConfig(srv.URL), WithOutput(io.Discard)).Request(context.Background(), userMessage("go home"))
	require.NoError(t, err)
	assert.Equal(t, "Step one.", resp.Thinking)
	assert.Equal(t, `do(action="Home")`, resp.Action)
}

func TestRequestNoMarker(t *testing.T) {
	srv := streamServer(t, []string{chunkEvent(t, "plain answer"), doneEvent}, nil)
	resp, err := New(testConfig(srv.URL), WithOutput(io.Discard)).Request(context.Background(), userMessage("hi"))
	require.NoError(t, err)
	assert.Empty(t, resp.Thinking)
	assert.Equal(t, "plain answer", resp.Action)
	assert.Nil(t, resp.TimeToThinkingEnd)
}

func TestRequestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	out := &recorder{}
	resp, err := New(testConfig(srv.URL), WithOutput(out)).Request(context.Background(), userMessage("hi"))
	assert.Nil(t, resp)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, `{"error":"model not loaded"}`, statusErr.Body)
	assert.Contains(t, err.Error(), "503")
	assert.Empty(t, out.String(), "nothing is printed for a rejected request")
}

func TestRequestConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(testConfig(url), WithOutput(io.Discard)).Request(context.Background(), userMessage("hi"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestRequestTimeout(t *testing.T) {
	first := chunkEvent(t, "thinking slowly")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, first)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 100 * time.Millisecond
	_, err := New(cfg, WithOutput(io.Discard)).Request(context.Background(), userMessage("hi"))
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(srv.URL), WithOutput(io.Discard)).Request(ctx, userMessage("hi"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

// pipeTransport answers every request with a 200 whose body is read from buf,
// letting a test decide when each network chunk arrives.
type pipeTransport struct {
	buf *syncbuffer.SyncBuffer
}

func (p pipeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(p.buf),
		Request:    req,
	}, nil
}

func TestRequestEchoesLiveAndWithholdsSplitMarker(t *testing.T) {
	buf := syncbuffer.New(4096)
	out := &recorder{}
	client := New(
		testConfig("http://llama.invalid"),
		WithHTTPClient(&http.Client{Transport: pipeTransport{buf}}),
		WithOutput(out),
		WithLogger(zerolog.New(io.Discard)),
	)

	type result struct {
		raw string
		err error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Request(context.Background(), userMessage("hi"))
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{raw: resp.RawContent}
	}()

	send := func(s string) {
		_, err := io.WriteString(buf, s)
		require.NoError(t, err)
	}

	send(chunkEvent(t, "Let me see. "))
	require.Eventually(t, func() bool {
		return out.String() == "Let me see. "
	}, 2*time.Second, 5*time.Millisecond, "thinking should be echoed before the stream ends")

	send(chunkEvent(t, "hello do(acti"))
	send(chunkEvent(t, "on=run)"))
	send(chunkEvent(t, " trailing"))
	send(doneEvent)
	require.NoError(t, buf.Close())

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "Let me see. hello do(action=run) trailing", res.raw)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not finish")
	}

	writes := out.Writes()
	require.GreaterOrEqual(t, len(writes), 3)
	assert.Equal(t, "Let me see. ", writes[0])
	assert.Equal(t, "hello \n", writes[1])
	for _, w := range writes {
		assert.NotContains(t, w, "acti", fmt.Sprintf("partial marker leaked in %q", w))
	}
}
