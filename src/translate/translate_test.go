package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// fakeOllama serves /api/chat with reply and /api/tags with models.
type fakeOllama struct {
	mu       sync.Mutex
	prompts  []string
	models   []string
	failures atomic.Int32
	reply    func(prompt string) string
}

func (f *fakeOllama) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			var body struct {
				Models []map[string]string `json:"models"`
			}
			for _, m := range f.models {
				body.Models = append(body.Models, map[string]string{"name": m, "model": m})
			}
			_ = json.NewEncoder(w).Encode(body)
		case "/api/chat":
			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode chat request: %v", err)
			}
			if f.failures.Load() > 0 {
				f.failures.Add(-1)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"server overloaded"}` + "\n"))
				return
			}
			prompt := ""
			if len(req.Messages) > 0 {
				prompt = req.Messages[len(req.Messages)-1].Content
			}
			f.mu.Lock()
			f.prompts = append(f.prompts, prompt)
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":       req.Model,
				"message":     map[string]string{"role": "assistant", "content": f.reply(prompt)},
				"done":        true,
				"done_reason": "stop",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func echoReply(prompt string) string {
	parts := strings.SplitN(prompt, "\n\n", 2)
	return "  EN:" + parts[len(parts)-1] + "  "
}

func TestOllamaTranslate(t *testing.T) {
	fake := &fakeOllama{reply: echoReply}
	srv := fake.start(t)

	tr, err := NewOllama(srv.URL, "qwen-test")
	require.NoError(t, err)

	out, err := tr.Translate(context.Background(), "こんにちは")
	require.NoError(t, err)
	assert.Equal(t, "EN:こんにちは", out)

	require.Len(t, fake.prompts, 1)
	assert.True(t, strings.HasPrefix(fake.prompts[0], instruction), "prompt must start with the fixed instruction")
	assert.True(t, strings.HasSuffix(fake.prompts[0], "こんにちは"))
}

func TestOllamaRetriesTransientFailures(t *testing.T) {
	fake := &fakeOllama{reply: echoReply}
	fake.failures.Store(2)
	srv := fake.start(t)

	tr, err := NewOllama(srv.URL, "qwen-test", WithBackoff(time.Millisecond))
	require.NoError(t, err)

	out, err := tr.Translate(context.Background(), "雨")
	require.NoError(t, err)
	assert.Equal(t, "EN:雨", out)
	assert.Equal(t, int32(0), fake.failures.Load())
}

func TestOllamaGivesUpAfterRetries(t *testing.T) {
	fake := &fakeOllama{reply: echoReply}
	fake.failures.Store(10)
	srv := fake.start(t)

	tr, err := NewOllama(srv.URL, "qwen-test", WithRetries(1), WithBackoff(time.Millisecond))
	require.NoError(t, err)

	_, err = tr.Translate(context.Background(), "雨")
	assert.Error(t, err)
	assert.Equal(t, int32(8), fake.failures.Load(), "one try plus one retry")
}

func TestBackoffCapsEachDelay(t *testing.T) {
	b := newBackoff(4*time.Second, 5)
	var delays []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		delays = append(delays, d)
	}
	assert.Equal(t, []time.Duration{
		4 * time.Second, 8 * time.Second, defaultBackoffMax, defaultBackoffMax, defaultBackoffMax,
	}, delays)
}

func TestOllamaEmptyResponse(t *testing.T) {
	fake := &fakeOllama{reply: func(string) string { return "   " }}
	srv := fake.start(t)

	tr, err := NewOllama(srv.URL, "qwen-test", WithRetries(0))
	require.NoError(t, err)

	_, err = tr.Translate(context.Background(), "雨")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestChunksTranslatesInOrder(t *testing.T) {
	var seen []string
	tr := TranslatorFunc(func(_ context.Context, text string) (string, error) {
		seen = append(seen, text)
		return strings.ToUpper(text), nil
	})

	out, err := Chunks(context.Background(), tr, []string{"ab", "  ", "cd", ""})
	require.NoError(t, err)
	assert.Equal(t, "AB\nCD", out)
	assert.Equal(t, []string{"ab", "cd"}, seen)
}

func TestChunksStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	tr := TranslatorFunc(func(_ context.Context, text string) (string, error) {
		calls++
		if text == "b" {
			return "", boom
		}
		return text, nil
	})

	_, err := Chunks(context.Background(), tr, []string{"a", "b", "c"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Equal(t, 2, calls)
}

func TestChunksHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := TranslatorFunc(func(context.Context, string) (string, error) {
		t.Fatal("translator must not be called after cancellation")
		return "", nil
	})
	_, err := Chunks(ctx, tr, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachedTranslator(t *testing.T) {
	calls := 0
	inner := TranslatorFunc(func(_ context.Context, text string) (string, error) {
		calls++
		if text == "bad" {
			return "", errors.New("fail")
		}
		return "T:" + text, nil
	})

	tr, err := NewCached(inner, "m", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out, err := tr.Translate(context.Background(), "雨")
		require.NoError(t, err)
		assert.Equal(t, "T:雨", out)
	}
	assert.Equal(t, 1, calls)

	_, err = tr.Translate(context.Background(), "bad")
	assert.Error(t, err)
	_, _ = tr.Translate(context.Background(), "bad")
	assert.Equal(t, 3, calls, "failures are not cached")
	assert.Equal(t, 1, tr.(*Cached).Len())
}

func TestNewCachedDisabled(t *testing.T) {
	inner := TranslatorFunc(func(_ context.Context, text string) (string, error) { return text, nil })
	tr, err := NewCached(inner, "m", 0)
	require.NoError(t, err)
	_, isCached := tr.(*Cached)
	assert.False(t, isCached)
}

func TestDoctor(t *testing.T) {
	fake := &fakeOllama{
		models: []string{"llama3:latest", "qwen-test:latest"},
		reply:  func(string) string { return "Hello world" },
	}
	srv := fake.start(t)

	report, err := Doctor(context.Background(), srv.URL, "qwen-test")
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:latest", "qwen-test:latest"}, report.Models)
	assert.True(t, report.ModelPresent)
	assert.Equal(t, "Hello world", report.Sample)
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], SampleText)
}

func TestDoctorMissingModel(t *testing.T) {
	fake := &fakeOllama{models: []string{"llama3:latest"}, reply: echoReply}
	srv := fake.start(t)

	report, err := Doctor(context.Background(), srv.URL, "qwen-test")
	require.NoError(t, err)
	assert.False(t, report.ModelPresent)
	assert.Empty(t, report.Sample)
	assert.Empty(t, fake.prompts)
}

func TestDoctorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Doctor(context.Background(), url, "qwen-test")
	assert.Error(t, err)
}
