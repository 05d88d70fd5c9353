package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-ocr-translate/src/chunker"
	"screen-ocr-translate/src/config"
	"screen-ocr-translate/src/ocr"
	"screen-ocr-translate/src/regions"
	"screen-ocr-translate/src/screenshot"
	"screen-ocr-translate/src/singleinstance"
	"screen-ocr-translate/src/textnorm"
	"screen-ocr-translate/src/translate"
	"screen-ocr-translate/src/window"
)

const recognized = "今日は晴れです。\n明日は雨でしょう。"

type fakeClient struct {
	delegated bool
	text      string
	err       error
	got       *singleinstance.Request
}

func (c *fakeClient) TryReocr(_ context.Context, req singleinstance.Request) (bool, string, error) {
	c.got = &req
	return c.delegated, c.text, c.err
}

type fakeEnv struct {
	deps      deps
	storePath string
	client    *fakeClient

	mu        sync.Mutex
	captured  []screenshot.Region
	clipboard string
}

func (e *fakeEnv) clipboardText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipboard
}

func newFakeEnv(t *testing.T) *fakeEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SCREEN_OCR_TRANSLATE", "")
	t.Setenv(config.APIKeyPathEnvVar, filepath.Join(dir, "missing-key"))
	t.Setenv("OPENROUTER_API_KEY", "test_key")
	t.Setenv("OCR_MODEL", "test/vision")
	t.Setenv("OCR_BACKEND", "")
	t.Setenv("ENABLE_FILE_LOGGING", "")
	t.Setenv("REGION_STORE", filepath.Join(dir, "regions.json"))

	e := &fakeEnv{storePath: filepath.Join(dir, "regions.json"), client: &fakeClient{}}
	e.deps = deps{
		stdin: strings.NewReader(""),
		newRecognizer: func(*config.Config) (ocr.Recognizer, error) {
			return ocr.RecognizerFunc(func(context.Context, []byte) (string, error) { return recognized, nil }), nil
		},
		newTranslator: func(*config.Config) (translate.Translator, error) {
			return translate.TranslatorFunc(func(_ context.Context, text string) (string, error) { return "EN:" + text, nil }), nil
		},
		capture: func(_ context.Context, r screenshot.Region) ([]byte, error) {
			e.mu.Lock()
			e.captured = append(e.captured, r)
			e.mu.Unlock()
			return pngMagic, nil
		},
		activeWindow: func() window.Info { return window.Info{App: "game.exe", Title: "Game"} },
		clipboardWrite: func(text string) error {
			e.mu.Lock()
			e.clipboard = text
			e.mu.Unlock()
			return nil
		},
		clipboardRead:  func() (string, error) { return "クリップボード", nil },
		initClipboard:  func() error { return nil },
		client:         e.client,
		newServer:      func() singleinstance.Server { return nil },
		detectResident: func(context.Context) (int, bool) { return 0, false },
		pingVision:     func(context.Context, *config.Config) error { return nil },
	}
	return e
}

func (e *fakeEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return e.runContext(context.Background(), args...)
}

func (e *fakeEnv) runContext(ctx context.Context, args ...string) (string, string, error) {
	opts := &cliOptions{deps: e.deps}
	cmd := newRootCmd(opts)
	var stdout, stderr syncBuffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, append(append([]byte{}, pngMagic...), 0, 1, 2), 0o644))
	return path
}

func TestNormalizeLegacyArgs(t *testing.T) {
	got := normalizeLegacyArgs([]string{"jptrans", "ocr", "-file=a.png", "-json", "-v", "--chunked", "-x"})
	assert.Equal(t, []string{"jptrans", "ocr", "--file=a.png", "--json", "-v", "--chunked", "-x"}, got)
}

func TestNormalizeCmd(t *testing.T) {
	e := newFakeEnv(t)
	raw := "今日は\n晴れです｡｡"
	out, _, err := e.run(t, "normalize", raw)
	require.NoError(t, err)
	assert.Equal(t, textnorm.Normalize(raw)+"\n", out)
}

func TestNormalizeCmdReadsStdin(t *testing.T) {
	e := newFakeEnv(t)
	e.deps.stdin = strings.NewReader("テスト\n")
	out, _, err := e.run(t, "--json", "normalize")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "テスト", got["raw"])
	assert.Equal(t, textnorm.Normalize("テスト"), got["text"])
}

func TestChunkCmd(t *testing.T) {
	e := newFakeEnv(t)
	text := "一つ目の文です。二つ目の文です。三つ目。"
	out, _, err := e.run(t, "--json", "--max-length", "10", "chunk", text)
	require.NoError(t, err)

	var got struct {
		MaxLength int      `json:"max_length"`
		Chunks    []string `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 10, got.MaxLength)
	assert.Equal(t, chunker.Split(text, 10), got.Chunks)
}

func TestRulesCmd(t *testing.T) {
	e := newFakeEnv(t)
	out, _, err := e.run(t, "rules")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(textnorm.Rules()))
}

func TestOCRFile(t *testing.T) {
	e := newFakeEnv(t)
	out, _, err := e.run(t, "ocr", "--file", writePNG(t), "--translate", "--json")
	require.NoError(t, err)

	var res OCRResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	clean := textnorm.Normalize(recognized)
	assert.Equal(t, clean, res.Text)
	assert.Equal(t, recognized, res.Raw)
	assert.Equal(t, "EN:"+clean, res.Translation)
	assert.Equal(t, "file", res.Source)
	assert.Equal(t, len([]rune(clean)), res.CharCount)
}

func TestOCRFromStdinToClipboard(t *testing.T) {
	e := newFakeEnv(t)
	e.deps.stdin = bytes.NewReader(append(append([]byte{}, pngMagic...), 9))
	out, _, err := e.run(t, "ocr", "--file", "-", "--clipboard")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, textnorm.Normalize(recognized), e.clipboardText())
}

func TestOCRRejectsBadInput(t *testing.T) {
	e := newFakeEnv(t)

	_, _, err := e.run(t, "ocr")
	assert.ErrorContains(t, err, "--file is required")

	txt := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(txt, []byte("not an image"), 0o644))
	_, _, err = e.run(t, "ocr", "--file", txt)
	assert.ErrorContains(t, err, "not a valid PNG")

	empty := filepath.Join(t.TempDir(), "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, _, err = e.run(t, "ocr", "--file", empty)
	assert.ErrorContains(t, err, "empty")

	e.deps.stdin = bytes.NewReader(make([]byte, maxFileSize+1))
	_, _, err = e.run(t, "ocr", "--file", "-")
	assert.ErrorContains(t, err, "exceeds maximum size")
}

func TestOCRMissingAPIKey(t *testing.T) {
	e := newFakeEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "")
	_, _, err := e.run(t, "ocr", "--file", writePNG(t))
	assert.ErrorContains(t, err, "OPENROUTER_API_KEY not found")
}

func TestTranslateCmd(t *testing.T) {
	e := newFakeEnv(t)
	out, _, err := e.run(t, "translate", "こんにちは")
	require.NoError(t, err)
	assert.Equal(t, "EN:"+textnorm.Normalize("こんにちは")+"\n", out)
}

func TestTranslateCmdClipboardRoundTrip(t *testing.T) {
	e := newFakeEnv(t)
	out, _, err := e.run(t, "translate", "--from-clipboard", "--clipboard", "--no-normalize")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "EN:クリップボード", e.clipboardText())
}

func TestTranslateCmdRefusesMarkers(t *testing.T) {
	e := newFakeEnv(t)
	_, _, err := e.run(t, "translate", "--no-normalize", "OCR Error: boom")
	assert.Error(t, err)
}

func TestCaptureRemembersRegion(t *testing.T) {
	e := newFakeEnv(t)
	out, _, err := e.run(t, "capture", "--region", "10,20,300,40")
	require.NoError(t, err)
	assert.Equal(t, textnorm.Normalize(recognized)+"\n", out)

	want := screenshot.Region{X: 10, Y: 20, Width: 300, Height: 40}
	assert.Equal(t, []screenshot.Region{want}, e.captured)

	store, err := regions.Open(e.storePath)
	require.NoError(t, err)
	got, err := store.Last("game.exe")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "Game", store.Entries("game.exe")[0].WindowTitle)
}

func TestCaptureRequiresValidRegion(t *testing.T) {
	e := newFakeEnv(t)
	_, _, err := e.run(t, "capture")
	assert.ErrorContains(t, err, "--region is required")
	_, _, err = e.run(t, "capture", "--region", "1,2,0,4")
	assert.Error(t, err)
}

func TestReocrDelegatesToResident(t *testing.T) {
	e := newFakeEnv(t)
	e.client.delegated = true
	e.client.text = "resident text"

	out, _, err := e.run(t, "reocr", "--translate")
	require.NoError(t, err)
	assert.Equal(t, "resident text\n", out)
	require.NotNil(t, e.client.got)
	assert.Equal(t, singleinstance.Request{App: "game.exe", OutputToStdout: true, Translate: true}, *e.client.got)
	assert.Empty(t, e.captured, "delegated runs must not capture locally")
}

func TestReocrBusy(t *testing.T) {
	e := newFakeEnv(t)
	e.client.err = singleinstance.ErrBusy
	_, _, err := e.run(t, "reocr")
	assert.ErrorContains(t, err, "busy")
}

func TestReocrFallsBackToSavedRegion(t *testing.T) {
	e := newFakeEnv(t)
	saved := screenshot.Region{X: 5, Y: 6, Width: 70, Height: 80}
	store := regions.New(e.storePath)
	require.NoError(t, store.Update(func(s *regions.Store) { s.Remember("game.exe", "Game", saved) }))

	out, _, err := e.run(t, "reocr", "--translate", "--json")
	require.NoError(t, err)
	assert.Equal(t, []screenshot.Region{saved}, e.captured)

	var res OCRResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "game.exe", res.App)
	assert.False(t, res.Delegated)
	assert.Equal(t, "EN:"+res.Text, res.Translation)
}

func TestReocrLocalSkipsResident(t *testing.T) {
	e := newFakeEnv(t)
	e.client.delegated = true
	_, _, err := e.run(t, "reocr", "--local", "--app", "other.exe")
	assert.ErrorIs(t, err, regions.ErrNoRegion)
	assert.Nil(t, e.client.got)
}

func TestRegionsListAndForget(t *testing.T) {
	e := newFakeEnv(t)
	store := regions.New(e.storePath)
	require.NoError(t, store.Update(func(s *regions.Store) {
		s.Remember("a.exe", "A", screenshot.Region{Width: 1, Height: 1})
		s.Remember("b.exe", "B", screenshot.Region{Width: 2, Height: 2})
	}))

	out, _, err := e.run(t, "--json", "regions")
	require.NoError(t, err)
	var listing map[string][]map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	assert.Len(t, listing, 2)
	assert.Equal(t, "0,0,2,2", listing["b.exe"][0]["region"])

	_, _, err = e.run(t, "regions", "forget", "a.exe")
	require.NoError(t, err)
	_, _, err = e.run(t, "regions", "forget", "a.exe")
	assert.ErrorIs(t, err, regions.ErrNoRegion)

	out, _, err = e.run(t, "regions")
	require.NoError(t, err)
	assert.NotContains(t, out, "a.exe")
	assert.Contains(t, out, "b.exe (1)")
}

func fakeOllama(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			var body struct {
				Models []map[string]string `json:"models"`
			}
			for _, m := range models {
				body.Models = append(body.Models, map[string]string{"name": m})
			}
			_ = json.NewEncoder(w).Encode(body)
		case "/api/chat":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":   "test-model",
				"message": map[string]string{"role": "assistant", "content": "Hello world"},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoctorHealthy(t *testing.T) {
	e := newFakeEnv(t)
	srv := fakeOllama(t, "test-model:latest")

	out, _, err := e.run(t, "doctor", "--ollama-url", srv.URL, "--model", "test-model")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Ollama is running")
	assert.Contains(t, out, "✓ Model test-model is available")
	assert.Contains(t, out, "Hello world")
	assert.Contains(t, out, "✓ OCR model test/vision answered")
}

func TestDoctorMissingModel(t *testing.T) {
	e := newFakeEnv(t)
	srv := fakeOllama(t, "other")

	out, _, err := e.run(t, "--json", "doctor", "--ollama-url", srv.URL, "--model", "test-model", "--skip-vision")
	assert.ErrorContains(t, err, "doctor found problems")

	var res DoctorResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Ollama)
	assert.False(t, res.Ollama.ModelPresent)
	assert.Equal(t, []string{"other"}, res.Ollama.Models)
	assert.Empty(t, res.VisionModel)
}

func TestWatchRefusesSecondResident(t *testing.T) {
	e := newFakeEnv(t)
	e.deps.detectResident = func(context.Context) (int, bool) { return 49500, true }
	_, _, err := e.run(t, "watch", "--region", "0,0,10,10")
	assert.ErrorContains(t, err, "already listening on port 49500")
}

func TestWatchPrintsChangesOnce(t *testing.T) {
	e := newFakeEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	out, _, err := e.runContext(ctx, "watch", "--region", "0,0,10,10", "--interval", "20ms", "--no-listen")
	require.NoError(t, err)

	clean := textnorm.Normalize(recognized)
	assert.Equal(t, 1, strings.Count(out, "---"), "unchanged text is printed once: %q", out)
	assert.True(t, strings.HasPrefix(out, clean+"\n\nEN:"+clean), "got %q", out)
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Greater(t, len(e.captured), 1)
}
