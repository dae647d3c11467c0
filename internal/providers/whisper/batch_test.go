package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/logging"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

type fakeRecording struct {
	path      string
	stopErr   error
	mu        sync.Mutex
	discarded bool
}

func (r *fakeRecording) Stop() (string, error) { return r.path, r.stopErr }

func (r *fakeRecording) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = true
	_ = os.Remove(r.path)
	return nil
}

func (r *fakeRecording) wasDiscarded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discarded
}

type fakeRecorder struct {
	recording *fakeRecording
	err       error
}

func (f *fakeRecorder) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioRecording, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.recording, nil
}

func writeWav(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.wav")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func newTestBackend(t *testing.T, cfg Config, recording *fakeRecording) *Backend {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	return NewBackend(cfg, &fakeRecorder{recording: recording}, ports.AudioConfig{}, logging.Nop())
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	b := NewBackend(Config{}, nil, ports.AudioConfig{}, logging.Nop())
	if b.cfg.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected base url: %q", b.cfg.BaseURL)
	}
	if b.cfg.Model != "whisper-1" {
		t.Fatalf("unexpected model: %q", b.cfg.Model)
	}
	if b.cfg.MinAudioBytes != 16*1024 || b.cfg.MaxAudioBytes != 25*1024*1024 {
		t.Fatalf("unexpected size bounds: %d..%d", b.cfg.MinAudioBytes, b.cfg.MaxAudioBytes)
	}
}

func TestStopBelowMinimumSkipsNetwork(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("tiny capture must not reach the network")
	}))
	defer server.Close()

	recording := &fakeRecording{path: writeWav(t, 100)}
	b := newTestBackend(t, Config{BaseURL: server.URL, MinAudioBytes: 1024}, recording)

	if err := b.BeginCapture(context.Background(), ""); err != nil {
		t.Fatalf("begin capture failed: %v", err)
	}
	text, err := b.StopRecognition(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
}

func TestStopAboveMaximumFailsWithoutUpload(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("oversized capture must not be uploaded")
	}))
	defer server.Close()

	recording := &fakeRecording{path: writeWav(t, 4096)}
	b := newTestBackend(t, Config{BaseURL: server.URL, MinAudioBytes: 10, MaxAudioBytes: 1024}, recording)

	if err := b.BeginCapture(context.Background(), ""); err != nil {
		t.Fatalf("begin capture failed: %v", err)
	}
	_, err := b.StopRecognition(context.Background())
	if !domain.IsKind(err, domain.KindOversizedAudio) {
		t.Fatalf("expected oversized_audio, got %v", err)
	}
}

func TestStopUploadsAndParsesTranscript(t *testing.T) {
	t.Parallel()

	var gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" hello world "}`))
	}))
	defer server.Close()

	recording := &fakeRecording{path: writeWav(t, 64*1024)}
	b := newTestBackend(t, Config{BaseURL: server.URL}, recording)

	if err := b.BeginCapture(context.Background(), "en"); err != nil {
		t.Fatalf("begin capture failed: %v", err)
	}
	text, err := b.StopRecognition(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected transcript: %q", text)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Fatalf("unexpected model field: %q", gotModel)
	}
}

func TestStopMapsRateLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	recording := &fakeRecording{path: writeWav(t, 64 * 1024)}
	b := newTestBackend(t, Config{BaseURL: server.URL}, recording)

	if err := b.BeginCapture(context.Background(), ""); err != nil {
		t.Fatalf("begin capture failed: %v", err)
	}
	_, err := b.StopRecognition(context.Background())
	if !domain.IsKind(err, domain.KindRateLimited) {
		t.Fatalf("expected rate_limited, got %v", err)
	}
}

func TestStopMapsRejectedCredentials(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	recording := &fakeRecording{path: writeWav(t, 64 * 1024)}
	b := newTestBackend(t, Config{BaseURL: server.URL}, recording)

	if err := b.BeginCapture(context.Background(), ""); err != nil {
		t.Fatalf("begin capture failed: %v", err)
	}
	_, err := b.StopRecognition(context.Background())
	if !domain.IsKind(err, domain.KindBackendUnavailable) {
		t.Fatalf("expected backend_unavailable, got %v", err)
	}
}

func TestCancelDiscardsRecording(t *testing.T) {
	t.Parallel()

	recording := &fakeRecording{path: writeWav(t, 64 * 1024)}
	b := newTestBackend(t, Config{}, recording)

	if err := b.BeginCapture(context.Background(), ""); err != nil {
		t.Fatalf("begin capture failed: %v", err)
	}
	events := b.Events()
	b.CancelRecognition()

	if !recording.wasDiscarded() {
		t.Fatalf("cancel must discard the recording")
	}
	if _, ok := <-events; ok {
		t.Fatalf("events must close on cancel")
	}
	if text, err := b.StopRecognition(context.Background()); err != nil || text != "" {
		t.Fatalf("stop after cancel should be a quiet no-op, got %q, %v", text, err)
	}
}

func TestKeepAudioRetainsArtifact(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"kept"}`))
	}))
	defer server.Close()

	path := writeWav(t, 64 * 1024)
	b := newTestBackend(t, Config{BaseURL: server.URL, KeepAudio: true}, &fakeRecording{path: path})

	if err := b.BeginCapture(context.Background(), ""); err != nil {
		t.Fatalf("begin capture failed: %v", err)
	}
	if _, err := b.StopRecognition(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := b.AudioArtifact(); got != path {
		t.Fatalf("expected retained artifact %q, got %q", path, got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("wav should still exist: %v", err)
	}
}

func TestStartRecognitionRequiresKey(t *testing.T) {
	t.Parallel()

	b := NewBackend(Config{}, nil, ports.AudioConfig{}, logging.Nop())
	err := b.StartRecognition(context.Background(), "")
	if !domain.IsKind(err, domain.KindBackendUnavailable) {
		t.Fatalf("expected backend_unavailable, got %v", err)
	}
}
