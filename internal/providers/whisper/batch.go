// Package whisper implements the batch speech backend: the whole utterance
// is recorded to disk, then uploaded for one terminal transcript when the
// session stops. No partials are produced.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

// BackendID identifies this backend in settings and history records.
const BackendID = "whisper"

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
	defaultTimeout = 30 * time.Second

	// Captures smaller than this are near-silence; they resolve to an empty
	// transcript without any network call.
	defaultMinAudioBytes = 16 * 1024
	// The upload endpoint rejects anything larger, so fail before sending.
	defaultMaxAudioBytes = 25 * 1024 * 1024
)

// Config controls the transcription upload.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	MinAudioBytes int64
	MaxAudioBytes int64
	KeepAudio     bool
}

// Backend implements ports.SpeechBackend by recording then uploading.
type Backend struct {
	cfg      Config
	recorder ports.AudioRecorder
	audioCfg ports.AudioConfig
	client   *http.Client
	log      zerolog.Logger

	mu     sync.Mutex
	active *capture

	lastAudioPath string
}

type capture struct {
	recording ports.AudioRecording
	language  string
	events    chan domain.TranscriptEvent
}

func NewBackend(cfg Config, recorder ports.AudioRecorder, audioCfg ports.AudioConfig, log zerolog.Logger) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MinAudioBytes <= 0 {
		cfg.MinAudioBytes = defaultMinAudioBytes
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = defaultMaxAudioBytes
	}
	return &Backend{
		cfg:      cfg,
		recorder: recorder,
		audioCfg: audioCfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.With().Str("component", "whisper").Logger(),
	}
}

func (b *Backend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{
		ID:                     BackendID,
		DisplayName:            "Whisper",
		SupportsPartialResults: false,
		SupportsOffline:        false,
	}
}

func (b *Backend) IsAvailable() bool {
	return strings.TrimSpace(b.cfg.APIKey) != ""
}

func (b *Backend) BeginCapture(ctx context.Context, language string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active != nil {
		return nil
	}

	recording, err := b.recorder.Start(ctx, b.audioCfg)
	if err != nil {
		return err
	}
	b.active = &capture{
		recording: recording,
		language:  language,
		events:    make(chan domain.TranscriptEvent, 1),
	}
	return nil
}

// StartRecognition only validates availability; batch submission happens on
// stop.
func (b *Backend) StartRecognition(_ context.Context, _ string) error {
	if !b.IsAvailable() {
		return domain.NewFailure(domain.KindBackendUnavailable, "whisper api key missing", nil)
	}
	return nil
}

func (b *Backend) StopRecognition(ctx context.Context) (string, error) {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active == nil {
		return "", nil
	}
	defer close(active.events)

	path, err := active.recording.Stop()
	if err != nil {
		return "", domain.NewFailure(domain.KindCaptureDevice, "finalize recording", err)
	}
	cleanup := func() {
		if !b.cfg.KeepAudio {
			_ = os.Remove(path)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", domain.NewFailure(domain.KindCaptureDevice, "stat recording", err)
	}
	if info.Size() < b.cfg.MinAudioBytes {
		cleanup()
		return "", nil
	}
	if info.Size() > b.cfg.MaxAudioBytes {
		cleanup()
		return "", domain.NewFailure(domain.KindOversizedAudio,
			fmt.Sprintf("recording is %d bytes, limit is %d", info.Size(), b.cfg.MaxAudioBytes), nil)
	}

	text, err := b.transcribe(ctx, path, active.language)
	if err != nil {
		cleanup()
		return "", err
	}
	if b.cfg.KeepAudio {
		b.mu.Lock()
		b.lastAudioPath = path
		b.mu.Unlock()
	} else {
		cleanup()
	}
	return text, nil
}

func (b *Backend) CancelRecognition() {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active == nil {
		return
	}
	if err := active.recording.Discard(); err != nil {
		b.log.Warn().Err(err).Msg("discard recording failed")
	}
	close(active.events)
}

func (b *Backend) Events() <-chan domain.TranscriptEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		closed := make(chan domain.TranscriptEvent)
		close(closed)
		return closed
	}
	return b.active.events
}

// AudioArtifact returns the retained wav path of the last completed capture,
// when keep-audio is enabled.
func (b *Backend) AudioArtifact() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAudioPath
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (b *Backend) transcribe(ctx context.Context, path, language string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", domain.NewFailure(domain.KindCaptureDevice, "read recording", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", domain.NewFailure(domain.KindTransport, "build upload", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", domain.NewFailure(domain.KindTransport, "build upload", err)
	}
	_ = writer.WriteField("model", b.cfg.Model)
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.BaseURL, "/")+"/audio/transcriptions", &buf)
	if err != nil {
		return "", domain.NewFailure(domain.KindTransport, "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", domain.NewFailure(domain.KindTransport, "transcription request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", domain.NewFailure(domain.KindRateLimited, "transcription rate limited", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", domain.NewFailure(domain.KindBackendUnavailable, "transcription credentials rejected", nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.NewFailure(domain.KindTransport,
			fmt.Sprintf("transcription returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.NewFailure(domain.KindTransport, "decode transcription response", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}
