// Package local implements the guaranteed-available fallback backend: a
// batch transcription that shells out to a bundled whisper.cpp CLI instead
// of any network service.
package local

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

// BackendID identifies this backend in settings and history records.
const BackendID = "local"

// Config points at the bundled whisper.cpp binary and model.
type Config struct {
	Command   string
	ModelPath string
	KeepAudio bool
}

// Backend implements ports.SpeechBackend with an on-device transcriber.
type Backend struct {
	cfg      Config
	recorder ports.AudioRecorder
	audioCfg ports.AudioConfig
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
	if cfg.Command == "" {
		cfg.Command = "whisper-cli"
	}
	return &Backend{
		cfg:      cfg,
		recorder: recorder,
		audioCfg: audioCfg,
		log:      log.With().Str("component", "local-speech").Logger(),
	}
}

func (b *Backend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{
		ID:                     BackendID,
		DisplayName:            "On-device",
		SupportsPartialResults: false,
		SupportsOffline:        true,
	}
}

// IsAvailable is unconditionally true: this backend is the substitution
// target when a configured backend has no credentials.
func (b *Backend) IsAvailable() bool { return true }

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

func (b *Backend) StartRecognition(_ context.Context, _ string) error { return nil }

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

// AudioArtifact returns the retained wav path of the last completed capture.
func (b *Backend) AudioArtifact() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAudioPath
}

func (b *Backend) transcribe(ctx context.Context, path, language string) (string, error) {
	args := []string{"-f", path, "--no-timestamps", "--no-prints"}
	if b.cfg.ModelPath != "" {
		args = append(args, "-m", b.cfg.ModelPath)
	}
	if language != "" {
		args = append(args, "-l", language)
	}

	cmd := exec.CommandContext(ctx, b.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "local transcriber failed"
		}
		return "", domain.NewFailure(domain.KindTransport, detail, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
