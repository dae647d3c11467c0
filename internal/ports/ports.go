// Package ports declares the capability interfaces the voice-session core
// depends on. Implementations live under internal/providers, internal/audio,
// internal/history, and the application shell.
package ports

import (
	"context"
	"io"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live microphone capture stream.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture opens microphone capture sessions. Opening must be fast and
// fail distinguishably when the device cannot be acquired.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioRecording is an in-progress record-to-file capture.
type AudioRecording interface {
	// Stop finalizes the file and returns its path.
	Stop() (string, error)
	// Discard stops capture and removes the file.
	Discard() error
}

// AudioRecorder records whole utterances to a wav file for batch backends.
type AudioRecorder interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioRecording, error)
}

// SpeechBackend is a pluggable speech-recognition provider. One backend
// instance serves at most one capture session at a time; the controller
// enforces exclusivity.
type SpeechBackend interface {
	// Descriptor identifies the backend and its capabilities.
	Descriptor() domain.BackendDescriptor

	// IsAvailable is a pure predicate over supplied configuration.
	// It performs no I/O.
	IsAvailable() bool

	// BeginCapture synchronously opens the audio device. It exists apart
	// from StartRecognition so recording feedback is not gated on network
	// setup. Fails with a capture_device failure when the device cannot
	// be acquired.
	BeginCapture(ctx context.Context, language string) error

	// StartRecognition begins streaming or prepares batch submission.
	// May be a no-op when capture already feeds recognition.
	StartRecognition(ctx context.Context, language string) error

	// StopRecognition stops capture, finalizes recognition, and returns
	// the best final transcript within a bounded wait. Safe to call with
	// no active capture; returns empty text then.
	StopRecognition(ctx context.Context) (string, error)

	// CancelRecognition immediately stops capture and recognition without
	// producing a result and leaves the backend ready for the next
	// BeginCapture. Partials are never delivered after cancel.
	CancelRecognition()

	// Events delivers partial transcripts for the active capture. Closed
	// when recognition finishes or is cancelled.
	Events() <-chan domain.TranscriptEvent
}

// PolishRequest carries raw text and polishing instructions.
type PolishRequest struct {
	Text         string
	Instructions string
}

// PolishBackend refines a raw transcript with an LLM call. It must fail with
// a not_configured failure, without network I/O, when credentials are absent.
type PolishBackend interface {
	Name() string
	IsConfigured() bool
	Polish(ctx context.Context, req PolishRequest) (domain.PolishResult, error)
}

// HistoryStore persists completed transcriptions. The core calls only
// Append; the remaining operations serve the history UI.
type HistoryStore interface {
	Append(ctx context.Context, record domain.TranscriptionRecord) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string) ([]domain.TranscriptionRecord, error)
	List(ctx context.Context, limit, offset int) ([]domain.TranscriptionRecord, error)
	Clear(ctx context.Context) error
}

// PresentationSurface reflects session state in the UI.
type PresentationSurface interface {
	SessionPhaseChanged(phase domain.SessionPhase, partialText string)
	Advisory(message string)
	SessionError(kind domain.FailureKind, detail string)
}

// TextInserter places final text at the system cursor. Called exactly once
// per completed session with non-empty text.
type TextInserter interface {
	InsertAtCursor(ctx context.Context, text string) error
}

// RulesEngine applies deterministic substitutions to final text.
type RulesEngine interface {
	Apply(text string) (string, error)
}
