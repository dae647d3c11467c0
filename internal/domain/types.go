package domain

import "time"

// SessionPhase models the voice-session lifecycle.
type SessionPhase string

const (
	PhaseIdle         SessionPhase = "idle"
	PhaseCapturing    SessionPhase = "capturing"
	PhaseTranscribing SessionPhase = "transcribing"
	PhasePolishing    SessionPhase = "polishing"
	PhaseInserting    SessionPhase = "inserting"
	PhaseCancelled    SessionPhase = "cancelled"
	PhaseFailed       SessionPhase = "failed"
	PhaseCompleted    SessionPhase = "completed"
)

// IsTerminal reports whether a phase ends the session.
func (p SessionPhase) IsTerminal() bool {
	switch p {
	case PhaseCancelled, PhaseFailed, PhaseCompleted:
		return true
	default:
		return false
	}
}

// TranscriptKind identifies whether a backend event carries partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is incremental recognition output from a speech backend.
type TranscriptEvent struct {
	Kind TranscriptKind `json:"kind"`
	Text string         `json:"text"`
}

// BackendDescriptor describes a speech backend's identity and capabilities.
type BackendDescriptor struct {
	ID                     string `json:"id"`
	DisplayName            string `json:"displayName"`
	SupportsPartialResults bool   `json:"supportsPartialResults"`
	SupportsOffline        bool   `json:"supportsOffline"`
}

// PolishResult is the output of a polish call, including timing metadata.
type PolishResult struct {
	Text     string        `json:"text"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
}

// TranscriptionRecord is the persisted outcome of one completed session.
// Immutable after creation except for deletion.
type TranscriptionRecord struct {
	ID                  string        `json:"id"`
	CreatedAt           time.Time     `json:"createdAt"`
	Language            string        `json:"language"`
	CaptureDuration     time.Duration `json:"captureDuration"`
	BackendID           string        `json:"backendId"`
	BackendName         string        `json:"backendName"`
	RawText             string        `json:"rawText"`
	RecognitionDuration time.Duration `json:"recognitionDuration"`
	PolishProvider      string        `json:"polishProvider,omitempty"`
	PolishModel         string        `json:"polishModel,omitempty"`
	PolishDuration      time.Duration `json:"polishDuration,omitempty"`
	PolishedText        string        `json:"polishedText,omitempty"`
	AudioPath           string        `json:"audioPath,omitempty"`
}

// FinalText returns the text that was (or should be) inserted for this record.
func (r TranscriptionRecord) FinalText() string {
	if r.PolishedText != "" {
		return r.PolishedText
	}
	return r.RawText
}

// Status summarizes the controller's current state for the UI.
type Status struct {
	Phase   SessionPhase `json:"phase"`
	Active  bool         `json:"active"`
	Backend string       `json:"backend,omitempty"`
	Message string       `json:"message,omitempty"`
}
