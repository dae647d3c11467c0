package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

// Settings is the immutable per-session snapshot of everything the
// controller needs. Configuration changes apply at the next session
// boundary, never mid-session.
type Settings struct {
	BackendID             string
	Language              string
	PolishEnabled         bool
	PolishInstructions    string
	TranslateInstructions string
	PolishTimeout         time.Duration
	StopTimeout           time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.PolishTimeout <= 0 {
		s.PolishTimeout = 10 * time.Second
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = 30 * time.Second
	}
	return s
}

type sessionKind int

const (
	kindDictation sessionKind = iota
	kindTranslate
)

// session is the state of one in-flight voice action. At most one session
// is in a non-terminal phase at any time; stale deliveries are filtered by
// session identity, not a shared flag.
type session struct {
	id       string
	kind     sessionKind
	backend  ports.SpeechBackend
	settings Settings

	startedAt time.Time
	ctx       context.Context
	cancelCtx context.CancelFunc

	cancelRequested atomic.Bool
	finalizing      atomic.Bool
	finished        atomic.Bool

	phaseMu sync.Mutex
	phase   domain.SessionPhase
}

func (s *session) setPhase(phase domain.SessionPhase) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	s.phase = phase
}

func (s *session) getPhase() domain.SessionPhase {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	return s.phase
}

// polishInstructions selects the instruction text for this session's kind.
func (s *session) polishInstructions() string {
	if s.kind == kindTranslate {
		return s.settings.TranslateInstructions
	}
	return s.settings.PolishInstructions
}

// polishWanted reports whether the polish phase applies to this session.
// Translate sessions always want polish; dictation follows the setting.
func (s *session) polishWanted() bool {
	return s.kind == kindTranslate || s.settings.PolishEnabled
}
