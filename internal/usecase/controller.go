package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/hotkey"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
	"github.com/joeyzenghuan/OpenTypeless/internal/providers"
)

// minHoldDuration is the shortest hold that still produces a transcript.
// Anything shorter is treated as an accidental tap and discarded.
const minHoldDuration = time.Second

var (
	ErrSessionActive   = errors.New("a voice session is already active")
	ErrNoActiveSession = errors.New("no active voice session")
	ErrBackendUnusable = errors.New("no usable speech backend")
)

// audioArtifactProvider is implemented by backends that keep the captured
// audio on disk after recognition finishes.
type audioArtifactProvider interface {
	AudioArtifact() string
}

// Controller drives the voice session state machine. It owns at most one
// active session and serializes all lifecycle transitions behind a mutex;
// the slow phases (recognition, polish, insertion) run on a goroutine per
// session with cooperative cancellation checks at each phase boundary.
type Controller struct {
	registry *providers.Registry
	polish   ports.PolishBackend
	history  ports.HistoryStore
	inserter ports.TextInserter
	surface  ports.PresentationSurface
	rules    ports.RulesEngine
	settings func() Settings
	log      zerolog.Logger

	// now is replaceable for deterministic duration tests.
	now func() time.Time

	baseCtx context.Context

	mu      sync.Mutex
	current *session
}

func NewController(
	registry *providers.Registry,
	polish ports.PolishBackend,
	history ports.HistoryStore,
	inserter ports.TextInserter,
	surface ports.PresentationSurface,
	rules ports.RulesEngine,
	settings func() Settings,
	log zerolog.Logger,
) *Controller {
	return &Controller{
		registry: registry,
		polish:   polish,
		history:  history,
		inserter: inserter,
		surface:  surface,
		rules:    rules,
		settings: settings,
		log:      log.With().Str("component", "controller").Logger(),
		now:      time.Now,
		baseCtx:  context.Background(),
	}
}

// Bind sets the context new sessions inherit from. Typically the
// application lifetime context.
func (c *Controller) Bind(ctx context.Context) {
	if ctx != nil {
		c.baseCtx = ctx
	}
}

// HandleHotkey translates hotkey edges into session transitions. A start
// edge while a session is active is ignored, never queued.
func (c *Controller) HandleHotkey(ev hotkey.Event) {
	switch ev.Action {
	case hotkey.ActionHoldToTalk:
		switch ev.Edge {
		case hotkey.EdgeDown:
			if err := c.start(kindDictation); err != nil && !errors.Is(err, ErrSessionActive) {
				c.log.Error().Err(err).Msg("hold-to-talk start failed")
			}
		case hotkey.EdgeUp:
			if err := c.Stop(); err != nil && !errors.Is(err, ErrNoActiveSession) {
				c.log.Error().Err(err).Msg("hold-to-talk stop failed")
			}
		}
	case hotkey.ActionToggle:
		c.toggle(kindDictation)
	case hotkey.ActionTranslate:
		c.toggle(kindTranslate)
	}
}

// toggle starts a session if idle, otherwise stops the running one. The
// controller's own state decides the direction so a missed edge cannot
// leave the toggle inverted.
func (c *Controller) toggle(kind sessionKind) {
	if c.Active() {
		if err := c.Stop(); err != nil && !errors.Is(err, ErrNoActiveSession) {
			c.log.Error().Err(err).Msg("toggle stop failed")
		}
		return
	}
	if err := c.start(kind); err != nil && !errors.Is(err, ErrSessionActive) {
		c.log.Error().Err(err).Msg("toggle start failed")
	}
}

// StartDictation begins a dictation session, as if the hold-to-talk key
// went down.
func (c *Controller) StartDictation() error { return c.start(kindDictation) }

// StartTranslation begins a translate session.
func (c *Controller) StartTranslation() error { return c.start(kindTranslate) }

// Active reports whether a session is in a non-terminal phase.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Status returns the phase of the active session, or PhaseIdle.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return domain.Status{Phase: domain.PhaseIdle}
	}
	return domain.Status{
		Phase:   s.getPhase(),
		Active:  true,
		Backend: s.backend.Descriptor().ID,
	}
}

// start begins a new capture session. Returns ErrSessionActive if one is
// already running.
func (c *Controller) start(kind sessionKind) error {
	snapshot := c.settings().withDefaults()

	backend, substituted, err := c.registry.Resolve(snapshot.BackendID)
	if err != nil {
		c.surface.SessionError(domain.KindBackendUnavailable, "no speech backend is available")
		return ErrBackendUnusable
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		c.log.Debug().Msg("start ignored, session already active")
		return ErrSessionActive
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	s := &session{
		id:        uuid.NewString(),
		kind:      kind,
		backend:   backend,
		settings:  snapshot,
		startedAt: c.now(),
		ctx:       ctx,
		cancelCtx: cancel,
		phase:     domain.PhaseCapturing,
	}
	c.current = s
	c.mu.Unlock()

	c.log.Info().Str("session", s.id).Str("backend", backend.Descriptor().ID).Msg("session starting")
	c.surface.SessionPhaseChanged(domain.PhaseCapturing, "")
	if substituted {
		c.surface.Advisory("configured speech backend is unavailable, using " + backend.Descriptor().DisplayName)
	}

	if err := backend.BeginCapture(ctx, snapshot.Language); err != nil {
		c.fail(s, err)
		return nil
	}
	if s.cancelRequested.Load() {
		backend.CancelRecognition()
		c.finish(s, domain.PhaseCancelled)
		return nil
	}

	go c.runRecognition(s)
	return nil
}

// runRecognition starts streaming recognition and forwards partial
// transcripts to the surface until the backend closes its event channel.
func (c *Controller) runRecognition(s *session) {
	if err := s.backend.StartRecognition(s.ctx, s.settings.Language); err != nil {
		if s.cancelRequested.Load() {
			return
		}
		c.fail(s, err)
		return
	}
	// The session may have been discarded or cancelled while recognition was
	// starting; the surface must never see a phase after the terminal one.
	if !c.currentIs(s) || s.cancelRequested.Load() {
		return
	}
	s.setPhase(domain.PhaseTranscribing)
	c.surface.SessionPhaseChanged(domain.PhaseTranscribing, "")

	for ev := range s.backend.Events() {
		if !c.currentIs(s) || s.cancelRequested.Load() {
			continue
		}
		if ev.Kind == domain.TranscriptKindPartial && ev.Text != "" {
			c.surface.SessionPhaseChanged(domain.PhaseTranscribing, ev.Text)
		}
	}
}

func (c *Controller) currentIs(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == s
}

// Stop ends the active session and runs the finalize pipeline: stop
// recognition, optionally polish, apply rules, insert, persist.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.current
	if s == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if !s.finalizing.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	go c.finalize(s)
	return nil
}

func (c *Controller) finalize(s *session) {
	held := c.now().Sub(s.startedAt)
	if held < minHoldDuration {
		c.log.Debug().Dur("held", held).Msg("hold too short, discarding")
		s.backend.CancelRecognition()
		c.finish(s, domain.PhaseCancelled)
		return
	}
	if s.cancelRequested.Load() {
		s.backend.CancelRecognition()
		c.finish(s, domain.PhaseCancelled)
		return
	}

	stopCtx, cancel := context.WithTimeout(s.ctx, s.settings.StopTimeout)
	defer cancel()
	stopStart := c.now()
	raw, err := s.backend.StopRecognition(stopCtx)
	recognitionDuration := c.now().Sub(stopStart)

	if s.cancelRequested.Load() {
		c.finish(s, domain.PhaseCancelled)
		return
	}
	if err != nil {
		c.fail(s, err)
		return
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		c.log.Info().Str("session", s.id).Msg("empty transcript, nothing to insert")
		c.finish(s, domain.PhaseCompleted)
		return
	}

	var polishRes *domain.PolishResult
	if s.polishWanted() && c.polish != nil && c.polish.IsConfigured() {
		polishRes = c.runPolish(s, raw)
		if s.cancelRequested.Load() {
			c.finish(s, domain.PhaseCancelled)
			return
		}
	}

	s.setPhase(domain.PhaseInserting)
	c.surface.SessionPhaseChanged(domain.PhaseInserting, "")

	record := c.buildRecord(s, raw, recognitionDuration, polishRes)
	c.deliver(s, record)
	c.finish(s, domain.PhaseCompleted)
}

// runPolish runs the polish phase. Polish failures never fail the
// session; the raw transcript is used instead.
func (c *Controller) runPolish(s *session, raw string) *domain.PolishResult {
	s.setPhase(domain.PhasePolishing)
	c.surface.SessionPhaseChanged(domain.PhasePolishing, "")

	ctx, cancel := context.WithTimeout(s.ctx, s.settings.PolishTimeout)
	defer cancel()
	res, err := c.polish.Polish(ctx, ports.PolishRequest{
		Text:         raw,
		Instructions: s.polishInstructions(),
	})
	if err != nil {
		if domain.IsRateLimited(err) {
			c.surface.Advisory("polishing is rate limited, inserting the raw transcript")
		}
		c.log.Warn().Err(err).Str("session", s.id).Msg("polish failed, falling back to raw transcript")
		return nil
	}
	if strings.TrimSpace(res.Text) == "" {
		c.log.Warn().Str("session", s.id).Msg("polish returned empty text, keeping raw transcript")
		return nil
	}
	return &res
}

func (c *Controller) buildRecord(s *session, raw string, recognition time.Duration, polish *domain.PolishResult) domain.TranscriptionRecord {
	desc := s.backend.Descriptor()
	rec := domain.TranscriptionRecord{
		ID:                  s.id,
		CreatedAt:           c.now(),
		Language:            s.settings.Language,
		CaptureDuration:     c.now().Sub(s.startedAt),
		BackendID:           desc.ID,
		BackendName:         desc.DisplayName,
		RawText:             raw,
		RecognitionDuration: recognition,
	}
	if polish != nil {
		rec.PolishProvider = polish.Provider
		rec.PolishModel = polish.Model
		rec.PolishDuration = polish.Duration
		rec.PolishedText = polish.Text
	}
	if p, ok := s.backend.(audioArtifactProvider); ok {
		rec.AudioPath = p.AudioArtifact()
	}
	return rec
}

// deliver applies substitution rules, inserts the text at the cursor and
// persists the record. Insertion failure is surfaced as an advisory but
// the record is still persisted.
func (c *Controller) deliver(s *session, record domain.TranscriptionRecord) {
	text := record.FinalText()
	if c.rules != nil {
		applied, err := c.rules.Apply(text)
		if err != nil {
			c.surface.Advisory("substitution rules failed, inserting unmodified text")
			c.log.Warn().Err(err).Msg("rules apply failed")
		} else {
			text = applied
		}
	}

	insertCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := c.inserter.InsertAtCursor(insertCtx, text); err != nil {
		c.surface.Advisory("could not insert text at the cursor, it is saved in history")
		c.log.Error().Err(err).Str("session", s.id).Msg("insertion failed")
	}

	appendCtx, cancelAppend := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelAppend()
	if err := c.history.Append(appendCtx, record); err != nil {
		c.log.Error().Err(err).Str("session", s.id).Msg("history append failed")
	}
}

// Cancel aborts the active session from any phase. Nothing is inserted
// and nothing is persisted.
func (c *Controller) Cancel() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancelRequested.Store(true)
	s.backend.CancelRecognition()
	s.cancelCtx()
	// If no finalize pipeline is running, terminate here. Otherwise the
	// pipeline observes the flag at its next phase boundary.
	if s.finalizing.CompareAndSwap(false, true) {
		c.finish(s, domain.PhaseCancelled)
	}
}

func (c *Controller) fail(s *session, err error) {
	kind := domain.KindOf(err)
	c.log.Error().Err(err).Str("session", s.id).Str("kind", string(kind)).Msg("session failed")
	c.surface.SessionError(kind, failureMessage(kind, err))
	c.finish(s, domain.PhaseFailed)
}

func (c *Controller) finish(s *session, phase domain.SessionPhase) {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.setPhase(phase)
	s.cancelCtx()
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	c.surface.SessionPhaseChanged(phase, "")
	c.log.Info().Str("session", s.id).Str("phase", string(phase)).Msg("session finished")
}

// failureMessage renders a user-facing description for a failure kind.
func failureMessage(kind domain.FailureKind, err error) string {
	switch kind {
	case domain.KindPermissionDenied:
		return "microphone or accessibility permission is missing"
	case domain.KindBackendUnavailable:
		return "the speech backend is unavailable, check its configuration"
	case domain.KindCaptureDevice:
		return "the capture device could not be opened"
	case domain.KindRateLimited:
		return "the speech backend is rate limited, try again shortly"
	case domain.KindOversizedAudio:
		return "the recording is too large for the speech backend"
	case domain.KindNotConfigured:
		return "the speech backend is not configured"
	case domain.KindTransport:
		return "a network error interrupted the session"
	default:
		if err != nil {
			return err.Error()
		}
		return "the voice session failed"
	}
}
