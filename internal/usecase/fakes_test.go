package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeBackend struct {
	id        string
	available bool
	audioPath string

	beginErr error
	startErr error
	stopText string
	stopErr  error

	// startGate, when set, blocks StartRecognition until closed.
	startGate chan struct{}

	mu          sync.Mutex
	beginCalls  int
	startCalls  int
	stopCalls   int
	cancelCalls int

	events    chan domain.TranscriptEvent
	closeOnce sync.Once
}

func newFakeBackend(id, stopText string) *fakeBackend {
	return &fakeBackend{
		id:        id,
		available: true,
		stopText:  stopText,
		events:    make(chan domain.TranscriptEvent, 8),
	}
}

func (b *fakeBackend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{ID: b.id, DisplayName: b.id, SupportsPartialResults: true}
}

func (b *fakeBackend) IsAvailable() bool { return b.available }

func (b *fakeBackend) BeginCapture(_ context.Context, _ string) error {
	b.mu.Lock()
	b.beginCalls++
	b.mu.Unlock()
	return b.beginErr
}

func (b *fakeBackend) StartRecognition(_ context.Context, _ string) error {
	b.mu.Lock()
	b.startCalls++
	gate := b.startGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return b.startErr
}

func (b *fakeBackend) StopRecognition(_ context.Context) (string, error) {
	b.mu.Lock()
	b.stopCalls++
	b.mu.Unlock()
	b.closeEvents()
	return b.stopText, b.stopErr
}

func (b *fakeBackend) CancelRecognition() {
	b.mu.Lock()
	b.cancelCalls++
	b.mu.Unlock()
	b.closeEvents()
}

func (b *fakeBackend) Events() <-chan domain.TranscriptEvent { return b.events }

func (b *fakeBackend) AudioArtifact() string { return b.audioPath }

func (b *fakeBackend) emitPartial(text string) {
	b.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text}
}

func (b *fakeBackend) closeEvents() {
	b.closeOnce.Do(func() { close(b.events) })
}

func (b *fakeBackend) cancels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelCalls
}

func (b *fakeBackend) starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startCalls
}

type fakeSurface struct {
	mu         sync.Mutex
	phases     []domain.SessionPhase
	partials   []string
	advisories []string
	errKinds   []domain.FailureKind
}

func (s *fakeSurface) SessionPhaseChanged(phase domain.SessionPhase, partialText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if partialText != "" {
		s.partials = append(s.partials, partialText)
		return
	}
	s.phases = append(s.phases, phase)
}

func (s *fakeSurface) Advisory(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advisories = append(s.advisories, message)
}

func (s *fakeSurface) SessionError(kind domain.FailureKind, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errKinds = append(s.errKinds, kind)
}

func (s *fakeSurface) lastPhase() (domain.SessionPhase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.phases) == 0 {
		return "", false
	}
	return s.phases[len(s.phases)-1], true
}

func (s *fakeSurface) sawPhase(phase domain.SessionPhase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.phases {
		if p == phase {
			return true
		}
	}
	return false
}

func (s *fakeSurface) snapshotPartials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.partials))
	copy(out, s.partials)
	return out
}

func (s *fakeSurface) snapshotAdvisories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.advisories))
	copy(out, s.advisories)
	return out
}

func (s *fakeSurface) snapshotErrKinds() []domain.FailureKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FailureKind, len(s.errKinds))
	copy(out, s.errKinds)
	return out
}

type fakeInserter struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeInserter) InsertAtCursor(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeInserter) inserted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeHistory struct {
	mu      sync.Mutex
	records []domain.TranscriptionRecord
	err     error
}

func (f *fakeHistory) Append(_ context.Context, record domain.TranscriptionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeHistory) Delete(context.Context, string) error { return nil }

func (f *fakeHistory) Search(context.Context, string) ([]domain.TranscriptionRecord, error) {
	return nil, nil
}

func (f *fakeHistory) List(context.Context, int, int) ([]domain.TranscriptionRecord, error) {
	return nil, nil
}

func (f *fakeHistory) Clear(context.Context) error { return nil }

func (f *fakeHistory) appended() []domain.TranscriptionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TranscriptionRecord, len(f.records))
	copy(out, f.records)
	return out
}

type fakePolish struct {
	mu         sync.Mutex
	configured bool
	text       string
	err        error
	requests   []ports.PolishRequest
}

func (f *fakePolish) Name() string { return "fake-polish" }

func (f *fakePolish) IsConfigured() bool { return f.configured }

func (f *fakePolish) Polish(_ context.Context, req ports.PolishRequest) (domain.PolishResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return domain.PolishResult{}, f.err
	}
	return domain.PolishResult{Text: f.text, Provider: "fake-polish", Model: "fake-model"}, nil
}

func (f *fakePolish) seenRequests() []ports.PolishRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.PolishRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeRules struct {
	transform func(string) string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform == nil {
		return text, nil
	}
	return f.transform(text), nil
}
