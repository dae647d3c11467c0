// Package azure implements the streaming speech backend: partial transcripts
// are delivered while capturing and StopRecognition finalizes quickly.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

// BackendID identifies this backend in settings and history records.
const BackendID = "azure-speech"

const (
	defaultChunkSize = 4096
	defaultFinalWait = 4 * time.Second
)

// Config controls the speech websocket connection.
type Config struct {
	Key       string
	Region    string
	BaseURL   string // optional ws(s) endpoint override, used by tests
	FinalWait time.Duration
	ChunkSize int
}

// Backend implements ports.SpeechBackend over a speech websocket.
type Backend struct {
	cfg      Config
	capture  ports.AudioCapture
	audioCfg ports.AudioConfig
	log      zerolog.Logger

	mu     sync.Mutex
	active *session
}

func NewBackend(cfg Config, capture ports.AudioCapture, audioCfg ports.AudioConfig, log zerolog.Logger) *Backend {
	if cfg.FinalWait <= 0 {
		cfg.FinalWait = defaultFinalWait
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Backend{
		cfg:      cfg,
		capture:  capture,
		audioCfg: audioCfg,
		log:      log.With().Str("component", "azure-speech").Logger(),
	}
}

func (b *Backend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{
		ID:                     BackendID,
		DisplayName:            "Azure Speech",
		SupportsPartialResults: true,
		SupportsOffline:        false,
	}
}

// IsAvailable checks credentials only; no I/O.
func (b *Backend) IsAvailable() bool {
	return strings.TrimSpace(b.cfg.Key) != "" &&
		(strings.TrimSpace(b.cfg.Region) != "" || strings.TrimSpace(b.cfg.BaseURL) != "")
}

// BeginCapture opens the audio device without touching the network, so the
// recording indicator can light up before the websocket handshake finishes.
func (b *Backend) BeginCapture(ctx context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active != nil {
		return nil
	}

	audio, err := b.capture.Start(ctx, b.audioCfg)
	if err != nil {
		return err
	}
	b.active = &session{
		audio:    audio,
		events:   make(chan domain.TranscriptEvent, 64),
		agg:      newAggregator(),
		readDone: make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	return nil
}

// StartRecognition dials the websocket and starts the audio pump.
func (b *Backend) StartRecognition(ctx context.Context, language string) error {
	if !b.IsAvailable() {
		return domain.NewFailure(domain.KindBackendUnavailable, "azure speech credentials missing", nil)
	}

	b.mu.Lock()
	active := b.active
	b.mu.Unlock()
	if active == nil {
		return domain.NewFailure(domain.KindCaptureDevice, "no active capture", nil)
	}

	wsURL, err := b.recognitionURL(language)
	if err != nil {
		return domain.NewFailure(domain.KindTransport, "invalid speech endpoint", err)
	}

	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", b.cfg.Key)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return domain.NewFailure(domain.KindTransport, "speech websocket dial failed", err)
	}

	active.conn = conn
	go active.readLoop(b.log)
	go active.pumpAudio(b.cfg.ChunkSize, b.log)
	return nil
}

// StopRecognition stops capture, waits for the terminal final up to the
// configured bound, then falls back to the last partial.
func (b *Backend) StopRecognition(ctx context.Context) (string, error) {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active == nil {
		return "", nil
	}

	if err := active.audio.Stop(); err != nil {
		b.log.Warn().Err(err).Msg("audio stop failed")
	}

	if active.conn == nil {
		active.finish()
		return "", domain.NewFailure(domain.KindTransport, "recognition was never started", nil)
	}

	<-active.pumpDone
	_ = active.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`))

	wait := b.cfg.FinalWait
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < wait {
			wait = until
		}
	}
	select {
	case <-active.readDone:
	case <-time.After(wait):
	}
	active.finish()

	if err := active.err(); err != nil && active.agg.Text() == "" {
		return "", domain.NewFailure(domain.KindTransport, "speech stream failed", err)
	}
	return active.agg.Text(), nil
}

// CancelRecognition tears everything down without producing a result.
func (b *Backend) CancelRecognition() {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active == nil {
		return
	}
	active.cancel()
}

// Events returns partial transcripts for the active capture, or a closed
// channel when idle.
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

func (b *Backend) recognitionURL(language string) (string, error) {
	base := strings.TrimSpace(b.cfg.BaseURL)
	if base == "" {
		base = fmt.Sprintf("wss://%s.stt.speech.microsoft.com/speech/recognition/dictation/cognitiveservices/v1", b.cfg.Region)
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	if language != "" {
		query.Set("language", language)
	}
	query.Set("format", "simple")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type session struct {
	audio ports.AudioSession
	conn  *websocket.Conn

	events chan domain.TranscriptEvent
	agg    *aggregator

	readDone chan struct{}
	pumpDone chan struct{}

	cancelOnce sync.Once
	finishOnce sync.Once
	cancelled  bool

	errMu   sync.Mutex
	readErr error
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
}

func (s *session) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

func (s *session) cancel() {
	s.cancelOnce.Do(func() {
		s.errMu.Lock()
		s.cancelled = true
		s.errMu.Unlock()
		_ = s.audio.Stop()
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
	s.finish()
}

func (s *session) finish() {
	s.finishOnce.Do(func() {
		if s.conn != nil {
			_ = s.conn.Close()
			<-s.readDone
		}
		close(s.events)
	})
}

func (s *session) isCancelled() bool {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.cancelled
}

// pumpAudio copies captured PCM to the websocket until the device stops.
func (s *session) pumpAudio(chunkSize int, log zerolog.Logger) {
	defer close(s.pumpDone)

	buf := make([]byte, chunkSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			if sendErr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); sendErr != nil {
				s.setErr(fmt.Errorf("send audio: %w", sendErr))
				return
			}
		}
		if err != nil {
			// EOF or a closed pipe is the normal end of capture; transport
			// problems surface through the read loop.
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("audio read ended")
			}
			return
		}
	}
}

type speechMessage struct {
	Type              string `json:"type"`
	Text              string `json:"Text"`
	DisplayText       string `json:"DisplayText"`
	RecognitionStatus string `json:"RecognitionStatus"`
}

// readLoop parses hypothesis/phrase messages into partial/final events.
// Nothing is emitted after cancellation.
func (s *session) readLoop(log zerolog.Logger) {
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			return
		}

		var msg speechMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(msg.RecognitionStatus, "EndOfDictation"):
			return
		case msg.DisplayText != "":
			s.deliver(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: msg.DisplayText})
		case msg.Text != "":
			s.deliver(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: msg.Text})
		}
	}
}

func (s *session) deliver(event domain.TranscriptEvent) {
	if s.isCancelled() {
		return
	}
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	event.Text = text
	s.agg.Add(event)

	select {
	case s.events <- event:
	default:
	}
}
