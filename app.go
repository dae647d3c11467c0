package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/joeyzenghuan/OpenTypeless/internal/bootstrap"
	"github.com/joeyzenghuan/OpenTypeless/internal/config"
	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/history"
	"github.com/joeyzenghuan/OpenTypeless/internal/hotkey"
	"github.com/joeyzenghuan/OpenTypeless/internal/usecase"
)

const (
	eventPhase    = "opentypeless:phase"
	eventPartial  = "opentypeless:partial"
	eventAdvisory = "opentypeless:advisory"
	eventError    = "opentypeless:error"
)

// App is the Wails application root. It is the presentation surface for
// the session controller, translating phase changes into frontend events.
type App struct {
	ctx context.Context

	controller *usecase.Controller
	monitor    *hotkey.Monitor
	store      *history.Store
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &clipboardInserter{ctx: ctx}, hotkey.NewPlatformTap())
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.KindBackendUnavailable, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.monitor = services.Monitor
	a.store = services.History

	a.controller.Bind(ctx)
	if err := a.monitor.Start(ctx); err != nil {
		services.Log.Error().Err(err).Msg("hotkey monitor failed to start")
		a.Advisory("global hotkeys are unavailable, use the window buttons")
	}
	a.SessionPhaseChanged(domain.PhaseIdle, "")
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Cancel()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// StartVoice begins a dictation session, mirroring the hold-to-talk key
// going down.
func (a *App) StartVoice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartDictation(); err != nil && !errors.Is(err, usecase.ErrSessionActive) {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StartTranslation begins a translate session.
func (a *App) StartTranslation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartTranslation(); err != nil && !errors.Is(err, usecase.ErrSessionActive) {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopVoice ends the active session and runs the insert pipeline.
func (a *App) StopVoice() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Stop(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// CancelVoice aborts the active session without inserting or persisting.
func (a *App) CancelVoice() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.Cancel()
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{Phase: domain.PhaseFailed, Message: a.bootErr.Error()}
		}
		return domain.Status{Phase: domain.PhaseIdle}
	}
	return a.controller.Status()
}

// ListHistory returns recent transcriptions, newest first.
func (a *App) ListHistory(limit, offset int) ([]domain.TranscriptionRecord, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.store.List(a.ctx, limit, offset)
}

// SearchHistory returns transcriptions whose text matches the query.
func (a *App) SearchHistory(query string) ([]domain.TranscriptionRecord, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.store.Search(a.ctx, query)
}

// DeleteHistoryEntry removes one transcription.
func (a *App) DeleteHistoryEntry(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.store.Delete(a.ctx, id)
}

// ClearHistory removes all transcriptions.
func (a *App) ClearHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.store.Clear(a.ctx)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	return map[string]string{
		"backend":       a.cfg.Speech.BackendID,
		"language":      a.cfg.Speech.Language,
		"polishEnabled": fmt.Sprintf("%t", a.cfg.Polish.Enabled),
		"polishModel":   a.cfg.Polish.Model,
		"rulesFile":     a.cfg.Rules.Path,
		"historyFile":   a.cfg.History.Path,
		"audioInput":    a.cfg.Audio.InputDevice,
		"holdToTalk":    a.monitor.Bindings().HoldToTalk.String(),
		"toggle":        a.monitor.Bindings().Toggle.String(),
		"translate":     a.monitor.Bindings().Translate.String(),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionPhaseChanged emits session lifecycle updates to the frontend.
// A non-empty partialText accompanies the transcribing phase.
func (a *App) SessionPhaseChanged(phase domain.SessionPhase, partialText string) {
	if a.ctx == nil {
		return
	}
	if partialText != "" {
		runtime.EventsEmit(a.ctx, eventPartial, map[string]string{"text": partialText})
		return
	}
	runtime.EventsEmit(a.ctx, eventPhase, map[string]string{
		"phase":   string(phase),
		"message": phaseMessage(phase),
	})
}

// Advisory emits a transient, non-fatal notice.
func (a *App) Advisory(message string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAdvisory, map[string]string{"message": message})
}

// SessionError emits session failures. Permission errors stay on screen
// until acknowledged; the frontend decides that from the kind.
func (a *App) SessionError(kind domain.FailureKind, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"kind":       string(kind),
		"message":    errorTitle(kind, detail),
		"detail":     detail,
		"persistent": fmt.Sprintf("%t", kind == domain.KindPermissionDenied),
	})
}

func phaseMessage(phase domain.SessionPhase) string {
	switch phase {
	case domain.PhaseIdle:
		return "Ready"
	case domain.PhaseCapturing:
		return "Listening..."
	case domain.PhaseTranscribing:
		return "Transcribing..."
	case domain.PhasePolishing:
		return "Polishing..."
	case domain.PhaseInserting:
		return "Inserting..."
	case domain.PhaseCancelled:
		return "Cancelled"
	case domain.PhaseFailed:
		return "Failed"
	case domain.PhaseCompleted:
		return "Done"
	default:
		return ""
	}
}

func errorTitle(kind domain.FailureKind, detail string) string {
	switch kind {
	case domain.KindPermissionDenied:
		return "Permission required"
	case domain.KindBackendUnavailable:
		return "Speech backend unavailable"
	case domain.KindCaptureDevice:
		return "Microphone error"
	case domain.KindRateLimited:
		return "Rate limited"
	case domain.KindOversizedAudio:
		return "Recording too large"
	case domain.KindNotConfigured:
		return "Backend not configured"
	case domain.KindTransport:
		return "Network error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type clipboardInserter struct {
	ctx context.Context
}

// InsertAtCursor places text at the cursor via the clipboard. Wails has no
// synthetic-paste API, so the user pastes manually; history keeps a copy
// either way.
func (c *clipboardInserter) InsertAtCursor(_ context.Context, text string) error {
	return runtime.ClipboardSetText(c.ctx, text)
}
