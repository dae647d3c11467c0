// Package bootstrap assembles the runtime graph from configuration.
package bootstrap

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joeyzenghuan/OpenTypeless/internal/audio"
	"github.com/joeyzenghuan/OpenTypeless/internal/config"
	"github.com/joeyzenghuan/OpenTypeless/internal/history"
	"github.com/joeyzenghuan/OpenTypeless/internal/hotkey"
	"github.com/joeyzenghuan/OpenTypeless/internal/logging"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
	"github.com/joeyzenghuan/OpenTypeless/internal/providers"
	"github.com/joeyzenghuan/OpenTypeless/internal/providers/azure"
	"github.com/joeyzenghuan/OpenTypeless/internal/providers/local"
	"github.com/joeyzenghuan/OpenTypeless/internal/providers/openai"
	"github.com/joeyzenghuan/OpenTypeless/internal/providers/whisper"
	"github.com/joeyzenghuan/OpenTypeless/internal/rules"
	"github.com/joeyzenghuan/OpenTypeless/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.Controller
	Monitor    *hotkey.Monitor
	Registry   *providers.Registry
	History    *history.Store
	Config     config.Config
	Log        zerolog.Logger
}

// Build wires all backend dependencies for the current runtime. The
// presentation surface, text inserter, and key tap are platform pieces
// supplied by the application shell.
func Build(surface ports.PresentationSurface, inserter ports.TextInserter, tap hotkey.Tap) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.Logging)

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return Services{}, fmt.Errorf("open history store: %w", err)
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, fmt.Errorf("load substitution rules: %w", err)
	}

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	capture := audio.NewFFmpegCapture(cfg.Audio.RecorderCommand)
	recorder := audio.NewFFmpegRecorder(cfg.Audio.RecorderCommand, cfg.Audio.RecordingDir)

	registry := providers.NewRegistry()
	registry.Register(azure.NewBackend(azure.Config{
		Key:    cfg.Speech.Azure.Key,
		Region: cfg.Speech.Azure.Region,
	}, capture, audioCfg, log))
	registry.Register(whisper.NewBackend(whisper.Config{
		APIKey:    cfg.Speech.Whisper.APIKey,
		BaseURL:   cfg.Speech.Whisper.BaseURL,
		Model:     cfg.Speech.Whisper.Model,
		KeepAudio: cfg.Audio.KeepAudio,
	}, recorder, audioCfg, log))
	registry.Register(local.NewBackend(local.Config{
		Command:   cfg.Speech.Local.Command,
		ModelPath: cfg.Speech.Local.ModelPath,
		KeepAudio: cfg.Audio.KeepAudio,
	}, recorder, audioCfg, log))
	if err := registry.SetFallback(local.BackendID); err != nil {
		return Services{}, fmt.Errorf("set fallback backend: %w", err)
	}

	polish := openai.NewBackend(openai.Config{
		APIKey:  cfg.Polish.APIKey,
		BaseURL: cfg.Polish.BaseURL,
		Model:   cfg.Polish.Model,
		Timeout: cfg.Polish.PolishTimeout(),
	}, log)

	controller := usecase.NewController(
		registry,
		polish,
		store,
		inserter,
		surface,
		rulesEngine,
		settingsSnapshot(cfg),
		log,
	)

	monitor := hotkey.NewMonitor(tap, bindings(cfg.Hotkeys), controller.HandleHotkey, log)

	return Services{
		Controller: controller,
		Monitor:    monitor,
		Registry:   registry,
		History:    store,
		Config:     cfg,
		Log:        log,
	}, nil
}

// settingsSnapshot adapts static configuration into the per-session
// settings function the controller snapshots at each start.
func settingsSnapshot(cfg config.Config) func() usecase.Settings {
	return func() usecase.Settings {
		return usecase.Settings{
			BackendID:             cfg.Speech.BackendID,
			Language:              cfg.Speech.Language,
			PolishEnabled:         cfg.Polish.Enabled,
			PolishInstructions:    cfg.Polish.Prompt,
			TranslateInstructions: cfg.Polish.TranslateInstructions(),
			PolishTimeout:         cfg.Polish.PolishTimeout(),
		}
	}
}

// bindings parses configured hotkeys, keeping the defaults for any entry
// that is absent or malformed.
func bindings(cfg config.HotkeysConfig) hotkey.Bindings {
	def := hotkey.DefaultBindings()
	return hotkey.Bindings{
		HoldToTalk: hotkey.ParseOrDefault(cfg.HoldToTalk, def.HoldToTalk),
		Toggle:     hotkey.ParseOrDefault(cfg.Toggle, def.Toggle),
		Translate:  hotkey.ParseOrDefault(cfg.Translate, def.Translate),
	}
}
