// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     assistant
// Description: Main daemon controller wiring all components together
// License:     MIT
// ============================================================================

package assistant

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.design/x/hotkey"

	"github.com/weirdtangent/pulse-os/internal/audio"
	"github.com/weirdtangent/pulse-os/internal/calendar"
	"github.com/weirdtangent/pulse-os/internal/history"
	"github.com/weirdtangent/pulse-os/internal/homeassistant"
	"github.com/weirdtangent/pulse-os/internal/schedule"
	"github.com/weirdtangent/pulse-os/internal/vad"
	"github.com/weirdtangent/pulse-os/internal/wake"
	"github.com/weirdtangent/pulse-os/pkg/core/config"
	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// turnTimeout bounds one conversation turn end to end
const turnTimeout = 2 * time.Minute

// App is the daemon controller: it owns the schedule service, the wake
// detector and all supporting components, and runs the main wake loop.
type App struct {
	mu     sync.RWMutex
	logger *logging.Logger
	cfg    *config.Config

	state *StateMachine

	capture   *audio.Capture
	chime     *audio.ChimePlayer
	schedule  *schedule.Service
	detector  *wake.Detector
	haClient  *homeassistant.Client
	telemetry *homeassistant.Telemetry
	firings   *history.Store
	calendar  *calendar.Poller

	pipelines map[string]Pipeline

	hotkey   *hotkey.Hotkey
	earmuffs bool
}

// New creates the daemon from its configuration
func New(cfg *config.Config) (*App, error) {
	a := &App{
		logger:    logging.New("assistant"),
		cfg:       cfg,
		state:     NewStateMachine(),
		pipelines: make(map[string]Pipeline),
	}

	if err := a.initComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return a, nil
}

func (a *App) initComponents() error {
	var err error

	a.chime = audio.NewChimePlayer()

	a.capture, err = audio.NewCapture(a.cfg.Mic)
	if err != nil {
		return fmt.Errorf("failed to create microphone capture: %w", err)
	}

	speech, err := vad.NewWebRTCVAD(vad.Config{SampleRate: a.cfg.Mic.SampleRate, Mode: 2})
	if err != nil {
		return fmt.Errorf("failed to create VAD: %w", err)
	}
	gate := vad.NewGate(a.capture, speech, 0)

	a.haClient = homeassistant.NewClient(a.cfg.HomeAssistant)
	a.telemetry = homeassistant.NewTelemetry(a.cfg.HomeAssistant)

	a.firings, err = history.NewStore(a.cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	store := schedule.NewStore(a.cfg.Schedule.StorePath)
	a.schedule = schedule.NewService(store, a.chime, a.haClient, a.firings)

	a.detector = wake.NewDetector(a.cfg, gate, nil, a.selfAudioActive)

	a.calendar = calendar.NewPoller(a.cfg.Calendar, a.schedule)

	a.pipelines["pulse"] = NewPulsePipeline(nil, func(ctx context.Context) error {
		return a.chime.PlayChime(ctx)
	})
	a.pipelines["homeassistant"] = NewRemotePipeline(a.haClient)

	// Self-audio transitions invalidate in-flight detection sessions
	a.chime.SetOnActivity(func(active bool) {
		a.detector.BumpContext("local playback changed")
	})
	a.telemetry.SetOnChange(func(playing bool) {
		a.detector.BumpContext("remote playback changed")
	})

	return nil
}

// SetTurnHandler installs the conversation flow for the pulse pipeline
func (a *App) SetTurnHandler(handler TurnHandler) {
	a.pipelines["pulse"] = NewPulsePipeline(handler, func(ctx context.Context) error {
		return a.chime.PlayChime(ctx)
	})
}

// selfAudioActive combines the local playback depth with remote telemetry
func (a *App) selfAudioActive() bool {
	return a.chime.SelfAudioActive() || a.telemetry.Playing()
}

// earmuffsEnabled reports the mute toggle state
func (a *App) earmuffsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.earmuffs
}

// ToggleEarmuffs flips the mute toggle and invalidates the current session
func (a *App) ToggleEarmuffs() bool {
	a.mu.Lock()
	a.earmuffs = !a.earmuffs
	enabled := a.earmuffs
	a.mu.Unlock()

	a.detector.BumpContext("earmuffs toggled")
	a.logger.Info("Earmuffs toggled", "enabled", enabled)
	return enabled
}

// Run starts every component and blocks in the wake loop until ctx is
// cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.schedule.Start(); err != nil {
		return fmt.Errorf("failed to start schedule service: %w", err)
	}

	a.schedule.SetOnActiveChanged(a.onActiveEvent)

	if err := a.capture.Start(ctx); err != nil {
		return fmt.Errorf("failed to start microphone capture: %w", err)
	}

	go a.telemetry.Run(ctx)
	go a.calendar.Run(ctx)
	go config.Watch(ctx, a.cfg.Path(), a.onConfigReload)

	if err := a.registerHotkey(ctx); err != nil {
		a.logger.Warn("Failed to register earmuffs hotkey", "error", err)
	}

	a.logger.Info("Pulse daemon running",
		"models", a.cfg.Wake.Models, "sensitivity", a.cfg.Wake.Sensitivity)

	a.wakeLoop(ctx)

	a.shutdown()
	return nil
}

// wakeLoop waits for wake words and dispatches conversation turns
func (a *App) wakeLoop(ctx context.Context) {
	for {
		model, err := a.detector.WaitForWakeWord(ctx, a.earmuffsEnabled)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("Wake detection failed", "error", err)
			continue
		}

		a.handleTurn(ctx, model)
	}
}

// handleTurn runs one conversation turn: ringing audio is paused for its
// duration and resumed afterwards, and the state machine tracks progress.
func (a *App) handleTurn(ctx context.Context, model string) {
	pipelineName := a.cfg.PipelineFor(model)
	pipeline, ok := a.pipelines[pipelineName]
	if !ok {
		a.logger.Error("No pipeline registered for wake word",
			"model", model, "pipeline", pipelineName)
		return
	}

	a.state.Transition(StateListening)

	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	a.schedule.PauseActiveAudio(turnCtx)
	defer a.schedule.ResumeActiveAudio(context.Background())

	a.state.Transition(StateProcessing)
	if err := pipeline.HandleTurn(turnCtx, model); err != nil {
		a.logger.Error("Conversation turn failed",
			"model", model, "pipeline", pipelineName, "error", err)
		a.state.Transition(StateError)
		a.state.Reset()
		return
	}

	a.state.Transition(StateIdle)
}

// onActiveEvent reacts to firing and stopping events
func (a *App) onActiveEvent(eventType schedule.EventType, payload *schedule.ActivePayload) {
	if payload == nil {
		return
	}
	a.logger.Info("Event state changed",
		"type", eventType, "state", payload.State, "reason", payload.Reason,
		"label", payload.Event.Label)
}

// onConfigReload applies a changed configuration file. Only the settings that
// can take effect without a restart are applied.
func (a *App) onConfigReload(cfg *config.Config) {
	a.mu.Lock()
	a.cfg.Wake.Sensitivity = cfg.Wake.Sensitivity
	a.cfg.Wake.Routing = cfg.Wake.Routing
	a.cfg.Wake.Default = cfg.Wake.Default
	a.mu.Unlock()

	// The detector bumps its context if the value actually changed
	a.detector.SetSensitivity(cfg.Wake.Sensitivity)
	a.logger.Info("Configuration reloaded")
}

// registerHotkey binds the global earmuffs toggle (Ctrl+Shift+M). Skipped on
// macOS where the hotkey library is unreliable under CGO.
func (a *App) registerHotkey(ctx context.Context) error {
	if runtime.GOOS == "darwin" {
		a.logger.Info("Earmuffs hotkey disabled on macOS")
		return nil
	}

	a.hotkey = hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeyM)
	if err := a.hotkey.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				a.hotkey.Unregister()
				return
			case <-a.hotkey.Keydown():
				a.ToggleEarmuffs()
			}
		}
	}()
	return nil
}

// shutdown tears components down in reverse dependency order
func (a *App) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.schedule.Stop(stopCtx)

	if err := a.capture.Close(); err != nil {
		a.logger.Warn("Failed to close microphone capture", "error", err)
	}
	if err := a.firings.Close(); err != nil {
		a.logger.Warn("Failed to close history store", "error", err)
	}

	a.logger.Info("Pulse daemon stopped")
}

// Schedule exposes the schedule service for CLI subcommands
func (a *App) Schedule() *schedule.Service {
	return a.schedule
}

// State exposes the assistant state machine
func (a *App) State() *StateMachine {
	return a.state
}
