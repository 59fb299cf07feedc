// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     schedule
// Description: Playback handle owning one active event's audible side effect
// License:     MIT
// ============================================================================

package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

const (
	// beepRampDuration is how long the beep loop ramps volume to full
	beepRampDuration = 15 * time.Second

	// beepInterval is the cadence between chimes
	beepInterval = 800 * time.Millisecond

	// beepCeiling hard-stops the loop regardless of acknowledgement. It is
	// deliberately redundant with the service's own auto-stop watchdog so a
	// bug in either path cannot leave audio ringing indefinitely.
	beepCeiling = 60 * time.Second

	// beepPollInterval is how often the loop checks pause state and timing
	beepPollInterval = 50 * time.Millisecond

	// minRampStart is the floor for the computed ramp start volume
	minRampStart = 0.1
)

// SoundPlayer is the local audio output used for beep playback. Volume is
// normalized to [0.0, 1.0].
type SoundPlayer interface {
	PlayChime(ctx context.Context) error
	Volume() (float64, error)
	SetVolume(level float64) error
}

// DeviceController issues service calls against a remote device-control
// backend, used for music-mode playback.
type DeviceController interface {
	CallService(ctx context.Context, domain, service string, payload map[string]interface{}) error
}

// Handle owns the audible side effect of exactly one active event from start
// to stop. Not persisted; constructed fresh each time an event fires.
type Handle struct {
	mu     sync.Mutex
	logger *logging.Logger

	eventID  string
	playback PlaybackConfig
	sound    SoundPlayer
	device   DeviceController

	// mode actually running; music may fall back to beep for one activation
	activeMode PlaybackMode
	paused     bool
	started    bool
	stopped    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHandle creates a playback handle for one firing event
func NewHandle(eventID string, playback PlaybackConfig, sound SoundPlayer, device DeviceController) *Handle {
	return &Handle{
		logger:   logging.New("schedule.playback").With("event", eventID),
		eventID:  eventID,
		playback: playback,
		sound:    sound,
		device:   device,
		done:     make(chan struct{}),
	}
}

// Start begins playback. Music mode issues a play_media call against the
// device controller; if that fails the handle falls back to the beep loop for
// this activation only (the stored event config is not altered).
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started || h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	if h.playback.Mode == PlaybackMusic && h.device != nil && h.playback.Music != nil {
		music := h.playback.Music
		err := h.device.CallService(ctx, "media_player", "play_media", map[string]interface{}{
			"entity_id":          music.Entity,
			"media_content_id":   music.Source,
			"media_content_type": music.ContentType,
		})
		if err == nil {
			h.mu.Lock()
			if h.stopped {
				// Stop ran while play_media was in flight; it saw no active
				// mode, so the remote stop is on us
				h.mu.Unlock()
				stopErr := h.device.CallService(ctx, "media_player", "media_stop", map[string]interface{}{
					"entity_id": music.Entity,
				})
				if stopErr != nil {
					h.logger.Warn("Failed to stop remote playback", "error", stopErr)
				}
				return nil
			}
			h.activeMode = PlaybackMusic
			h.mu.Unlock()
			h.logger.Debug("Music playback started", "entity", music.Entity)
			return nil
		}
		h.logger.Warn("Music playback failed, falling back to beep", "error", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		cancel()
		return nil
	}
	h.activeMode = PlaybackBeep
	h.cancel = cancel
	h.mu.Unlock()

	go h.beepLoop(loopCtx)
	return nil
}

// beepLoop rings the chime on a fixed cadence, ramping volume from half the
// captured level to full over the ramp window. Pause suspends both the ramp
// and the ceiling clock. The original volume is always restored on exit,
// including cancellation mid-ramp.
func (h *Handle) beepLoop(ctx context.Context) {
	defer close(h.done)

	originalVolume, err := h.sound.Volume()
	if err != nil {
		h.logger.Warn("Failed to read output volume, using full", "error", err)
		originalVolume = 1.0
	}
	defer func() {
		if err := h.sound.SetVolume(originalVolume); err != nil {
			h.logger.Warn("Failed to restore output volume", "error", err)
		}
	}()

	rampStart := originalVolume / 2
	if rampStart < minRampStart {
		rampStart = minRampStart
	}

	// active is ring time excluding paused intervals; driving the ramp, the
	// cadence and the ceiling off the same clock keeps pause consistent
	// across all three
	var active time.Duration
	var sinceBeep = beepInterval // fire the first chime immediately

	ticker := time.NewTicker(beepPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		paused := h.paused
		h.mu.Unlock()
		if paused {
			continue
		}

		active += beepPollInterval
		sinceBeep += beepPollInterval

		if active >= beepCeiling {
			h.logger.Debug("Beep loop hit hard ceiling")
			return
		}

		level := 1.0
		if active < beepRampDuration {
			level = rampStart + (1.0-rampStart)*(float64(active)/float64(beepRampDuration))
		}
		if err := h.sound.SetVolume(level); err != nil {
			h.logger.Debug("Failed to set ramp volume", "error", err)
		}

		if sinceBeep >= beepInterval {
			sinceBeep = 0
			if err := h.sound.PlayChime(ctx); err != nil && ctx.Err() == nil {
				h.logger.Debug("Chime playback failed", "error", err)
			}
		}
	}
}

// Pause suspends playback. Idempotent: pausing an already-paused handle does
// not re-issue the external service call.
func (h *Handle) Pause(ctx context.Context) error {
	h.mu.Lock()
	if h.paused || h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.paused = true
	mode := h.activeMode
	h.mu.Unlock()

	if mode == PlaybackMusic && h.device != nil && h.playback.Music != nil {
		return h.device.CallService(ctx, "media_player", "media_pause", map[string]interface{}{
			"entity_id": h.playback.Music.Entity,
		})
	}
	return nil
}

// Resume continues playback after a pause
func (h *Handle) Resume(ctx context.Context) error {
	h.mu.Lock()
	if !h.paused || h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.paused = false
	mode := h.activeMode
	h.mu.Unlock()

	if mode == PlaybackMusic && h.device != nil && h.playback.Music != nil {
		return h.device.CallService(ctx, "media_player", "media_play", map[string]interface{}{
			"entity_id": h.playback.Music.Entity,
		})
	}
	return nil
}

// Stop tears playback down. For the beep loop it cancels the loop and waits
// for it to restore the original volume before returning; for music mode it
// stops the remote player. Safe to call more than once.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	mode := h.activeMode
	cancel := h.cancel
	h.mu.Unlock()

	if mode == PlaybackMusic && h.device != nil && h.playback.Music != nil {
		err := h.device.CallService(ctx, "media_player", "media_stop", map[string]interface{}{
			"entity_id": h.playback.Music.Entity,
		})
		if err != nil {
			h.logger.Warn("Failed to stop remote playback", "error", err)
		}
		return nil
	}

	if cancel != nil {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			h.logger.Warn("Timed out waiting for beep loop teardown")
		}
	}
	return nil
}

// Mode returns the playback mode actually running for this activation
func (h *Handle) Mode() PlaybackMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeMode
}
