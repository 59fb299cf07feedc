// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     wake
// Description: Wake word detector with context-versioned sessions
// License:     MIT
// ============================================================================

package wake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

const (
	// suppressedPollInterval is the re-check cadence while detection is
	// suppressed by earmuffs or self-audio
	suppressedPollInterval = 200 * time.Millisecond

	// sessionRetryDelay spaces out fresh sessions after a hard failure
	sessionRetryDelay = 1 * time.Second

	// Trigger thresholds per user sensitivity preference; zero means the
	// endpoint default
	thresholdLow  = 5
	thresholdHigh = 2

	// selfAudioThresholdFloor is the minimum threshold enforced while
	// self-audio is (or was just) active, so a sensitive user setting cannot
	// defeat the self-audio guard
	selfAudioThresholdFloor = 4
)

// errContextChanged aborts an in-flight session when the context version was
// bumped mid-stream
var errContextChanged = errors.New("wake context changed")

// ChunkSource delivers fixed-duration PCM chunks from the microphone
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}

// Detector manages concurrent streaming detection sessions against the
// configured wake endpoints. A monotonically-incrementing context version
// invalidates in-flight sessions when suppression-relevant state changes, so
// a sensitivity change or the start of the assistant's own speech takes
// effect within one audio chunk's latency.
type Detector struct {
	mu     sync.RWMutex
	logger *logging.Logger

	cfg  *config.Config
	mic  ChunkSource
	dial StreamDialer

	// selfAudio reports whether the assistant's own playback is audible,
	// locally or via remote telemetry
	selfAudio func() bool

	sensitivity string
	version     atomic.Uint64
}

// NewDetector creates a wake detector. A nil dialer uses the WebSocket
// client; a nil selfAudio never suppresses.
func NewDetector(cfg *config.Config, mic ChunkSource, dial StreamDialer, selfAudio func() bool) *Detector {
	if dial == nil {
		dial = NewWSClient
	}
	if selfAudio == nil {
		selfAudio = func() bool { return false }
	}
	return &Detector{
		logger:      logging.New("wake"),
		cfg:         cfg,
		mic:         mic,
		dial:        dial,
		selfAudio:   selfAudio,
		sensitivity: cfg.Wake.Sensitivity,
	}
}

// ContextVersion returns the current context version
func (d *Detector) ContextVersion() uint64 {
	return d.version.Load()
}

// BumpContext invalidates any in-flight detection session
func (d *Detector) BumpContext(reason string) {
	v := d.version.Add(1)
	d.logger.Debug("Wake context bumped", "version", v, "reason", reason)
}

// SetSensitivity updates the user sensitivity preference and invalidates any
// in-flight session so the new threshold applies immediately
func (d *Detector) SetSensitivity(sensitivity string) {
	d.mu.Lock()
	changed := d.sensitivity != sensitivity
	d.sensitivity = sensitivity
	d.mu.Unlock()

	if changed {
		d.BumpContext("sensitivity changed")
	}
}

// threshold maps the sensitivity preference to a trigger threshold, applying
// the self-audio floor when requested. Zero means the endpoint default.
func (d *Detector) threshold(selfAudioActive bool) int {
	d.mu.RLock()
	sensitivity := d.sensitivity
	d.mu.RUnlock()

	var t int
	switch sensitivity {
	case "low":
		t = thresholdLow
	case "high":
		t = thresholdHigh
	default:
		t = 0
	}

	if selfAudioActive && t < selfAudioThresholdFloor {
		t = selfAudioThresholdFloor
	}
	return t
}

// WaitForWakeWord blocks until a wake word is detected and returns its model
// name. While earmuffs are enabled or self-audio is active, detection is
// suppressed entirely (no session runs) and the state is re-checked on a
// short poll. Returns the context error when ctx is cancelled first.
func (d *Detector) WaitForWakeWord(ctx context.Context, earmuffs func() bool) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if (earmuffs != nil && earmuffs()) || d.selfAudio() {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(suppressedPollInterval):
			}
			continue
		}

		model, err := d.runSession(ctx)
		if err == nil {
			d.logger.Info("Wake word detected", "model", model)
			return model, nil
		}
		if errors.Is(err, errContextChanged) {
			d.logger.Debug("Detection session restarted on context change")
			continue
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		d.logger.Warn("Detection session failed, retrying", "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sessionRetryDelay):
		}
	}
}
