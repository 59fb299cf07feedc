// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     homeassistant
// Description: WebSocket telemetry tracking remote media playback state
// License:     MIT
// ============================================================================

package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

const reconnectDelay = 5 * time.Second

// Telemetry subscribes to Home Assistant state changes over its WebSocket
// API and tracks whether the watched media player is currently playing. The
// wake detector uses this as a remote "now playing" self-audio signal.
type Telemetry struct {
	mu     sync.RWMutex
	logger *logging.Logger

	url         string
	token       string
	mediaPlayer string

	playing  bool
	onChange func(playing bool)
}

type haMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type haStateChange struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string `json:"entity_id"`
		NewState *struct {
			State string `json:"state"`
		} `json:"new_state"`
	} `json:"data"`
}

// NewTelemetry creates a telemetry watcher for the configured media player
func NewTelemetry(cfg config.HomeAssistantConfig) *Telemetry {
	return &Telemetry{
		logger:      logging.New("homeassistant.telemetry"),
		url:         cfg.WebSocketURL,
		token:       cfg.Token,
		mediaPlayer: cfg.MediaPlayer,
	}
}

// SetOnChange registers a callback fired on playing-state transitions
func (t *Telemetry) SetOnChange(cb func(playing bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = cb
}

// Playing reports whether the watched media player is currently playing
func (t *Telemetry) Playing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.playing
}

// Run maintains the subscription until ctx is cancelled, reconnecting with a
// fixed delay after connection loss.
func (t *Telemetry) Run(ctx context.Context) {
	for {
		if err := t.watch(ctx); err != nil && ctx.Err() == nil {
			t.logger.Warn("Telemetry connection lost, reconnecting", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (t *Telemetry) watch(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	// Close the connection when ctx ends so the read loop unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := t.authenticate(conn); err != nil {
		return err
	}

	subscribe := map[string]interface{}{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	t.logger.Info("Telemetry subscribed", "media_player", t.mediaPlayer)

	for {
		var msg haMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if msg.Type != "event" || msg.Event == nil {
			continue
		}

		var change haStateChange
		if err := json.Unmarshal(msg.Event, &change); err != nil {
			continue
		}
		if change.Data.EntityID != t.mediaPlayer || change.Data.NewState == nil {
			continue
		}

		t.setPlaying(change.Data.NewState.State == "playing")
	}
}

func (t *Telemetry) authenticate(conn *websocket.Conn) error {
	var hello haMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	auth := map[string]interface{}{"type": "auth", "access_token": t.token}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var result haMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected: %s", result.Type)
	}
	return nil
}

func (t *Telemetry) setPlaying(playing bool) {
	t.mu.Lock()
	changed := t.playing != playing
	t.playing = playing
	cb := t.onChange
	t.mu.Unlock()

	if changed {
		t.logger.Debug("Remote playback state changed", "playing", playing)
		if cb != nil {
			cb(playing)
		}
	}
}
