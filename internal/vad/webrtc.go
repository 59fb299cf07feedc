// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     vad
// Description: WebRTC voice activity detection over PCM chunks
// License:     MIT
// ============================================================================

package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// Config holds VAD settings
type Config struct {
	SampleRate int
	Mode       int // aggressiveness 0-3
}

// WebRTCVAD detects speech in 16-bit little-endian PCM chunks
type WebRTCVAD struct {
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
}

// NewWebRTCVAD creates a VAD for the given sample rate and aggressiveness
func NewWebRTCVAD(cfg Config) (*WebRTCVAD, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD: %w", err)
	}

	mode := cfg.Mode
	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set VAD mode: %w", err)
	}

	switch cfg.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("invalid sample rate %d, must be 8/16/32/48 kHz", cfg.SampleRate)
	}

	return &WebRTCVAD{
		vad:        vad,
		sampleRate: cfg.SampleRate,
		mode:       mode,
	}, nil
}

// Process reports whether any 10ms frame within the PCM chunk contains
// speech. Chunks shorter than one frame are zero-padded.
func (w *WebRTCVAD) Process(chunk []byte) (bool, error) {
	frameBytes := w.sampleRate / 100 * 2 // 10ms of 16-bit samples

	if len(chunk) < frameBytes {
		padded := make([]byte, frameBytes)
		copy(padded, chunk)
		chunk = padded
	}

	for i := 0; i+frameBytes <= len(chunk); i += frameBytes {
		active, err := w.vad.Process(w.sampleRate, chunk[i:i+frameBytes])
		if err != nil {
			return false, fmt.Errorf("VAD processing failed: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// SetMode changes the aggressiveness mode (0-3)
func (w *WebRTCVAD) SetMode(mode int) error {
	if mode < 0 || mode > 3 {
		return fmt.Errorf("mode must be between 0 and 3")
	}
	if err := w.vad.SetMode(mode); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	w.mode = mode
	return nil
}

// Mode returns the current aggressiveness mode
func (w *WebRTCVAD) Mode() int {
	return w.mode
}

// SampleRate returns the configured sample rate
func (w *WebRTCVAD) SampleRate() int {
	return w.sampleRate
}
