// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     audio
// Description: Chime synthesis and playback with a software gain stage
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

const (
	chimeSampleRate = 22050.0
	chimeBufferSize = 1024

	// Two-tone chime: a short low note into a longer high note
	chimeLowFreq      = 880.0
	chimeHighFreq     = 1174.66
	chimeToneDuration = 0.15 // seconds per tone
)

// ChimePlayer plays the alarm chime through the default output device. Volume
// is a software gain applied to the synthesized samples, so no external mixer
// is touched and the ramp in the beep loop cannot disturb other applications.
// A playback depth counter reports when self-audio is audible, feeding the
// wake detector's suppression.
type ChimePlayer struct {
	mu     sync.RWMutex
	logger *logging.Logger

	gain    float64
	samples []float32 // chime at unit gain, synthesized once

	depth      atomic.Int32
	onActivity func(active bool)
}

// NewChimePlayer creates a chime player at full gain
func NewChimePlayer() *ChimePlayer {
	return &ChimePlayer{
		logger:  logging.New("audio.chime"),
		gain:    1.0,
		samples: synthesizeChime(),
	}
}

// SetOnActivity registers a callback fired when self-audio starts (true) and
// when the last concurrent playback ends (false).
func (p *ChimePlayer) SetOnActivity(cb func(active bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onActivity = cb
}

// Volume returns the current software gain in [0.0, 1.0]
func (p *ChimePlayer) Volume() (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gain, nil
}

// SetVolume sets the software gain, clamped to [0.0, 1.0]
func (p *ChimePlayer) SetVolume(level float64) error {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	p.mu.Lock()
	p.gain = level
	p.mu.Unlock()
	return nil
}

// SelfAudioActive reports whether any self-audio playback is in flight
func (p *ChimePlayer) SelfAudioActive() bool {
	return p.depth.Load() > 0
}

// EnterPlayback marks the start of one self-audio playback (chime, speech).
// Call ExitPlayback when it ends.
func (p *ChimePlayer) EnterPlayback() {
	if p.depth.Add(1) == 1 {
		p.notifyActivity(true)
	}
}

// ExitPlayback marks the end of one self-audio playback
func (p *ChimePlayer) ExitPlayback() {
	if p.depth.Add(-1) == 0 {
		p.notifyActivity(false)
	}
}

func (p *ChimePlayer) notifyActivity(active bool) {
	p.mu.RLock()
	cb := p.onActivity
	p.mu.RUnlock()
	if cb != nil {
		cb(active)
	}
}

// PlayChime plays the chime once at the current gain. Blocks until the chime
// finishes or ctx is cancelled.
func (p *ChimePlayer) PlayChime(ctx context.Context) error {
	p.mu.RLock()
	gain := p.gain
	source := p.samples
	p.mu.RUnlock()

	p.EnterPlayback()
	defer p.ExitPlayback()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]float32, chimeBufferSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, chimeSampleRate, chimeBufferSize, &buffer)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	for position := 0; position < len(source); position += chimeBufferSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for i := 0; i < chimeBufferSize; i++ {
			if position+i < len(source) {
				buffer[i] = source[position+i] * float32(gain)
			} else {
				buffer[i] = 0
			}
		}

		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write chime samples: %w", err)
		}
	}

	return nil
}

// synthesizeChime renders the two-tone chime at unit gain with a linear decay
// envelope on each tone
func synthesizeChime() []float32 {
	toneSamples := int(chimeSampleRate * chimeToneDuration)
	out := make([]float32, 0, toneSamples*2)

	for _, freq := range []float64{chimeLowFreq, chimeHighFreq} {
		for i := 0; i < toneSamples; i++ {
			t := float64(i) / chimeSampleRate
			envelope := 1.0 - float64(i)/float64(toneSamples)
			sample := math.Sin(2*math.Pi*freq*t) * envelope * 0.8
			out = append(out, float32(sample))
		}
	}
	return out
}
