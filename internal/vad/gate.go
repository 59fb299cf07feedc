// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     vad
// Description: Speech gate filtering silent chunks out of a mic stream
// License:     MIT
// ============================================================================

package vad

import (
	"context"
	"time"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// DefaultHangover keeps the gate open after the last detected speech so
// trailing syllables are not cut off
const DefaultHangover = 1 * time.Second

// ChunkSource delivers PCM chunks, typically the microphone capture
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}

// SpeechDetector classifies one PCM chunk
type SpeechDetector interface {
	Process(chunk []byte) (bool, error)
}

// Gate wraps a chunk source and suppresses chunks with no speech in or near
// them. A detector failure fails open: the chunk is forwarded, because losing
// wake detections is worse than forwarding silence.
type Gate struct {
	logger *logging.Logger

	source   ChunkSource
	detector SpeechDetector
	hangover time.Duration

	lastSpeech time.Time
}

// NewGate creates a speech gate over the source. A zero hangover uses the
// default.
func NewGate(source ChunkSource, detector SpeechDetector, hangover time.Duration) *Gate {
	if hangover <= 0 {
		hangover = DefaultHangover
	}
	return &Gate{
		logger:   logging.New("vad.gate"),
		source:   source,
		detector: detector,
		hangover: hangover,
	}
}

// ReadChunk blocks until the next chunk containing speech (or within the
// hangover window of the last speech) arrives.
func (g *Gate) ReadChunk(ctx context.Context) ([]byte, error) {
	for {
		chunk, err := g.source.ReadChunk(ctx)
		if err != nil {
			return nil, err
		}

		active, err := g.detector.Process(chunk)
		if err != nil {
			g.logger.Debug("Speech detection failed, forwarding chunk", "error", err)
			return chunk, nil
		}

		if active {
			g.lastSpeech = time.Now()
			return chunk, nil
		}
		if time.Since(g.lastSpeech) < g.hangover {
			return chunk, nil
		}
	}
}
