package vad

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedSource struct {
	chunks [][]byte
	pos    int
}

func (s *scriptedSource) ReadChunk(ctx context.Context) ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, errors.New("out of chunks")
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

type scriptedDetector struct {
	speech []bool
	errOn  int // 1-based call index that errors; 0 = never
	calls  int
}

func (d *scriptedDetector) Process(chunk []byte) (bool, error) {
	d.calls++
	if d.errOn > 0 && d.calls == d.errOn {
		return false, errors.New("vad broken")
	}
	if d.calls-1 < len(d.speech) {
		return d.speech[d.calls-1], nil
	}
	return false, nil
}

func chunkOf(b byte) []byte { return []byte{b, b, b, b} }

func TestGate_SkipsSilence(t *testing.T) {
	source := &scriptedSource{chunks: [][]byte{chunkOf(1), chunkOf(2), chunkOf(3)}}
	detector := &scriptedDetector{speech: []bool{false, false, true}}
	gate := NewGate(source, detector, time.Hour)

	// Force the hangover window closed
	gate.lastSpeech = time.Now().Add(-2 * time.Hour)

	chunk, err := gate.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if chunk[0] != 3 {
		t.Errorf("got chunk %v, want the first speech chunk", chunk)
	}
}

func TestGate_HangoverForwardsTrailingSilence(t *testing.T) {
	source := &scriptedSource{chunks: [][]byte{chunkOf(1), chunkOf(2)}}
	detector := &scriptedDetector{speech: []bool{true, false}}
	gate := NewGate(source, detector, time.Hour)

	if _, err := gate.ReadChunk(context.Background()); err != nil {
		t.Fatalf("first ReadChunk() error = %v", err)
	}

	// Silent chunk inside the hangover window still passes
	chunk, err := gate.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("second ReadChunk() error = %v", err)
	}
	if chunk[0] != 2 {
		t.Errorf("got chunk %v, want the trailing silent chunk", chunk)
	}
}

func TestGate_FailsOpenOnDetectorError(t *testing.T) {
	source := &scriptedSource{chunks: [][]byte{chunkOf(9)}}
	detector := &scriptedDetector{errOn: 1}
	gate := NewGate(source, detector, time.Hour)
	gate.lastSpeech = time.Now().Add(-2 * time.Hour)

	chunk, err := gate.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if chunk[0] != 9 {
		t.Errorf("detector failure must forward the chunk, got %v", chunk)
	}
}

func TestGate_PropagatesSourceError(t *testing.T) {
	source := &scriptedSource{}
	gate := NewGate(source, &scriptedDetector{}, 0)

	if _, err := gate.ReadChunk(context.Background()); err == nil {
		t.Error("source errors must propagate")
	}
}
