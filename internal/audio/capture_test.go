package audio

import (
	"bytes"
	"context"
	"testing"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// newIdleCapture builds a capture with no PortAudio state, so Close exercises
// only the channel and bookkeeping paths.
func newIdleCapture(buffered int) *Capture {
	return &Capture{
		logger: logging.New("audio.capture"),
		chunks: make(chan []byte, buffered),
	}
}

func TestCapture_CloseLeavesChunkChannelOpen(t *testing.T) {
	c := newIdleCapture(2)
	c.chunks <- []byte{1, 2}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	chunk, err := c.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("ReadChunk() after Close error = %v", err)
	}
	if !bytes.Equal(chunk, []byte{1, 2}) {
		t.Errorf("ReadChunk() = %v, want [1 2]", chunk)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadChunk(ctx); err == nil {
		t.Error("ReadChunk() with cancelled context should fail")
	}

	// A capture loop racing Close must be able to finish its send
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("send after Close panicked: %v", r)
		}
	}()
	c.chunks <- []byte{3, 4}
}

func TestCapture_ReadChunkHonorsContext(t *testing.T) {
	c := newIdleCapture(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.ReadChunk(ctx); err != context.Canceled {
		t.Errorf("ReadChunk() error = %v, want context.Canceled", err)
	}
}
