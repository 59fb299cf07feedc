// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     audio
// Description: Microphone capture producing fixed-duration PCM chunks
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// Capture reads microphone audio and exposes it as fixed-duration 16-bit PCM
// chunks sized for the wake detection protocol.
type Capture struct {
	mu     sync.RWMutex
	logger *logging.Logger

	cfg         config.MicConfig
	stream      *portaudio.Stream
	running     bool
	initialized bool

	chunks chan []byte
}

// NewCapture initializes PortAudio and prepares a capture for the configured
// microphone format.
func NewCapture(cfg config.MicConfig) (*Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &Capture{
		logger:      logging.New("audio.capture"),
		cfg:         cfg,
		chunks:      make(chan []byte, 32),
		initialized: true,
	}, nil
}

// Start opens the input stream and begins producing chunks
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("capture already running")
	}

	frames := c.cfg.SampleRate * c.cfg.ChunkMs / 1000 * c.cfg.Channels
	buffer := make([]int16, frames)

	stream, err := c.openStream(buffer)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	c.stream = stream
	c.running = true

	go c.captureLoop(ctx, buffer)

	c.logger.Info("Microphone capture started",
		"sample_rate", c.cfg.SampleRate, "chunk_ms", c.cfg.ChunkMs, "device", c.cfg.Device)
	return nil
}

func (c *Capture) openStream(buffer []int16) (*portaudio.Stream, error) {
	rate := float64(c.cfg.SampleRate)

	if c.cfg.Device != "" && c.cfg.Device != "default" {
		device, err := findInputDevice(c.cfg.Device)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   device,
					Channels: c.cfg.Channels,
					Latency:  device.DefaultLowInputLatency,
				},
				SampleRate:      rate,
				FramesPerBuffer: len(buffer),
			}
			return portaudio.OpenStream(params, buffer)
		}
		c.logger.Warn("Configured input device not found, using default", "device", c.cfg.Device)
	}

	return portaudio.OpenDefaultStream(c.cfg.Channels, 0, rate, len(buffer), buffer)
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

// captureLoop reads frames from the stream and publishes encoded chunks. A
// full channel drops the chunk rather than blocking the audio thread.
func (c *Capture) captureLoop(ctx context.Context, buffer []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		running := c.running
		stream := c.stream
		c.mu.RUnlock()
		if !running || stream == nil {
			return
		}

		if err := stream.Read(); err != nil {
			c.mu.RLock()
			stillRunning := c.running
			c.mu.RUnlock()
			if !stillRunning {
				return
			}
			continue
		}

		chunk := make([]byte, len(buffer)*2)
		for i, sample := range buffer {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
		}

		select {
		case c.chunks <- chunk:
		default:
			c.logger.Debug("Chunk queue full, dropping one chunk")
		}
	}
}

// ReadChunk blocks until the next PCM chunk is available
func (c *Capture) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-c.chunks:
		return chunk, nil
	}
}

// Stop stops capture and closes the stream
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	if c.stream != nil {
		c.stream.Stop()
		if err := c.stream.Close(); err != nil {
			return fmt.Errorf("failed to close audio stream: %w", err)
		}
		c.stream = nil
	}
	return nil
}

// Close stops capture and releases PortAudio
func (c *Capture) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
		c.initialized = false
	}

	// The chunk channel stays open: captureLoop may still be between its
	// running check and the send, and readers unblock via ctx anyway
	return nil
}

// DeviceInfo describes one audio input device
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// ListInputDevices enumerates available input devices
func ListInputDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	defaultInput, _ := portaudio.DefaultInputDevice()
	var defaultName string
	if defaultInput != nil {
		defaultName = defaultInput.Name
	}

	var out []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			out = append(out, DeviceInfo{
				Name:              dev.Name,
				MaxInputChannels:  dev.MaxInputChannels,
				DefaultSampleRate: dev.DefaultSampleRate,
				IsDefault:         dev.Name == defaultName,
			})
		}
	}
	return out, nil
}
