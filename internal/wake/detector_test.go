package wake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
)

// fakeMic paces out dummy PCM chunks
type fakeMic struct {
	interval time.Duration
}

func (m *fakeMic) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.interval):
		return make([]byte, 960), nil
	}
}

// fakeStream is a scripted detection stream
type fakeStream struct {
	mu          sync.Mutex
	model       string
	chunks      int
	detectAfter int   // positive: report detection after this many chunks
	sendErr     error // returned by every SendChunk
	readErr     error // delivered once through ReadResult
	closed      bool

	detected chan Result
	failed   chan error
}

func newFakeStream(model string) *fakeStream {
	return &fakeStream{
		model:    model,
		detected: make(chan Result, 1),
		failed:   make(chan error, 1),
	}
}

func (f *fakeStream) Connect(ctx context.Context) error  { return nil }
func (f *fakeStream) Describe(ctx context.Context) error { return nil }
func (f *fakeStream) StartDetection(ctx context.Context, model string, threshold int) error {
	return nil
}
func (f *fakeStream) StartAudio(ctx context.Context, format AudioFormat) error { return nil }
func (f *fakeStream) EndAudio() error                                          { return nil }

func (f *fakeStream) SendChunk(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.chunks++
	if f.detectAfter > 0 && f.chunks == f.detectAfter {
		f.detected <- Result{Detected: true, Model: f.model}
	}
	if f.readErr != nil && f.chunks == 1 {
		f.failed <- f.readErr
	}
	return nil
}

func (f *fakeStream) ReadResult(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-f.detected:
		return r, nil
	case err := <-f.failed:
		return Result{}, err
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out scripted streams and counts sessions by dial calls
type fakeDialer struct {
	mu      sync.Mutex
	streams map[string][]*fakeStream
	dials   int
	factory func(model string) *fakeStream
}

func newFakeDialer(factory func(model string) *fakeStream) *fakeDialer {
	return &fakeDialer{
		streams: make(map[string][]*fakeStream),
		factory: factory,
	}
}

func (d *fakeDialer) dial(addr, model string) StreamClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	st := d.factory(model)
	d.streams[model] = append(d.streams[model], st)
	return st
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func twoModelConfig() *config.Config {
	cfg := config.Default()
	cfg.Wake.Models = []string{"ok_pulse", "hey_casa"}
	cfg.Wake.Default = "pulse"
	cfg.Wake.Routing = map[string]string{"hey_casa": "homeassistant"}
	cfg.Wake.Endpoints = map[string]config.EndpointConfig{
		"pulse":         {Host: "127.0.0.1", Port: 10400},
		"homeassistant": {Host: "10.0.0.5", Port: 10400},
	}
	return cfg
}

func TestThresholdMapping(t *testing.T) {
	tests := []struct {
		sensitivity string
		selfAudio   bool
		want        int
	}{
		{"low", false, 5},
		{"high", false, 2},
		{"normal", false, 0},
		{"low", true, 5},  // already above the floor
		{"high", true, 4}, // floored
		{"normal", true, 4},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.Wake.Sensitivity = tt.sensitivity
		d := NewDetector(cfg, &fakeMic{interval: time.Millisecond}, nil, nil)
		if got := d.threshold(tt.selfAudio); got != tt.want {
			t.Errorf("threshold(%q, selfAudio=%v) = %d, want %d",
				tt.sensitivity, tt.selfAudio, got, tt.want)
		}
	}
}

func TestSetSensitivityBumpsContext(t *testing.T) {
	cfg := config.Default()
	d := NewDetector(cfg, &fakeMic{interval: time.Millisecond}, nil, nil)

	v := d.ContextVersion()
	d.SetSensitivity("high")
	if d.ContextVersion() != v+1 {
		t.Error("changing sensitivity must bump the context version")
	}

	d.SetSensitivity("high")
	if d.ContextVersion() != v+1 {
		t.Error("setting an unchanged sensitivity must not bump the version")
	}
}

func TestSession_FirstDetectionWins(t *testing.T) {
	dialer := newFakeDialer(func(model string) *fakeStream {
		st := newFakeStream(model)
		if model == "hey_casa" {
			st.detectAfter = 3
		}
		return st
	})

	d := NewDetector(twoModelConfig(), &fakeMic{interval: 2 * time.Millisecond}, dialer.dial, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	model, err := d.runSession(ctx)
	if err != nil {
		t.Fatalf("runSession() error = %v", err)
	}
	if model != "hey_casa" {
		t.Errorf("detected model = %q, want hey_casa", model)
	}

	// All streams torn down regardless of which one fired
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	for model, streams := range dialer.streams {
		for _, st := range streams {
			if !st.isClosed() {
				t.Errorf("stream for %q not closed after session end", model)
			}
		}
	}
}

func TestSession_StreamFailureIsolated(t *testing.T) {
	dialer := newFakeDialer(func(model string) *fakeStream {
		st := newFakeStream(model)
		switch model {
		case "ok_pulse":
			st.sendErr = errors.New("connection reset")
		case "hey_casa":
			st.detectAfter = 4
		}
		return st
	})

	d := NewDetector(twoModelConfig(), &fakeMic{interval: 2 * time.Millisecond}, dialer.dial, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	model, err := d.runSession(ctx)
	if err != nil {
		t.Fatalf("one failing stream must not abort the session: %v", err)
	}
	if model != "hey_casa" {
		t.Errorf("detected model = %q, want hey_casa", model)
	}
}

func TestSession_AllStreamsFailed(t *testing.T) {
	dialer := newFakeDialer(func(model string) *fakeStream {
		st := newFakeStream(model)
		st.sendErr = errors.New("connection reset")
		return st
	})

	d := NewDetector(twoModelConfig(), &fakeMic{interval: 2 * time.Millisecond}, dialer.dial, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := d.runSession(ctx); err == nil {
		t.Fatal("session with no surviving streams must fail")
	}
}

func TestSession_ContextChangeRestartsOnce(t *testing.T) {
	var mu sync.Mutex
	detectSecondSession := false

	dialer := newFakeDialer(nil)
	dialer.factory = func(model string) *fakeStream {
		st := newFakeStream(model)
		mu.Lock()
		if detectSecondSession && model == "ok_pulse" {
			st.detectAfter = 1
		}
		mu.Unlock()
		return st
	}

	d := NewDetector(twoModelConfig(), &fakeMic{interval: 2 * time.Millisecond}, dialer.dial, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	var model string
	var waitErr error
	go func() {
		defer close(done)
		model, waitErr = d.WaitForWakeWord(ctx, nil)
	}()

	// Let the first session open its two streams, then invalidate it; the
	// second session is scripted to detect immediately.
	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("first session never opened its streams")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	detectSecondSession = true
	mu.Unlock()
	d.BumpContext("test")

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForWakeWord did not return after context restart")
	}

	if waitErr != nil {
		t.Fatalf("WaitForWakeWord error = %v", waitErr)
	}
	if model != "ok_pulse" {
		t.Errorf("model = %q, want ok_pulse", model)
	}
	// Exactly one restart: two streams in session one, two in session two
	if got := dialer.dialCount(); got != 4 {
		t.Errorf("dial count = %d, want 4 (one restarted session)", got)
	}
}

func TestWaitForWakeWord_SuppressedByEarmuffs(t *testing.T) {
	dialer := newFakeDialer(func(model string) *fakeStream {
		st := newFakeStream(model)
		st.detectAfter = 1
		return st
	})

	var mu sync.Mutex
	earmuffsOn := true
	earmuffs := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return earmuffsOn
	}

	d := NewDetector(twoModelConfig(), &fakeMic{interval: 2 * time.Millisecond}, dialer.dial, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.WaitForWakeWord(ctx, earmuffs)
	}()

	// No session may start while earmuffs are on
	time.Sleep(500 * time.Millisecond)
	if dialer.dialCount() != 0 {
		t.Error("detection session ran while earmuffs were enabled")
	}

	mu.Lock()
	earmuffsOn = false
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("detection never resumed after earmuffs were disabled")
	}
	if dialer.dialCount() == 0 {
		t.Error("no session ran after suppression ended")
	}
}

func TestWaitForWakeWord_ShutdownWins(t *testing.T) {
	dialer := newFakeDialer(func(model string) *fakeStream {
		return newFakeStream(model) // never detects
	})

	d := NewDetector(twoModelConfig(), &fakeMic{interval: 2 * time.Millisecond}, dialer.dial, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	if _, err := d.WaitForWakeWord(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForWakeWord error = %v, want context.Canceled", err)
	}
}
