package audio

import (
	"sync"
	"testing"
)

func TestChimePlayer_VolumeClamped(t *testing.T) {
	p := NewChimePlayer()

	if err := p.SetVolume(1.5); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	if v, _ := p.Volume(); v != 1.0 {
		t.Errorf("Volume = %v, want clamped to 1.0", v)
	}

	if err := p.SetVolume(-0.2); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	if v, _ := p.Volume(); v != 0.0 {
		t.Errorf("Volume = %v, want clamped to 0.0", v)
	}

	p.SetVolume(0.4)
	if v, _ := p.Volume(); v != 0.4 {
		t.Errorf("Volume = %v, want 0.4", v)
	}
}

func TestChimePlayer_PlaybackDepth(t *testing.T) {
	p := NewChimePlayer()

	var mu sync.Mutex
	var transitions []bool
	p.SetOnActivity(func(active bool) {
		mu.Lock()
		transitions = append(transitions, active)
		mu.Unlock()
	})

	if p.SelfAudioActive() {
		t.Fatal("fresh player must report no self audio")
	}

	// Nested playbacks fire the callback only on the 0<->n edges
	p.EnterPlayback()
	p.EnterPlayback()
	if !p.SelfAudioActive() {
		t.Error("self audio should be active with depth 2")
	}
	p.ExitPlayback()
	if !p.SelfAudioActive() {
		t.Error("self audio should still be active with depth 1")
	}
	p.ExitPlayback()
	if p.SelfAudioActive() {
		t.Error("self audio should be inactive at depth 0")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Errorf("activity transitions = %v, want [true false]", transitions)
	}
}

func TestSynthesizeChime(t *testing.T) {
	samples := synthesizeChime()

	wantLen := int(chimeSampleRate*chimeToneDuration) * 2
	if len(samples) != wantLen {
		t.Fatalf("chime length = %d samples, want %d", len(samples), wantLen)
	}

	var peak float32
	for _, s := range samples {
		if s > peak {
			peak = s
		}
		if s > 1.0 || s < -1.0 {
			t.Fatalf("sample %v out of [-1, 1]", s)
		}
	}
	if peak < 0.1 {
		t.Errorf("chime peak = %v, suspiciously quiet", peak)
	}
}
