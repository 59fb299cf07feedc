package wake

import (
	"testing"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
)

func TestGroupStreams_EachModelExactlyOnce(t *testing.T) {
	cfg := config.Default()
	cfg.Wake.Models = []string{"ok_pulse", "hey_casa", "hey_casa", "computer"}
	cfg.Wake.Default = "pulse"
	cfg.Wake.Routing = map[string]string{"hey_casa": "homeassistant"}
	cfg.Wake.Endpoints = map[string]config.EndpointConfig{
		"pulse":         {Host: "127.0.0.1", Port: 10400},
		"homeassistant": {Host: "10.0.0.5", Port: 10400},
	}

	groups := GroupStreams(cfg)

	counts := make(map[string]int)
	for _, g := range groups {
		for _, m := range g.Models {
			counts[m]++
		}
	}
	for _, model := range []string{"ok_pulse", "hey_casa", "computer"} {
		if counts[model] != 1 {
			t.Errorf("model %q appears %d times across groups, want exactly once", model, counts[model])
		}
	}
}

func TestGroupStreams_SharedEndpointGroupsTogether(t *testing.T) {
	cfg := config.Default()
	cfg.Wake.Models = []string{"ok_pulse", "computer"}
	cfg.Wake.Default = "pulse"
	cfg.Wake.Routing = nil
	cfg.Wake.Endpoints = map[string]config.EndpointConfig{
		"pulse": {Host: "127.0.0.1", Port: 10400},
	}

	groups := GroupStreams(cfg)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1 for a shared endpoint", len(groups))
	}
	if len(groups[0].Models) != 2 {
		t.Errorf("group models = %v, want both models", groups[0].Models)
	}
}

func TestGroupStreams_Deterministic(t *testing.T) {
	cfg := config.Default()
	cfg.Wake.Models = []string{"zulu", "alpha", "mike"}
	cfg.Wake.Default = "pulse"
	cfg.Wake.Routing = map[string]string{"mike": "homeassistant"}
	cfg.Wake.Endpoints = map[string]config.EndpointConfig{
		"pulse":         {Host: "127.0.0.1", Port: 10400},
		"homeassistant": {Host: "10.0.0.5", Port: 10400},
	}

	first := GroupStreams(cfg)
	for i := 0; i < 10; i++ {
		again := GroupStreams(cfg)
		if len(again) != len(first) {
			t.Fatalf("group count varies between runs: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if again[j].Endpoint != first[j].Endpoint {
				t.Fatalf("group order varies between runs")
			}
			if len(again[j].Models) != len(first[j].Models) {
				t.Fatalf("group contents vary between runs")
			}
			for k := range first[j].Models {
				if again[j].Models[k] != first[j].Models[k] {
					t.Fatalf("model order varies between runs")
				}
			}
		}
	}
}

func TestGroupStreams_SkipsUnroutedModel(t *testing.T) {
	cfg := config.Default()
	cfg.Wake.Models = []string{"ok_pulse", "lost"}
	cfg.Wake.Default = "pulse"
	cfg.Wake.Routing = map[string]string{"lost": "missing"}
	cfg.Wake.Endpoints = map[string]config.EndpointConfig{
		"pulse": {Host: "127.0.0.1", Port: 10400},
	}

	groups := GroupStreams(cfg)
	for _, g := range groups {
		for _, m := range g.Models {
			if m == "lost" {
				t.Error("model routed to a missing endpoint must be skipped")
			}
		}
	}
}
