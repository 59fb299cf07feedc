// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     wake
// Description: Grouping of wake models into per-endpoint streams
// License:     MIT
// ============================================================================

package wake

import (
	"sort"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
)

// EndpointStream groups the wake models routed to one endpoint address. The
// grouping exists for display and logging; on the wire each model still gets
// its own connection. Recomputed at the start of every session so routing
// changes take effect on the next session.
type EndpointStream struct {
	Pipeline string
	Endpoint string
	Models   []string
}

// GroupStreams resolves each configured model through the routing table and
// groups models sharing an endpoint address. Output ordering is deterministic
// (sorted by endpoint address, models sorted within each group); every
// configured model appears in exactly one group exactly once.
func GroupStreams(cfg *config.Config) []EndpointStream {
	byAddr := make(map[string]*EndpointStream)
	seen := make(map[string]bool)

	for _, model := range cfg.Wake.Models {
		if seen[model] {
			continue
		}
		seen[model] = true

		pipeline := cfg.PipelineFor(model)
		endpoint, ok := cfg.Wake.Endpoints[pipeline]
		if !ok {
			continue
		}
		addr := endpoint.Addr()

		group, ok := byAddr[addr]
		if !ok {
			group = &EndpointStream{Pipeline: pipeline, Endpoint: addr}
			byAddr[addr] = group
		}
		group.Models = append(group.Models, model)
	}

	out := make([]EndpointStream, 0, len(byAddr))
	for _, group := range byAddr {
		sort.Strings(group.Models)
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}
