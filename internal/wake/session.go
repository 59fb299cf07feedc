// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     wake
// Description: One streaming detection session across all endpoint streams
// License:     MIT
// ============================================================================

package wake

import (
	"context"
	"fmt"
)

// sessionStream is one live connection carrying one model
type sessionStream struct {
	model  string
	client StreamClient
	alive  bool
}

type readerResult struct {
	model  string
	result Result
	err    error
}

// runSession opens one connection per configured model, streams microphone
// chunks to all of them and returns the first positively detected model. The
// context version captured at session start is re-checked before every chunk
// fan-out; a bump aborts with errContextChanged. A single failing stream is
// logged and dropped without ending the session; the session fails only when
// every stream is gone.
func (d *Detector) runSession(ctx context.Context) (string, error) {
	startVersion := d.version.Load()
	selfAudioActive := d.selfAudio()
	threshold := d.threshold(selfAudioActive)

	groups := GroupStreams(d.cfg)
	if len(groups) == 0 {
		return "", fmt.Errorf("no wake models configured")
	}

	format := AudioFormat{
		Rate:     d.cfg.Mic.SampleRate,
		Width:    d.cfg.Mic.Width,
		Channels: d.cfg.Mic.Channels,
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One connection per model even within a shared endpoint group
	streams := make([]*sessionStream, 0)
	defer func() {
		for _, st := range streams {
			st.client.EndAudio()
			st.client.Close()
		}
	}()

	for _, group := range groups {
		for _, model := range group.Models {
			st := &sessionStream{model: model, client: d.dial(group.Endpoint, model)}
			if err := d.openStream(sessionCtx, st, threshold, format); err != nil {
				d.logger.Warn("Failed to open detection stream",
					"model", model, "endpoint", group.Endpoint, "error", err)
				st.client.Close()
				continue
			}
			st.alive = true
			streams = append(streams, st)
			d.logger.Debug("Detection stream opened",
				"model", model, "endpoint", group.Endpoint, "threshold", threshold)
		}
	}

	alive := len(streams)
	if alive == 0 {
		return "", fmt.Errorf("no detection stream could be opened")
	}

	results := make(chan readerResult, len(streams))
	for _, st := range streams {
		go func(st *sessionStream) {
			result, err := st.client.ReadResult(sessionCtx)
			select {
			case results <- readerResult{model: st.model, result: result, err: err}:
			case <-sessionCtx.Done():
			}
		}(st)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		chunk, err := d.mic.ReadChunk(ctx)
		if err != nil {
			return "", fmt.Errorf("microphone read failed: %w", err)
		}

		// Re-check before the fan-out so a bump during the chunk read aborts
		// before the next write, not mid-write
		if d.version.Load() != startVersion {
			return "", errContextChanged
		}

		for _, st := range streams {
			if !st.alive {
				continue
			}
			if err := st.client.SendChunk(chunk); err != nil {
				d.logger.Warn("Detection stream write failed, dropping stream",
					"model", st.model, "error", err)
				st.alive = false
				alive--
			}
		}

		// Drain completed readers without blocking the chunk loop
	drain:
		for {
			select {
			case r := <-results:
				if r.err != nil {
					if sessionCtx.Err() != nil {
						break drain
					}
					d.logger.Warn("Detection stream reader failed, dropping stream",
						"model", r.model, "error", r.err)
					d.markDead(streams, r.model, &alive)
					continue
				}
				if r.result.Detected {
					name := r.result.Model
					if name == "" {
						name = r.model
					}
					return name, nil
				}
				// Endpoint ended the stream without a detection
				d.markDead(streams, r.model, &alive)
			default:
				break drain
			}
		}

		if alive == 0 {
			return "", fmt.Errorf("all detection streams failed")
		}
	}
}

func (d *Detector) openStream(ctx context.Context, st *sessionStream, threshold int, format AudioFormat) error {
	if err := st.client.Connect(ctx); err != nil {
		return err
	}
	if err := st.client.Describe(ctx); err != nil {
		return err
	}
	if err := st.client.StartDetection(ctx, st.model, threshold); err != nil {
		return err
	}
	return st.client.StartAudio(ctx, format)
}

func (d *Detector) markDead(streams []*sessionStream, model string, alive *int) {
	for _, st := range streams {
		if st.model == model && st.alive {
			st.alive = false
			*alive = *alive - 1
		}
	}
}
