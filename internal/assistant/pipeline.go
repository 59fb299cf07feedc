// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     assistant
// Description: Pipelines handling a conversation turn after a wake word
// License:     MIT
// ============================================================================

package assistant

import (
	"context"
	"fmt"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// Pipeline handles one conversation turn after its wake word fired
type Pipeline interface {
	Name() string
	HandleTurn(ctx context.Context, model string) error
}

// TurnHandler is the pluggable conversation flow behind the pulse pipeline
type TurnHandler func(ctx context.Context, model string) error

// PulsePipeline runs the local conversation flow. The actual speech-to-text
// and language-model exchange is supplied by the embedding binary through a
// TurnHandler; without one, a turn acknowledges the wake word and ends.
type PulsePipeline struct {
	logger  *logging.Logger
	handler TurnHandler
	ack     func(ctx context.Context) error
}

// NewPulsePipeline creates the local pipeline. ack plays the wake
// acknowledgement sound and may be nil.
func NewPulsePipeline(handler TurnHandler, ack func(ctx context.Context) error) *PulsePipeline {
	return &PulsePipeline{
		logger:  logging.New("pipeline.pulse"),
		handler: handler,
		ack:     ack,
	}
}

// Name returns the pipeline name used in routing
func (p *PulsePipeline) Name() string { return "pulse" }

// HandleTurn acknowledges the wake word and runs the conversation handler
func (p *PulsePipeline) HandleTurn(ctx context.Context, model string) error {
	if p.ack != nil {
		if err := p.ack(ctx); err != nil {
			p.logger.Debug("Wake acknowledgement failed", "error", err)
		}
	}

	if p.handler == nil {
		p.logger.Info("No conversation handler configured, turn ends after acknowledgement",
			"model", model)
		return nil
	}
	return p.handler(ctx, model)
}

// ConversationService forwards a turn to a remote assistant backend
type ConversationService interface {
	CallService(ctx context.Context, domain, service string, payload map[string]interface{}) error
}

// RemotePipeline hands the turn to the remote smart-home assistant, which
// runs its own listening and response flow on its configured satellite.
type RemotePipeline struct {
	logger *logging.Logger
	device ConversationService
}

// NewRemotePipeline creates the remote-assistant pipeline
func NewRemotePipeline(device ConversationService) *RemotePipeline {
	return &RemotePipeline{
		logger: logging.New("pipeline.homeassistant"),
		device: device,
	}
}

// Name returns the pipeline name used in routing
func (p *RemotePipeline) Name() string { return "homeassistant" }

// HandleTurn triggers the remote assistant's listen flow
func (p *RemotePipeline) HandleTurn(ctx context.Context, model string) error {
	if p.device == nil {
		return fmt.Errorf("remote pipeline has no device controller")
	}

	err := p.device.CallService(ctx, "assist_satellite", "start_conversation", map[string]interface{}{
		"preannounce": false,
	})
	if err != nil {
		return fmt.Errorf("failed to start remote conversation: %w", err)
	}

	p.logger.Info("Remote conversation started", "model", model)
	return nil
}
