// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     wake
// Description: WebSocket client for one streaming detection endpoint
// License:     MIT
// ============================================================================

package wake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AudioFormat describes the PCM stream sent to a detection endpoint
type AudioFormat struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Result is the outcome of one detection stream
type Result struct {
	Detected bool
	Model    string
}

// StreamClient is one streaming connection to a wake detection endpoint. A
// connection carries exactly one model: the protocol only reliably loads the
// first name when several are sent together.
type StreamClient interface {
	Connect(ctx context.Context) error
	Describe(ctx context.Context) error
	StartDetection(ctx context.Context, model string, threshold int) error
	StartAudio(ctx context.Context, format AudioFormat) error
	SendChunk(data []byte) error
	EndAudio() error
	ReadResult(ctx context.Context) (Result, error)
	Close() error
}

// StreamDialer constructs a client for one model against one endpoint address
type StreamDialer func(addr, model string) StreamClient

// wsMessage is the JSON envelope for control frames; audio chunks travel as
// binary frames outside the envelope
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type detectPayload struct {
	Names     []string `json:"names"`
	Threshold int      `json:"threshold,omitempty"`
}

type detectionPayload struct {
	Name string `json:"name"`
}

// WSClient implements StreamClient over gorilla/websocket
type WSClient struct {
	mu    sync.Mutex
	url   string
	model string
	conn  *websocket.Conn
}

// NewWSClient creates a detection client for the endpoint at addr (host:port)
func NewWSClient(addr, model string) StreamClient {
	return &WSClient{
		url:   fmt.Sprintf("ws://%s/api/v1/wake", addr),
		model: model,
	}
}

// Connect establishes the WebSocket connection
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.conn = conn
	return nil
}

// Describe asks the endpoint for its capabilities and discards the answer;
// the exchange doubles as a liveness check before streaming starts.
func (c *WSClient) Describe(ctx context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	if err := c.writeControl(ctx, conn, wsMessage{Type: "describe"}); err != nil {
		return fmt.Errorf("failed to send describe: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	defer conn.SetReadDeadline(time.Time{})

	var info wsMessage
	if err := conn.ReadJSON(&info); err != nil {
		return fmt.Errorf("failed to read endpoint info: %w", err)
	}
	if info.Type != "info" {
		return fmt.Errorf("unexpected describe response %q", info.Type)
	}
	return nil
}

// StartDetection declares the model to detect. A zero threshold means the
// endpoint default.
func (c *WSClient) StartDetection(ctx context.Context, model string, threshold int) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(detectPayload{Names: []string{model}, Threshold: threshold})
	if err != nil {
		return fmt.Errorf("failed to marshal detect payload: %w", err)
	}
	if err := c.writeControl(ctx, conn, wsMessage{Type: "detect", Payload: payload}); err != nil {
		return fmt.Errorf("failed to send detect: %w", err)
	}
	return nil
}

// StartAudio declares the PCM format of the chunks that follow
func (c *WSClient) StartAudio(ctx context.Context, format AudioFormat) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(format)
	if err != nil {
		return fmt.Errorf("failed to marshal audio format: %w", err)
	}
	if err := c.writeControl(ctx, conn, wsMessage{Type: "audio-start", Payload: payload}); err != nil {
		return fmt.Errorf("failed to send audio-start: %w", err)
	}
	return nil
}

// SendChunk forwards one PCM chunk as a binary frame
func (c *WSClient) SendChunk(data []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

// EndAudio signals the end of the PCM stream
func (c *WSClient) EndAudio() error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return c.writeControl(context.Background(), conn, wsMessage{Type: "audio-stop"})
}

// ReadResult blocks until the endpoint reports a detection or the end of the
// stream without one. Unknown control frames are skipped.
func (c *WSClient) ReadResult(ctx context.Context) (Result, error) {
	conn, err := c.connection()
	if err != nil {
		return Result{}, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return Result{}, fmt.Errorf("failed to read detection event: %w", err)
		}

		switch msg.Type {
		case "detection":
			var det detectionPayload
			if err := json.Unmarshal(msg.Payload, &det); err != nil {
				return Result{}, fmt.Errorf("malformed detection event: %w", err)
			}
			return Result{Detected: true, Model: det.Name}, nil

		case "not-detected":
			return Result{Detected: false}, nil

		case "error":
			var errPayload struct {
				Error string `json:"error"`
			}
			json.Unmarshal(msg.Payload, &errPayload)
			return Result{}, fmt.Errorf("endpoint error: %s", errPayload.Error)

		default:
			// info, pong and other frames are not results
			continue
		}
	}
}

// Close closes the connection
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *WSClient) connection() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.conn, nil
}

func (c *WSClient) writeControl(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	return conn.WriteJSON(msg)
}
