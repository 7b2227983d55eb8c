package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/gazeprobe/internal/bus"
	"github.com/rs/zerolog"
)

// WSFrameMessage is sent to the detection service to analyze a frame
type WSFrameMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	MimeType  string `json:"mime_type"`
	Sequence  int64  `json:"sequence"`
	Timestamp string `json:"timestamp,omitempty"`
}

// WSDetectionMessage is received with the faces found in a frame
type WSDetectionMessage struct {
	Type          string    `json:"type"`
	FrameSequence int64     `json:"frame_sequence"`
	Faces         []FaceBox `json:"faces"`
	LatencyMs     int64     `json:"latency_ms"`
	Timestamp     string    `json:"timestamp"`
}

// WSErrorMessage reports errors
type WSErrorMessage struct {
	Type          string `json:"type"`
	FrameSequence int64  `json:"frame_sequence,omitempty"`
	Message       string `json:"message"`
}

// StreamClient talks to a face-detection service over WebSocket.
// Each Detect call sends one frame and waits for the detection message
// carrying the same sequence number, so it satisfies Detector.
type StreamClient struct {
	baseURL        string
	timeout        time.Duration
	reconnectDelay time.Duration
	eventBus       *bus.EventBus
	logger         zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	sequence  int64
	pending   map[int64]chan Result
	cancel    context.CancelFunc
}

// NewStreamClient creates a detection stream client. reconnectDelay is
// the initial backoff between connection attempts; it doubles up to a
// fixed ceiling while the service stays unreachable.
func NewStreamClient(baseURL string, timeout, reconnectDelay time.Duration, eventBus *bus.EventBus, logger zerolog.Logger) *StreamClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &StreamClient{
		baseURL:        baseURL,
		timeout:        timeout,
		reconnectDelay: reconnectDelay,
		eventBus:       eventBus,
		logger:         logger.With().Str("component", "detect-stream").Logger(),
		pending:        make(map[int64]chan Result),
	}
}

// Connect starts the connection loop in the background
func (c *StreamClient) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.connectLoop(ctx)
	return nil
}

// Disconnect closes the WebSocket connection
func (c *StreamClient) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.failPendingLocked()
	c.mu.Unlock()
}

// IsConnected returns connection status
func (c *StreamClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Detect sends the frame to the detection service and waits for the
// matching detection result. It implements Detector.
func (c *StreamClient) Detect(ctx context.Context, frame *Frame) (Result, error) {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return Result{}, ErrNotConnected
	}
	conn := c.conn
	c.sequence++
	seq := c.sequence
	resultc := make(chan Result, 1)
	c.pending[seq] = resultc
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	mimeType := "image/jpeg"
	if frame.Format == "png" {
		mimeType = "image/png"
	}

	msg := WSFrameMessage{
		Type:      "frame",
		Data:      base64.StdEncoding.EncodeToString(frame.Data),
		MimeType:  mimeType,
		Sequence:  seq,
		Timestamp: frame.Timestamp.Format(time.RFC3339),
	}

	if err := conn.WriteJSON(msg); err != nil {
		return Result{}, fmt.Errorf("write frame: %w", err)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(c.timeout):
		return Result{}, ErrDetectionTimeout
	case result, ok := <-resultc:
		if !ok {
			return Result{}, ErrNotConnected
		}
		return result, nil
	}
}

// connectLoop maintains the WebSocket connection with reconnection
func (c *StreamClient) connectLoop(ctx context.Context) {
	backoff := c.reconnectDelay
	maxBackoff := 60 * time.Second
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.connectWS(ctx); err != nil {
				consecutiveFailures++
				c.mu.Lock()
				c.connected = false
				c.failPendingLocked()
				c.mu.Unlock()

				if c.eventBus != nil {
					c.eventBus.Publish(bus.Event{Type: bus.EventTypeDetectorDisconnected})
				}

				if consecutiveFailures >= 3 {
					if consecutiveFailures == 3 {
						c.logger.Warn().
							Err(err).
							Int("failures", consecutiveFailures).
							Msg("Detection WebSocket not available, will retry less frequently")
					} else {
						c.logger.Debug().
							Int("failures", consecutiveFailures).
							Msg("Detection WebSocket still unavailable")
					}
					backoff = maxBackoff
				} else {
					c.logger.Warn().Err(err).Msg("WebSocket connection failed, reconnecting...")
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}

				if backoff < maxBackoff {
					backoff = backoff * 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
			} else {
				backoff = c.reconnectDelay
				consecutiveFailures = 0
			}
		}
	}
}

// connectWS checks the service health, establishes the WebSocket
// connection, and reads until error
func (c *StreamClient) connectWS(ctx context.Context) error {
	if err := c.CheckHealth(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}

	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/faces/stream/ws"

	c.logger.Info().Str("url", u.String()).Msg("Connecting to detection WebSocket")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info().Msg("Connected to detection WebSocket")

	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{Type: bus.EventTypeDetectorConnected})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			var msg json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return fmt.Errorf("read: %w", err)
			}

			c.handleMessage(msg)
		}
	}
}

// handleMessage dispatches an incoming message to the waiting Detect call
func (c *StreamClient) handleMessage(raw json.RawMessage) {
	var typeMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &typeMsg); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse message type")
		return
	}

	switch typeMsg.Type {
	case "detection":
		var msg WSDetectionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse detection message")
			return
		}
		c.logger.Debug().
			Int64("frame", msg.FrameSequence).
			Int("faces", len(msg.Faces)).
			Int64("latency_ms", msg.LatencyMs).
			Msg("Received detection")

		c.deliver(msg.FrameSequence, Result{Faces: msg.Faces, LatencyMs: msg.LatencyMs})

	case "error":
		var msg WSErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse error message")
			return
		}
		c.logger.Warn().Str("message", msg.Message).Msg("Detection server error")

		// A per-frame error resolves that frame as "no faces" so the
		// waiting tick is released instead of timing out.
		if msg.FrameSequence > 0 {
			c.deliver(msg.FrameSequence, Result{})
		}

	default:
		c.logger.Debug().Str("type", typeMsg.Type).Msg("Unknown message type")
	}
}

// deliver hands a result to the Detect call waiting on seq, if any
func (c *StreamClient) deliver(seq int64, result Result) {
	c.mu.Lock()
	resultc, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.mu.Unlock()

	if ok {
		resultc <- result
	} else {
		c.logger.Debug().Int64("sequence", seq).Msg("Result for unknown or abandoned frame")
	}
}

// failPendingLocked closes all waiting result channels. Callers hold mu.
func (c *StreamClient) failPendingLocked() {
	for seq, resultc := range c.pending {
		close(resultc)
		delete(c.pending, seq)
	}
}

// CheckHealth checks the detection service health endpoint
func (c *StreamClient) CheckHealth(ctx context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u.Path = "/api/v1/faces/stream/stats"

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}

	return nil
}
