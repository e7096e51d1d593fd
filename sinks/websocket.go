package sinks

import (
	"cmp"
	"context"
	"encoding/json"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge/core"
	"github.com/creastat/kmerge/protocol"
	"github.com/gorilla/websocket"
)

// MessageWriter is the write side of a WebSocket connection.
// *websocket.Conn satisfies it.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketSinkConfig holds WebSocket sink configuration
type WebSocketSinkConfig struct {
	Conn      MessageWriter
	SessionID string
	ReplyTo   string // ID of the merge.start message that began the run
	Logger    telemetry.Logger
}

// WebSocketSink sends merge events to a WebSocket connection as protocol
// JSON frames
type WebSocketSink[T cmp.Ordered] struct {
	config WebSocketSinkConfig
}

// NewWebSocketSink creates a new WebSocket sink
func NewWebSocketSink[T cmp.Ordered](config WebSocketSinkConfig) *WebSocketSink[T] {
	if config.Logger == nil {
		config.Logger = telemetry.New(telemetry.Config{Level: "error"})
	}
	return &WebSocketSink[T]{
		config: config,
	}
}

// Name returns the sink name
func (ws *WebSocketSink[T]) Name() string {
	return "websocket_sink"
}

// Consume implements the Sink interface.
// It reads events from the input channel and sends them to the WebSocket connection
func (ws *WebSocketSink[T]) Consume(ctx context.Context, input <-chan core.Event) error {
	logger := ws.config.Logger.WithModule(ws.Name())
	logger.Info("Starting WebSocket sink", telemetry.String("session_id", ws.config.SessionID))

	for {
		select {
		case <-ctx.Done():
			logger.Info("WebSocket sink context cancelled", telemetry.String("session_id", ws.config.SessionID))
			return ctx.Err()

		case event, ok := <-input:
			if !ok {
				logger.Info("WebSocket sink input channel closed", telemetry.String("session_id", ws.config.SessionID))
				return nil
			}

			msg := protocol.EventToMessage[T](event, ws.config.SessionID, ws.config.ReplyTo)
			if msg == nil {
				logger.Debug("Skipping unknown event type", telemetry.String("session_id", ws.config.SessionID))
				continue
			}

			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("Failed to marshal message", telemetry.Err(err), telemetry.String("session_id", ws.config.SessionID), telemetry.String("event_type", string(msg.Type)))
				continue
			}

			if err := ws.config.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Error("Failed to send message to WebSocket", telemetry.Err(err), telemetry.String("session_id", ws.config.SessionID), telemetry.String("event_type", string(msg.Type)))
				// The client is gone. Keep draining so the merge is never
				// parked on a full event channel.
				for range input {
				}
				return nil
			}

			logger.Trace("Sent event to WebSocket", telemetry.String("type", string(msg.Type)), telemetry.String("session_id", ws.config.SessionID))
		}
	}
}

// InputTypes returns the event types this sink accepts
func (ws *WebSocketSink[T]) InputTypes() []core.EventType {
	// WebSocket sink accepts all event types
	return []core.EventType{}
}
