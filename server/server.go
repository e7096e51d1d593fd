// Package server streams merges to WebSocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge"
	"github.com/creastat/kmerge/core"
	"github.com/creastat/kmerge/dataset"
	"github.com/creastat/kmerge/protocol"
	"github.com/creastat/kmerge/sinks"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultMaxValues   = 1 << 20
	defaultEventBuffer = 100
	shutdownTimeout    = 5 * time.Second
)

// Config holds server configuration
type Config struct {
	// EventBuffer is the event channel capacity of every merge
	EventBuffer int

	// MaxValue bounds values generated from a seed
	MaxValue int

	// MaxValues caps K*N for a single request
	MaxValues int

	// CheckOrigin is passed to the WebSocket upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool

	Logger telemetry.Logger
}

// Server accepts WebSocket sessions; each session runs at most one merge at
// a time
type Server struct {
	config   Config
	upgrader websocket.Upgrader
}

// New creates a server
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = telemetry.New(telemetry.Config{Level: "error"})
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	if config.MaxValue <= 0 {
		config.MaxValue = dataset.DefaultMaxValue
	}
	if config.MaxValues <= 0 {
		config.MaxValues = defaultMaxValues
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ListenAndServe serves the WebSocket endpoint at /ws until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	logger := s.config.Logger.WithModule("server")

	mux := http.NewServeMux()
	mux.Handle("/ws", s)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", telemetry.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

// ServeHTTP upgrades the request and runs a session until the client leaves
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.config.Logger.WithModule("server")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", telemetry.Err(err))
		return
	}
	defer conn.Close()

	sess := newSession(s, conn)
	sess.serve(r.Context())
}

// lockedWriter serializes writes from the event sink and the read loop
type lockedWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *lockedWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(messageType, data)
}

type session struct {
	server *Server
	id     string
	conn   *websocket.Conn
	writer *lockedWriter
	logger telemetry.Logger

	mu      sync.Mutex
	current *kmerge.Merger[int]
	wg      sync.WaitGroup
}

func newSession(server *Server, conn *websocket.Conn) *session {
	id := uuid.NewString()
	return &session{
		server: server,
		id:     id,
		conn:   conn,
		writer: &lockedWriter{conn: conn},
		logger: server.config.Logger.WithModule("session"),
	}
}

func (s *session) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	s.logger.Info("Session opened", telemetry.String("session_id", s.id))
	defer s.logger.Info("Session closed", telemetry.String("session_id", s.id))

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Read failed", telemetry.String("session_id", s.id), telemetry.Err(err))
			}
			return
		}

		msg, err := protocol.ParseInputMessage(data)
		if err != nil {
			s.sendError("", protocol.ErrorCodeBadMessage, err, false)
			continue
		}

		switch msg.Type {
		case protocol.InputMergeStart:
			s.start(ctx, msg)
		case protocol.InputCancel:
			s.cancel()
		}
	}
}

func (s *session) start(ctx context.Context, msg *protocol.InputMessage) {
	req, err := msg.MergeStart()
	if err != nil {
		s.sendError(msg.ID, protocol.ErrorCodeBadMessage, err, false)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.sendError(msg.ID, protocol.ErrorCodeBusy, errors.New("a merge is already running"), true)
		return
	}

	merger, err := s.build(ctx, req)
	if err != nil {
		s.sendError(msg.ID, protocol.ErrorCode(err), err, false)
		return
	}
	s.current = merger

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.current = nil
			s.mu.Unlock()
		}()
		s.stream(ctx, merger, msg.ID)
	}()
}

func (s *session) build(ctx context.Context, req *protocol.MergeStartPayload) (*kmerge.Merger[int], error) {
	limit := s.server.config.MaxValues
	values := req.Values

	// Degenerate shapes fall through to the builder, which rejects them.
	if req.Workers > 0 && req.RunLength > 0 {
		// K*N is only computed once it is known to be within the limit.
		if req.Workers > limit || req.RunLength > limit || req.Workers > limit/req.RunLength {
			return nil, kmerge.ValidationError{
				Message: "merge validation failed",
				Details: fmt.Sprintf("workers=%d, run length=%d exceed the limit of %d values", req.Workers, req.RunLength, limit),
				Err:     kmerge.ErrShapeTooLarge,
			}
		}
		if values == nil {
			bound := req.MaxValue
			if bound <= 0 {
				bound = s.server.config.MaxValue
			}
			values = dataset.Generate(req.Workers*req.RunLength, *req.Seed, bound)
		}
	}
	if values == nil {
		values = []int{}
	}

	return kmerge.NewBuilder[int]().
		WithShape(req.Workers, req.RunLength).
		WithValues(values).
		WithEventBuffer(s.server.config.EventBuffer).
		WithLogger(s.server.config.Logger).
		Build(ctx)
}

// stream runs the merge and fans its events out to the client and the log
func (s *session) stream(ctx context.Context, merger *kmerge.Merger[int], replyTo string) {
	router := kmerge.NewFanOutRouter(&core.FanOutConfig{
		ErrorPolicy: core.ErrorPolicyIsolated,
		BufferSize:  s.server.config.EventBuffer,
		Branches: []core.BranchConfig{
			{
				Sink: sinks.NewWebSocketSink[int](sinks.WebSocketSinkConfig{
					Conn:      s.writer,
					SessionID: s.id,
					ReplyTo:   replyTo,
					Logger:    s.server.config.Logger,
				}),
			},
			{
				Sink:        sinks.NewLogSink[int](sinks.LogSinkConfig{Logger: s.server.config.Logger}),
				EventFilter: []core.EventType{core.EventTypeStart, core.EventTypeBlock, core.EventTypeError, core.EventTypeDone},
			},
		},
	})

	s.logger.Info("Merge requested",
		telemetry.String("session_id", s.id),
		telemetry.String("run_id", merger.RunID()))

	if err := router.Route(ctx, merger.Execute(ctx)); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Event routing failed", telemetry.String("session_id", s.id), telemetry.Err(err))
	}
}

func (s *session) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.logger.Info("Merge cancelled by client",
			telemetry.String("session_id", s.id),
			telemetry.String("run_id", s.current.RunID()))
		s.current.Cancel()
	}
}

func (s *session) sendError(replyTo, code string, err error, retryable bool) {
	msg := protocol.NewErrorMessage(s.id, replyTo, code, err.Error(), retryable, nil)
	data, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		s.logger.Error("Failed to marshal error", telemetry.Err(marshalErr))
		return
	}
	if writeErr := s.writer.WriteMessage(websocket.TextMessage, data); writeErr != nil {
		s.logger.Debug("Failed to send error", telemetry.String("session_id", s.id), telemetry.Err(writeErr))
	}
}
