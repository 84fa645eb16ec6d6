// Package server exposes the engine over a websocket. Each frame
// {user_id, thread_id, input} runs one turn and is answered with
// {message} or {error, kind}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/engine"
	"github.com/becomeliminal/nim-graph/logger"
)

// TurnRunner is the engine surface the server needs.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID, threadID, input string) (*engine.Result, error)
}

type Config struct {
	Engine TurnRunner
	Logger *logger.Logger

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	// TurnTimeout bounds a single turn. Zero means no limit.
	TurnTimeout time.Duration
}

// Request is an inbound frame.
type Request struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
	Input    string `json:"input"`
}

// Response is an outbound frame. Exactly one of Message and Error is set.
type Response struct {
	ThreadID     string               `json:"thread_id,omitempty"`
	Message      string               `json:"message,omitempty"`
	Degraded     bool                 `json:"degraded,omitempty"`
	ToolFailures []engine.ToolFailure `json:"tool_failures,omitempty"`
	Error        string               `json:"error,omitempty"`
	Kind         string               `json:"kind,omitempty"`
}

const kindInvalidRequest = "invalid_request"

type Server struct {
	engine   TurnRunner
	log      *logger.Logger
	upgrader websocket.Upgrader
	timeout  time.Duration
	mux      *http.ServeMux
	http     *http.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	s := &Server{
		engine:  cfg.Engine,
		log:     logger.OrNop(cfg.Logger).With("component", "server"),
		timeout: cfg.TurnTimeout,
		mux:     http.NewServeMux(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until Shutdown is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 60 * time.Second}
	s.log.Info("listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.log.Debug("client connected", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("read frame failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		resp := Response{Error: "malformed frame", Kind: kindInvalidRequest}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Debug("malformed frame", "remote", r.RemoteAddr, "error", err)
		} else {
			resp = s.turn(r.Context(), req)
		}
		if err := conn.WriteJSON(resp); err != nil {
			s.log.Warn("write frame failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

func (s *Server) turn(ctx context.Context, req Request) Response {
	if req.UserID == "" || req.ThreadID == "" || req.Input == "" {
		return Response{ThreadID: req.ThreadID, Error: "user_id, thread_id and input are required", Kind: kindInvalidRequest}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.engine.RunTurn(ctx, req.UserID, req.ThreadID, req.Input)
	if err != nil {
		kind := core.KindOf(err)
		s.log.Error("turn failed", "thread_id", req.ThreadID, "user_id", req.UserID, "kind", kind, "error", err)
		return Response{ThreadID: req.ThreadID, Error: publicError(kind), Kind: kind}
	}
	return Response{
		ThreadID:     req.ThreadID,
		Message:      res.Message,
		Degraded:     res.Degraded,
		ToolFailures: res.ToolFailures,
	}
}

// publicError is the text shown to clients. Details stay in the logs.
func publicError(kind string) string {
	switch kind {
	case "guardrail_blocked":
		return "request blocked, try again later"
	case "turn_cancelled":
		return "turn cancelled"
	case "not_initialized":
		return "service is starting"
	default:
		return "turn failed"
	}
}
