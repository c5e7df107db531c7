// Package control implements the engine's operator control surface: a
// JSON-RPC 2.0 server exposing pause/resume/drain/reload-config/
// snapshot-metrics, following the same request/response shape and
// handler-table dispatch as the teacher's internal/rpc.Server, scaled
// down to the handful of methods an operator needs to steer a running
// daemon instead of a full wallet/swap/order API.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/pkg/logging"
)

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Engine is the subset of core.Core the control server steers. Kept as
// a narrow interface so this package does not import core (which would
// otherwise depend back on control, if control ever needed injecting
// into Core.Run).
type Engine interface {
	// Pause stops dispatching new SwapIntents to the Coordinator; plans
	// already in flight run to completion.
	Pause()
	// Resume undoes a prior Pause.
	Resume()
	// Paused reports the current pause state.
	Paused() bool
	// Drain blocks until every in-flight TradePlan reaches a terminal
	// state, or ctx is cancelled.
	Drain(ctx context.Context) error
	// ReloadConfig re-reads the Config Store's active follower snapshot
	// without restarting the process.
	ReloadConfig(ctx context.Context) error
	// CountOutcomesByStatus reports the durable ledger's outcome counts,
	// for the snapshot-metrics command.
	CountOutcomesByStatus(status model.OutcomeStatus) (int, error)
}

// Server is the operator control RPC server.
type Server struct {
	engine Engine
	log    *logging.Logger

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewServer constructs a control Server over engine.
func NewServer(engine Engine) *Server {
	s := &Server{
		engine:   engine,
		log:      logging.GetDefault().Component("control"),
		handlers: make(map[string]Handler),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.handlers["engine_pause"] = s.handlePause
	s.handlers["engine_resume"] = s.handleResume
	s.handlers["engine_status"] = s.handleStatus
	s.handlers["engine_drain"] = s.handleDrain
	s.handlers["engine_reloadConfig"] = s.handleReloadConfig
	s.handlers["engine_snapshotMetrics"] = s.handleSnapshotMetrics
}

// Start begins serving JSON-RPC requests on addr.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("control: server error", "error", err)
		}
	}()

	s.log.Info("control: server started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "parse error", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "invalid request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, InternalError, err.Error(), nil)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message, Data: data},
		ID:      id,
	})
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePause(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.engine.Pause()
	return map[string]bool{"paused": true}, nil
}

func (s *Server) handleResume(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.engine.Resume()
	return map[string]bool{"paused": false}, nil
}

func (s *Server) handleStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]bool{"paused": s.engine.Paused()}, nil
}

func (s *Server) handleDrain(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.engine.Drain(ctx); err != nil {
		return nil, fmt.Errorf("control: drain: %w", err)
	}
	return map[string]bool{"drained": true}, nil
}

func (s *Server) handleReloadConfig(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.engine.ReloadConfig(ctx); err != nil {
		return nil, fmt.Errorf("control: reload config: %w", err)
	}
	return map[string]bool{"reloaded": true}, nil
}

func (s *Server) handleSnapshotMetrics(ctx context.Context, params json.RawMessage) (interface{}, error) {
	statuses := []model.OutcomeStatus{model.Landed, model.SimulatedReject, model.SubmittedFailed, model.TimedOut, model.Skipped}
	counts := make(map[string]int, len(statuses))
	for _, st := range statuses {
		n, err := s.engine.CountOutcomesByStatus(st)
		if err != nil {
			return nil, fmt.Errorf("control: count outcomes for %s: %w", st, err)
		}
		counts[string(st)] = n
	}
	return counts, nil
}
