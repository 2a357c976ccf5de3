package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metavault/custodian/internal/chain"
	"github.com/metavault/custodian/internal/chat"
	"github.com/metavault/custodian/internal/chat/session"
	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/version"
)

// ChatHandler evaluates one user turn.
type ChatHandler interface {
	Handle(ctx context.Context, wallet common.Address, message string) (chat.Response, error)
}

// CycleRunner triggers a monitoring cycle on demand.
type CycleRunner interface {
	RunComprehensive(ctx context.Context) string
}

// Server is the HTTP surface: the chat endpoint, session management, health,
// and a manual monitoring trigger.
type Server struct {
	machine  ChatHandler
	sessions *session.Store
	monitor  CycleRunner
	http     *http.Server
}

func New(addr string, machine ChatHandler, sessions *session.Store, monitor CycleRunner) *Server {
	s := &Server{machine: machine, sessions: sessions, monitor: monitor}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /session/{id}", s.handleSession)
	mux.HandleFunc("POST /session/reset/{id}", s.handleReset)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /monitor/cycle", s.handleCycle)
	return mux
}

func (s *Server) ListenAndServe() error {
	log.Printf("[INFO] server: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type chatRequest struct {
	Message   string `json:"message"`
	Wallet    string `json:"wallet"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Success       bool              `json:"success"`
	SessionID     string            `json:"sessionId,omitempty"`
	Reply         string            `json:"reply,omitempty"`
	History       []session.Message `json:"history,omitempty"`
	UnsignedTx    *chain.UnsignedTx `json:"unsignedTx,omitempty"`
	NeedsApproval bool              `json:"needsApproval"`
	Step          chat.Step         `json:"step,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// handleChat validates the request before touching the session store: a
// malformed request mutates nothing.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Success: false, Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Success: false, Error: "message is required"})
		return
	}
	wallet, err := chat.WalletFromRequest(req.Wallet)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Success: false, Error: "a valid wallet is required"})
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}
	if _, err := s.sessions.GetOrCreate(sessionID, wallet.Hex()); err != nil {
		s.internalError(w, "create session", err)
		return
	}

	resp, err := s.machine.Handle(r.Context(), wallet, req.Message)
	if err != nil {
		s.internalError(w, "evaluate message", err)
		return
	}

	if err := s.sessions.Append(sessionID, "user", req.Message); err != nil {
		s.internalError(w, "record user turn", err)
		return
	}
	if err := s.sessions.Append(sessionID, "assistant", resp.Reply); err != nil {
		s.internalError(w, "record assistant turn", err)
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		s.internalError(w, "read session", err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success:       true,
		SessionID:     sessionID,
		Reply:         resp.Reply,
		History:       sess.Messages,
		UnsignedTx:    resp.UnsignedTx,
		NeedsApproval: resp.NeedsApproval,
		Step:          resp.Step,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		if cerr.CodeOf(err) == cerr.CodeNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "session not found"})
			return
		}
		s.internalError(w, "read session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

// handleReset clears a session's history. An unknown id is created blank, so
// clients can reset ahead of first use.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Reset(r.PathValue("id"), "")
	if err != nil {
		s.internalError(w, "reset session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	scheduler := "running"
	if s.monitor == nil {
		scheduler = "disabled"
	}
	sessions, err := s.sessions.Count()
	if err != nil {
		log.Printf("[WARN] server: session count failed: %v", err)
		sessions = -1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"sessions":  sessions,
		"scheduler": scheduler,
	})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false, "error": "monitoring is not enabled",
		})
		return
	}
	report := s.monitor.RunComprehensive(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": report})
}

// internalError logs the detail server-side and returns a generic message:
// chain and store internals never leak to clients.
func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	log.Printf("[ERROR] server: %s: %v", what, err)
	writeJSON(w, http.StatusInternalServerError, chatResponse{Success: false, Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
