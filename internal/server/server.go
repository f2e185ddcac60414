// Package server is the thin HTTP layer over the chat orchestrator. Routing
// and transport concerns stop here; everything interesting happens in
// internal/chat and below.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/reagent-ai/reagent/internal/chat"
	"github.com/reagent-ai/reagent/internal/repository"
	"github.com/reagent-ai/reagent/pkg/llm"
	pkgLogger "github.com/reagent-ai/reagent/pkg/logger"
)

const apiPrefix = "/api/v1"

// ChatRequest is the wire shape of a chat call.
type ChatRequest struct {
	Message      string `json:"message"`
	Stream       bool   `json:"stream"`
	SessionID    string `json:"session_id,omitempty"`
	SubscriberID string `json:"subscriber_id"`
	New          bool   `json:"new,omitempty"`
	Category     string `json:"template_category,omitempty"`
}

// ChatResponse is the wire shape of a non-streamed chat result. SessionID is
// set only for newly created sessions.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id,omitempty"`
}

// SummaryRequest is the wire shape of a chat-summary call.
type SummaryRequest struct {
	SubscriberID string `json:"subscriber_id"`
	SessionID    string `json:"session_id"`
}

// SessionSummary is one entry of a session listing.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Server serves the chat API.
type Server struct {
	orchestrator *chat.Orchestrator
	logger       *pkgLogger.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(orchestrator *chat.Orchestrator, logger *pkgLogger.Logger) *Server {
	return &Server{
		orchestrator: orchestrator,
		logger:       logger.WithComponent("server"),
	}
}

// Handler returns the HTTP handler for the chat API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiPrefix+"/chat", s.handleChat)
	mux.HandleFunc("POST "+apiPrefix+"/chat/summary", s.handleSummary)
	mux.HandleFunc("GET "+apiPrefix+"/chat/history", s.handleHistory)
	mux.HandleFunc("GET "+apiPrefix+"/sessions", s.handleSessions)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start runs the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
	}

	// Graceful shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("chat API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" || req.SubscriberID == "" {
		http.Error(w, "message and subscriber_id are required", http.StatusBadRequest)
		return
	}

	chatReq := chat.Request{
		SubscriberID: req.SubscriberID,
		Message:      req.Message,
		SessionID:    req.SessionID,
		NewSession:   req.New,
		Category:     req.Category,
	}

	if req.Stream {
		s.streamChat(w, r, chatReq)
		return
	}

	resp, err := s.orchestrator.Chat(r.Context(), chatReq)
	if err != nil {
		s.logger.Error("chat failed", "subscriber", req.SubscriberID, "error", err)
		http.Error(w, "generation failed", http.StatusBadGateway)
		return
	}

	out := ChatResponse{Response: resp.Text}
	if resp.Session.New {
		out.SessionID = resp.Session.ID
	}
	writeJSON(w, out)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chat.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	chunks, _, err := s.orchestrator.StreamChat(r.Context(), req)
	if err != nil {
		s.logger.Error("stream start failed", "subscriber", req.SubscriberID, "error", err)
		http.Error(w, "generation failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		if _, err := fmt.Fprint(w, chunk); err != nil {
			// Client gone; the orchestrator drains and accounts regardless.
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SubscriberID == "" || req.SessionID == "" {
		http.Error(w, "subscriber_id and session_id are required", http.StatusBadRequest)
		return
	}

	title, err := s.orchestrator.Summarize(r.Context(), req.SubscriberID, req.SessionID)
	if err != nil {
		s.logger.Error("summary failed", "session", req.SessionID, "error", err)
		http.Error(w, "summary failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, ChatResponse{Response: title})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		http.Error(w, "subscriber_id is required", http.StatusBadRequest)
		return
	}

	sessions, err := s.orchestrator.ListSessions(r.Context(), subscriberID)
	if err != nil {
		s.logger.Error("session listing failed", "subscriber", subscriberID, "error", err)
		http.Error(w, "session listing failed", http.StatusInternalServerError)
		return
	}

	out := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, SessionSummary{
			SessionID: session.ID,
			Title:     session.Title,
			CreatedAt: session.CreatedAt,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	turns, err := s.orchestrator.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		s.logger.Error("history lookup failed", "session", sessionID, "error", err)
		http.Error(w, "history lookup failed", http.StatusInternalServerError)
		return
	}

	if turns == nil {
		turns = []llm.Turn{}
	}
	writeJSON(w, turns)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
