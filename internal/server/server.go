// Package server exposes the gateway over HTTP with the wire contract
// of the original deployment: JSON request/response bodies for blocking
// chat, Server-Sent Events for streaming, plus provider and history
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/gateway"
	"github.com/user/llmgate/internal/store"
	"github.com/user/llmgate/pkg/llm"
)

const version = "1.0.0"

// Dispatcher is the gateway surface the server depends on.
type Dispatcher interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	Stream(ctx context.Context, req gateway.Request) (<-chan llm.StreamEvent, error)
	Available() []string
}

// Server routes HTTP requests onto a Dispatcher, capping concurrent
// generations with a weighted semaphore.
type Server struct {
	gw    Dispatcher
	store store.Store
	sem   *semaphore.Weighted
	mux   *http.ServeMux
}

// NewServer creates a Server. st may be nil; history endpoints then
// report persistence as unavailable.
func NewServer(gw Dispatcher, st store.Store, maxConcurrent int64) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	s := &Server{
		gw:    gw,
		store: st,
		sem:   semaphore.NewWeighted(maxConcurrent),
		mux:   http.NewServeMux(),
	}
	// The deployed frontend calls both prefixed and unprefixed paths.
	for _, prefix := range []string{"", "/api"} {
		s.mux.HandleFunc("GET "+prefix+"/health", s.handleHealth)
		s.mux.HandleFunc("GET "+prefix+"/providers", s.handleProviders)
		s.mux.HandleFunc("POST "+prefix+"/chat", s.handleChat)
		s.mux.HandleFunc("POST "+prefix+"/chat/stream", s.handleChatStream)
		s.mux.HandleFunc("GET "+prefix+"/chat/history", s.handleHistory)
		s.mux.HandleFunc("GET "+prefix+"/chat/{id}/messages", s.handleMessages)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// chatRequest is the JSON body for /chat and /chat/stream. Temperature
// and maxTokens are untrusted and coerced, never rejected.
type chatRequest struct {
	Message     string    `json:"message"`
	Provider    string    `json:"provider"`
	Temperature any       `json:"temperature"`
	MaxTokens   any       `json:"maxTokens"`
	Attachments []string  `json:"attachments"`
	User        *userInfo `json:"user"`
}

type userInfo struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

func (req *chatRequest) toGateway() gateway.Request {
	gr := gateway.Request{
		Provider:    req.Provider,
		Text:        req.Message,
		Attachments: req.Attachments,
		Options: llm.Options{
			Temperature:     coerceFloat(req.Temperature, llm.DefaultTemperature),
			MaxOutputTokens: coerceInt(req.MaxTokens, llm.DefaultMaxOutputTokens),
		},
	}
	if gr.Provider == "" {
		gr.Provider = "openai"
	}
	if req.User != nil {
		gr.UserID = req.User.ID
		gr.UserName = req.User.FirstName
		gr.Username = req.User.Username
	}
	return gr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   version,
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	available := s.gw.Available()
	status := make(map[string]any, len(config.ProviderKeys))
	for _, key := range config.ProviderKeys {
		status[key] = map[string]any{
			"available": containsKey(available, key),
			"env_var":   config.EnvVars[key],
		}
	}
	writeSuccess(w, map[string]any{
		"providers": available,
		"all":       config.ProviderKeys,
		"status":    status,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is required (JSON)")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	res, err := s.gw.Generate(r.Context(), req.toGateway())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeSuccess(w, map[string]any{
		"response": res.Text,
		"provider": req.Provider,
		"chat_id":  nullableID(res.ChatID),
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is required (JSON)")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must be a non-empty string")
		return
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	events, err := s.gw.Stream(r.Context(), req.toGateway())
	if err != nil {
		// Configuration failures surface before the SSE stream starts.
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	for ev := range events {
		if err := WriteEvent(w, ev); err != nil {
			slog.Debug("stream write failed, client gone", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}
	userID := r.URL.Query().Get("user_id")
	chatID := r.URL.Query().Get("chat_id")
	if userID == "" && chatID == "" {
		writeError(w, http.StatusBadRequest, "user_id or chat_id is required")
		return
	}

	if chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "chat_id must be an integer")
			return
		}
		chat, err := s.store.GetChat(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if chat == nil {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		msgs, err := s.store.Messages(r.Context(), id, queryLimit(r, 50))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeSuccess(w, map[string]any{"chat": chat, "messages": msgs})
		return
	}

	chats, err := s.store.ListChats(r.Context(), userID, queryLimit(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{"chats": chats})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "chat id must be an integer")
		return
	}
	msgs, err := s.store.Messages(r.Context(), id, queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, map[string]any{"chat_id": id, "messages": msgs})
}

// statusFor maps the error taxonomy onto HTTP statuses for the
// non-streaming surface.
func statusFor(err error) int {
	lerr, ok := llm.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch lerr.Kind {
	case llm.KindConfig:
		return http.StatusBadRequest
	case llm.KindAuth:
		return http.StatusUnauthorized
	case llm.KindQuota:
		return http.StatusTooManyRequests
	case llm.KindOverflow:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// coerceFloat accepts numbers or numeric strings from untrusted input;
// anything else falls back to the default.
func coerceFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return def
}

func coerceInt(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}
