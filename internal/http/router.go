// Package http exposes the session control boundary over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"live-speech-relay/internal/app"
	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/service/session"
)

// SessionController starts and stops relay sessions.
type SessionController interface {
	Start(ctx context.Context, req session.StartRequest) (session.StartResult, error)
	Stop(ctx context.Context, sessionID string) error
}

type startRequest struct {
	SessionID  string `json:"sessionId"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

type stopRequest struct {
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, sessions SessionController) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"uptimeSeconds": int64(application.Uptime().Seconds()),
		})
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/start", startHandler(sessions))
		r.Post("/stop", stopHandler(sessions))
	})

	return r
}

func startHandler(sessions SessionController) http.HandlerFunc {
	logger := logging.WithComponent("http")
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		res, err := sessions.Start(r.Context(), session.StartRequest{
			SessionID:  req.SessionID,
			SourceLang: req.SourceLang,
			TargetLang: req.TargetLang,
		})
		if err != nil {
			logger.Error().Err(err).Str("requestId", middleware.GetReqID(r.Context())).Msg("Failed to start session")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to start session"})
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

func stopHandler(sessions SessionController) http.HandlerFunc {
	logger := logging.WithComponent("http")
	return func(w http.ResponseWriter, r *http.Request) {
		var req stopRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		if req.SessionID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
			return
		}

		err := sessions.Stop(r.Context(), req.SessionID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionMismatch):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			logger.Error().Err(err).Str("sessionId", req.SessionID).Msg("Failed to stop session")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to stop session"})
		}
	}
}

// decodeBody decodes a JSON body; an empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
