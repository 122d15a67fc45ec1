package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"live-speech-relay/internal/app"
	"live-speech-relay/internal/config"
	"live-speech-relay/internal/service/session"
)

type fakeSessions struct {
	startReq session.StartRequest
	startErr error
	stopID   string
	stopErr  error
}

func (f *fakeSessions) Start(ctx context.Context, req session.StartRequest) (session.StartResult, error) {
	f.startReq = req
	if f.startErr != nil {
		return session.StartResult{}, f.startErr
	}
	return session.StartResult{SessionID: "sess-1", StreamingEndpoint: "ws://relay/sess-1"}, nil
}

func (f *fakeSessions) Stop(ctx context.Context, sessionID string) error {
	f.stopID = sessionID
	return f.stopErr
}

func newTestRouter(sessions SessionController) http.Handler {
	return NewRouter(&app.Application{Cfg: &config.Config{}}, sessions)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestRouter_StartSession(t *testing.T) {
	sessions := &fakeSessions{}
	rec := serve(newTestRouter(sessions), http.MethodPost, "/api/sessions/start", `{"sourceLang":"ko-KR","targetLang":"en-US"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var res session.StartResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.SessionID != "sess-1" || res.StreamingEndpoint != "ws://relay/sess-1" {
		t.Errorf("unexpected response %+v", res)
	}
	if sessions.startReq.SourceLang != "ko-KR" || sessions.startReq.TargetLang != "en-US" {
		t.Errorf("languages not passed through: %+v", sessions.startReq)
	}
}

func TestRouter_StartSessionErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		wantCode int
	}{
		{name: "empty body uses defaults", body: "", wantCode: http.StatusAccepted},
		{name: "malformed body", body: "{", wantCode: http.StatusBadRequest},
		{name: "pipeline setup fails", body: "{}", startErr: errors.New("no ffmpeg"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestRouter(&fakeSessions{startErr: tt.startErr}), http.MethodPost, "/api/sessions/start", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestRouter_StopSession(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		stopErr  error
		wantCode int
		wantBody string
	}{
		{name: "stops session", body: `{"sessionId":"sess-1"}`, wantCode: http.StatusOK, wantBody: `"ok":true`},
		{name: "missing id", body: `{}`, wantCode: http.StatusBadRequest, wantBody: "sessionId is required"},
		{name: "mismatched id", body: `{"sessionId":"other"}`, stopErr: session.ErrSessionMismatch, wantCode: http.StatusBadRequest},
		{name: "no active session", body: `{"sessionId":"sess-1"}`, stopErr: session.ErrSessionNotFound, wantCode: http.StatusBadRequest},
		{name: "stop fails", body: `{"sessionId":"sess-1"}`, stopErr: errors.New("flush failed"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestRouter(&fakeSessions{stopErr: tt.stopErr}), http.MethodPost, "/api/sessions/stop", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body containing %q, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRouter_Health(t *testing.T) {
	rec := serve(newTestRouter(&fakeSessions{}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("/health = %d %s", rec.Code, rec.Body.String())
	}
}
