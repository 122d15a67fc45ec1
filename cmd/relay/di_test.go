package main

import (
	"testing"

	"github.com/samber/do/v2"

	"live-speech-relay/internal/config"
	"live-speech-relay/internal/events"
	"live-speech-relay/internal/service/session"
	"live-speech-relay/internal/service/stt"
	"live-speech-relay/internal/service/stt/mock"
)

func TestSetupDI_ResolvesServices(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	injector := setupDI(cfg)

	if _, err := do.Invoke[*events.Publisher](injector); err != nil {
		t.Errorf("resolve publisher: %v", err)
	}
	recognizer, err := do.Invoke[stt.Adapter](injector)
	if err != nil {
		t.Fatalf("resolve recognizer: %v", err)
	}
	if _, ok := recognizer.(*mock.Adapter); !ok {
		t.Errorf("expected mock recognizer by default, got %T", recognizer)
	}
	if _, err := do.Invoke[*session.Controller](injector); err != nil {
		t.Errorf("resolve session controller: %v", err)
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg.STT.LanguageCodes = []string{"ja-JP"}
	cfg.Interim.Mode = "lcp"

	pc := pipelineConfig(cfg)
	if pc.Stream.SourceLanguage != "ja-JP" || pc.Stream.Interim.SourceLanguage != "ja-JP" {
		t.Errorf("expected source language from STT config, got %+v", pc.Stream)
	}
	if pc.Stream.Interim.Mode != "lcp" {
		t.Errorf("expected interim mode lcp, got %s", pc.Stream.Interim.Mode)
	}
	if pc.Stream.RestartInterval != cfg.Stream.RestartInterval || pc.Transcoder.StallThreshold != cfg.Transcoder.StallThreshold {
		t.Error("expected intervals copied from config")
	}
}
