package main

import (
	"context"

	"github.com/samber/do/v2"

	"live-speech-relay/internal/clock"
	"live-speech-relay/internal/config"
	"live-speech-relay/internal/events"
	"live-speech-relay/internal/service/interim"
	"live-speech-relay/internal/service/pipeline"
	"live-speech-relay/internal/service/session"
	"live-speech-relay/internal/service/stream"
	"live-speech-relay/internal/service/stt"
	"live-speech-relay/internal/service/stt/google"
	"live-speech-relay/internal/service/stt/mock"
	"live-speech-relay/internal/service/transcoder"
)

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	events.RegisterDI(injector)
	registerRecognizer(injector)
	registerLauncher(injector)
	session.RegisterDI(injector)

	return injector
}

func registerRecognizer(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (stt.Adapter, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.STT.Provider != "google" {
			return mock.New(), nil
		}
		adapter, err := google.New(context.Background(), google.Config{
			ProjectID:           c.STT.ProjectID,
			CredentialsJSON:     c.STT.CredentialsJSON,
			Location:            c.STT.Location,
			RecognizerID:        c.STT.RecognizerID,
			Model:               c.STT.Model,
			LanguageCodes:       c.STT.LanguageCodes,
			MinInterimStability: c.STT.MinInterimStability,
		})
		if err != nil {
			return nil, err
		}
		return adapter, nil
	})
}

func registerLauncher(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*pipeline.Launcher, error) {
		c := do.MustInvoke[*config.Config](i)
		adapter := do.MustInvoke[stt.Adapter](i)
		publisher := do.MustInvoke[*events.Publisher](i)

		spawner := transcoder.NewFFmpegSpawner(c.Transcoder.Binary, c.Transcoder.Input, c.Transcoder.KillGrace)
		var sources pipeline.SourceFactory
		if len(c.Transcoder.SourceCommand) > 0 {
			sources = pipeline.CommandSourceFactory(c.Transcoder.SourceCommand)
		}
		return pipeline.NewLauncher(pipelineConfig(c), adapter, publisher, spawner, sources, clock.Real()), nil
	})
}

func pipelineConfig(c *config.Config) pipeline.Config {
	tc := transcoder.DefaultConfig()
	tc.WatchdogInterval = c.Transcoder.WatchdogInterval
	tc.StallThreshold = c.Transcoder.StallThreshold
	tc.StartupGrace = c.Transcoder.StartupGrace
	tc.KillGrace = c.Transcoder.KillGrace

	sc := stream.DefaultConfig()
	sc.SourceLanguage = c.STT.LanguageCodes[0]
	sc.RestartInterval = c.Stream.RestartInterval
	sc.RetryInterval = c.Stream.RetryInterval
	sc.Recognition = stt.StreamOptions{LanguageCodes: c.STT.LanguageCodes, Model: c.STT.Model}
	sc.MaxEmitsPerSecond = c.Sentence.MaxEmitsPerSecond
	sc.MinimumGrowthCharacters = c.Sentence.MinimumGrowthCharacters
	sc.Interim = interim.Config{
		Throttle:       c.Interim.Throttle,
		Debounce:       c.Interim.Debounce,
		HardLatency:    c.Interim.HardLatency,
		MaxQueue:       c.Interim.MaxQueue,
		Mode:           c.Interim.Mode,
		SuffixWindow:   c.Interim.SuffixWindow,
		SourceLanguage: sc.SourceLanguage,
		TargetLanguage: sc.TargetLanguage,
		SampleRateHz:   16000,
	}

	return pipeline.Config{Stream: sc, Transcoder: tc}
}
