package app

import (
	"time"

	"github.com/rs/zerolog"

	"live-speech-relay/internal/config"
	"live-speech-relay/internal/observability/logging"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
}

// New configures logging from cfg and constructs the Application.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}
	a.Logger.Info().
		Str("logLevel", cfg.Observability.LogLevel).
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Msg("Speech relay application created")
	return a
}

// Start records the startup time.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Speech relay starting")
	return nil
}

// Uptime returns how long the service has been running.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	a.Logger.Info().
		Dur("uptime", a.Uptime()).
		Msg("Speech relay shutting down")
}
