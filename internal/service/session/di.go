package session

import (
	"context"

	"github.com/samber/do/v2"

	"live-speech-relay/internal/config"
	"live-speech-relay/internal/service/pipeline"
)

// RegisterDI provides the Controller. It needs a *pipeline.Launcher.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Controller, error) {
		cfg := do.MustInvoke[*config.Config](i)
		launcher := do.MustInvoke[*pipeline.Launcher](i)
		return NewController(LauncherFactory(launcher), cfg.Service.StreamingEndpointBase), nil
	})
}

// LauncherFactory starts sessions as pipelines.
func LauncherFactory(l *pipeline.Launcher) Factory {
	return func(ctx context.Context, req StartRequest) (Runner, error) {
		p, err := l.Launch(ctx, req.SessionID, req.SourceLang, req.TargetLang)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
