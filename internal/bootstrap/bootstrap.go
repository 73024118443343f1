// Package bootstrap provides dependency initialization for the thumbnail API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/thumbnail-api/internal/codec"
	"github.com/maauso/thumbnail-api/internal/config"
	"github.com/maauso/thumbnail-api/internal/metrics"
	"github.com/maauso/thumbnail-api/internal/thumbnail"
	"github.com/maauso/thumbnail-api/internal/workspace"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Workspace *workspace.Workspace
	Session   *codec.Session
	Service   *thumbnail.Service
	Metrics   *metrics.Metrics
}

// NewDependencies creates and initializes all dependencies for the application.
// The codec session is left uninitialized; the first request resolves it.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	ws, err := initWorkspace(cfg, logger)
	if err != nil {
		return nil, err
	}

	sessionOpts := []codec.SessionOption{
		codec.WithFFmpegPath(cfg.FFmpegPath),
		codec.WithQuality(cfg.JPEGQuality),
		codec.WithLogger(logger),
	}
	if cfg.CodecSourceURL != "" {
		src, err := codec.NewSource(cfg.CodecSourceURL, codec.S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create codec source: %w", err)
		}
		logger.Info("codec source configured",
			slog.String("source", src.String()),
		)
		sessionOpts = append(sessionOpts, codec.WithSource(src))
	}
	session := codec.NewSession(ws, sessionOpts...)

	m := metrics.New()
	svc := thumbnail.NewService(session, logger,
		thumbnail.WithMaxConcurrent(cfg.MaxConcurrentTranscodes),
		thumbnail.WithTimeout(cfg.TranscodeTimeout),
		thumbnail.WithMetrics(m),
	)

	return &Dependencies{
		Workspace: ws,
		Session:   session,
		Service:   svc,
		Metrics:   m,
	}, nil
}

// initWorkspace creates the workspace root and reports scopes left behind
// by a previous process.
func initWorkspace(cfg *config.Config, logger *slog.Logger) (*workspace.Workspace, error) {
	ws, err := workspace.New(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	pending, err := ws.Pending()
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	if len(pending) > 0 {
		logger.Warn("workspace has scopes from a previous run",
			slog.String("dir", ws.Root()),
			slog.Int("count", len(pending)),
		)
	}

	logger.Info("workspace configured",
		slog.String("dir", ws.Root()),
	)
	return ws, nil
}
