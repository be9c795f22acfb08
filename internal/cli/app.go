package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/config"
	"github.com/roach88/chatsync/internal/docstore"
	"github.com/roach88/chatsync/internal/media"
	"github.com/roach88/chatsync/internal/metrics"
)

// app bundles the components a command runs against.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *docstore.Store
	blobs   *media.BlobStore
	metrics *metrics.Metrics
	svc     *chat.Service
}

// openApp loads configuration and opens the store. Callers must Close it.
func openApp(opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.Config, config.WithEnvFile(".env"))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}

	logger := newLogger(cfg.Log, opts.Verbose, logOut)

	logger.Debug("opening store", "path", cfg.Store.Path)
	st, err := docstore.Open(cfg.Store.Path, docstore.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	svcOpts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithMetrics(a.metrics),
		chat.WithHistoryLimit(cfg.HistoryLimit),
	}
	uploader, err := a.uploader()
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open media backend", err)
	}
	if uploader != nil {
		svcOpts = append(svcOpts, chat.WithUploader(uploader))
	}
	a.svc = chat.NewService(st, svcOpts...)
	return a, nil
}

// uploader builds the configured media backend, or nil for "none".
func (a *app) uploader() (media.Uploader, error) {
	mc := a.cfg.Media
	switch mc.Backend {
	case "cloudinary":
		return media.NewCloudinaryUploader(media.CloudinaryConfig{
			CloudName:    mc.Cloudinary.CloudName,
			UploadPreset: mc.Cloudinary.UploadPreset,
			APIKey:       mc.Cloudinary.APIKey,
			BaseURL:      mc.Cloudinary.BaseURL,
			MaxBytes:     mc.MaxSize.Int64(),
		}, media.WithLogger(a.logger)), nil
	case "blob":
		blobs, err := media.OpenBlobStore(mc.BlobDir, mc.MaxSize.Int64())
		if err != nil {
			return nil, err
		}
		a.blobs = blobs
		return blobs, nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", mc.Backend)
	}
}

// Close releases the blob store and the document store.
func (a *app) Close() {
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Error("error closing blob store", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing store", "error", err)
	}
}

// newLogger builds the slog logger. --verbose forces debug level.
func newLogger(lc config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// withApp opens the app for the duration of fn.
func withApp(opts *RootOptions, logOut io.Writer, fn func(a *app) error) error {
	a, err := openApp(opts, logOut)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
