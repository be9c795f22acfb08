package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"golang.org/x/time/rate"

	"github.com/roach88/chatsync/internal/assistant"
	"github.com/roach88/chatsync/internal/fanout"
	"github.com/roach88/chatsync/internal/responder"
)

// offlineReply is drafted when no assistant API key is configured.
const offlineReply = "I'm offline right now, but I saw your message! ✨"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Users       []string
	NoAssistant bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run chat list listeners and the assistant responder",
		Long: `Run a chat list listener for each --user until interrupted.

Each listener keeps the user's chat list current and logs toast and push
alerts for incoming messages. Unless disabled, the assistant answers each
user in their assistant conversation. Without an API key the assistant
replies from a fixed offline script.

When metrics.addr is configured, Prometheus metrics are served on /metrics.

Example:
  chatsync serve --db ./chat.db --user alice --user bob
  chatsync serve --config chatsync.yaml --user alice --no-assistant`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Users, "user", nil, "user to listen for (repeatable, required)")
	cmd.Flags().BoolVar(&opts.NoAssistant, "no-assistant", false, "do not run the assistant responder")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.logger

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var drafter responder.Drafter
	if !opts.NoAssistant && a.cfg.Assistant.Enabled {
		drafter = newDrafter(a)
	}

	notifier := fanout.LogNotifier{Logger: log}
	for _, user := range opts.Users {
		l := fanout.New(a.svc, user, notifier,
			fanout.WithRecencyWindow(a.cfg.Notifications.RecencyWindow.Std()),
			fanout.WithLogger(log),
			fanout.WithMetrics(a.metrics),
		)
		if err := l.Start(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to start listener", err)
		}
		defer l.Stop()

		if drafter == nil {
			continue
		}
		r := responder.New(a.svc, user, drafter,
			responder.WithConfig(pacing(a)),
			responder.WithLogger(log),
			responder.WithMetrics(a.metrics),
		)
		if err := r.Attach(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to attach assistant", err)
		}
		defer r.Detach()
		log.Info("assistant attached", "user", user, "conversation", r.ConversationID())
	}

	var srv *fasthttp.Server
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv = newMetricsServer(a)
		go func() {
			log.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(addr); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Listening for %d user(s). Press Ctrl-C to stop.\n", len(opts.Users))
	<-ctx.Done()

	if srv != nil {
		if err := srv.Shutdown(); err != nil {
			log.Error("error stopping metrics server", "error", err)
		}
	}
	log.Info("stopped gracefully", "reason", context.Cause(ctx))
	return nil
}

// newDrafter returns the model client, or the offline script without a key.
func newDrafter(a *app) responder.Drafter {
	ac := a.cfg.Assistant
	if ac.APIKey == "" {
		a.logger.Info("no assistant API key, using offline replies")
		return assistant.NewScripted(offlineReply)
	}
	return assistant.New(assistant.Config{
		APIKey:  ac.APIKey,
		Model:   ac.Model,
		BaseURL: ac.BaseURL,
		Timeout: ac.Timeout.Std(),
	}, assistant.WithLogger(a.logger))
}

func pacing(a *app) responder.Config {
	ac := a.cfg.Assistant
	return responder.Config{
		InitialDelay: ac.InitialDelay.Std(),
		PerChar:      ac.PerChar.Std(),
		MinTyping:    ac.MinTyping.Std(),
		MaxTyping:    ac.MaxTyping.Std(),
		Limiter:      rate.NewLimiter(rate.Limit(ac.RatePerSecond), ac.Burst),
	}
}

// newMetricsServer serves /metrics and /healthz.
func newMetricsServer(a *app) *fasthttp.Server {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(a.metrics.Handler())
	return &fasthttp.Server{
		Name:   "chatsync",
		Logger: fasthttpLogger{a.logger},
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/metrics":
				metricsHandler(ctx)
			case "/healthz":
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"status":"ok"}`)
			default:
				ctx.Error("not found", fasthttp.StatusNotFound)
			}
		},
	}
}

// fasthttpLogger adapts slog to fasthttp.Logger.
type fasthttpLogger struct {
	l *slog.Logger
}

func (f fasthttpLogger) Printf(format string, args ...any) {
	f.l.Warn(fmt.Sprintf(format, args...), "component", "metrics")
}
