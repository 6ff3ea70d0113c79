package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"memberauth/internal/config"
	"memberauth/internal/lib/logger/sl"
)

type App struct {
	logger          *slog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

func New(logger *slog.Logger, handler http.Handler, cfg config.HTTPConfig) *App {
	return &App{
		logger: logger,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

// Serve blocks until Stop is called or the listener fails.
func (a *App) Serve(listener net.Listener) error {
	const op = "httpapp.Serve"

	a.logger.Info("HTTP server is running",
		slog.String("op", op),
		slog.String("address", listener.Addr().String()),
	)

	if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop() {
	const op = "httpapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping HTTP server", slog.String("address", a.server.Addr))

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("failed to shut down gracefully", sl.Err(err))
	}
}
