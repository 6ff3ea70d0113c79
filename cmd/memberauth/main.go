package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"memberauth/internal/app"
	"memberauth/internal/config"
	"memberauth/internal/lib/logger/handlers/slogpretty"
	"memberauth/internal/lib/logger/sl"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.Env)
	logger.Info("starting memberauth",
		slog.String("env", cfg.Env),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("token_store", cfg.TokenStore),
	)

	application, err := app.New(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("failed to start", sl.Err(err))
		os.Exit(1)
	}

	go application.GRPCSrv.MustRun()
	go application.HTTPSrv.MustRun()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sign := <-stop

	logger.Info("stopping memberauth", slog.String("signal", sign.String()))

	application.HTTPSrv.Stop()
	application.GRPCSrv.Stop()
	application.Close()

	logger.Info("memberauth stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		panic("unknown environment: " + env)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}
	h := opts.NewPrettyHandler(os.Stdout)

	return slog.New(h)
}
