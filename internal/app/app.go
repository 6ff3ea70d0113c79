package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	grpcapp "memberauth/internal/app/grpc"
	httpapp "memberauth/internal/app/http"
	"memberauth/internal/config"
	"memberauth/internal/events"
	"memberauth/internal/events/kafka"
	"memberauth/internal/http/handlers"
	"memberauth/internal/http/router"
	"memberauth/internal/lib/jwt"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/lib/mail"
	"memberauth/internal/lib/metrics"
	"memberauth/internal/services/auth"
	"memberauth/internal/services/authn"
	"memberauth/internal/services/member"
	"memberauth/internal/storage/mongodb"
	"memberauth/internal/storage/postgres"
	redisstore "memberauth/internal/storage/redis"
	"memberauth/internal/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// memberStore is what every membership backend provides.
type memberStore interface {
	auth.MemberProvider
	member.Store
	handlers.Pinger
}

// tokenStore is what every token store backend provides.
type tokenStore interface {
	auth.TokenStore
	authn.BlacklistChecker
	member.VerificationStore
	handlers.Pinger
}

var (
	_ memberStore = (*sqlite.Storage)(nil)
	_ memberStore = (*postgres.Storage)(nil)
	_ memberStore = (*mongodb.Storage)(nil)
	_ tokenStore  = (*redisstore.Storage)(nil)
	_ tokenStore  = (*mongodb.Storage)(nil)
)

type App struct {
	GRPCSrv *grpcapp.App
	HTTPSrv *httpapp.App

	logger  *slog.Logger
	closers []func(ctx context.Context) error
}

func New(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	a := &App{logger: logger}

	members, err := a.openMembers(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tokens, err := a.openTokens(ctx, cfg, members)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	codec := jwt.New(cfg.Token.Secret, cfg.Token.AccessTTL, cfg.Token.RefreshTTL)
	publisher := a.publisher(cfg.Kafka)
	mailer := a.mailer(cfg.Mail)

	authService := auth.New(logger, members, tokens, codec, publisher, m, cfg.StoreTimeout)
	authenticator := authn.New(logger, codec, tokens, m, cfg.StoreTimeout)
	memberService := member.New(
		logger,
		members,
		tokens,
		mailer,
		cfg.Verification.CodeTTL,
		cfg.Verification.VerifiedTTL,
		cfg.StoreTimeout,
	)

	handler := router.New(router.Deps{
		Logger:        logger,
		Handler:       handlers.New(logger, authService, memberService, cfg.HTTP.CookieSecure),
		Authenticator: authenticator,
		Health:        map[string]handlers.Pinger{"members": members, "tokens": tokens},
		Gatherer:      reg,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
	})

	a.HTTPSrv = httpapp.New(logger, handler, cfg.HTTP)
	a.GRPCSrv = grpcapp.New(logger, authService, memberService, authenticator, cfg.Grpc.Port, cfg.Grpc.Timeout)

	return a, nil
}

func (a *App) openMembers(ctx context.Context, cfg *config.Config) (memberStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case config.DriverMongo:
		s, err := mongodb.New(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close)
		return s, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// openTokens reuses the membership connection when both live in MongoDB.
func (a *App) openTokens(ctx context.Context, cfg *config.Config, members memberStore) (tokenStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.TokenStore {
	case config.TokenStoreRedis:
		s, err := redisstore.New(ctx, &redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case config.TokenStoreMongo:
		if s, ok := members.(*mongodb.Storage); ok {
			return s, nil
		}
		s, err := mongodb.New(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close)
		return s, nil
	}

	return nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
}

func (a *App) publisher(cfg config.KafkaConfig) events.Publisher {
	if len(cfg.Brokers) == 0 {
		a.logger.Info("kafka brokers are not configured, security events are dropped")
		return events.Noop{}
	}

	p := kafka.New(cfg.Brokers, cfg.Topic)
	a.onClose(func(context.Context) error { return p.Close() })
	return p
}

func (a *App) mailer(cfg config.MailConfig) member.Mailer {
	if cfg.Host == "" {
		a.logger.Warn("smtp host is not configured, verification codes are logged")
		return mail.NewLogSender(a.logger)
	}
	return mail.NewSMTPSender(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.From, cfg.Timeout)
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases storages and the event publisher in reverse order of
// opening.
func (a *App) Close() {
	const op = "app.Close"

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if err := errors.Join(errs...); err != nil {
		a.logger.Error("failed to release resources", slog.String("op", op), sl.Err(err))
	}
}

