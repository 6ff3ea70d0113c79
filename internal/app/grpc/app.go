package grpcapp

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	authgrpc "memberauth/internal/grpc/auth"
	"memberauth/internal/grpc/interceptors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type App struct {
	logger     *slog.Logger
	gRPCServer *grpc.Server
	health     *health.Server
	port       int
}

func New(
	logger *slog.Logger,
	authService authgrpc.Auth,
	members authgrpc.Members,
	authenticator interceptors.Authenticator,
	port int,
	timeout time.Duration,
) *App {
	authInterceptor := interceptors.NewAuth(logger, authenticator,
		authgrpc.MethodLogin,
		authgrpc.MethodReissue,
		authgrpc.MethodLogout,
		healthpb.Health_Check_FullMethodName,
	)

	gRPCServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		interceptors.Recovery(logger),
		interceptors.Logging(logger),
		interceptors.Timeout(timeout),
		authInterceptor.Unary(),
	))

	authgrpc.Register(gRPCServer, logger, authService, members)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(authgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gRPCServer, healthServer)

	return &App{
		logger:     logger,
		gRPCServer: gRPCServer,
		health:     healthServer,
		port:       port,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "grpcapp.Run"

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

// Serve blocks until Stop is called or the listener fails.
func (a *App) Serve(listener net.Listener) error {
	const op = "grpcapp.Serve"

	a.logger.Info("gRPC server is running",
		slog.String("op", op),
		slog.String("address", listener.Addr().String()),
	)

	if err := a.gRPCServer.Serve(listener); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop() {
	const op = "grpcapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping gRPC server", slog.Int("port", a.port))

	a.health.Shutdown()
	a.gRPCServer.GracefulStop()
}
