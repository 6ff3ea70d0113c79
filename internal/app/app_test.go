package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"memberauth/internal/config"
	"memberauth/internal/lib/logger/handlers/slogdiscard"
	"memberauth/internal/storage/sqlite"
	"memberauth/migrations"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "members.db")
	_, err := migrations.Up(migrations.DialectSQLite, migrations.SQLiteURL(path))
	require.NoError(t, err)

	seed, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, seed.SeedTerms(context.Background()))
	require.NoError(t, seed.Close())

	mr := miniredis.RunT(t)

	return &config.Config{
		Env: "local",
		Storage: config.StorageConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: path,
		},
		TokenStore: config.TokenStoreRedis,
		Redis: config.RedisConfig{
			Addr:         mr.Addr(),
			DialTimeout:  time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Token: config.TokenConfig{
			Secret:     "app-test-secret-0123456789abcdef",
			AccessTTL:  time.Minute,
			RefreshTTL: time.Hour,
		},
		StoreTimeout: time.Second,
		HTTP: config.HTTPConfig{
			Address:         "127.0.0.1:0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			IdleTimeout:     time.Second,
			ShutdownTimeout: time.Second,
		},
		Grpc: config.GRPCConfig{Port: 0, Timeout: time.Second},
		Verification: config.VerificationConfig{
			CodeTTL:     time.Minute,
			VerifiedTTL: time.Minute,
		},
	}
}

func TestNew_ServesHTTPAndGRPC(t *testing.T) {
	cfg := testConfig(t)

	application, err := New(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(application.Close)

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = application.HTTPSrv.Serve(httpLis) }()
	t.Cleanup(application.HTTPSrv.Stop)

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = application.GRPCSrv.Serve(grpcLis) }()
	t.Cleanup(application.GRPCSrv.Stop)

	base := "http://" + httpLis.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.True(t, health.Success)
	assert.Equal(t, map[string]string{"members": "up", "tokens": "up"}, health.Data)

	mresp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "go_goroutines")

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "oracle"

	_, err := New(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestNew_TokenStoreUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout = 100 * time.Millisecond

	_, err := New(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.Error(t, err)
}
