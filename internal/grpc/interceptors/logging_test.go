package interceptors

import (
	"context"
	"errors"
	"testing"
	"time"

	"memberauth/internal/lib/logger/handlers/slogdiscard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/memberauth.v1.Auth/Me"}

func TestTimeout_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := func(ctx context.Context, _ any) (any, error) {
		deadline, ok = ctx.Deadline()
		return nil, nil
	}

	_, err := Timeout(time.Second)(context.Background(), nil, info, handler)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)
}

func TestTimeout_ZeroDisables(t *testing.T) {
	handler := func(ctx context.Context, _ any) (any, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return nil, nil
	}

	_, err := Timeout(0)(context.Background(), nil, info, handler)
	require.NoError(t, err)
}

func TestTimeout_SlowHandlerSeesCancellation(t *testing.T) {
	handler := func(ctx context.Context, _ any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := Timeout(50*time.Millisecond)(context.Background(), nil, info, handler)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecovery(t *testing.T) {
	handler := func(context.Context, any) (any, error) {
		panic("boom")
	}

	_, err := Recovery(slogdiscard.NewDiscardLogger())(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestLogging_PassesThrough(t *testing.T) {
	want := errors.New("handler failed")
	handler := func(context.Context, any) (any, error) {
		return "resp", want
	}

	resp, err := Logging(slogdiscard.NewDiscardLogger())(context.Background(), nil, info, handler)
	assert.Equal(t, "resp", resp)
	assert.ErrorIs(t, err, want)
}
