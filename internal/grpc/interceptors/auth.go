package interceptors

import (
	"context"
	"log/slog"

	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/services/authn"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*authn.Principal, error)
}

// Auth resolves the authorization metadata of every non-public method into
// a principal, mirroring the HTTP middleware.
type Auth struct {
	logger        *slog.Logger
	authenticator Authenticator
	public        map[string]bool
}

func NewAuth(logger *slog.Logger, a Authenticator, publicMethods ...string) *Auth {
	public := make(map[string]bool, len(publicMethods))
	for _, m := range publicMethods {
		public[m] = true
	}

	return &Auth{
		logger:        logger,
		authenticator: a,
		public:        public,
	}
}

func (i *Auth) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if i.public[info.FullMethod] {
			return handler(ctx, req)
		}

		p, err := i.authenticator.Authenticate(ctx, authorization(ctx))
		if err != nil {
			if code, ok := authn.Code(err); ok {
				return nil, status.Error(codes.Unauthenticated, code)
			}
			i.logger.Error("failed to authenticate call",
				slog.String("method", info.FullMethod),
				sl.Err(err),
			)
			return nil, status.Error(codes.Internal, "internal server error")
		}

		if p != nil {
			ctx = authn.WithPrincipal(ctx, p)
		}
		return handler(ctx, req)
	}
}

func authorization(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("authorization"); len(v) > 0 {
		return v[0]
	}
	return ""
}
