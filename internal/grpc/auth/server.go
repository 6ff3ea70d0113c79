package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/services/auth"
	"memberauth/internal/services/authn"
	"memberauth/internal/services/member"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DeviceIDKey and AuthorizationKey are the metadata keys standing in for
	// the HTTP headers.
	DeviceIDKey      = "x-device-id"
	AuthorizationKey = "authorization"

	dateLayout = "2006-01-02"
)

type Auth interface {
	Login(ctx context.Context, email, password, deviceID string) (models.TokenPair, error)
	Reissue(ctx context.Context, refreshToken, deviceID string) (models.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken, deviceID string) error
	AccessTTL() time.Duration
}

type Members interface {
	Profile(ctx context.Context, id int64) (*models.MemberProfile, error)
}

type serverAPI struct {
	logger   *slog.Logger
	auth     Auth
	members  Members
	validate *validator.Validate
}

func Register(gRPC *grpc.Server, logger *slog.Logger, auth Auth, members Members) {
	gRPC.RegisterService(&serviceDesc, &serverAPI{
		logger:   logger,
		auth:     auth,
		members:  members,
		validate: validator.New(),
	})
}

func (s *serverAPI) Login(
	ctx context.Context,
	req *structpb.Struct,
) (*structpb.Struct, error) {
	email := strings.TrimSpace(stringField(req, "email"))
	password := stringField(req, "password")

	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, status.Error(codes.InvalidArgument, "a valid email is required")
	}
	if password == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}

	pair, err := s.auth.Login(ctx, email, password, deviceID(ctx))
	if err != nil {
		return nil, s.authError("grpc.Login", err)
	}

	return s.tokenResponse(pair)
}

func (s *serverAPI) Reissue(
	ctx context.Context,
	req *structpb.Struct,
) (*structpb.Struct, error) {
	refresh := stringField(req, "refreshToken")
	if refresh == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	pair, err := s.auth.Reissue(ctx, refresh, deviceID(ctx))
	if err != nil {
		if errors.Is(err, auth.ErrMemberNotFound) {
			return nil, status.Error(codes.NotFound, "member not found")
		}
		return nil, s.authError("grpc.Reissue", err)
	}

	return s.tokenResponse(pair)
}

// Logout takes the access token from the authorization metadata and the
// refresh token from the request. Either may be absent.
func (s *serverAPI) Logout(
	ctx context.Context,
	req *structpb.Struct,
) (*structpb.Struct, error) {
	access, _ := authn.BearerToken(incoming(ctx, AuthorizationKey))

	err := s.auth.Logout(ctx, access, stringField(req, "refreshToken"), deviceID(ctx))
	if err != nil {
		return nil, s.authError("grpc.Logout", err)
	}

	return &structpb.Struct{}, nil
}

func (s *serverAPI) Me(
	ctx context.Context,
	_ *structpb.Struct,
) (*structpb.Struct, error) {
	const op = "grpc.Me"

	p, ok := authn.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}

	profile, err := s.members.Profile(ctx, p.MemberID)
	if err != nil {
		if errors.Is(err, member.ErrMemberNotFound) {
			return nil, status.Error(codes.NotFound, "member not found")
		}
		s.logger.Error("failed to get profile", slog.String("op", op), sl.Err(err))
		return nil, status.Error(codes.Internal, "internal server error")
	}

	out, err := structpb.NewStruct(map[string]any{
		"id":        profile.ID,
		"email":     profile.Email,
		"name":      profile.Name,
		"nickname":  profile.Nickname,
		"birthDate": profile.BirthDate.Format(dateLayout),
		"gender":    string(profile.Gender),
		"status":    string(profile.Status),
		"createdAt": profile.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("failed to encode profile", slog.String("op", op), sl.Err(err))
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return out, nil
}

func (s *serverAPI) tokenResponse(pair models.TokenPair) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    s.auth.AccessTTL().Milliseconds(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

func (s *serverAPI) authError(op string, err error) error {
	switch {
	case errors.Is(err, auth.ErrMemberNotFound), errors.Is(err, auth.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid email or password")
	case errors.Is(err, auth.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "member is not allowed to log in")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		return status.Error(codes.Unauthenticated, "invalid refresh token")
	case errors.Is(err, auth.ErrReusedRefreshToken):
		return status.Error(codes.Unauthenticated, "refresh token reuse detected")
	case errors.Is(err, auth.ErrDeviceRequired):
		return status.Error(codes.InvalidArgument, "device id is required")
	}

	s.logger.Error("auth operation failed", slog.String("op", op), sl.Err(err))
	return status.Error(codes.Internal, "internal server error")
}

func stringField(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func deviceID(ctx context.Context) string {
	return strings.TrimSpace(incoming(ctx, DeviceIDKey))
}

func incoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
