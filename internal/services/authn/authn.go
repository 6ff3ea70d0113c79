// Package authn turns a bearer access token into the principal of a request.
package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/lib/jwt"
	"memberauth/internal/lib/logger/mask"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/lib/metrics"
)

const bearerPrefix = "Bearer "

// Rejection codes shared by every transport.
const (
	CodeInvalidOrExpired = "INVALID_OR_EXPIRED_ACCESS_TOKEN"
	CodeTypeMismatch     = "ACCESS_TOKEN_TYP_MISMATCH"
	CodeJTIMissing       = "ACCESS_TOKEN_JTI_MISSING"
	CodeBlacklisted      = "ACCESS_TOKEN_BLACKLISTED"
	CodeSubjectMissing   = "ACCESS_TOKEN_SUBJECT_MISSING"
)

var (
	ErrInvalidOrExpired = errors.New("invalid or expired access token")
	ErrTypeMismatch     = errors.New("token is not an access token")
	ErrJTIMissing       = errors.New("access token has no jti")
	ErrBlacklisted      = errors.New("access token is blacklisted")
	ErrSubjectMissing   = errors.New("access token has no subject")
)

// Code maps a rejection to its wire code. ok is false for anything that is
// not a rejection, such as a token store outage.
func Code(err error) (code string, ok bool) {
	switch {
	case errors.Is(err, ErrInvalidOrExpired):
		return CodeInvalidOrExpired, true
	case errors.Is(err, ErrTypeMismatch):
		return CodeTypeMismatch, true
	case errors.Is(err, ErrJTIMissing):
		return CodeJTIMissing, true
	case errors.Is(err, ErrBlacklisted):
		return CodeBlacklisted, true
	case errors.Is(err, ErrSubjectMissing):
		return CodeSubjectMissing, true
	}
	return "", false
}

// Principal is the authenticated caller of one request.
type Principal struct {
	MemberID  int64
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

type BlacklistChecker interface {
	IsAccessBlacklisted(ctx context.Context, jti string) (bool, error)
}

type Authenticator struct {
	logger       *slog.Logger
	codec        *jwt.Codec
	blacklist    BlacklistChecker
	metrics      *metrics.Metrics
	storeTimeout time.Duration
}

func New(
	logger *slog.Logger,
	codec *jwt.Codec,
	blacklist BlacklistChecker,
	m *metrics.Metrics,
	storeTimeout time.Duration,
) *Authenticator {
	return &Authenticator{
		logger:       logger,
		codec:        codec,
		blacklist:    blacklist,
		metrics:      m,
		storeTimeout: storeTimeout,
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// Authenticate returns (nil, nil) when the header carries no bearer token;
// routes that need a member reject that themselves.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	const op = "authn.Authenticate"

	token, ok := BearerToken(header)
	if !ok {
		return nil, nil
	}

	p, err := a.authenticate(ctx, token)
	if err != nil {
		if code, ok := Code(err); ok {
			a.logger.Debug("access token rejected", slog.String("op", op), slog.String("code", code))
			a.metrics.AuthnRejected(code)
		} else {
			a.logger.Error("failed to authenticate", slog.String("op", op), sl.Err(err))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*Principal, error) {
	cl, err := a.codec.Parse(token)
	if err != nil {
		return nil, ErrInvalidOrExpired
	}
	if cl.Type != models.TokenTypeAccess {
		return nil, ErrTypeMismatch
	}
	if a.codec.Expired(cl) {
		return nil, ErrInvalidOrExpired
	}
	if cl.ID == "" {
		return nil, ErrJTIMissing
	}

	sctx := ctx
	if a.storeTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, a.storeTimeout)
		defer cancel()
	}

	blacklisted, err := a.blacklist.IsAccessBlacklisted(sctx, cl.ID)
	if err != nil {
		return nil, fmt.Errorf("blacklist lookup for %s: %w", mask.JTI(cl.ID), err)
	}
	if blacklisted {
		return nil, ErrBlacklisted
	}

	if cl.Subject == "" {
		return nil, ErrSubjectMissing
	}
	memberID, err := strconv.ParseInt(cl.Subject, 10, 64)
	if err != nil {
		return nil, ErrSubjectMissing
	}

	return &Principal{
		MemberID:  memberID,
		Subject:   cl.Subject,
		TokenID:   cl.ID,
		ExpiresAt: cl.ExpiresAt,
	}, nil
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
