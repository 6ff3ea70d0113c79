package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/events"
	"memberauth/internal/lib/jwt"
	"memberauth/internal/lib/logger/mask"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/lib/metrics"
	"memberauth/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

const publishTimeout = 2 * time.Second

// Auth is the session manager: it issues, rotates and revokes token pairs.
type Auth struct {
	logger       *slog.Logger
	members      MemberProvider
	tokens       TokenStore
	codec        *jwt.Codec
	publisher    events.Publisher
	metrics      *metrics.Metrics
	storeTimeout time.Duration
}

type MemberProvider interface {
	Member(ctx context.Context, email string) (*models.Member, error)
	MemberByID(ctx context.Context, id int64) (*models.Member, error)
}

type TokenStore interface {
	SaveRefreshSession(ctx context.Context, memberID int64, deviceID, jti string, expiresAt time.Time) error
	RefreshSession(ctx context.Context, memberID int64, deviceID string) (string, error)
	DeleteRefreshSession(ctx context.Context, memberID int64, deviceID string) error
	BlacklistAccessJTI(ctx context.Context, jti string, ttlSeconds int64) error
	MarkRefreshUsed(ctx context.Context, jti string, ttlSeconds int64) (first bool, err error)
	IsRefreshUsed(ctx context.Context, jti string) (bool, error)
}

var (
	ErrMemberNotFound      = errors.New("member not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUnauthorized        = errors.New("member is not allowed to log in")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrReusedRefreshToken  = errors.New("refresh token reused")
	ErrDeviceRequired      = errors.New("device id is required")
)

// New returns a new instance of the Auth service. publisher and m may be nil.
func New(
	logger *slog.Logger,
	members MemberProvider,
	tokens TokenStore,
	codec *jwt.Codec,
	publisher events.Publisher,
	m *metrics.Metrics,
	storeTimeout time.Duration,
) *Auth {
	if publisher == nil {
		publisher = events.Noop{}
	}

	return &Auth{
		logger:       logger,
		members:      members,
		tokens:       tokens,
		codec:        codec,
		publisher:    publisher,
		metrics:      m,
		storeTimeout: storeTimeout,
	}
}

// AccessTTL is what clients are told as expiresIn.
func (a *Auth) AccessTTL() time.Duration { return a.codec.AccessTTL() }

// RefreshTTL bounds the refresh cookie lifetime.
func (a *Auth) RefreshTTL() time.Duration { return a.codec.RefreshTTL() }

// Login checks the credentials and opens a session for deviceID, replacing
// any session that device already had.
func (a *Auth) Login(
	ctx context.Context,
	email string,
	password string,
	deviceID string,
) (models.TokenPair, error) {
	const op = "auth.Login"
	log := a.logger.With(
		slog.String("op", op),
		slog.String("email", mask.Email(email)),
		slog.String("device", mask.Device(deviceID)),
	)
	log.Info("login request")

	if deviceID == "" {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrDeviceRequired)
	}

	sctx, cancel := a.storeCtx(ctx)
	defer cancel()

	member, err := a.members.Member(sctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			log.Warn("member not found", sl.Err(err))
			a.metrics.LoginAttempt(metrics.StatusFailure)
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrMemberNotFound)
		}
		log.Error("failed to get member", sl.Err(err))
		a.metrics.LoginAttempt(metrics.StatusError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(member.PassHash, []byte(password)); err != nil {
		log.Warn("invalid password", slog.Int64("memberID", member.ID))
		a.metrics.LoginAttempt(metrics.StatusFailure)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !member.IsActive() {
		log.Warn("member is not active", slog.Int64("memberID", member.ID), slog.String("status", string(member.Status)))
		a.metrics.LoginAttempt(metrics.StatusFailure)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	pair, err := a.issue(sctx, member.ID, deviceID)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		a.metrics.LoginAttempt(metrics.StatusError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("member logged in", slog.Int64("memberID", member.ID))
	a.metrics.LoginAttempt(metrics.StatusSuccess)

	return pair, nil
}

// Reissue exchanges the live refresh token of a device for a new pair.
// The presented token can never be used again afterwards.
func (a *Auth) Reissue(
	ctx context.Context,
	refreshToken string,
	deviceID string,
) (models.TokenPair, error) {
	const op = "auth.Reissue"
	log := a.logger.With(
		slog.String("op", op),
		slog.String("device", mask.Device(deviceID)),
	)
	log.Info("reissue request")

	cl, err := a.codec.Parse(refreshToken)
	if err != nil || a.codec.Expired(cl) || cl.Type != models.TokenTypeRefresh {
		log.Warn("refresh token rejected")
		a.metrics.TokenReissue(metrics.StatusFailure)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}
	log = log.With(slog.String("jti", mask.JTI(cl.ID)))

	if deviceID == "" {
		a.metrics.TokenReissue(metrics.StatusFailure)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrDeviceRequired)
	}

	memberID, err := strconv.ParseInt(cl.Subject, 10, 64)
	if err != nil {
		log.Warn("refresh token subject is not a member id", sl.Err(err))
		a.metrics.TokenReissue(metrics.StatusFailure)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	sctx, cancel := a.storeCtx(ctx)
	defer cancel()

	fail := func(msg string, err error) (models.TokenPair, error) {
		log.Error(msg, sl.Err(err))
		a.metrics.TokenReissue(metrics.StatusError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	member, err := a.members.MemberByID(sctx, memberID)
	if err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			log.Warn("member not found", slog.Int64("memberID", memberID))
			a.metrics.TokenReissue(metrics.StatusFailure)
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrMemberNotFound)
		}
		return fail("failed to get member", err)
	}

	stored, err := a.tokens.RefreshSession(sctx, member.ID, deviceID)
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return fail("failed to read refresh session", err)
	}

	used, err := a.tokens.IsRefreshUsed(sctx, cl.ID)
	if err != nil {
		return fail("failed to check reuse marker", err)
	}
	if used {
		a.reuseDetected(ctx, log, member.ID, deviceID, cl.ID)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrReusedRefreshToken)
	}

	if stored == "" || stored != cl.ID {
		log.Warn("refresh token is not the live session token", slog.Bool("sessionExists", stored != ""))
		a.metrics.TokenReissue(metrics.StatusFailure)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	if err := a.tokens.DeleteRefreshSession(sctx, member.ID, deviceID); err != nil {
		return fail("failed to delete refresh session", err)
	}

	first, err := a.tokens.MarkRefreshUsed(sctx, cl.ID, a.codec.RemainingSeconds(cl))
	if err != nil {
		return fail("failed to mark refresh token used", err)
	}
	if !first {
		a.reuseDetected(ctx, log, member.ID, deviceID, cl.ID)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrReusedRefreshToken)
	}

	pair, err := a.issue(sctx, member.ID, deviceID)
	if err != nil {
		return fail("failed to issue tokens", err)
	}

	log.Info("tokens reissued", slog.Int64("memberID", member.ID))
	a.metrics.TokenReissue(metrics.StatusSuccess)

	return pair, nil
}

// Logout revokes whatever it is given. Either token may be empty or already
// invalid; the other one is still processed. Infrastructure failures of both
// sides are returned together.
func (a *Auth) Logout(
	ctx context.Context,
	accessToken string,
	refreshToken string,
	deviceID string,
) error {
	const op = "auth.Logout"
	log := a.logger.With(
		slog.String("op", op),
		slog.String("device", mask.Device(deviceID)),
	)
	log.Info("logout request")

	sctx, cancel := a.storeCtx(ctx)
	defer cancel()

	var errs []error
	if err := a.revokeAccess(sctx, log, accessToken); err != nil {
		errs = append(errs, err)
	}
	if err := a.revokeRefresh(sctx, log, refreshToken, deviceID); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *Auth) revokeAccess(ctx context.Context, log *slog.Logger, token string) error {
	if token == "" {
		return nil
	}

	cl, err := a.codec.Parse(token)
	if err != nil || a.codec.Expired(cl) || cl.Type != models.TokenTypeAccess {
		log.Debug("access token skipped")
		return nil
	}

	ttl := a.codec.RemainingSeconds(cl)
	if ttl <= 0 {
		return nil
	}

	if err := a.tokens.BlacklistAccessJTI(ctx, cl.ID, ttl); err != nil {
		log.Error("failed to blacklist access token", sl.Err(err), slog.String("jti", mask.JTI(cl.ID)))
		return err
	}

	log.Info("access token blacklisted", slog.String("jti", mask.JTI(cl.ID)), slog.Int64("ttl", ttl))

	return nil
}

func (a *Auth) revokeRefresh(ctx context.Context, log *slog.Logger, token, deviceID string) error {
	if token == "" {
		return nil
	}

	cl, err := a.codec.Parse(token)
	if err != nil || a.codec.Expired(cl) || cl.Type != models.TokenTypeRefresh {
		log.Debug("refresh token skipped")
		return nil
	}

	memberID, err := strconv.ParseInt(cl.Subject, 10, 64)
	if err != nil {
		return nil
	}

	member, err := a.members.MemberByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			log.Warn("member of refresh token is gone", slog.Int64("memberID", memberID))
			return nil
		}
		log.Error("failed to get member", sl.Err(err))
		return err
	}

	if deviceID == "" {
		log.Warn("refresh logout without device id", slog.Int64("memberID", member.ID))
		return ErrDeviceRequired
	}

	current, err := a.tokens.RefreshSession(ctx, member.ID, deviceID)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		current = ""
	case err != nil:
		log.Error("failed to get refresh session", sl.Err(err))
		return err
	}

	// A rotated token must not end the session that replaced it.
	if current != "" && current == cl.ID {
		if err := a.tokens.DeleteRefreshSession(ctx, member.ID, deviceID); err != nil {
			log.Error("failed to delete refresh session", sl.Err(err))
			return err
		}
	} else {
		log.Warn("refresh token is not the live session, session kept",
			slog.Int64("memberID", member.ID),
			slog.String("jti", mask.JTI(cl.ID)),
		)
	}

	if _, err := a.tokens.MarkRefreshUsed(ctx, cl.ID, a.codec.RemainingSeconds(cl)); err != nil {
		log.Error("failed to mark refresh token used", sl.Err(err))
		return err
	}

	log.Info("refresh session closed", slog.Int64("memberID", member.ID))
	a.publish(ctx, log, events.New(events.TypeLoggedOut, cl.Subject, map[string]string{
		"device": mask.Device(deviceID),
	}))

	return nil
}

// issue mints a pair for memberID and records the refresh jti as the live
// session of deviceID.
func (a *Auth) issue(ctx context.Context, memberID int64, deviceID string) (models.TokenPair, error) {
	subject := strconv.FormatInt(memberID, 10)

	access, err := a.codec.MintAccess(subject)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := a.codec.MintRefresh(subject)
	if err != nil {
		return models.TokenPair{}, err
	}

	cl, err := a.codec.Parse(refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	if err := a.tokens.SaveRefreshSession(ctx, memberID, deviceID, cl.ID, cl.ExpiresAt); err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// reuseDetected only reports; other devices of the member keep their sessions.
func (a *Auth) reuseDetected(ctx context.Context, log *slog.Logger, memberID int64, deviceID, jti string) {
	log.Warn("refresh token reuse detected", slog.Int64("memberID", memberID))
	a.metrics.TokenReissue(metrics.StatusFailure)
	a.metrics.RefreshReuseDetected()

	a.publish(ctx, log, events.New(events.TypeRefreshReused, strconv.FormatInt(memberID, 10), map[string]string{
		"jti":    mask.JTI(jti),
		"device": mask.Device(deviceID),
	}))
}

func (a *Auth) publish(ctx context.Context, log *slog.Logger, e events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := a.publisher.Publish(pctx, e); err != nil {
		log.Error("failed to publish event", slog.String("type", e.Type), sl.Err(err))
	}
}

func (a *Auth) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.storeTimeout)
}
