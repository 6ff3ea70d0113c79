package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/http/response"
	"memberauth/internal/services/member"
)

const (
	RefreshCookie  = "refreshToken"
	DeviceIDHeader = "X-Device-Id"

	deviceIDLength = 24
	maxBodyBytes   = 1 << 20
)

type Auth interface {
	Login(ctx context.Context, email, password, deviceID string) (models.TokenPair, error)
	Reissue(ctx context.Context, refreshToken, deviceID string) (models.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken, deviceID string) error
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

type Members interface {
	SendEmailCode(ctx context.Context, email string) error
	VerifyEmailCode(ctx context.Context, email, code string) error
	Signup(ctx context.Context, req member.SignupRequest) (int64, error)
	Profile(ctx context.Context, id int64) (*models.MemberProfile, error)
}

// Handler serves the auth and member endpoints.
type Handler struct {
	logger       *slog.Logger
	auth         Auth
	members      Members
	cookieSecure bool
}

func New(logger *slog.Logger, auth Auth, members Members, cookieSecure bool) *Handler {
	return &Handler{
		logger:       logger,
		auth:         auth,
		members:      members,
		cookieSecure: cookieSecure,
	}
}

// decode reads a JSON body into dst and validates it. On failure the 400
// response is already written.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "invalid request body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeValidation, validationMessage(err))
		return false
	}

	return true
}

// DeviceID prefers the client supplied header and otherwise derives a stable
// id from the user agent and client address.
func DeviceID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); id != "" {
		return id
	}

	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = "unknown-ua"
	}

	sum := sha256.Sum256([]byte(ua + "|" + clientIP(r)))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:deviceIDLength]
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown-ip"
		}
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.auth.RefreshTTL() / time.Second),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshCookie(r *http.Request) string {
	c, err := r.Cookie(RefreshCookie)
	if err != nil {
		return ""
	}
	return c.Value
}
