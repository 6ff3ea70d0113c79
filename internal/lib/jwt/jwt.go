package jwt

import (
	"errors"
	"fmt"
	"time"

	"memberauth/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMalformed        = errors.New("malformed token")
)

// claims is the wire shape of every token minted by Codec.
type claims struct {
	Type models.TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Codec mints and parses HS256 tokens. It is the only place that knows the
// token layout and the signing secret.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// New returns a Codec signing with secret.
func New(secret string, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL is the lifetime of freshly minted access tokens.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL is the lifetime of freshly minted refresh tokens.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// MintAccess creates an access token for subject.
func (c *Codec) MintAccess(subject string) (string, error) {
	return c.mint(subject, models.TokenTypeAccess, c.accessTTL)
}

// MintRefresh creates a refresh token for subject.
func (c *Codec) MintRefresh(subject string) (string, error) {
	return c.mint(subject, models.TokenTypeRefresh, c.refreshTTL)
}

func (c *Codec) mint(subject string, typ models.TokenType, ttl time.Duration) (string, error) {
	const op = "jwt.mint"

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// Parse verifies the signature and returns the claims. Expired tokens are
// parsed successfully; use IsValid for the combined check.
func (c *Codec) Parse(tokenString string) (*models.TokenClaims, error) {
	const op = "jwt.Parse"

	var cl claims
	_, err := jwt.ParseWithClaims(tokenString, &cl, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithoutClaimsValidation(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	if cl.ExpiresAt == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
	}

	out := &models.TokenClaims{
		Subject:   cl.Subject,
		Type:      cl.Type,
		ID:        cl.ID,
		ExpiresAt: cl.ExpiresAt.Time,
	}
	if cl.IssuedAt != nil {
		out.IssuedAt = cl.IssuedAt.Time
	}

	return out, nil
}

// IsValid reports whether the signature verifies and the token has not expired.
func (c *Codec) IsValid(tokenString string) bool {
	cl, err := c.Parse(tokenString)
	if err != nil {
		return false
	}
	return cl.ExpiresAt.After(c.now())
}

// Expired reports whether already-parsed claims are past their expiry.
func (c *Codec) Expired(cl *models.TokenClaims) bool {
	return !cl.ExpiresAt.After(c.now())
}

// RemainingTTLSeconds returns whole seconds until expiry, never negative.
// Tokens that do not parse have nothing left.
func (c *Codec) RemainingTTLSeconds(tokenString string) int64 {
	cl, err := c.Parse(tokenString)
	if err != nil {
		return 0
	}
	return c.RemainingSeconds(cl)
}

// RemainingSeconds is RemainingTTLSeconds for claims that are already parsed.
func (c *Codec) RemainingSeconds(cl *models.TokenClaims) int64 {
	diff := int64(cl.ExpiresAt.Sub(c.now()) / time.Second)
	if diff < 0 {
		return 0
	}
	return diff
}
