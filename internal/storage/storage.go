package storage

import (
	"errors"
	"strconv"
)

var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrMemberExists    = errors.New("member already exists")
	ErrTermsNotFound   = errors.New("terms not found")
	ErrSessionNotFound = errors.New("refresh session not found")
	ErrCodeNotFound    = errors.New("verification code not found")
)

const (
	refreshPrefix         = "refresh:"
	refreshUsedPrefix     = "refresh:used:"
	accessBlacklistPrefix = "access:blacklist:"
	emailCodePrefix       = "email:code:"
	emailVerifiedPrefix   = "email:verified:"
)

// RefreshSessionKey addresses the live refresh jti of one member device.
func RefreshSessionKey(memberID int64, deviceID string) string {
	return refreshPrefix + strconv.FormatInt(memberID, 10) + ":" + deviceID
}

func RefreshUsedKey(jti string) string { return refreshUsedPrefix + jti }

func AccessBlacklistKey(jti string) string { return accessBlacklistPrefix + jti }

func EmailCodeKey(email string) string { return emailCodePrefix + email }

func EmailVerifiedKey(email string) string { return emailVerifiedPrefix + email }
