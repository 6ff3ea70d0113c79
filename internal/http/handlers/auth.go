package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"memberauth/internal/http/response"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/services/auth"
	"memberauth/internal/services/authn"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	// ExpiresIn is the access token lifetime in milliseconds.
	ExpiresIn int64 `json:"expiresIn"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Login"
	log := h.logger.With(slog.String("op", op))

	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	pair, err := h.auth.Login(r.Context(), req.Email, req.Password, DeviceID(r))
	if err != nil {
		h.writeAuthError(w, log, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	response.JSON(w, http.StatusOK, h.accessToken(pair.AccessToken))
}

func (h *Handler) Reissue(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Reissue"
	log := h.logger.With(slog.String("op", op))

	refresh := refreshCookie(r)
	if refresh == "" {
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidRefresh, "refresh token is missing")
		return
	}

	pair, err := h.auth.Reissue(r.Context(), refresh, DeviceID(r))
	if err != nil {
		if errors.Is(err, auth.ErrMemberNotFound) {
			h.clearRefreshCookie(w)
			response.Error(w, http.StatusNotFound, response.CodeMemberNotFound, "member not found")
			return
		}
		if errors.Is(err, auth.ErrInvalidRefreshToken) || errors.Is(err, auth.ErrReusedRefreshToken) {
			h.clearRefreshCookie(w)
		}
		h.writeAuthError(w, log, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	response.JSON(w, http.StatusOK, h.accessToken(pair.AccessToken))
}

// Logout revokes whatever the caller still holds and always clears the
// cookie, even when revocation fails.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Logout"
	log := h.logger.With(slog.String("op", op))

	access, _ := authn.BearerToken(r.Header.Get("Authorization"))

	err := h.auth.Logout(r.Context(), access, refreshCookie(r), DeviceID(r))
	h.clearRefreshCookie(w)
	if err != nil {
		log.Error("failed to logout", sl.Err(err))
		response.Internal(w)
		return
	}

	response.OK(w, nil)
}

func (h *Handler) accessToken(token string) accessTokenResponse {
	return accessTokenResponse{
		AccessToken: token,
		ExpiresIn:   h.auth.AccessTTL().Milliseconds(),
	}
}

func (h *Handler) writeAuthError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrMemberNotFound), errors.Is(err, auth.ErrInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, response.CodeBadCredentials, "invalid email or password")
	case errors.Is(err, auth.ErrUnauthorized):
		response.Error(w, http.StatusUnauthorized, response.CodeUnauthorized, "member is not allowed to log in")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidRefresh, "invalid refresh token")
	case errors.Is(err, auth.ErrReusedRefreshToken):
		response.Error(w, http.StatusUnauthorized, response.CodeReusedRefresh, "refresh token reuse detected")
	case errors.Is(err, auth.ErrDeviceRequired):
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "device id is required")
	default:
		log.Error("auth operation failed", sl.Err(err))
		response.Internal(w)
	}
}
