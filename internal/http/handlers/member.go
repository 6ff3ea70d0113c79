package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/http/response"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/services/authn"
	"memberauth/internal/services/member"
)

const dateLayout = "2006-01-02"

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type emailVerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type signupMember struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,password"`
	Name      string `json:"name" validate:"required,min=2,max=10"`
	Nickname  string `json:"nickname" validate:"required,nickname"`
	BirthDate string `json:"birthDate" validate:"required,datetime=2006-01-02"`
	Gender    string `json:"gender" validate:"required,oneof=M F"`
}

type signupTerms struct {
	AgreeTerms         bool `json:"agreeTerms" validate:"required"`
	AgreePrivacy       bool `json:"agreePrivacy" validate:"required"`
	AgreeLocation      bool `json:"agreeLocation" validate:"required"`
	AgreePaymentPolicy bool `json:"agreePaymentPolicy" validate:"required"`
	AgreeMarketing     bool `json:"agreeMarketing"`
	AgreePersonalized  bool `json:"agreePersonalized"`
}

type signupRequest struct {
	Member signupMember `json:"member"`
	Terms  signupTerms  `json:"terms"`
}

func (t signupTerms) answers() map[models.TermsType]bool {
	return map[models.TermsType]bool{
		models.TermsService:         t.AgreeTerms,
		models.TermsPrivacy:         t.AgreePrivacy,
		models.TermsLocation:        t.AgreeLocation,
		models.TermsPayment:         t.AgreePaymentPolicy,
		models.TermsMarketing:       t.AgreeMarketing,
		models.TermsPersonalization: t.AgreePersonalized,
	}
}

type profileResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Nickname  string `json:"nickname"`
	BirthDate string `json:"birthDate"`
	Gender    string `json:"gender"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

func (h *Handler) SendEmailCode(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.SendEmailCode"
	log := h.logger.With(slog.String("op", op))

	var req emailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.members.SendEmailCode(r.Context(), req.Email); err != nil {
		h.writeMemberError(w, log, err)
		return
	}

	response.OK(w, nil)
}

func (h *Handler) VerifyEmailCode(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.VerifyEmailCode"
	log := h.logger.With(slog.String("op", op))

	var req emailVerifyRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.members.VerifyEmailCode(r.Context(), req.Email, req.Code); err != nil {
		h.writeMemberError(w, log, err)
		return
	}

	response.OK(w, nil)
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Signup"
	log := h.logger.With(slog.String("op", op))

	var req signupRequest
	if !decode(w, r, &req) {
		return
	}

	birthDate, err := time.Parse(dateLayout, req.Member.BirthDate)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "field 'birthDate' must be a date in YYYY-MM-DD format")
		return
	}

	id, err := h.members.Signup(r.Context(), member.SignupRequest{
		Email:     req.Member.Email,
		Password:  req.Member.Password,
		Name:      req.Member.Name,
		Nickname:  req.Member.Nickname,
		BirthDate: birthDate,
		Gender:    models.Gender(req.Member.Gender),
		Terms:     req.Terms.answers(),
	})
	if err != nil {
		h.writeMemberError(w, log, err)
		return
	}

	response.OK(w, id)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Me"
	log := h.logger.With(slog.String("op", op))

	p, ok := authn.PrincipalFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, response.CodeUnauthorized)
		return
	}

	profile, err := h.members.Profile(r.Context(), p.MemberID)
	if err != nil {
		h.writeMemberError(w, log, err)
		return
	}

	response.OK(w, profileResponse{
		ID:        profile.ID,
		Email:     profile.Email,
		Name:      profile.Name,
		Nickname:  profile.Nickname,
		BirthDate: profile.BirthDate.Format(dateLayout),
		Gender:    string(profile.Gender),
		Status:    string(profile.Status),
		CreatedAt: profile.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeMemberError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, member.ErrCodeExpired):
		response.Error(w, http.StatusBadRequest, response.CodeCodeExpired, "verification code expired")
	case errors.Is(err, member.ErrCodeMismatch):
		response.Error(w, http.StatusBadRequest, response.CodeCodeMismatch, "verification code does not match")
	case errors.Is(err, member.ErrEmailAlreadyExists):
		response.Error(w, http.StatusConflict, response.CodeEmailExists, "email already exists")
	case errors.Is(err, member.ErrEmailNotVerified):
		response.Error(w, http.StatusBadRequest, response.CodeEmailUnverified, "email is not verified")
	case errors.Is(err, member.ErrRequiredTermsMissing):
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "required terms must be agreed")
	case errors.Is(err, member.ErrMemberNotFound):
		response.Error(w, http.StatusNotFound, response.CodeMemberNotFound, "member not found")
	case errors.Is(err, member.ErrEmailSendFailed):
		log.Error("failed to send email", sl.Err(err))
		response.Error(w, http.StatusBadGateway, response.CodeEmailSendFailed, "failed to send verification email")
	case errors.Is(err, member.ErrTermsNotFound):
		log.Error("terms are not published", sl.Err(err))
		response.Error(w, http.StatusInternalServerError, response.CodeTermsNotFound, "terms not found")
	default:
		log.Error("member operation failed", sl.Err(err))
		response.Internal(w)
	}
}
