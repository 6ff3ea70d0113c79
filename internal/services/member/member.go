package member

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/lib/logger/mask"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

const (
	codeMin = 100000
	codeMax = 999999

	mailSubject = "[memberauth] Email verification code"
)

// Member handles signup and the member read model.
type Member struct {
	logger       *slog.Logger
	members      Store
	verification VerificationStore
	mailer       Mailer
	codeTTL      time.Duration
	verifiedTTL  time.Duration
	storeTimeout time.Duration
	newCode      func() (string, error)
}

type Store interface {
	Member(ctx context.Context, email string) (*models.Member, error)
	MemberProfile(ctx context.Context, id int64) (*models.MemberProfile, error)
	SaveMember(ctx context.Context, m models.NewMember, agreements []models.TermsAgreement) (int64, error)
	LatestTerms(ctx context.Context) ([]models.Terms, error)
}

type VerificationStore interface {
	SaveVerificationCode(ctx context.Context, email, code string, ttl time.Duration) error
	VerificationCode(ctx context.Context, email string) (string, error)
	DeleteVerificationCode(ctx context.Context, email string) error
	MarkEmailVerified(ctx context.Context, email string, ttl time.Duration) error
	IsEmailVerified(ctx context.Context, email string) (bool, error)
	DeleteEmailVerified(ctx context.Context, email string) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

var (
	ErrEmailAlreadyExists   = errors.New("email already exists")
	ErrEmailSendFailed      = errors.New("failed to send verification email")
	ErrCodeExpired          = errors.New("verification code expired")
	ErrCodeMismatch         = errors.New("verification code mismatch")
	ErrEmailNotVerified     = errors.New("email is not verified")
	ErrTermsNotFound        = errors.New("terms not found")
	ErrRequiredTermsMissing = errors.New("required terms not agreed")
	ErrMemberNotFound       = errors.New("member not found")
)

// SignupRequest carries a validated signup form.
type SignupRequest struct {
	Email     string
	Password  string
	Name      string
	Nickname  string
	BirthDate time.Time
	Gender    models.Gender
	Terms     map[models.TermsType]bool
}

func New(
	logger *slog.Logger,
	members Store,
	verification VerificationStore,
	mailer Mailer,
	codeTTL time.Duration,
	verifiedTTL time.Duration,
	storeTimeout time.Duration,
) *Member {
	return &Member{
		logger:       logger,
		members:      members,
		verification: verification,
		mailer:       mailer,
		codeTTL:      codeTTL,
		verifiedTTL:  verifiedTTL,
		storeTimeout: storeTimeout,
		newCode:      randomCode,
	}
}

// SendEmailCode mails a fresh six digit code to an email that is not yet
// registered. A new code replaces the previous one.
func (s *Member) SendEmailCode(ctx context.Context, email string) error {
	const op = "member.SendEmailCode"
	log := s.logger.With(slog.String("op", op), slog.String("email", mask.Email(email)))

	if err := s.checkEmailFree(ctx, email); err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			log.Warn("email already registered")
		} else {
			log.Error("failed to check email", sl.Err(err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	code, err := s.newCode()
	if err != nil {
		log.Error("failed to generate code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	body := fmt.Sprintf("Your verification code is [%s].\nEnter it within %d minutes.", code, int(s.codeTTL.Minutes()))
	if err := s.mailer.Send(ctx, email, mailSubject, body); err != nil {
		log.Error("failed to send code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrEmailSendFailed, err))
	}

	// Delivery time does not count against the store deadline.
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.verification.SaveVerificationCode(sctx, email, code, s.codeTTL); err != nil {
		log.Error("failed to save code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("verification code sent")

	return nil
}

// VerifyEmailCode consumes the code and marks the email as verified for
// signup.
func (s *Member) VerifyEmailCode(ctx context.Context, email, code string) error {
	const op = "member.VerifyEmailCode"
	log := s.logger.With(slog.String("op", op), slog.String("email", mask.Email(email)))

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	saved, err := s.verification.VerificationCode(sctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			log.Warn("no pending code")
			return fmt.Errorf("%s: %w", op, ErrCodeExpired)
		}
		log.Error("failed to read code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if subtle.ConstantTimeCompare([]byte(saved), []byte(code)) != 1 {
		log.Warn("code mismatch")
		return fmt.Errorf("%s: %w", op, ErrCodeMismatch)
	}

	if err := s.verification.DeleteVerificationCode(sctx, email); err != nil {
		log.Error("failed to delete code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.verification.MarkEmailVerified(sctx, email, s.verifiedTTL); err != nil {
		log.Error("failed to mark email verified", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified")

	return nil
}

// Signup registers a member whose email passed verification and records the
// answer to the latest version of every terms type.
func (s *Member) Signup(ctx context.Context, req SignupRequest) (int64, error) {
	const op = "member.Signup"
	log := s.logger.With(slog.String("op", op), slog.String("email", mask.Email(req.Email)))
	log.Info("signup request")

	for _, typ := range models.AllTermsTypes {
		if typ.Required() && !req.Terms[typ] {
			log.Warn("required terms not agreed", slog.String("terms", string(typ)))
			return 0, fmt.Errorf("%s: %s: %w", op, typ, ErrRequiredTermsMissing)
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	verified, err := s.verification.IsEmailVerified(sctx, req.Email)
	if err != nil {
		log.Error("failed to check verification", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if !verified {
		log.Warn("email not verified")
		return 0, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}

	if err := s.ensureEmailFree(sctx, req.Email); err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			log.Warn("email already registered")
		} else {
			log.Error("failed to check email", sl.Err(err))
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	latest, err := s.members.LatestTerms(sctx)
	if err != nil {
		log.Error("failed to load terms", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	agreements, err := agreementsFor(latest, req.Terms)
	if err != nil {
		log.Error("terms are not published", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.members.SaveMember(sctx, models.NewMember{
		Email:     req.Email,
		PassHash:  passHash,
		Name:      req.Name,
		Nickname:  req.Nickname,
		BirthDate: req.BirthDate,
		Gender:    req.Gender,
	}, agreements)
	if err != nil {
		if errors.Is(err, storage.ErrMemberExists) {
			log.Warn("member already exists", sl.Err(err))
			return 0, fmt.Errorf("%s: %w", op, ErrEmailAlreadyExists)
		}
		log.Error("failed to save member", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.verification.DeleteEmailVerified(sctx, req.Email); err != nil {
		log.Warn("failed to consume verified marker", sl.Err(err))
	}

	log.Info("member registered", slog.Int64("memberID", id))

	return id, nil
}

// Profile is the read model behind "who am I".
func (s *Member) Profile(ctx context.Context, id int64) (*models.MemberProfile, error) {
	const op = "member.Profile"

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.members.MemberProfile(sctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrMemberNotFound)
		}
		s.logger.Error("failed to get member profile", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func (s *Member) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.members.Member(ctx, email)
	switch {
	case err == nil:
		return ErrEmailAlreadyExists
	case errors.Is(err, storage.ErrMemberNotFound):
		return nil
	default:
		return err
	}
}

func agreementsFor(latest []models.Terms, answers map[models.TermsType]bool) ([]models.TermsAgreement, error) {
	byType := make(map[models.TermsType]models.Terms, len(latest))
	for _, t := range latest {
		byType[t.Type] = t
	}

	out := make([]models.TermsAgreement, 0, len(models.AllTermsTypes))
	for _, typ := range models.AllTermsTypes {
		t, ok := byType[typ]
		if !ok {
			return nil, fmt.Errorf("%s: %w", typ, ErrTermsNotFound)
		}
		out = append(out, models.TermsAgreement{TermsID: t.ID, Agreed: answers[typ]})
	}

	return out, nil
}

func (s *Member) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

func (s *Member) checkEmailFree(ctx context.Context, email string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.ensureEmailFree(sctx, email)
}
