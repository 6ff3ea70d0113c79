package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/http/response"
	"memberauth/internal/lib/logger/handlers/slogdiscard"
	"memberauth/internal/services/auth"
	"memberauth/internal/services/authn"
	"memberauth/internal/services/member"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
)

type logoutCall struct {
	access, refresh, device string
}

type fakeAuth struct {
	pair      models.TokenPair
	err       error
	device    string
	refresh   string
	logout    *logoutCall
	logoutErr error
}

func (f *fakeAuth) Login(_ context.Context, _, _, deviceID string) (models.TokenPair, error) {
	f.device = deviceID
	return f.pair, f.err
}

func (f *fakeAuth) Reissue(_ context.Context, refreshToken, deviceID string) (models.TokenPair, error) {
	f.refresh = refreshToken
	f.device = deviceID
	return f.pair, f.err
}

func (f *fakeAuth) Logout(_ context.Context, accessToken, refreshToken, deviceID string) error {
	f.logout = &logoutCall{access: accessToken, refresh: refreshToken, device: deviceID}
	return f.logoutErr
}

func (f *fakeAuth) AccessTTL() time.Duration  { return accessTTL }
func (f *fakeAuth) RefreshTTL() time.Duration { return refreshTTL }

type fakeMembers struct {
	err     error
	signup  *member.SignupRequest
	profile *models.MemberProfile
}

func (f *fakeMembers) SendEmailCode(context.Context, string) error { return f.err }

func (f *fakeMembers) VerifyEmailCode(context.Context, string, string) error { return f.err }

func (f *fakeMembers) Signup(_ context.Context, req member.SignupRequest) (int64, error) {
	f.signup = &req
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}

func (f *fakeMembers) Profile(_ context.Context, id int64) (*models.MemberProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := *f.profile
	p.ID = id
	return &p, nil
}

func newHandler(a *fakeAuth, m *fakeMembers) *Handler {
	return New(slogdiscard.NewDiscardLogger(), a, m, true)
}

func do(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestDeviceID_HeaderWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(DeviceIDHeader, "  phone-1  ")
	req.Header.Set("User-Agent", "agent")

	assert.Equal(t, "phone-1", DeviceID(req))
}

func TestDeviceID_DerivedFromAgentAndAddress(t *testing.T) {
	newReq := func(ua, addr, fwd string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("User-Agent", ua)
		req.RemoteAddr = addr
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		return req
	}

	a := DeviceID(newReq("agent", "10.0.0.1:5000", ""))
	assert.Len(t, a, deviceIDLength)
	assert.Equal(t, a, DeviceID(newReq("agent", "10.0.0.1:6000", "")), "port must not matter")
	assert.NotEqual(t, a, DeviceID(newReq("other-agent", "10.0.0.1:5000", "")))
	assert.NotEqual(t, a, DeviceID(newReq("agent", "10.0.0.2:5000", "")))
	assert.Equal(t,
		DeviceID(newReq("agent", "10.9.9.9:1", "10.0.0.1, 172.16.0.1")),
		a,
		"first forwarded address is the client",
	)
}

func TestLogin_Success(t *testing.T) {
	a := &fakeAuth{pair: models.TokenPair{AccessToken: "access", RefreshToken: "refresh"}}
	h := newHandler(a, &fakeMembers{})

	req := jsonRequest(http.MethodPost, "/api/auth/login",
		fmt.Sprintf(`{"email":%q,"password":"secret"}`, gofakeit.Email()))
	req.Header.Set(DeviceIDHeader, "laptop")
	rec := do(h.Login, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body accessTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "access", body.AccessToken)
	assert.Equal(t, accessTTL.Milliseconds(), body.ExpiresIn)
	assert.Equal(t, "laptop", a.device)

	c := cookie(rec, RefreshCookie)
	require.NotNil(t, c)
	assert.Equal(t, "refresh", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int(refreshTTL/time.Second), c.MaxAge)
	assert.NotContains(t, rec.Body.String(), "refreshToken")
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{
			name:   "malformed body",
			body:   `{"email":`,
			status: http.StatusBadRequest,
			code:   response.CodeValidation,
		},
		{
			name:   "invalid email",
			body:   `{"email":"not-an-email","password":"x"}`,
			status: http.StatusBadRequest,
			code:   response.CodeValidation,
		},
		{
			name:   "missing password",
			body:   `{"email":"a@b.co"}`,
			status: http.StatusBadRequest,
			code:   response.CodeValidation,
		},
		{
			name:   "unknown member",
			body:   `{"email":"a@b.co","password":"x"}`,
			err:    fmt.Errorf("auth.Login: %w", auth.ErrMemberNotFound),
			status: http.StatusUnauthorized,
			code:   response.CodeBadCredentials,
		},
		{
			name:   "wrong password",
			body:   `{"email":"a@b.co","password":"x"}`,
			err:    fmt.Errorf("auth.Login: %w", auth.ErrInvalidCredentials),
			status: http.StatusUnauthorized,
			code:   response.CodeBadCredentials,
		},
		{
			name:   "inactive member",
			body:   `{"email":"a@b.co","password":"x"}`,
			err:    fmt.Errorf("auth.Login: %w", auth.ErrUnauthorized),
			status: http.StatusUnauthorized,
			code:   response.CodeUnauthorized,
		},
		{
			name:   "store down",
			body:   `{"email":"a@b.co","password":"x"}`,
			err:    errors.New("dial tcp: connection refused"),
			status: http.StatusInternalServerError,
			code:   response.CodeFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(&fakeAuth{err: tt.err}, &fakeMembers{})

			rec := do(h.Login, jsonRequest(http.MethodPost, "/api/auth/login", tt.body))

			require.Equal(t, tt.status, rec.Code)
			env := envelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
			assert.NotContains(t, env.Message, "connection refused")
			assert.Nil(t, cookie(rec, RefreshCookie))
		})
	}
}

func TestLogin_SameResponseForUnknownMemberAndWrongPassword(t *testing.T) {
	body := `{"email":"a@b.co","password":"x"}`

	unknown := do(newHandler(&fakeAuth{err: auth.ErrMemberNotFound}, &fakeMembers{}).Login,
		jsonRequest(http.MethodPost, "/api/auth/login", body))
	wrong := do(newHandler(&fakeAuth{err: auth.ErrInvalidCredentials}, &fakeMembers{}).Login,
		jsonRequest(http.MethodPost, "/api/auth/login", body))

	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
}

func TestReissue_RotatesCookie(t *testing.T) {
	a := &fakeAuth{pair: models.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}}
	h := newHandler(a, &fakeMembers{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/reissue", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "refresh-1"})
	req.Header.Set(DeviceIDHeader, "laptop")
	rec := do(h.Reissue, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refresh-1", a.refresh)
	assert.Equal(t, "laptop", a.device)

	c := cookie(rec, RefreshCookie)
	require.NotNil(t, c)
	assert.Equal(t, "refresh-2", c.Value)

	var body accessTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "access-2", body.AccessToken)
}

func TestReissue_Errors(t *testing.T) {
	tests := []struct {
		name        string
		cookie      string
		err         error
		status      int
		code        string
		clearCookie bool
	}{
		{
			name:   "no cookie",
			status: http.StatusUnauthorized,
			code:   response.CodeInvalidRefresh,
		},
		{
			name:        "invalid",
			cookie:      "r",
			err:         auth.ErrInvalidRefreshToken,
			status:      http.StatusUnauthorized,
			code:        response.CodeInvalidRefresh,
			clearCookie: true,
		},
		{
			name:        "reused",
			cookie:      "r",
			err:         auth.ErrReusedRefreshToken,
			status:      http.StatusUnauthorized,
			code:        response.CodeReusedRefresh,
			clearCookie: true,
		},
		{
			name:        "member gone",
			cookie:      "r",
			err:         auth.ErrMemberNotFound,
			status:      http.StatusNotFound,
			code:        response.CodeMemberNotFound,
			clearCookie: true,
		},
		{
			name:   "store down",
			cookie: "r",
			err:    context.DeadlineExceeded,
			status: http.StatusInternalServerError,
			code:   response.CodeFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(&fakeAuth{err: tt.err}, &fakeMembers{})

			req := httptest.NewRequest(http.MethodPost, "/api/auth/reissue", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: tt.cookie})
			}
			rec := do(h.Reissue, req)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, envelope(t, rec).Code)

			c := cookie(rec, RefreshCookie)
			if tt.clearCookie {
				require.NotNil(t, c)
				assert.Empty(t, c.Value)
				assert.Negative(t, c.MaxAge)
			} else {
				assert.Nil(t, c)
			}
		})
	}
}

func TestLogout_PassesBothTokensAndClearsCookie(t *testing.T) {
	a := &fakeAuth{}
	h := newHandler(a, &fakeMembers{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer access-1")
	req.Header.Set(DeviceIDHeader, "laptop")
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "refresh-1"})
	rec := do(h.Logout, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, envelope(t, rec).Success)
	require.NotNil(t, a.logout)
	assert.Equal(t, logoutCall{access: "access-1", refresh: "refresh-1", device: "laptop"}, *a.logout)

	c := cookie(rec, RefreshCookie)
	require.NotNil(t, c)
	assert.Negative(t, c.MaxAge)
}

func TestLogout_WithoutTokens(t *testing.T) {
	a := &fakeAuth{}
	h := newHandler(a, &fakeMembers{})

	rec := do(h.Logout, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, a.logout)
	assert.Empty(t, a.logout.access)
	assert.Empty(t, a.logout.refresh)
	assert.NotEmpty(t, a.logout.device)
}

func TestLogout_StoreDownStillClearsCookie(t *testing.T) {
	h := newHandler(&fakeAuth{logoutErr: errors.New("redis down")}, &fakeMembers{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "refresh-1"})
	rec := do(h.Logout, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, response.CodeFail, envelope(t, rec).Code)
	require.NotNil(t, cookie(rec, RefreshCookie))
}

func validSignupBody(email string) string {
	return fmt.Sprintf(`{
		"member": {
			"email": %q,
			"password": "Password123!",
			"name": "홍길동",
			"nickname": "gildong12",
			"birthDate": "1990-05-21",
			"gender": "M"
		},
		"terms": {
			"agreeTerms": true,
			"agreePrivacy": true,
			"agreeLocation": true,
			"agreePaymentPolicy": true,
			"agreeMarketing": true
		}
	}`, email)
}

func TestSignup_Success(t *testing.T) {
	m := &fakeMembers{}
	h := newHandler(&fakeAuth{}, m)
	email := gofakeit.Email()

	rec := do(h.Signup, jsonRequest(http.MethodPost, "/api/member/signup", validSignupBody(email)))

	require.Equal(t, http.StatusOK, rec.Code)
	env := envelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, response.CodeSuccess, env.Code)
	assert.EqualValues(t, 42, env.Data)

	require.NotNil(t, m.signup)
	assert.Equal(t, email, m.signup.Email)
	assert.Equal(t, models.GenderMale, m.signup.Gender)
	assert.Equal(t, time.Date(1990, 5, 21, 0, 0, 0, 0, time.UTC), m.signup.BirthDate)
	assert.True(t, m.signup.Terms[models.TermsService])
	assert.True(t, m.signup.Terms[models.TermsMarketing])
	assert.False(t, m.signup.Terms[models.TermsPersonalization])
}

func TestSignup_Validation(t *testing.T) {
	base := validSignupBody("member@example.com")

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{
			name:    "weak password",
			body:    strings.Replace(base, "Password123!", "password", 1),
			message: "password",
		},
		{
			name:    "bad birth date",
			body:    strings.Replace(base, "1990-05-21", "21.05.1990", 1),
			message: "birthDate",
		},
		{
			name:    "unknown gender",
			body:    strings.Replace(base, `"gender": "M"`, `"gender": "X"`, 1),
			message: "gender",
		},
		{
			name:    "bad nickname",
			body:    strings.Replace(base, "gildong12", "g!", 1),
			message: "nickname",
		},
		{
			name:    "required terms refused",
			body:    strings.Replace(base, `"agreeLocation": true`, `"agreeLocation": false`, 1),
			message: "agreeLocation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMembers{}
			h := newHandler(&fakeAuth{}, m)

			rec := do(h.Signup, jsonRequest(http.MethodPost, "/api/member/signup", tt.body))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			env := envelope(t, rec)
			assert.Equal(t, response.CodeValidation, env.Code)
			assert.Contains(t, env.Message, tt.message)
			assert.Nil(t, m.signup, "service must not be called")
		})
	}
}

func TestMemberErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{member.ErrCodeExpired, http.StatusBadRequest, response.CodeCodeExpired},
		{member.ErrCodeMismatch, http.StatusBadRequest, response.CodeCodeMismatch},
		{member.ErrEmailAlreadyExists, http.StatusConflict, response.CodeEmailExists},
		{member.ErrEmailNotVerified, http.StatusBadRequest, response.CodeEmailUnverified},
		{member.ErrRequiredTermsMissing, http.StatusBadRequest, response.CodeValidation},
		{errors.Join(member.ErrEmailSendFailed, errors.New("smtp: 554")), http.StatusBadGateway, response.CodeEmailSendFailed},
		{member.ErrTermsNotFound, http.StatusInternalServerError, response.CodeTermsNotFound},
		{errors.New("boom"), http.StatusInternalServerError, response.CodeFail},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newHandler(&fakeAuth{}, &fakeMembers{err: fmt.Errorf("member.Op: %w", tt.err)})

			send := do(h.SendEmailCode, jsonRequest(http.MethodPost, "/api/auth/email", `{"email":"a@b.co"}`))
			assert.Equal(t, tt.status, send.Code)
			assert.Equal(t, tt.code, envelope(t, send).Code)

			verify := do(h.VerifyEmailCode, jsonRequest(http.MethodPost, "/api/auth/email/verify",
				`{"email":"a@b.co","code":"123456"}`))
			assert.Equal(t, tt.status, verify.Code)
			assert.Equal(t, tt.code, envelope(t, verify).Code)
		})
	}
}

func TestVerifyEmailCode_RejectsMalformedCode(t *testing.T) {
	h := newHandler(&fakeAuth{}, &fakeMembers{})

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		rec := do(h.VerifyEmailCode, jsonRequest(http.MethodPost, "/api/auth/email/verify",
			fmt.Sprintf(`{"email":"a@b.co","code":%q}`, code)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, code)
	}
}

func TestMe(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &fakeMembers{profile: &models.MemberProfile{
		Email:     "member@example.com",
		Name:      "홍길동",
		Nickname:  "gildong",
		BirthDate: time.Date(1990, 5, 21, 0, 0, 0, 0, time.UTC),
		Gender:    models.GenderFemale,
		Status:    models.MemberStatusActive,
		CreatedAt: created,
	}}
	h := newHandler(&fakeAuth{}, m)

	req := httptest.NewRequest(http.MethodGet, "/api/member/me", nil)
	req = req.WithContext(authn.WithPrincipal(req.Context(), &authn.Principal{MemberID: 7, Subject: "7"}))
	rec := do(h.Me, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data profileResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.Data.ID)
	assert.Equal(t, "1990-05-21", body.Data.BirthDate)
	assert.Equal(t, "F", body.Data.Gender)
	assert.Equal(t, "2024-01-02T03:04:05Z", body.Data.CreatedAt)
}

func TestMe_NoPrincipal(t *testing.T) {
	h := newHandler(&fakeAuth{}, &fakeMembers{})

	rec := do(h.Me, httptest.NewRequest(http.MethodGet, "/api/member/me", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.CodeUnauthorized, envelope(t, rec).Code)
}

func TestMe_MemberGone(t *testing.T) {
	h := newHandler(&fakeAuth{}, &fakeMembers{err: member.ErrMemberNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/member/me", nil)
	req = req.WithContext(authn.WithPrincipal(req.Context(), &authn.Principal{MemberID: 7}))
	rec := do(h.Me, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeMemberNotFound, envelope(t, rec).Code)
}

func TestIsStrongPassword(t *testing.T) {
	tests := []struct {
		password string
		want     bool
	}{
		{"Password123!", true},
		{"abc123!?", true},
		{"short1!", false},
		{"NoDigitsHere!", false},
		{"NoSpecials123", false},
		{"12345678!", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isStrongPassword(tt.password), tt.password)
	}
}

type pinger func(ctx context.Context) error

func (p pinger) Ping(ctx context.Context) error { return p(ctx) }

func TestHealth(t *testing.T) {
	up := pinger(func(context.Context) error { return nil })
	down := pinger(func(context.Context) error { return errors.New("down") })

	rec := do(Health(slogdiscard.NewDiscardLogger(), map[string]Pinger{"members": up, "tokens": up}),
		httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"members": "up", "tokens": "up"}, envelope(t, rec).Data)

	rec = do(Health(slogdiscard.NewDiscardLogger(), map[string]Pinger{"members": up, "tokens": down}),
		httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := envelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, map[string]any{"members": "up", "tokens": "down"}, env.Data)
}
