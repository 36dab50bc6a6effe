package account

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/response"
)

type testServer struct {
	e      *echo.Echo
	tokens *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc, _, _ := newTestService()
	tokens, err := auth.NewTokenService([]byte("account-handler-test-secret-0123456789"))
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = response.ErrorHandler(zerolog.Nop())
	e.Use(auth.SessionMiddleware(tokens))
	h := NewHandler(svc, tokens, auth.NewCookiePolicy(false, auth.DefaultSessionTTL))
	h.RegisterRoutes(e.Group("/api"), nil)
	return &testServer{e: e, tokens: tokens}
}

func (s *testServer) do(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

const signupBody = `{"role":"patient","name":"Asha","email":"asha@example.com","password":"correct-horse"}`

func TestHandler_SignupSetsSessionCookie(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/auth/signup", signupBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	env := decode(t, rec)
	var data authResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, auth.RolePatient, data.Role)
	assert.Equal(t, "/patient", data.RedirectURL)
	assert.Equal(t, "asha@example.com", data.User.Email)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Zero(t, cookie.MaxAge, "signup cookie is session scoped")
}

func TestHandler_SignupDuplicate(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/auth/signup", signupBody, nil).Code)

	rec := s.do(http.MethodPost, "/api/auth/signup", signupBody, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "EMAIL_TAKEN", env.Error.Code)
}

func TestHandler_SigninRememberMe(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/auth/signup", signupBody, nil)

	plain := s.do(http.MethodPost, "/api/auth/signin",
		`{"role":"patient","email":"asha@example.com","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusOK, plain.Code)
	remembered := s.do(http.MethodPost, "/api/auth/signin",
		`{"role":"patient","email":"asha@example.com","password":"correct-horse","rememberMe":true}`, nil)
	require.Equal(t, http.StatusOK, remembered.Code)

	assert.Zero(t, sessionCookie(plain).MaxAge)
	assert.Equal(t, int(auth.DefaultSessionTTL.Seconds()), sessionCookie(remembered).MaxAge)

	// Both tokens carry the same 30 day lifetime.
	a, ok := s.tokens.VerifySession(sessionCookie(plain).Value)
	require.True(t, ok)
	b, ok := s.tokens.VerifySession(sessionCookie(remembered).Value)
	require.True(t, ok)
	assert.WithinDuration(t, a.ExpiresAt, b.ExpiresAt, 2e9)
}

func TestHandler_SigninWrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/auth/signup", signupBody, nil)

	rec := s.do(http.MethodPost, "/api/auth/signin",
		`{"role":"patient","email":"asha@example.com","password":"nope-nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode(t, rec).Error.Code)
	assert.Nil(t, sessionCookie(rec))
}

func TestHandler_SessionAndLogout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/auth/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := sessionCookie(s.do(http.MethodPost, "/api/auth/signup", signupBody, nil))
	rec = s.do(http.MethodGet, "/api/auth/session", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var data sessionResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, auth.RolePatient, data.Role)
	assert.NotEmpty(t, data.UserID)

	rec = s.do(http.MethodGet, "/api/auth/session", "", &http.Cookie{Name: auth.CookieName, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestHandler_Me(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/auth/me", "", nil).Code)

	cookie := sessionCookie(s.do(http.MethodPost, "/api/auth/signup", signupBody, nil))
	rec := s.do(http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var p Profile
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &p))
	assert.Equal(t, "Asha", p.Name)

	rec = s.do(http.MethodPut, "/api/auth/me", `{"name":"Asha K","email":"asha@example.com","phone":"555"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &p))
	assert.Equal(t, "Asha K", p.Name)
	assert.Equal(t, "555", p.Phone)
}

func TestHandler_HealthProfileRequiresPatient(t *testing.T) {
	s := newTestServer(t)
	doctor := sessionCookie(s.do(http.MethodPost, "/api/auth/signup",
		`{"role":"doctor","name":"Dr Rao","email":"rao@example.com","password":"correct-horse"}`, nil))
	patient := sessionCookie(s.do(http.MethodPost, "/api/auth/signup", signupBody, nil))

	body := `{"reportName":"cbc.pdf","metrics":{"hemoglobin":13.1}}`
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/patient/health-profile", body, doctor).Code)

	rec := s.do(http.MethodPost, "/api/patient/health-profile", body, patient)
	require.Equal(t, http.StatusOK, rec.Code)
	var hp HealthProfile
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &hp))
	require.NotNil(t, hp.Hemoglobin)
	assert.Equal(t, 13.1, *hp.Hemoglobin)
	assert.Equal(t, "cbc.pdf", hp.LastReportName)
}
