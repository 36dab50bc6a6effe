package record

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/response"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func newTestEcho(f *fixture) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = response.ErrorHandler(zerolog.Nop())
	e.Use(auth.SessionMiddleware(f.tokens))
	NewHandler(f.svc).RegisterRoutes(e.Group("/api"), nil)
	return e
}

func bearer(t *testing.T, f *fixture, id string, role auth.Role) string {
	t.Helper()
	s, err := f.tokens.IssueSession(id, role, false)
	require.NoError(t, err)
	return "Bearer " + s.Token
}

func serve(e *echo.Echo, method, path, body, authz string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestHandler_UploadAndOpen(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f)
	patient := bearer(t, f, f.patient.ID.String(), auth.RolePatient)

	body, err := json.Marshal(UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)
	rec, env := serve(e, http.MethodPost, "/api/patient/records", string(body), patient)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, env.Success)

	var grant struct {
		RecordID       string `json:"recordId"`
		AccessURL      string `json:"accessUrl"`
		QRCodeDataURL  string `json:"qrCodeDataUrl"`
		TokenExpiresIn string `json:"tokenExpiresIn"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &grant))
	assert.Equal(t, "10m", grant.TokenExpiresIn)
	token := tokenFrom(t, grant.AccessURL)

	// No session: the token alone grants access.
	rec, env = serve(e, http.MethodGet, "/api/records/"+grant.RecordID+"?token="+token, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view struct {
		MedicalData   MedicalData `json:"medicalData"`
		AccessedLogID string      `json:"accessedLogId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "labs.pdf", view.MedicalData.FileName)
	assert.NotEmpty(t, view.AccessedLogID)

	f.clock.Advance(11 * time.Minute)
	rec, env = serve(e, http.MethodGet, "/api/records/"+grant.RecordID+"?token="+token, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "TOKEN_EXPIRED", env.Error.Code)
	assert.Equal(t, 1, f.logs.Len())
}

func TestHandler_OpenWithoutToken(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f)
	rec, env := serve(e, http.MethodGet, "/api/records/"+f.patient.ID.String(), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "TOKEN_REQUIRED", env.Error.Code)
}

func TestHandler_PatientRoutesRequirePatient(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f)

	rec, _ := serve(e, http.MethodGet, "/api/patient/records", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	doctor := bearer(t, f, f.doctor.ID.String(), auth.RoleDoctor)
	rec, _ = serve(e, http.MethodGet, "/api/patient/records", "", doctor)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_ListAndDelete(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f)
	patient := bearer(t, f, f.patient.ID.String(), auth.RolePatient)

	body, _ := json.Marshal(UploadInput{MedicalData: pdfUpload("labs.pdf")})
	rec, env := serve(e, http.MethodPost, "/api/patient/records", string(body), patient)
	require.Equal(t, http.StatusCreated, rec.Code)
	var grant struct {
		RecordID string `json:"recordId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &grant))

	rec, env = serve(e, http.MethodGet, "/api/patient/records", "", patient)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []map[string]interface{} `json:"items"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.NotContains(t, page.Items[0], "file")

	rec, _ = serve(e, http.MethodDelete, "/api/patient/records/"+grant.RecordID, "", patient)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env = serve(e, http.MethodDelete, "/api/patient/records/"+grant.RecordID, "", patient)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RECORD_NOT_FOUND", env.Error.Code)
}
