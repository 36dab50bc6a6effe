package record

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlock/healthlock/internal/domain/accesslog"
	"github.com/healthlock/healthlock/internal/domain/account"
	"github.com/healthlock/healthlock/internal/platform/apperr"
	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/blobstore"
	"github.com/healthlock/healthlock/internal/platform/notification"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj <<>> endobj\ntrailer <<>>\n%%EOF\n")

func pdfUpload(name string) MedicalData {
	return MedicalData{
		File:     pdfDataURLPrefix + base64.StdEncoding.EncodeToString(samplePDF),
		FileType: pdfType,
		FileName: name,
	}
}

// clock is a mutable time source shared by the token service and tests.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	blobs    *blobstore.InMemoryBlobStore
	logs     *accesslog.MemoryRepo
	accounts *fakeAccounts
	notes    *notification.Recorder
	tokens   *auth.TokenService
	clock    *clock
	patient  *account.Patient
	doctor   *account.Doctor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokenService([]byte("record-test-secret-0123456789abcdef"), auth.WithClock(clk.Now))
	require.NoError(t, err)

	f := &fixture{
		repo:     newMemRepo(),
		blobs:    blobstore.NewInMemoryBlobStore(0),
		logs:     accesslog.NewMemoryRepo(),
		accounts: newFakeAccounts(),
		notes:    &notification.Recorder{},
		tokens:   tokens,
		clock:    clk,
	}
	f.patient = f.accounts.addPatient("Asha", "asha@example.com")
	f.doctor = f.accounts.addDoctor("Ravi", "ravi@example.com")
	f.svc = NewService(Deps{
		Repo:     f.repo,
		Blobs:    f.blobs,
		Tokens:   tokens,
		Accounts: f.accounts,
		Logs:     accesslog.NewService(f.logs, zerolog.Nop()),
		Notifier: f.notes,
		Logger:   zerolog.Nop(),
	}, Config{FrontendBaseURL: "https://app.example.com/"})
	f.svc.now = clk.Now
	return f
}

func tokenFrom(t *testing.T, accessURL string) string {
	t.Helper()
	u, err := url.Parse(accessURL)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T", err)
	assert.Equal(t, code, e.Code)
}

func TestUpload_ReturnsGrant(t *testing.T) {
	f := newFixture(t)
	grant, err := f.svc.Upload(context.Background(), f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)

	assert.Equal(t, "10m", grant.TokenExpiresIn)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), grant.ExpiresAt)
	assert.True(t, strings.HasPrefix(grant.QRCodeDataURL, "data:image/png;base64,"))
	assert.True(t, strings.HasPrefix(grant.AccessURL, "https://app.example.com/doctor?"))

	u, err := url.Parse(grant.AccessURL)
	require.NoError(t, err)
	assert.Equal(t, grant.RecordID.String(), u.Query().Get("id"))
	assert.NotEmpty(t, u.Query().Get("token"))

	rec, err := f.repo.GetByID(context.Background(), grant.RecordID)
	require.NoError(t, err)
	assert.Equal(t, f.patient.ID, rec.PatientID)
	assert.Equal(t, "labs.pdf", rec.FileName)
	assert.Equal(t, grant.AccessURL, rec.AccessURL)
	assert.Equal(t, int64(len(samplePDF)), rec.Size)
	assert.Equal(t, 1, f.blobs.Len())

	reqs := f.notes.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, notification.TemplateQRGenerated, reqs[0].TemplateID)
	assert.Equal(t, f.patient.Email, reqs[0].To)
	require.Len(t, reqs[0].Attachments, 1)
	assert.Equal(t, "image/png", reqs[0].Attachments[0].ContentType)
}

func TestUpload_NotifiesSharedDoctor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), f.patient.ID, UploadInput{
		MedicalData: pdfUpload("labs.pdf"),
		DoctorEmail: "someone@clinic.example",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{notification.TemplateQRGenerated, notification.TemplateRecordShared}, f.notes.Templates())
}

func TestUpload_RejectsNonPDF(t *testing.T) {
	f := newFixture(t)
	md := MedicalData{File: "data:image/png;base64,AAAA", FileType: "image/png", FileName: "x.png"}
	_, err := f.svc.Upload(context.Background(), f.patient.ID, UploadInput{MedicalData: md})
	requireCode(t, err, "INVALID_FILE_TYPE")
	assert.Equal(t, 0, f.blobs.Len())
}

func TestUpload_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), uuid.New(), UploadInput{MedicalData: pdfUpload("labs.pdf")})
	requireCode(t, err, "PATIENT_NOT_FOUND")
}

func TestUpload_RemovesBlobWhenInsertFails(t *testing.T) {
	f := newFixture(t)
	f.repo.fail = errors.New("db down")
	_, err := f.svc.Upload(context.Background(), f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
	assert.Equal(t, 0, f.blobs.Len())
}

func TestOpen_WithinTTLThenExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)
	token := tokenFrom(t, grant.AccessURL)

	f.clock.Advance(5 * time.Minute)
	view, err := f.svc.Open(ctx, OpenInput{RecordID: grant.RecordID.String(), Token: token, IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, grant.RecordID, view.RecordID)
	assert.Equal(t, "labs.pdf", view.MedicalData.FileName)
	assert.Equal(t, pdfUpload("labs.pdf").File, view.MedicalData.File)
	assert.NotEqual(t, uuid.Nil, view.AccessedLogID)
	assert.Equal(t, 1, f.logs.Len())

	f.clock.Advance(6 * time.Minute)
	_, err = f.svc.Open(ctx, OpenInput{RecordID: grant.RecordID.String(), Token: token})
	requireCode(t, err, apperr.CodeTokenExpired)
	assert.Equal(t, 401, err.(*apperr.Error).Status())
	assert.Equal(t, 1, f.logs.Len())
}

func TestOpen_TokenFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("a.pdf")})
	require.NoError(t, err)
	b, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("b.pdf")})
	require.NoError(t, err)

	_, err = f.svc.Open(ctx, OpenInput{RecordID: a.RecordID.String()})
	requireCode(t, err, "TOKEN_REQUIRED")

	_, err = f.svc.Open(ctx, OpenInput{RecordID: a.RecordID.String(), Token: tokenFrom(t, b.AccessURL)})
	requireCode(t, err, apperr.CodeRecordMismatch)

	_, err = f.svc.Open(ctx, OpenInput{RecordID: a.RecordID.String(), Token: "not.a.token"})
	requireCode(t, err, apperr.CodeInvalidToken)

	issued, err := f.tokens.IssueSession(f.patient.ID.String(), auth.RolePatient, false)
	require.NoError(t, err)
	_, err = f.svc.Open(ctx, OpenInput{RecordID: a.RecordID.String(), Token: issued.Token})
	require.Error(t, err)
	assert.Equal(t, 401, err.(*apperr.Error).Status())

	assert.Equal(t, 0, f.logs.Len())
}

func TestOpen_AttributesDoctorViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)
	token := tokenFrom(t, grant.AccessURL)

	viewer := &auth.Identity{AccountID: f.doctor.ID, Role: auth.RoleDoctor}
	_, err = f.svc.Open(ctx, OpenInput{RecordID: grant.RecordID.String(), Token: token, Viewer: viewer, UserAgent: "curl/8"})
	require.NoError(t, err)

	// A patient session never counts as a doctor view.
	self := &auth.Identity{AccountID: f.patient.ID, Role: auth.RolePatient}
	_, err = f.svc.Open(ctx, OpenInput{RecordID: grant.RecordID.String(), Token: token, Viewer: self})
	require.NoError(t, err)

	entries, total, err := f.logs.ListForPatient(ctx, f.patient.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	var withDoctor int
	for _, e := range entries {
		assert.Equal(t, "qr", e.Meta["via"])
		if e.Doctor != nil {
			withDoctor++
		}
	}
	assert.Equal(t, 1, withDoctor)

	assert.Contains(t, f.notes.Templates(), notification.TemplateRecordViewed)
	assert.Contains(t, f.notes.Templates(), notification.TemplateRecordAccessed)
}

func TestOpen_LogFailureFailsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)

	f.logs.Fail = errors.New("insert failed")
	_, err = f.svc.Open(ctx, OpenInput{RecordID: grant.RecordID.String(), Token: tokenFrom(t, grant.AccessURL)})
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
	assert.NotContains(t, f.notes.Templates(), notification.TemplateRecordAccessed)
}

func TestOpen_DeletedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, f.patient.ID, grant.RecordID))
	assert.Equal(t, 0, f.blobs.Len())

	_, err = f.svc.Open(ctx, OpenInput{RecordID: grant.RecordID.String(), Token: tokenFrom(t, grant.AccessURL)})
	requireCode(t, err, "RECORD_NOT_FOUND")
	assert.Equal(t, 0, f.logs.Len())
}

func TestReissueQR(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.svc.ReissueQR(ctx, f.patient.ID, first.RecordID)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessURL, second.AccessURL)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	// Earlier links keep working until they expire.
	_, err = f.svc.Open(ctx, OpenInput{RecordID: first.RecordID.String(), Token: tokenFrom(t, first.AccessURL)})
	require.NoError(t, err)

	_, err = f.svc.ReissueQR(ctx, uuid.New(), first.RecordID)
	requireCode(t, err, "RECORD_NOT_FOUND")
}

func TestDelete_OtherPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload("labs.pdf")})
	require.NoError(t, err)

	other := f.accounts.addPatient("Meera", "meera@example.com")
	err = f.svc.Delete(ctx, other.ID, grant.RecordID)
	requireCode(t, err, "RECORD_NOT_FOUND")
	assert.Equal(t, 1, f.blobs.Len())
}

func TestList_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, err := f.svc.Upload(ctx, f.patient.ID, UploadInput{MedicalData: pdfUpload(name)})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	items, total, err := f.svc.List(ctx, f.patient.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "c.pdf", items[0].FileName)

	items, total, err = f.svc.List(ctx, uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, items)
}
