package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/ratelimit"
	"github.com/digkill/imagestudio/internal/service"
	"github.com/digkill/imagestudio/internal/wavespeed"
)

type stubAccounts struct {
	created bool
	acc     *models.Account
	err     error
}

func (s *stubAccounts) Ensure(_ context.Context, userID int64) (*models.Account, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	return &models.Account{UserID: userID, FreeStandard: 3, FreeHD: 1}, s.created, nil
}

func (s *stubAccounts) Get(context.Context, int64) (*models.Account, error) {
	return s.acc, s.err
}

type stubAccess struct {
	decision *models.Decision
	err      error
}

func (s *stubAccess) Evaluate(context.Context, int64, models.OperationKind, string) (*models.Decision, error) {
	return s.decision, s.err
}

type stubGenerator struct {
	rec       *models.GenerationRecord
	decision  *models.Decision
	err       error
	retrieval *service.Retrieval
	got       service.GenerationRequest
}

func (s *stubGenerator) Generate(_ context.Context, req service.GenerationRequest) (*models.GenerationRecord, *models.Decision, error) {
	s.got = req
	return s.rec, s.decision, s.err
}

func (s *stubGenerator) Retrieve(context.Context, string) (*service.Retrieval, error) {
	if s.retrieval == nil {
		return nil, service.ErrGenerationNotFound
	}
	return s.retrieval, nil
}

func (s *stubGenerator) ListByUser(context.Context, int64, int, int) ([]models.GenerationRecord, error) {
	return []models.GenerationRecord{}, nil
}

type stubIPN struct {
	signature string
}

func (s *stubIPN) HandleIPN(_ context.Context, _ []byte, signature string) (*service.PaymentResult, error) {
	s.signature = signature
	if signature != "good" {
		return nil, service.ErrInvalidSignature
	}
	return &service.PaymentResult{PaymentID: "p-1", Status: "finished", Credited: true}, nil
}

type stubPackages struct{}

func (stubPackages) List(_ context.Context, activeOnly bool) ([]models.CreditPackage, error) {
	if !activeOnly {
		return nil, nil
	}
	return []models.CreditPackage{{ID: 1, Title: "Starter", IsActive: true}}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Required  *int           `json:"required"`
		Available *int           `json:"available"`
		Details   map[string]any `json:"details"`
	} `json:"error"`
}

func newTestServer(deps Deps) *Server {
	cfg := config.Config{
		AllowedOrigins:    []string{"*"},
		MaxUploadBytes:    1 << 20,
		GenerationTimeout: time.Minute,
	}
	if deps.Accounts == nil {
		deps.Accounts = &stubAccounts{}
	}
	if deps.Access == nil {
		deps.Access = &stubAccess{}
	}
	if deps.Generations == nil {
		deps.Generations = &stubGenerator{}
	}
	if deps.Payments == nil {
		deps.Payments = &stubIPN{}
	}
	if deps.Packages == nil {
		deps.Packages = stubPackages{}
	}
	return NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), deps)
}

func do(t *testing.T, s *Server, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func multipartGeneration(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "photo.jpg")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/generations", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthz(t *testing.T) {
	s := newTestServer(Deps{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEnsureAccountStatus(t *testing.T) {
	accounts := &stubAccounts{created: true}
	s := newTestServer(Deps{Accounts: accounts})

	rec, env := do(t, s, httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(`{"user_id":42}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)

	accounts.created = false
	rec, _ = do(t, s, httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(`{"user_id":42}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, s, httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(`{"user_id":0}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestGetAccountNotFound(t *testing.T) {
	s := newTestServer(Deps{Accounts: &stubAccounts{err: service.ErrAccountNotFound}})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/api/accounts/7", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", env.Error.Code)

	rec, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/api/accounts/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessCheckGranted(t *testing.T) {
	access := &stubAccess{decision: &models.Decision{Granted: true, Cost: 37, RemainingBalance: 63, Source: models.SourcePaid}}
	s := newTestServer(Deps{Access: access})

	rec, env := do(t, s, httptest.NewRequest(http.MethodPost, "/api/access/check",
		strings.NewReader(`{"user_id":42,"operation_kind":"hd","environment":"studio"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, true, data["granted"])
	assert.Equal(t, float64(37), data["cost"])
	assert.Equal(t, float64(63), data["remaining_balance"])
	assert.Equal(t, "paid", data["source"])
}

func TestAccessCheckInsufficientCredit(t *testing.T) {
	access := &stubAccess{err: &service.InsufficientCreditError{Required: 37, Available: 36}}
	s := newTestServer(Deps{Access: access})

	rec, env := do(t, s, httptest.NewRequest(http.MethodPost, "/api/access/check",
		strings.NewReader(`{"user_id":42,"operation_kind":"hd","environment":"studio"}`)))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INSUFFICIENT_CREDIT", env.Error.Code)
	require.NotNil(t, env.Error.Required)
	require.NotNil(t, env.Error.Available)
	assert.Equal(t, 37, *env.Error.Required)
	assert.Equal(t, 36, *env.Error.Available)
	assert.Equal(t, float64(37), env.Error.Details["required"])
	assert.Equal(t, float64(36), env.Error.Details["available"])
}

func TestAccessCheckRejectsUnknownKind(t *testing.T) {
	s := newTestServer(Deps{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodPost, "/api/access/check",
		strings.NewReader(`{"user_id":42,"operation_kind":"ultra","environment":"studio"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Error.Details, "operation_kind")
}

func TestListPackagesActiveOnly(t *testing.T) {
	s := newTestServer(Deps{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/api/packages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var packages []models.CreditPackage
	require.NoError(t, json.Unmarshal(env.Data, &packages))
	assert.Len(t, packages, 1)
}

func TestCreateGenerationSuccess(t *testing.T) {
	url := "https://cdn.example.com/out.jpg"
	gen := &stubGenerator{
		rec:      &models.GenerationRecord{ID: "gen-1", Status: models.GenerationCompleted, AssetURL: &url},
		decision: &models.Decision{Granted: true, Cost: 60, RemainingBalance: 40, Source: models.SourcePaid},
	}
	s := newTestServer(Deps{Generations: gen})

	req := multipartGeneration(t, map[string]string{
		"user_id": "42", "operation_kind": "pro", "environment": "studio", "intensity": "medium", "prompt": "red scarf",
	}, []byte{0xff, 0xd8, 0xff})
	rec, env := do(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, float64(60), data["cost"])
	assert.Equal(t, int64(42), gen.got.UserID)
	assert.Equal(t, models.KindPro, gen.got.Kind)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, gen.got.Image)
}

func TestCreateGenerationRequiresImage(t *testing.T) {
	s := newTestServer(Deps{})

	req := multipartGeneration(t, map[string]string{"user_id": "42", "operation_kind": "pro", "environment": "studio"}, nil)
	rec, env := do(t, s, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Error.Details, "image")
}

func TestCreateGenerationErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		rec    *models.GenerationRecord
		status int
		code   string
	}{
		{"provider rejected", &wavespeed.ProviderError{StatusCode: 400, Message: "bad"}, nil, http.StatusBadGateway, "PROVIDER_SUBMISSION_FAILED"},
		{"missing job id", wavespeed.ErrMissingJobID, nil, http.StatusBadGateway, "PROVIDER_SUBMISSION_FAILED"},
		{"job failed", &wavespeed.JobFailedError{RequestID: "r", Reason: "nsfw"}, &models.GenerationRecord{ID: "g"}, http.StatusBadGateway, "PROVIDER_JOB_FAILED"},
		{"no output", wavespeed.ErrNoOutputProduced, &models.GenerationRecord{ID: "g"}, http.StatusBadGateway, "NO_OUTPUT_PRODUCED"},
		{"insufficient", &service.InsufficientCreditError{Required: 60, Available: 1}, nil, http.StatusPaymentRequired, "INSUFFICIENT_CREDIT"},
		{"unexpected", io.ErrUnexpectedEOF, nil, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(Deps{Generations: &stubGenerator{rec: tc.rec, err: tc.err}})
			req := multipartGeneration(t, map[string]string{"user_id": "42", "operation_kind": "pro", "environment": "studio"}, []byte{1})
			rec, env := do(t, s, req)
			assert.Equal(t, tc.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestCreateGenerationTimeoutReturnsGenerationID(t *testing.T) {
	gen := &stubGenerator{
		rec: &models.GenerationRecord{ID: "gen-9", Status: models.GenerationTimedOut},
		err: &wavespeed.PollTimeoutError{RequestID: "r", Attempts: 120, ElapsedSeconds: 360},
	}
	s := newTestServer(Deps{Generations: gen})

	req := multipartGeneration(t, map[string]string{"user_id": "42", "operation_kind": "pro", "environment": "studio"}, []byte{1})
	rec, env := do(t, s, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "POLL_TIMEOUT", env.Error.Code)
	assert.Equal(t, "gen-9", env.Error.Details["generation_id"])
}

func TestCreateGenerationRateLimited(t *testing.T) {
	gen := &stubGenerator{
		rec:      &models.GenerationRecord{ID: "gen-1"},
		decision: &models.Decision{Granted: true},
	}
	s := newTestServer(Deps{Generations: gen, Limiter: ratelimit.NewMemory(1, time.Minute)})

	fields := map[string]string{"user_id": "42", "operation_kind": "standard", "environment": "studio"}
	rec, _ := do(t, s, multipartGeneration(t, fields, []byte{1}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, s, multipartGeneration(t, fields, []byte{1}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	fields["user_id"] = "43"
	rec, _ = do(t, s, multipartGeneration(t, fields, []byte{1}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetGenerationExpiredHidesURL(t *testing.T) {
	gen := &stubGenerator{retrieval: &service.Retrieval{
		Record:  &models.GenerationRecord{ID: "gen-1"},
		Status:  service.RetrievalExpired,
		AgeDays: 8,
	}}
	s := newTestServer(Deps{Generations: gen})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/api/generations/gen-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "expired", data["status"])
	assert.Equal(t, float64(8), data["age_days"])
	assert.NotContains(t, data, "asset_url")
}

func TestGetGenerationNotFound(t *testing.T) {
	s := newTestServer(Deps{})

	rec, env := do(t, s, httptest.NewRequest(http.MethodGet, "/api/generations/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "GENERATION_NOT_FOUND", env.Error.Code)
}

func TestPaymentWebhookPassesSignature(t *testing.T) {
	ipn := &stubIPN{}
	s := newTestServer(Deps{Payments: ipn})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"payment_id":"p-1"}`))
	req.Header.Set("X-Nowpayments-Sig", "good")
	rec, env := do(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "good", ipn.signature)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"payment_id":"p-1"}`))
	req.Header.Set("X-Nowpayments-Sig", "forged")
	rec, _ = do(t, s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminMounted(t *testing.T) {
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := newTestServer(Deps{Admin: admin})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/packages", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
