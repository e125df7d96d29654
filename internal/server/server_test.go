package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apikeydomain "github.com/listinglens/listinglens/internal/apikey/domain"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
	"github.com/listinglens/listinglens/pkg/db/pagination"
)

type fakeAPIKeyService struct {
	key     *apikeydomain.APIKey
	authErr error
}

func (f *fakeAPIKeyService) List(ctx context.Context) ([]apikeydomain.Response, error) {
	return nil, nil
}

func (f *fakeAPIKeyService) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	return nil, apikeydomain.ErrInvalidName
}

func (f *fakeAPIKeyService) Rotate(ctx context.Context, keyID string) (*apikeydomain.SecretResponse, error) {
	return nil, apikeydomain.ErrNotFound
}

func (f *fakeAPIKeyService) Revoke(ctx context.Context, keyID string) error {
	return apikeydomain.ErrNotFound
}

func (f *fakeAPIKeyService) Authenticate(ctx context.Context, rawKey string) (*apikeydomain.APIKey, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.key, nil
}

type fakeCreditService struct {
	balance    int64
	balanceErr error
}

func (f *fakeCreditService) AddCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, paymentID, packageID, description string) (*int64, error) {
	return nil, nil
}

func (f *fakeCreditService) DeductCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, description, imageGenerationID string) (*int64, error) {
	return nil, nil
}

func (f *fakeCreditService) RefundCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, originalPaymentID, description string) (*int64, error) {
	return nil, nil
}

func (f *fakeCreditService) GrantSignupBonus(ctx context.Context, workspaceID snowflake.ID, amount int64) (*int64, error) {
	return nil, nil
}

func (f *fakeCreditService) AdjustCredits(ctx context.Context, workspaceID snowflake.ID, amount int64, description string) (int64, error) {
	f.balance += amount
	return f.balance, nil
}

func (f *fakeCreditService) FindPurchase(ctx context.Context, workspaceID snowflake.ID, paymentID string) (*creditdomain.CreditTransaction, error) {
	return nil, nil
}

func (f *fakeCreditService) Balance(ctx context.Context, workspaceID snowflake.ID) (int64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeCreditService) ListTransactions(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]creditdomain.CreditTransaction, *pagination.PageInfo, error) {
	return nil, &pagination.PageInfo{}, nil
}

func (f *fakeCreditService) ListPackages(ctx context.Context) ([]creditdomain.CreditPackage, error) {
	return nil, nil
}

type fakeGenerationService struct {
	createErr error
	created   *generationdomain.EnhancementJob
}

func (f *fakeGenerationService) Create(ctx context.Context, req generationdomain.CreateJobRequest) (*generationdomain.EnhancementJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeGenerationService) Get(ctx context.Context, workspaceID, jobID snowflake.ID) (*generationdomain.EnhancementJob, error) {
	return nil, generationdomain.ErrJobNotFound
}

func (f *fakeGenerationService) List(ctx context.Context, workspaceID snowflake.ID, page pagination.Pagination) ([]generationdomain.EnhancementJob, *pagination.PageInfo, error) {
	return nil, &pagination.PageInfo{}, nil
}

func (f *fakeGenerationService) Retry(ctx context.Context, workspaceID, jobID snowflake.ID) (*generationdomain.EnhancementJob, error) {
	return nil, generationdomain.ErrJobNotRetryable
}

func (f *fakeGenerationService) ProcessQueued(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func (f *fakeGenerationService) RecoverStuck(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func (f *fakeGenerationService) ExpireStale(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

type fakePaymentService struct {
	ingestErr    error
	lastProvider string
}

func (f *fakePaymentService) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	f.lastProvider = provider
	return f.ingestErr
}

func activeTestKey() *apikeydomain.APIKey {
	return &apikeydomain.APIKey{
		ID:          snowflake.ID(77),
		WorkspaceID: snowflake.ID(42),
		KeyID:       "key_test",
		Scopes:      pq.StringArray{apikeydomain.ScopeEnhanceWrite, apikeydomain.ScopeCreditsRead},
		IsActive:    true,
	}
}

func newTestRouter(t *testing.T, srv *Server) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv.engine = router
	srv.log = zaptest.NewLogger(t)
	srv.registerAuthRoutes()
	srv.registerAPIRoutes()
	return router
}

func doJSON(router *gin.Engine, method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer ll_live_key_test")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestGetBalanceRequiresAuth(t *testing.T) {
	srv := &Server{
		apiKeySvc: &fakeAPIKeyService{authErr: apikeydomain.ErrUnauthorized},
		creditSvc: &fakeCreditService{balance: 12},
	}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodGet, "/api/credits/balance", "", true)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(router, http.MethodGet, "/api/credits/balance", "", false)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestGetBalanceReturnsWorkspaceBalance(t *testing.T) {
	srv := &Server{
		apiKeySvc: &fakeAPIKeyService{key: activeTestKey()},
		creditSvc: &fakeCreditService{balance: 12},
	}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodGet, "/api/credits/balance", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"workspace_id":"42","balance":12}`, resp.Body.String())
}

func TestRequireScopeRejectsMissingScope(t *testing.T) {
	key := activeTestKey()
	key.Scopes = pq.StringArray{apikeydomain.ScopeCreditsRead}

	srv := &Server{
		apiKeySvc:     &fakeAPIKeyService{key: key},
		generationSvc: &fakeGenerationService{},
	}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/enhancements", `{"tool":"declutter","source_image_url":"https://example.com/a.jpg"}`, true)
	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestCreateEnhancementInsufficientCredits(t *testing.T) {
	srv := &Server{
		apiKeySvc:     &fakeAPIKeyService{key: activeTestKey()},
		generationSvc: &fakeGenerationService{createErr: generationdomain.ErrInsufficientCredits},
	}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/enhancements", `{"tool":"declutter","source_image_url":"https://example.com/a.jpg"}`, true)
	require.Equal(t, http.StatusPaymentRequired, resp.Code)
	require.Contains(t, resp.Body.String(), "insufficient_credits")
}

func TestCreateEnhancementReturnsJob(t *testing.T) {
	job := &generationdomain.EnhancementJob{
		ID:          snowflake.ID(9001),
		WorkspaceID: snowflake.ID(42),
		Tool:        "declutter",
		Status:      generationdomain.JobStatusPending,
	}
	srv := &Server{
		apiKeySvc:     &fakeAPIKeyService{key: activeTestKey()},
		generationSvc: &fakeGenerationService{created: job},
	}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/enhancements", `{"tool":"declutter","source_image_url":"https://example.com/a.jpg"}`, true)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Contains(t, resp.Body.String(), `"9001"`)
}

func TestWebhookAcknowledgesProcessedEvent(t *testing.T) {
	paymentSvc := &fakePaymentService{}
	srv := &Server{paymentSvc: paymentSvc}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/payments/webhooks/dodo", `{"type":"payment.succeeded"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "dodo", paymentSvc.lastProvider)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv := &Server{paymentSvc: &fakePaymentService{ingestErr: paymentdomain.ErrInvalidSignature}}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/payments/webhooks/dodo", `{}`, false)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestWebhookUnknownProviderIs404(t *testing.T) {
	srv := &Server{paymentSvc: &fakePaymentService{ingestErr: paymentdomain.ErrProviderNotFound}}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/payments/webhooks/nope", `{}`, false)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestWebhookDropsMalformedEventWith200(t *testing.T) {
	srv := &Server{paymentSvc: &fakePaymentService{ingestErr: paymentdomain.ErrInvalidPayload}}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/payments/webhooks/dodo", `not json`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "ignored")
}

func TestWebhookUnknownWorkspaceAcknowledgedWith200(t *testing.T) {
	srv := &Server{paymentSvc: &fakePaymentService{ingestErr: creditdomain.ErrWorkspaceNotFound}}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/payments/webhooks/dodo", `{"type":"payment.succeeded"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "ignored")
}

func TestWebhookStorageFailureAsksForRetry(t *testing.T) {
	srv := &Server{paymentSvc: &fakePaymentService{ingestErr: context.DeadlineExceeded}}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/payments/webhooks/dodo", `{}`, false)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestAdjustCreditsRequiresAdminScope(t *testing.T) {
	srv := &Server{
		apiKeySvc: &fakeAPIKeyService{key: activeTestKey()},
		creditSvc: &fakeCreditService{balance: 5},
	}
	router := newTestRouter(t, srv)

	resp := doJSON(router, http.MethodPost, "/api/admin/credits/adjust", `{"amount":3,"description":"ops"}`, true)
	require.Equal(t, http.StatusForbidden, resp.Code)
}
