package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	creditrepository "github.com/listinglens/listinglens/internal/credit/repository"
	creditservice "github.com/listinglens/listinglens/internal/credit/service"
	"github.com/listinglens/listinglens/internal/generation/dispatch"
	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	generationrepository "github.com/listinglens/listinglens/internal/generation/repository"
	templatedomain "github.com/listinglens/listinglens/internal/template/domain"
	templaterepository "github.com/listinglens/listinglens/internal/template/repository"
	templateservice "github.com/listinglens/listinglens/internal/template/service"
	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubQueue is a settable in-memory queue provider. Tests mutate status
// between dispatch rounds to walk a job through the remote lifecycle.
type stubQueue struct {
	mu          sync.Mutex
	submitCalls int
	status      dispatch.JobStatus
	statusErr   error
	resultURL   string
}

func (q *stubQueue) Submit(_ context.Context, _ dispatch.SubmitRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitCalls++
	return "req_stub_" + strings.Repeat("x", q.submitCalls), nil
}

func (q *stubQueue) Status(_ context.Context, _ string) (dispatch.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.statusErr != nil {
		return dispatch.StatusUnknown, q.statusErr
	}
	return q.status, nil
}

func (q *stubQueue) Result(_ context.Context, requestID string) (*dispatch.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	url := q.resultURL
	if url == "" {
		url = "https://cdn.listinglens.example/results/out.png"
	}
	return &dispatch.Result{RequestID: requestID, ImageURL: url}, nil
}

func (q *stubQueue) setStatus(s dispatch.JobStatus) {
	q.mu.Lock()
	q.status = s
	q.mu.Unlock()
}

func (q *stubQueue) submits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitCalls
}

func setupGenerationService(t *testing.T) (generationdomain.Service, *gorm.DB, snowflake.ID, *stubQueue) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// sqlite has no FOR UPDATE; strip locking clauses from claim queries
	stripLocking := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, gdb.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocking))
	require.NoError(t, gdb.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocking))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&workspacedomain.Workspace{},
		&creditdomain.CreditTransaction{},
		&generationdomain.EnhancementJob{},
		&templatedomain.StyleTemplate{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	creditSvc := creditservice.NewService(creditservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  creditrepository.Provide(),
	})

	templateSvc := templateservice.NewService(templateservice.Params{
		DB:   gdb,
		Log:  zap.NewNop(),
		Repo: templaterepository.Provide(),
	})

	queue := &stubQueue{status: dispatch.StatusCompleted}

	svc := NewService(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      generationrepository.Provide(gdb),
		CreditSvc: creditSvc,
		Templates: templateSvc,
		Client:    queue,
	})

	workspaceID := node.Generate()
	require.NoError(t, gdb.Create(&workspacedomain.Workspace{
		ID:                workspaceID,
		Name:              "Harborview Homes",
		Slug:              "harborview-homes",
		Credits:           10,
		OwnerEmail:        "owner@harborview.example",
		OwnerPasswordHash: "x",
	}).Error)

	return svc, gdb, workspaceID, queue
}

func createJob(t *testing.T, svc generationdomain.Service, workspaceID snowflake.ID, tool string) *generationdomain.EnhancementJob {
	t.Helper()
	job, err := svc.Create(context.Background(), generationdomain.CreateJobRequest{
		WorkspaceID:    workspaceID,
		Tool:           tool,
		SourceImageURL: "https://photos.listinglens.example/living-room.jpg",
	})
	require.NoError(t, err)
	return job
}

func loadJob(t *testing.T, gdb *gorm.DB, jobID snowflake.ID) *generationdomain.EnhancementJob {
	t.Helper()
	var job generationdomain.EnhancementJob
	require.NoError(t, gdb.Where("id = ?", jobID).First(&job).Error)
	return &job
}

func workspaceCredits(t *testing.T, gdb *gorm.DB, workspaceID snowflake.ID) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, gdb.Raw(`SELECT credits FROM workspaces WHERE id = ?`, workspaceID).Scan(&balance).Error)
	return balance
}

func usageTransactions(t *testing.T, gdb *gorm.DB, workspaceID snowflake.ID) []creditdomain.CreditTransaction {
	t.Helper()
	var rows []creditdomain.CreditTransaction
	require.NoError(t, gdb.
		Where("workspace_id = ? AND type = ?", workspaceID, creditdomain.TransactionTypeUsage).
		Find(&rows).Error)
	return rows
}

func TestProcessQueuedCompletesAndBillsOnce(t *testing.T) {
	svc, gdb, workspaceID, queue := setupGenerationService(t)
	ctx := context.Background()

	job := createJob(t, svc, workspaceID, "virtual_staging")
	require.Equal(t, int64(2), job.CreditCost)

	processed, err := svc.ProcessQueued(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	stored := loadJob(t, gdb, job.ID)
	require.Equal(t, generationdomain.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.ResultImageURL)
	require.NotNil(t, stored.ExternalRequestID)
	require.NotNil(t, stored.CompletedAt)

	require.Equal(t, int64(8), workspaceCredits(t, gdb, workspaceID))
	txns := usageTransactions(t, gdb, workspaceID)
	require.Len(t, txns, 1)
	require.Equal(t, int64(-2), txns[0].Amount)
	require.NotNil(t, txns[0].ImageGenerationID)
	require.Equal(t, job.ID.String(), *txns[0].ImageGenerationID)

	// nothing left to claim
	processed, err = svc.ProcessQueued(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, processed)
	require.Equal(t, 1, queue.submits())
}

func TestCreateRejectsInsufficientBalance(t *testing.T) {
	svc, gdb, workspaceID, _ := setupGenerationService(t)

	require.NoError(t, gdb.Exec(`UPDATE workspaces SET credits = 1 WHERE id = ?`, workspaceID).Error)

	_, err := svc.Create(context.Background(), generationdomain.CreateJobRequest{
		WorkspaceID:    workspaceID,
		Tool:           "virtual_staging",
		SourceImageURL: "https://photos.listinglens.example/kitchen.jpg",
	})
	require.ErrorIs(t, err, generationdomain.ErrInsufficientCredits)
}

func TestCreateValidation(t *testing.T) {
	svc, _, workspaceID, _ := setupGenerationService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, generationdomain.CreateJobRequest{
		WorkspaceID:    0,
		Tool:           "declutter",
		SourceImageURL: "https://photos.listinglens.example/a.jpg",
	})
	require.ErrorIs(t, err, generationdomain.ErrInvalidWorkspace)

	_, err = svc.Create(ctx, generationdomain.CreateJobRequest{
		WorkspaceID:    workspaceID,
		Tool:           "deep_fry",
		SourceImageURL: "https://photos.listinglens.example/a.jpg",
	})
	require.ErrorIs(t, err, generationdomain.ErrInvalidTool)

	_, err = svc.Create(ctx, generationdomain.CreateJobRequest{
		WorkspaceID:    workspaceID,
		Tool:           "declutter",
		SourceImageURL: "not a url",
	})
	require.ErrorIs(t, err, generationdomain.ErrInvalidImageURL)
}

func TestRecoverStuckResumesWithoutResubmit(t *testing.T) {
	svc, gdb, workspaceID, queue := setupGenerationService(t)
	ctx := context.Background()

	job := createJob(t, svc, workspaceID, "declutter")

	// simulate a worker that submitted, persisted the request id, and died
	requestID := "req_orphaned"
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, gdb.Exec(
		`UPDATE enhancement_jobs
		 SET status = ?, external_request_id = ?, started_at = ?, updated_at = ?
		 WHERE id = ?`,
		generationdomain.JobStatusProcessing, requestID, stale, stale, job.ID,
	).Error)

	recovered, err := svc.RecoverStuck(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	stored := loadJob(t, gdb, job.ID)
	require.Equal(t, generationdomain.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.ExternalRequestID)
	require.Equal(t, requestID, *stored.ExternalRequestID)
	require.Zero(t, queue.submits())
	require.Equal(t, int64(9), workspaceCredits(t, gdb, workspaceID))
}

func TestRecoveryAfterBillingCrashDoesNotDoubleBill(t *testing.T) {
	svc, gdb, workspaceID, _ := setupGenerationService(t)
	ctx := context.Background()

	job := createJob(t, svc, workspaceID, "declutter")

	// simulate a crash after the deduction landed but before the job row
	// was marked completed
	creditSvc := creditservice.NewService(creditservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Repo:  creditrepository.Provide(),
	})
	balance, err := creditSvc.DeductCredits(ctx, workspaceID, job.CreditCost, "enhancement: declutter", job.ID.String())
	require.NoError(t, err)
	require.NotNil(t, balance)

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, gdb.Exec(
		`UPDATE enhancement_jobs
		 SET status = ?, external_request_id = ?, updated_at = ?
		 WHERE id = ?`,
		generationdomain.JobStatusProcessing, "req_billed", stale, job.ID,
	).Error)

	recovered, err := svc.RecoverStuck(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	require.Equal(t, generationdomain.JobStatusCompleted, loadJob(t, gdb, job.ID).Status)
	require.Equal(t, int64(9), workspaceCredits(t, gdb, workspaceID))
	require.Len(t, usageTransactions(t, gdb, workspaceID), 1)
}

func TestTerminalFailureClearsRequestIDThenRetryStartsFresh(t *testing.T) {
	svc, gdb, workspaceID, queue := setupGenerationService(t)
	ctx := context.Background()

	queue.setStatus(dispatch.StatusFailed)
	job := createJob(t, svc, workspaceID, "sky_replacement")

	processed, err := svc.ProcessQueued(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, processed)

	stored := loadJob(t, gdb, job.ID)
	require.Equal(t, generationdomain.JobStatusFailed, stored.Status)
	require.Nil(t, stored.ExternalRequestID)
	require.NotNil(t, stored.ErrorMessage)
	require.Empty(t, usageTransactions(t, gdb, workspaceID))
	require.Equal(t, int64(10), workspaceCredits(t, gdb, workspaceID))

	retried, err := svc.Retry(ctx, workspaceID, job.ID)
	require.NoError(t, err)
	require.Equal(t, generationdomain.JobStatusPending, retried.Status)

	queue.setStatus(dispatch.StatusCompleted)
	processed, err = svc.ProcessQueued(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	require.Equal(t, generationdomain.JobStatusCompleted, loadJob(t, gdb, job.ID).Status)
	require.Equal(t, 2, queue.submits())
	require.Equal(t, int64(9), workspaceCredits(t, gdb, workspaceID))
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	svc, _, workspaceID, _ := setupGenerationService(t)
	ctx := context.Background()

	job := createJob(t, svc, workspaceID, "upscale")

	_, err := svc.Retry(ctx, workspaceID, job.ID)
	require.ErrorIs(t, err, generationdomain.ErrJobNotRetryable)

	_, err = svc.Retry(ctx, workspaceID, snowflake.ID(12345))
	require.ErrorIs(t, err, generationdomain.ErrJobNotFound)
}

func TestGetScopedToWorkspace(t *testing.T) {
	svc, gdb, workspaceID, _ := setupGenerationService(t)
	ctx := context.Background()

	job := createJob(t, svc, workspaceID, "relight")

	other := mustNode(t).Generate()
	require.NoError(t, gdb.Create(&workspacedomain.Workspace{
		ID:                other,
		Name:              "Other",
		Slug:              "other",
		Credits:           5,
		OwnerEmail:        "other@example.com",
		OwnerPasswordHash: "x",
	}).Error)

	_, err := svc.Get(ctx, other, job.ID)
	require.ErrorIs(t, err, generationdomain.ErrJobNotFound)

	found, err := svc.Get(ctx, workspaceID, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, found.ID)
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return node
}
