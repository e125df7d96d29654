package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/listinglens/listinglens/internal/clock"
	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	"github.com/listinglens/listinglens/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeGenerationService struct {
	mu             sync.Mutex
	processCalls   []int
	recoverCalls   []int
	expireCalls    []int
	processedCount int
	recoveredCount int
	processErr     error
	recoverErr     error
	processDelay   time.Duration
}

func (f *fakeGenerationService) Create(context.Context, generationdomain.CreateJobRequest) (*generationdomain.EnhancementJob, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGenerationService) Get(context.Context, snowflake.ID, snowflake.ID) (*generationdomain.EnhancementJob, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGenerationService) List(context.Context, snowflake.ID, pagination.Pagination) ([]generationdomain.EnhancementJob, *pagination.PageInfo, error) {
	return nil, nil, errors.New("not implemented")
}

func (f *fakeGenerationService) Retry(context.Context, snowflake.ID, snowflake.ID) (*generationdomain.EnhancementJob, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGenerationService) ProcessQueued(ctx context.Context, limit int) (int, error) {
	f.mu.Lock()
	f.processCalls = append(f.processCalls, limit)
	delay := f.processDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return f.processedCount, f.processErr
}

func (f *fakeGenerationService) RecoverStuck(ctx context.Context, limit int) (int, error) {
	f.mu.Lock()
	f.recoverCalls = append(f.recoverCalls, limit)
	f.mu.Unlock()
	return f.recoveredCount, f.recoverErr
}

func (f *fakeGenerationService) ExpireStale(ctx context.Context, limit int) (int, error) {
	f.mu.Lock()
	f.expireCalls = append(f.expireCalls, limit)
	f.mu.Unlock()
	return 0, nil
}

func (f *fakeGenerationService) calls() (process, recover []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.processCalls...), append([]int(nil), f.recoverCalls...)
}

func newTestScheduler(t *testing.T, svc generationdomain.Service, cfg Config) *Scheduler {
	t.Helper()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	sched, err := New(Params{
		Log:           zaptest.NewLogger(t),
		GenerationSvc: svc,
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Config:        cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestRunOnceRunsDispatchAndRecovery(t *testing.T) {
	svc := &fakeGenerationService{processedCount: 3, recoveredCount: 1}
	sched := newTestScheduler(t, svc, Config{DispatchBatchSize: 7, RecoveryBatchSize: 2})

	require.NoError(t, sched.RunOnce(context.Background()))

	process, recovered := svc.calls()
	require.Equal(t, []int{7}, process)
	require.Equal(t, []int{2}, recovered)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	svc := &fakeGenerationService{}
	sched := newTestScheduler(t, svc, Config{EnabledJobs: []string{"dispatch_jobs"}})

	require.NoError(t, sched.RunOnce(context.Background()))

	process, recovered := svc.calls()
	require.Len(t, process, 1)
	require.Empty(t, recovered)
}

func TestRunOncePropagatesJobErrors(t *testing.T) {
	svc := &fakeGenerationService{
		processErr: errors.New("provider unreachable"),
		recoverErr: errors.New("claim failed"),
	}
	sched := newTestScheduler(t, svc, Config{})

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "dispatch_jobs")
	require.Contains(t, err.Error(), "recovery_sweep")

	// One failing job does not stop the other from running.
	process, recovered := svc.calls()
	require.Len(t, process, 1)
	require.Len(t, recovered, 1)
}

func TestRunJobTreatsDeadlineAsSoftTimeout(t *testing.T) {
	svc := &fakeGenerationService{processDelay: time.Second}
	sched := newTestScheduler(t, svc, Config{JobTimeout: 10 * time.Millisecond})

	err := sched.runJob(context.Background(), "dispatch_jobs", 1, 10*time.Millisecond, sched.DispatchJob)
	require.NoError(t, err)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 15*time.Second, cfg.RunInterval)
	require.Equal(t, 25, cfg.DispatchBatchSize)
	require.Equal(t, 10, cfg.RecoveryBatchSize)

	custom := Config{DispatchBatchSize: 5}.withDefaults()
	require.Equal(t, 5, custom.DispatchBatchSize)
	require.Equal(t, 10, custom.RecoveryBatchSize)
}
