package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClient struct {
	submitCalls int
	submitID    string
	submitErr   error

	statuses  []JobStatus
	statusIdx int
	statusErr error

	result    *Result
	resultErr error
}

func (f *fakeClient) Submit(_ context.Context, _ SubmitRequest) (string, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeClient) Status(_ context.Context, _ string) (JobStatus, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	if f.statusIdx >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	s := f.statuses[f.statusIdx]
	f.statusIdx++
	return s, nil
}

func (f *fakeClient) Result(_ context.Context, requestID string) (*Result, error) {
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &Result{RequestID: requestID, ImageURL: "https://cdn.example.com/out.png"}, nil
}

type fakeStore struct {
	persisted  []string
	cleared    int
	persistErr error
}

func (f *fakeStore) OnRequestIDReceived(_ context.Context, requestID string) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persisted = append(f.persisted, requestID)
	return nil
}

func (f *fakeStore) OnClearRequestID(_ context.Context) error {
	f.cleared++
	return nil
}

func newTestDispatcher(c Client, opts Options) *Dispatcher {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	if opts.MaxPollDuration == 0 {
		opts.MaxPollDuration = time.Second
	}
	return New(c, zap.NewNop(), opts)
}

func TestRunSubmitsAndPersistsBeforeAwaiting(t *testing.T) {
	client := &fakeClient{
		submitID: "req_123",
		statuses: []JobStatus{StatusQueued, StatusInProgress, StatusCompleted},
	}
	store := &fakeStore{}

	d := newTestDispatcher(client, Options{})
	result, err := d.Run(context.Background(), store, "", SubmitRequest{Tool: "sky_replacement"})

	require.NoError(t, err)
	require.Equal(t, "req_123", result.RequestID)
	require.Equal(t, 1, client.submitCalls)
	require.Equal(t, []string{"req_123"}, store.persisted)
	require.Zero(t, store.cleared)
}

func TestRunResumesWithoutResubmitting(t *testing.T) {
	client := &fakeClient{
		submitID: "req_should_not_be_used",
		statuses: []JobStatus{StatusInProgress, StatusCompleted},
	}
	store := &fakeStore{}

	d := newTestDispatcher(client, Options{})
	result, err := d.Run(context.Background(), store, "req_existing", SubmitRequest{Tool: "sky_replacement"})

	require.NoError(t, err)
	require.Equal(t, "req_existing", result.RequestID)
	require.Zero(t, client.submitCalls)
	require.Empty(t, store.persisted)
}

func TestRunClearsRequestIDOnTerminalFailure(t *testing.T) {
	client := &fakeClient{
		submitID: "req_fail",
		statuses: []JobStatus{StatusInProgress, StatusFailed},
	}
	store := &fakeStore{}

	d := newTestDispatcher(client, Options{})
	_, err := d.Run(context.Background(), store, "", SubmitRequest{Tool: "virtual_staging"})

	require.ErrorIs(t, err, ErrJobFailed)
	require.Equal(t, 1, store.cleared)

	// the next attempt starts fresh
	client2 := &fakeClient{
		submitID: "req_retry",
		statuses: []JobStatus{StatusCompleted},
	}
	store2 := &fakeStore{}
	result, err := newTestDispatcher(client2, Options{}).Run(context.Background(), store2, "", SubmitRequest{Tool: "virtual_staging"})
	require.NoError(t, err)
	require.Equal(t, "req_retry", result.RequestID)
	require.Equal(t, 1, client2.submitCalls)
}

func TestRunKeepsRequestIDWhileStillRunning(t *testing.T) {
	client := &fakeClient{
		submitID: "req_slow",
		statuses: []JobStatus{StatusInProgress},
	}
	store := &fakeStore{}

	d := newTestDispatcher(client, Options{MaxPollDuration: 5 * time.Millisecond})
	_, err := d.Run(context.Background(), store, "", SubmitRequest{Tool: "declutter"})

	require.ErrorIs(t, err, ErrStillRunning)
	require.Equal(t, []string{"req_slow"}, store.persisted)
	require.Zero(t, store.cleared)
}

func TestRunKeepsRequestIDWhenCompletedButResultFetchFails(t *testing.T) {
	client := &fakeClient{
		statuses:  []JobStatus{StatusCompleted},
		resultErr: errors.New("result endpoint timeout"),
	}
	store := &fakeStore{}

	d := newTestDispatcher(client, Options{})
	_, err := d.Run(context.Background(), store, "req_done", SubmitRequest{Tool: "upscale"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "result")
	require.Zero(t, store.cleared)
	require.Zero(t, client.submitCalls)

	// the retry resumes with the surviving id and only re-fetches
	client2 := &fakeClient{
		statuses: []JobStatus{StatusCompleted},
	}
	store2 := &fakeStore{}
	result, err := newTestDispatcher(client2, Options{}).Run(context.Background(), store2, "req_done", SubmitRequest{Tool: "upscale"})
	require.NoError(t, err)
	require.Equal(t, "req_done", result.RequestID)
	require.Zero(t, client2.submitCalls)
}

func TestRunUnknownStatusClearsByDefault(t *testing.T) {
	client := &fakeClient{
		submitID:  "req_dark",
		statusErr: errors.New("provider unavailable"),
	}
	store := &fakeStore{}

	d := newTestDispatcher(client, Options{})
	_, err := d.Run(context.Background(), store, "req_dark", SubmitRequest{})

	require.Error(t, err)
	require.Equal(t, 1, store.cleared)
}

func TestRunUnknownStatusKeepsWhenConfigured(t *testing.T) {
	client := &fakeClient{
		submitID:  "req_dark",
		statusErr: errors.New("provider unavailable"),
	}
	store := &fakeStore{}

	d := newTestDispatcher(client, Options{KeepRequestIDOnUnknownStatus: true})
	_, err := d.Run(context.Background(), store, "req_dark", SubmitRequest{})

	require.Error(t, err)
	require.Zero(t, store.cleared)
}

func TestRunPersistFailureIsFatal(t *testing.T) {
	client := &fakeClient{
		submitID: "req_orphan",
		statuses: []JobStatus{StatusCompleted},
	}
	store := &fakeStore{persistErr: errors.New("db down")}

	d := newTestDispatcher(client, Options{})
	_, err := d.Run(context.Background(), store, "", SubmitRequest{})

	require.Error(t, err)
	require.Contains(t, err.Error(), "persist request id")
}
