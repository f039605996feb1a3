package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/repository"
	"agent-credit-api/internal/domain/service"
	"agent-credit-api/internal/infrastructure/persistence/memory"
	apperrors "agent-credit-api/pkg/errors"
)

type denyAll struct{}

func (denyAll) Authorize(context.Context, string, service.PrivilegedOp) bool { return false }

type completeFunc func(ctx context.Context, call int, messages []service.ChatMessage) (*service.CompletionResult, error)

type fakeEngine struct {
	calls atomic.Int32
	fn    completeFunc
}

func (e *fakeEngine) Complete(ctx context.Context, messages []service.ChatMessage, model string) (*service.CompletionResult, error) {
	call := int(e.calls.Add(1))
	if e.fn != nil {
		return e.fn(ctx, call, messages)
	}
	return okResult(10, 10), nil
}

func okResult(prompt, completion int) *service.CompletionResult {
	return &service.CompletionResult{
		Content: "done",
		Model:   "gpt-4o",
		Usage:   service.TokenUsage{PromptTokens: prompt, CompletionTokens: completion},
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, jobID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.ids = append(d.ids, jobID)
	return nil
}

type fixture struct {
	orch       *Orchestrator
	store      *memory.Store
	engine     *fakeEngine
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T, withDispatcher bool) *fixture {
	t.Helper()
	store := memory.NewStore()
	ledgerSvc := ledger.NewService(store.Credits(), store.Audits(), store, denyAll{})
	engine := &fakeEngine{}
	f := &fixture{store: store, engine: engine}

	var dispatcher Dispatcher
	if withDispatcher {
		f.dispatcher = &recordingDispatcher{}
		dispatcher = f.dispatcher
	}
	f.orch = NewOrchestrator(store.Jobs(), store.Results(), store, ledgerSvc, engine,
		NewMemoryJobCache(time.Minute), dispatcher, Config{DefaultModel: "gpt-4o", MaxItems: 10})
	return f
}

func (f *fixture) seed(userID, added string) {
	c := entity.NewUserCredit(userID, entity.PlanTierPro)
	c.CreditsAdded = dec(added)
	f.store.PutAccount(*c)
}

func (f *fixture) account(t *testing.T, userID string) entity.UserCredit {
	t.Helper()
	c, ok := f.store.Account(userID)
	require.True(t, ok)
	return c
}

func (f *fixture) job(t *testing.T, id string) *entity.BatchJob {
	t.Helper()
	j, ok := f.store.Job(id)
	require.True(t, ok)
	return j
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

// 每项 "hello world" 估算 3 Token，3 项 (3*2*3)*1.2 向上取整为 22 Token，gpt-4o 预授权 0.22
func threeItems() []entity.BatchItem {
	return []entity.BatchItem{
		{ID: "a", Content: "hello world"},
		{ID: "b", Content: "hello world"},
		{ID: "c", Content: "hello world"},
	}
}

func TestCreateJob_PreAuthorizesAndDispatches(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")

	job, err := f.orch.CreateJob(context.Background(), CreateJobInput{UserID: "u1", AgentID: "agent-1", Items: threeItems()})
	require.NoError(t, err)

	assert.Equal(t, entity.BatchJobStatusPending, job.Status)
	assert.Equal(t, 3, job.TotalItems)
	assert.Equal(t, 22, job.EstimatedTokens)
	assert.Equal(t, "gpt-4o", job.Model)
	require.NotNil(t, job.AgentID)
	assert.Equal(t, "agent-1", *job.AgentID)
	assertDecimal(t, "0.22", job.CreditsPreAuthorized)

	assertDecimal(t, "0.22", f.account(t, "u1").PreAuthorizedCredits)
	assert.Equal(t, []string{job.ID}, f.dispatcher.ids)
	assert.Equal(t, entity.BatchJobStatusPending, f.job(t, job.ID).Status)
}

func TestCreateJob_FillsMissingItemIDs(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")

	job, err := f.orch.CreateJob(context.Background(), CreateJobInput{
		UserID: "u1",
		Items:  []entity.BatchItem{{Content: "first"}, {Content: "second"}},
	})
	require.NoError(t, err)

	stored := f.job(t, job.ID)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "1", stored.Items[0].ID)
	assert.Equal(t, "2", stored.Items[1].ID)
}

func TestCreateJob_Validation(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateJobInput
		want  *apperrors.AppError
	}{
		{"missing user", CreateJobInput{Items: threeItems()}, apperrors.ErrInvalidParam},
		{"no items", CreateJobInput{UserID: "u1"}, apperrors.ErrValidationFailed},
		{"empty content", CreateJobInput{UserID: "u1", Items: []entity.BatchItem{{ID: "x", Content: "  "}}}, apperrors.ErrValidationFailed},
		{"duplicate ids", CreateJobInput{UserID: "u1", Items: []entity.BatchItem{{ID: "x", Content: "a"}, {ID: "x", Content: "b"}}}, apperrors.ErrValidationFailed},
		{"too many items", CreateJobInput{UserID: "u1", Items: make([]entity.BatchItem, 11)}, apperrors.ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.CreateJob(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.dispatcher.ids)
	assert.True(t, f.account(t, "u1").PreAuthorizedCredits.IsZero())
}

func TestCreateJob_InsufficientCreditsCreatesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "0.1")

	_, err := f.orch.CreateJob(context.Background(), CreateJobInput{UserID: "u1", Items: threeItems()})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCredits)

	jobs, err := f.store.Jobs().ListByUser(context.Background(), "u1", "", repository.NewPagination(1, 20))
	require.NoError(t, err)
	assert.Zero(t, jobs.Total)
	assert.Empty(t, f.dispatcher.ids)
	assert.True(t, f.account(t, "u1").PreAuthorizedCredits.IsZero())
	assert.Empty(t, f.store.AuditLogs("u1"))
}

func TestCreateJob_UnknownAccountIsInsufficient(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.orch.CreateJob(context.Background(), CreateJobInput{UserID: "ghost", Items: threeItems()})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCredits)
}

func TestCreateJob_StorageFailureReleasesHold(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	f.store.FailOn("jobs.Create", errors.New("connection reset"))

	_, err := f.orch.CreateJob(context.Background(), CreateJobInput{UserID: "u1", Items: threeItems()})
	assert.Equal(t, apperrors.CodeDatabaseError, apperrors.CodeOf(err))

	assert.True(t, f.account(t, "u1").PreAuthorizedCredits.IsZero())
	logs := f.store.AuditLogs("u1")
	require.Len(t, logs, 2)
	assert.Equal(t, entity.CreditOpPreAuthorize, logs[0].OperationType)
	assert.Equal(t, entity.CreditOpReleasePreAuthorize, logs[1].OperationType)
}

func TestCreateJob_DispatchFailureFailsJob(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	f.dispatcher.fail = errors.New("stream unavailable")

	_, err := f.orch.CreateJob(context.Background(), CreateJobInput{UserID: "u1", Items: threeItems()})
	assert.ErrorIs(t, err, apperrors.ErrJobDispatchFailed)

	jobs, err := f.store.Jobs().ListByUser(context.Background(), "u1", "", repository.NewPagination(1, 20))
	require.NoError(t, err)
	require.Len(t, jobs.Items, 1)
	assert.Equal(t, entity.BatchJobStatusFailed, jobs.Items[0].Status)
	assert.Contains(t, jobs.Items[0].ErrorMessage, "stream unavailable")
	assert.True(t, f.account(t, "u1").PreAuthorizedCredits.IsZero())
}

func TestProcess_PartialItemFailureStillCompletes(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	f.engine.fn = func(_ context.Context, call int, _ []service.ChatMessage) (*service.CompletionResult, error) {
		if call == 2 {
			return nil, errors.New("provider timeout")
		}
		return okResult(10, 10), nil
	}
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, job.ID))

	got := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedItems)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 40, got.ActualTokens)
	assertDecimal(t, "0.4", got.CreditsUsed)
	assert.NotNil(t, got.CompletedAt)

	results, err := f.orch.GetJobResults(ctx, job.ID, "u1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ItemID)
	assert.Equal(t, "c", results[1].ItemID)
	assertDecimal(t, "0.2", results[0].Credits)

	acc := f.account(t, "u1")
	assertDecimal(t, "0.4", acc.CreditsUsed)
	assert.True(t, acc.PreAuthorizedCredits.IsZero())
	assertDecimal(t, "99.6", acc.Available())
}

func TestProcess_EmptyOutputCountsAsFailedItem(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	f.engine.fn = func(context.Context, int, []service.ChatMessage) (*service.CompletionResult, error) {
		return &service.CompletionResult{Content: "   "}, nil
	}
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, job.ID))

	got := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedItems)
	assert.True(t, got.CreditsUsed.IsZero())

	acc := f.account(t, "u1")
	assert.True(t, acc.CreditsUsed.IsZero())
	assert.True(t, acc.PreAuthorizedCredits.IsZero())
}

func TestProcess_EstimatesUsageWhenProviderReportsNone(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	f.engine.fn = func(context.Context, int, []service.ChatMessage) (*service.CompletionResult, error) {
		return &service.CompletionResult{Content: "12345678"}, nil
	}
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: []entity.BatchItem{{ID: "a", Content: "hello world"}}})
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, job.ID))

	results, err := f.orch.GetJobResults(ctx, job.ID, "u1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].PromptTokens)
	assert.Equal(t, 2, results[0].CompletionTokens)
	assert.Equal(t, 5, results[0].TotalTokens)
	assert.True(t, results[0].Credits.IsPositive())
}

func TestProcess_StorageFailureFailsJobAndReleasesHold(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)

	f.store.FailOn("results.Create", errors.New("disk full"))
	err = f.orch.Process(ctx, job.ID)
	require.Error(t, err)

	got := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "failed to store item result")
	assert.Equal(t, 0, got.ProcessedItems)

	acc := f.account(t, "u1")
	assert.True(t, acc.CreditsUsed.IsZero())
	assert.True(t, acc.PreAuthorizedCredits.IsZero())
	assert.Equal(t, int32(1), f.engine.calls.Load())
}

func TestProcess_CancelDuringItemBillsInFlightAndStops(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)

	f.engine.fn = func(ctx context.Context, call int, _ []service.ChatMessage) (*service.CompletionResult, error) {
		if call == 2 {
			require.NoError(t, f.orch.CancelJob(ctx, job.ID, "u1"))
			return okResult(1000, 1000), nil
		}
		return okResult(10, 10), nil
	}
	require.NoError(t, f.orch.Process(ctx, job.ID))

	got := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusFailed, got.Status)
	assert.Equal(t, entity.JobErrCanceledByUser, got.ErrorMessage)
	assert.Equal(t, 2, got.ProcessedItems)
	assertDecimal(t, "20.2", got.CreditsUsed)
	assert.Equal(t, int32(2), f.engine.calls.Load())

	acc := f.account(t, "u1")
	assertDecimal(t, "20.2", acc.CreditsUsed)
	assert.True(t, acc.PreAuthorizedCredits.IsZero())

	var released decimal.Decimal
	for _, l := range f.store.AuditLogs("u1") {
		if l.OperationType == entity.CreditOpReleasePreAuthorize {
			released = released.Add(l.Amount)
		}
	}
	assertDecimal(t, "0.02", released)
}

func TestProcess_RefusedChargeSkipsItemAndContinues(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "0.5")
	f.engine.fn = func(_ context.Context, call int, _ []service.ChatMessage) (*service.CompletionResult, error) {
		if call == 1 {
			// 20.00 远超 0.22 的预授权与 0.28 的可用余额
			return okResult(1000, 1000), nil
		}
		return okResult(10, 10), nil
	}
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, job.ID))

	assert.Equal(t, int32(3), f.engine.calls.Load())
	got := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedItems)
	assertDecimal(t, "0.4", got.CreditsUsed)

	results, err := f.orch.GetJobResults(ctx, job.ID, "u1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ItemID)
	assert.Equal(t, "c", results[1].ItemID)

	acc := f.account(t, "u1")
	assertDecimal(t, "0.4", acc.CreditsUsed)
	assert.True(t, acc.PreAuthorizedCredits.IsZero())
	assertDecimal(t, "0.1", acc.Available())
}

func TestCancelJob_MidFlightReleasesRemainingHold(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// 预授权 50，已从中消耗 20，账户上仍持有 30
	c := entity.NewUserCredit("u1", entity.PlanTierPro)
	c.CreditsAdded = dec("100")
	c.CreditsUsed = dec("20")
	c.PreAuthorizedCredits = dec("30")
	f.store.PutAccount(*c)

	job := entity.NewBatchJob("u1", nil, "gpt-4o", "", threeItems(), 5000, dec("50"))
	job.Start()
	job.RecordItem(1000, dec("20"))
	require.NoError(t, f.store.Jobs().Create(ctx, job))
	seeded := f.account(t, "u1")
	assertDecimal(t, "50", seeded.Available())

	require.NoError(t, f.orch.CancelJob(ctx, job.ID, "u1"))

	got := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusFailed, got.Status)
	assert.Equal(t, entity.JobErrCanceledByUser, got.ErrorMessage)
	assertDecimal(t, "20", got.CreditsUsed)

	acc := f.account(t, "u1")
	assert.True(t, acc.PreAuthorizedCredits.IsZero())
	assertDecimal(t, "20", acc.CreditsUsed)
	assertDecimal(t, "80", acc.Available())

	logs := f.store.AuditLogs("u1")
	require.Len(t, logs, 1)
	assert.Equal(t, entity.CreditOpReleasePreAuthorize, logs[0].OperationType)
	assertDecimal(t, "30", logs[0].Amount)
	assertDecimal(t, "50", logs[0].BalanceBefore)
	assertDecimal(t, "80", logs[0].BalanceAfter)
}

func TestCancelJob_PendingReleasesFullHold(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	require.NoError(t, f.orch.CancelJob(ctx, job.ID, "u1"))

	assert.Equal(t, entity.BatchJobStatusFailed, f.job(t, job.ID).Status)
	assert.True(t, f.account(t, "u1").PreAuthorizedCredits.IsZero())

	require.NoError(t, f.orch.Process(ctx, job.ID))
	assert.Zero(t, f.engine.calls.Load())
}

func TestCancelJob_Rejections(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.CancelJob(ctx, "missing", "u1"), apperrors.ErrJobNotFound)
	assert.ErrorIs(t, f.orch.CancelJob(ctx, job.ID, "u2"), apperrors.ErrJobForbidden)

	require.NoError(t, f.orch.Process(ctx, job.ID))
	before := f.job(t, job.ID)
	logsBefore := len(f.store.AuditLogs("u1"))

	err = f.orch.CancelJob(ctx, job.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrJobNotCancelable)

	after := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusCompleted, after.Status)
	assert.True(t, before.CreditsUsed.Equal(after.CreditsUsed))
	assert.Len(t, f.store.AuditLogs("u1"), logsBefore)
}

func TestProcess_IsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, job.ID))
	require.NoError(t, f.orch.Process(ctx, job.ID))

	assert.Equal(t, int32(3), f.engine.calls.Load())
	results, err := f.store.Results().ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.ErrorIs(t, f.orch.Process(ctx, "missing"), apperrors.ErrJobNotFound)
}

func TestGetJobStatus_FallsBackToStoreWhenCacheMisses(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)

	f.orch.cache.Evict(ctx, job.ID)
	got, err := f.orch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, entity.BatchJobStatusPending, got.Status)

	// 回源后已回填缓存
	f.store.FailOn("jobs.GetByID", errors.New("db down"))
	got, err = f.orch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	f.orch.cache.Evict(ctx, job.ID)
	_, err = f.orch.GetJobStatus(ctx, job.ID)
	assert.Equal(t, apperrors.CodeDatabaseError, apperrors.CodeOf(err))

	f.store.FailOn("jobs.GetByID", nil)
	_, err = f.orch.GetJobStatus(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)
}

func TestGetJob_ChecksOwnership(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)

	_, err = f.orch.GetJob(ctx, job.ID, "u2")
	assert.ErrorIs(t, err, apperrors.ErrJobForbidden)
	_, err = f.orch.GetJobResults(ctx, job.ID, "u2")
	assert.ErrorIs(t, err, apperrors.ErrJobForbidden)

	got, err := f.orch.GetJob(ctx, job.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestReapStaleJobs(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	stale, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	fresh, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	f.store.SetUpdatedAt(stale.ID, time.Now().Add(-2*time.Hour))

	n, err := f.orch.ReapStaleJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.job(t, stale.ID)
	assert.Equal(t, entity.BatchJobStatusFailed, got.Status)
	assert.Equal(t, entity.JobErrInterrupted, got.ErrorMessage)
	assert.Equal(t, entity.BatchJobStatusPending, f.job(t, fresh.ID).Status)
	assertDecimal(t, "0.22", f.account(t, "u1").PreAuthorizedCredits)

	n, err = f.orch.ReapStaleJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, true)
	f.seed("u1", "100")
	ctx := context.Background()

	first, err := f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	_, err = f.orch.CreateJob(ctx, CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(ctx, first.ID))

	all, err := f.orch.ListJobs(ctx, "u1", "", repository.NewPagination(1, 20))
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)

	done, err := f.orch.ListJobs(ctx, "u1", entity.BatchJobStatusCompleted, repository.NewPagination(1, 20))
	require.NoError(t, err)
	require.Len(t, done.Items, 1)
	assert.Equal(t, first.ID, done.Items[0].ID)
}

func TestInProcessDispatchRunsJob(t *testing.T) {
	f := newFixture(t, false)
	f.seed("u1", "100")

	job, err := f.orch.CreateJob(context.Background(), CreateJobInput{UserID: "u1", Items: threeItems()})
	require.NoError(t, err)
	f.orch.Wait()

	got := f.job(t, job.ID)
	assert.Equal(t, entity.BatchJobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedItems)
}

func TestEstimateJob(t *testing.T) {
	f := newFixture(t, true)

	est, err := f.orch.EstimateJob("", "", threeItems())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", est.Model)
	assert.Equal(t, 22, est.EstimatedTokens)
	assertDecimal(t, "0.22", est.EstimatedCost)

	_, err = f.orch.EstimateJob("gpt-4o", "", nil)
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
}

func TestMemoryJobCache_Expires(t *testing.T) {
	cache := NewMemoryJobCache(time.Millisecond)
	ctx := context.Background()
	job := &entity.BatchJob{ID: "j1", Status: entity.BatchJobStatusPending}

	cache.Put(ctx, job)
	job.Status = entity.BatchJobStatusFailed

	got, ok := cache.Get(ctx, "j1")
	if ok {
		assert.Equal(t, entity.BatchJobStatusPending, got.Status)
	}

	time.Sleep(5 * time.Millisecond)
	_, ok = cache.Get(ctx, "j1")
	assert.False(t, ok)
}
