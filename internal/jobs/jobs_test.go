package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"RM-Copilot/internal/agent"
	xerrors "RM-Copilot/internal/errors"
)

type fakeRunner struct {
	processed atomic.Int32
	latency   time.Duration
	failures  map[string]int
	mu        sync.Mutex
	err       error
}

func (f *fakeRunner) Run(ctx context.Context, query string) (*agent.AgentResponse, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	if f.failures[query] > 0 {
		f.failures[query]--
		f.mu.Unlock()
		return nil, f.err
	}
	f.mu.Unlock()
	f.processed.Add(1)
	return &agent.AgentResponse{RunID: "run-" + query, Query: query, FinalAnswer: "ok", VerificationStatus: agent.StatusVerified}, nil
}

func startProcessor(t *testing.T, runner agent.Runner, store Store, queue Queue, workers int) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	processor := NewProcessor(runner, store, queue, queue, WithWorkerCount(workers))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestProcessorHandlesConcurrentRuns(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	runner := &fakeRunner{latency: 5 * time.Millisecond}
	service := NewService(store, queue, 2)

	stop := startProcessor(t, runner, store, queue, 8)
	defer stop()

	total := 100
	for i := 0; i < total; i++ {
		if _, err := service.Submit(context.Background(), Request{Query: fmt.Sprintf("query-%d", i)}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(runner.processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("runs not processed in time, done %d", runner.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	runner := &fakeRunner{
		failures: map[string]int{"flaky": 2},
		err:      xerrors.New(xerrors.CodeGatewayFailure, "upstream unavailable"),
	}
	service := NewService(store, queue, 2)

	stop := startProcessor(t, runner, store, queue, 1)
	defer stop()

	job, err := service.Submit(context.Background(), Request{Query: "flaky"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done, err := service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Attempts != 3 {
		t.Fatalf("expected success on the third attempt, got %+v", done)
	}
	if done.Result == nil || done.Result.RunID != "run-flaky" {
		t.Fatalf("unexpected result %+v", done.Result)
	}
}

func TestWaitDoesNotStopAtRetryableFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	runner := &fakeRunner{
		latency:  20 * time.Millisecond,
		failures: map[string]int{"q": 1},
		err:      xerrors.New(xerrors.CodeTimeout, "transient"),
	}
	service := NewService(store, queue, 2)

	stop := startProcessor(t, runner, store, queue, 1)
	defer stop()

	job, err := service.Submit(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// 重投会排在这个运行之后，失败与重试之间存在可观察的窗口。
	if _, err := service.Submit(context.Background(), Request{Query: "behind"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done, err := service.WaitUntilCompleted(ctx, job.ID, time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Attempts != 2 {
		t.Fatalf("wait returned before the retry finished: %+v", done)
	}
}

func TestMarkFailedNonTerminalRequeues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Job{ID: "x", Query: "q", MaxRetries: 2})

	if _, err := store.Claim(ctx, "x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "x", xerrors.CodeTimeout, "transient", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	job, _ := store.Get(ctx, "x")
	if job.Status != StatusPending || job.Done() || job.LastError != "transient" || job.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("unexpected pending job %+v", job)
	}
	job, err := store.Claim(ctx, "x")
	if err != nil || job.Attempts != 2 {
		t.Fatalf("expected second claim, got %+v %v", job, err)
	}

	_ = store.MarkFailed(ctx, "x", CodeJobProcessing, "boom", true)
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("terminal failure must not be claimable, got %v", err)
	}
}

func TestProcessorStopsOnPermanentFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	runner := &fakeRunner{
		failures: map[string]int{"broken": 5},
		err:      xerrors.New(xerrors.CodeInvalidArgument, "bad input"),
	}
	service := NewService(store, queue, 3)

	stop := startProcessor(t, runner, store, queue, 1)
	defer stop()

	job, _ := service.Submit(context.Background(), Request{Query: "broken"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done, err := service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.Attempts != 1 || done.ErrorCode != string(xerrors.CodeInvalidArgument) {
		t.Fatalf("unexpected job %+v", done)
	}
}

func TestSubmitValidationAndIdempotency(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, -1)
	ctx := context.Background()

	if _, err := service.Submit(ctx, Request{Query: "  "}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	first, err := service.Submit(ctx, Request{ID: "job-1", Query: "hello"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.MaxRetries != defaultMaxRetries {
		t.Fatalf("expected default retries, got %d", first.MaxRetries)
	}
	second, err := service.Submit(ctx, Request{ID: "job-1", Query: "other"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Query != "hello" || queue.Len() != 1 {
		t.Fatalf("resubmission should return the existing job without publishing, got %+v (queued %d)", second, queue.Len())
	}

	if _, err := service.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	_ = queue.Close()
	service := NewService(store, queue, 1)

	_, err := service.Submit(context.Background(), Request{ID: "j", Query: "q"})
	if xerrors.CodeOf(err) != CodeJobPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	job, _ := store.Get(context.Background(), "j")
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("job should be marked failed, got %+v", job)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c", "d"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return ts }
		if err := store.Create(ctx, &Job{ID: id, Query: "Balance of ACC-" + id, MaxRetries: 1}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	store.now = func() time.Time { return base.Add(10 * time.Minute) }
	if err := store.MarkFailed(ctx, "b", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", &agent.AgentResponse{FinalAnswer: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	all, _ := store.List(ctx, ListOptions{})
	if len(all) != 4 || all[0].ID != "c" || all[1].ID != "b" || all[3].ID != "a" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	asc, _ := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc), WithLimit(2)))
	if len(asc) != 2 || asc[0].ID != "a" || asc[1].ID != "d" {
		t.Fatalf("unexpected ascending page: %v", ids(asc))
	}

	paged, _ := store.List(ctx, BuildListOptions(WithOffset(3)))
	if len(paged) != 1 || paged[0].ID != "a" {
		t.Fatalf("unexpected offset page: %v", ids(paged))
	}

	failed, _ := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed, "bogus")))
	if len(failed) != 1 || failed[0].ID != "b" {
		t.Fatalf("unexpected failed list: %v", ids(failed))
	}

	matched, _ := store.List(ctx, BuildListOptions(WithQuery("acc-D")))
	if len(matched) != 1 || matched[0].ID != "d" {
		t.Fatalf("unexpected query match: %v", ids(matched))
	}

	recent, _ := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(2*time.Minute))))
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent jobs, got %v", ids(recent))
	}

	stats, _ := store.Stats(ctx, ListOptions{})
	if stats.Total != 4 || stats.Pending != 2 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(10*time.Minute).Unix() {
		t.Fatalf("unexpected stats range: %+v", stats)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Job{ID: "x", Query: "q", MaxRetries: 0})

	job, err := store.Claim(ctx, "x")
	if err != nil || job.Status != StatusRunning || job.Attempts != 1 {
		t.Fatalf("unexpected claim: %+v %v", job, err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}
	_ = store.MarkFailed(ctx, "x", CodeJobProcessing, "boom", true)
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "x"}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected duplicate create conflict, got %v", err)
	}
}

func TestQueueConstructorsValidateConfig(t *testing.T) {
	if _, err := NewRedisQueue(context.Background(), RedisQueueConfig{}); xerrors.CodeOf(err) != xerrors.CodeConfigFailure {
		t.Fatalf("expected config failure for redis, got %v", err)
	}
	if _, err := NewRabbitMQQueue(RabbitMQConfig{}); xerrors.CodeOf(err) != xerrors.CodeConfigFailure {
		t.Fatalf("expected config failure for rabbitmq, got %v", err)
	}
}

func ids(list []*Job) []string {
	out := make([]string, 0, len(list))
	for _, job := range list {
		out = append(out, job.ID)
	}
	return out
}
