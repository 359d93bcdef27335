// Package worker implements the worker pool: N long-lived agents that
// dequeue submissions, drive the orchestrator, and publish status
// transitions through the cache, each running a fixed
// dequeue -> CAS -> orchestrate -> publish -> cleanup -> EMA loop.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/cache"
	"github.com/cxeteam/cxe/pkg/execution/logging"
	"github.com/cxeteam/cxe/pkg/execution/orchestrator"
	"github.com/cxeteam/cxe/pkg/execution/queue"
	"github.com/cxeteam/cxe/pkg/execution/types"
	"go.uber.org/zap"
)

// Metrics is the subset of the metrics package a Pool reports through,
// kept as a narrow interface so worker does not import metrics directly
// (avoiding a cyclic-looking dependency graph between ambient components).
type Metrics interface {
	ObserveSubmission(status types.Status, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSubmission(types.Status, time.Duration) {}

// Pool is the worker pool.
type Pool struct {
	count        int
	queue        *queue.Queue
	cache        cache.StatusCache
	orchestrator *orchestrator.Orchestrator
	tempDir      string
	keepWorkdir  bool
	cacheTTL     time.Duration
	metrics      Metrics
	log          *logging.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	active int32
}

// Config bundles Pool construction parameters.
type Config struct {
	Count        int
	Queue        *queue.Queue
	Cache        cache.StatusCache
	Orchestrator *orchestrator.Orchestrator
	TempDir      string
	KeepWorkdir  bool
	CacheTTL     time.Duration
	Metrics      Metrics
	Log          *logging.Logger
}

// New builds a Pool from cfg. Workers do not start until Start is called.
func New(cfg Config) *Pool {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	log := cfg.Log
	if log == nil {
		log = logging.NewNop()
	}
	return &Pool{
		count:        cfg.Count,
		queue:        cfg.Queue,
		cache:        cfg.Cache,
		orchestrator: cfg.Orchestrator,
		tempDir:      cfg.TempDir,
		keepWorkdir:  cfg.KeepWorkdir,
		cacheTTL:     cfg.CacheTTL,
		metrics:      cfg.Metrics,
		log:          log.WithComponent("worker"),
	}
}

// Start launches Count workers, each identified by a stable "worker-<k>" id.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for k := 0; k < p.count; k++ {
		workerID := fmt.Sprintf("worker-%d", k)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}()
	}
}

// Stop cancels every worker's context and blocks until each has returned.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// ActiveWorkers reports the count of workers currently mid-submission, for
// the health endpoint.
func (p *Pool) ActiveWorkers() int {
	return int(atomic.LoadInt32(&p.active))
}

// run is one worker's main loop: dequeue, CAS to COMPILING, create a
// workdir, orchestrate, publish the final record, clean up, update EMA.
func (p *Pool) run(ctx context.Context, workerID string) {
	log := p.log.With(zap.String("workerId", workerID))
	for {
		sub, err := p.queue.DequeueBlocking(ctx)
		if err != nil {
			return // context cancelled: pool is shutting down
		}
		p.handle(ctx, workerID, sub, log)
	}
}

// handle drives a single dequeued submission through CAS, orchestration,
// and cleanup. A panic anywhere in orchestration is recovered so a terminal
// FAILED status is still published before the worker resumes its loop:
// nothing is allowed to throw across the worker loop boundary.
func (p *Pool) handle(ctx context.Context, workerID string, sub *types.Submission, log *logging.Logger) {
	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)

	started := time.Now()
	now := started

	queuedAt := now
	if existing, err := p.cache.Get(ctx, sub.SubmissionID); err == nil && existing != nil {
		queuedAt = existing.QueuedAt
	}
	startedAtRecord := &types.StatusRecord{
		SubmissionID: sub.SubmissionID,
		Status:       types.StatusCompiling,
		StartedAt:    &now,
		WorkerID:     workerID,
		QueuedAt:     queuedAt,
	}

	ok, err := p.cache.CompareAndSet(ctx, sub.SubmissionID, types.StatusQueued, startedAtRecord, p.cacheTTL)
	if err != nil {
		log.Error("cache CAS to COMPILING failed", zap.Error(err), zap.String("submissionId", sub.SubmissionID))
		return
	}
	if !ok {
		// Either already cancelled, or (defensively) already claimed by
		// another worker; either way this worker drops it and loops.
		log.Info("submission no longer QUEUED at dequeue, dropping", zap.String("submissionId", sub.SubmissionID))
		return
	}

	workdir, err := os.MkdirTemp(p.tempDir, "cxe-"+sub.SubmissionID+"-")
	if err != nil {
		p.publishFailure(ctx, sub, workerID, queuedAt, &now, types.ReasonInternalError, err, log)
		return
	}
	defer func() {
		if p.keepWorkdir {
			log.Debug("keepWorkdir set, leaving workdir in place", zap.String("workdir", workdir))
			return
		}
		_ = os.RemoveAll(workdir)
	}()

	final := p.executeWithRecovery(ctx, sub, workdir, workerID, queuedAt, &now, log)

	if err := p.cache.Put(ctx, sub.SubmissionID, final, p.cacheTTL); err != nil {
		log.Error("publishing final status failed", zap.Error(err), zap.String("submissionId", sub.SubmissionID))
	}

	duration := time.Since(started)
	p.queue.RecordExecutionDuration(duration)
	p.metrics.ObserveSubmission(final.Status, duration)
}

// executeWithRecovery calls the orchestrator, translating its result (or a
// recovered panic, or a hard error) into a terminal StatusRecord.
func (p *Pool) executeWithRecovery(ctx context.Context, sub *types.Submission, workdir, workerID string, queuedAt time.Time, startedAt *time.Time, log *logging.Logger) (result *types.StatusRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator panicked", zap.Any("panic", r), zap.String("submissionId", sub.SubmissionID))
			result = failureRecord(sub, workerID, queuedAt, startedAt, types.ReasonInternalError, fmt.Sprintf("internal panic: %v", r))
		}
	}()

	execResult, err := p.orchestrator.Execute(ctx, sub, workdir)
	if err != nil {
		return failureRecord(sub, workerID, queuedAt, startedAt, types.ReasonInternalError, err.Error())
	}
	return recordFromExecution(sub, workerID, queuedAt, startedAt, execResult)
}

func (p *Pool) publishFailure(ctx context.Context, sub *types.Submission, workerID string, queuedAt time.Time, startedAt *time.Time, reason types.FailureReason, err error, log *logging.Logger) {
	record := failureRecord(sub, workerID, queuedAt, startedAt, reason, err.Error())
	if putErr := p.cache.Put(ctx, sub.SubmissionID, record, p.cacheTTL); putErr != nil {
		log.Error("publishing failure record failed", zap.Error(putErr), zap.String("submissionId", sub.SubmissionID))
	}
}

func failureRecord(sub *types.Submission, workerID string, queuedAt time.Time, startedAt *time.Time, reason types.FailureReason, message string) *types.StatusRecord {
	now := time.Now()
	return &types.StatusRecord{
		SubmissionID: sub.SubmissionID,
		Status:       types.StatusFailed,
		ErrorMessage: fmt.Sprintf("%s: %s", reason, message),
		QueuedAt:     queuedAt,
		StartedAt:    startedAt,
		CompletedAt:  &now,
		WorkerID:     workerID,
	}
}

// recordFromExecution maps an orchestrator.ExecutionResult onto the final
// StatusRecord the cache stores.
func recordFromExecution(sub *types.Submission, workerID string, queuedAt time.Time, startedAt *time.Time, exec *orchestrator.ExecutionResult) *types.StatusRecord {
	now := time.Now()
	record := &types.StatusRecord{
		SubmissionID:      sub.SubmissionID,
		CompilationOutput: exec.CompilationOutput,
		ErrorMessage:      exec.ErrorMessage,
		TestCaseResults:   exec.TestCaseResults,
		RuntimeMs:         exec.RuntimeMs,
		MemoryKb:          exec.MemoryKb,
		QueuedAt:          queuedAt,
		StartedAt:         startedAt,
		CompletedAt:       &now,
		WorkerID:          workerID,
	}
	switch exec.Status {
	case orchestrator.StatusSuccess:
		record.Status = types.StatusCompleted
	default:
		record.Status = types.StatusFailed
		if record.ErrorMessage == "" {
			record.ErrorMessage = string(exec.Status)
		} else {
			record.ErrorMessage = fmt.Sprintf("%s: %s", exec.Status, record.ErrorMessage)
		}
	}
	return record
}
