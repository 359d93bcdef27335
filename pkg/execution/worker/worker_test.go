package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/cache"
	"github.com/cxeteam/cxe/pkg/execution/lang"
	"github.com/cxeteam/cxe/pkg/execution/orchestrator"
	"github.com/cxeteam/cxe/pkg/execution/queue"
	"github.com/cxeteam/cxe/pkg/execution/sandbox"
	"github.com/cxeteam/cxe/pkg/execution/types"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, runner sandbox.Runner) (*Pool, *queue.Queue, cache.StatusCache) {
	t.Helper()
	q := queue.New()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	registry := lang.DefaultRegistry()
	orch := orchestrator.New(registry, runner, orchestrator.Config{
		CompileTimeout: 5 * time.Second,
		RunTimeout:     5 * time.Second,
		Limits:         sandbox.Limits{CPUShare: 0.5, MemoryBytes: 1 << 20},
	}, nil)

	p := New(Config{
		Count:        1,
		Queue:        q,
		Cache:        c,
		Orchestrator: orch,
		TempDir:      t.TempDir(),
		CacheTTL:     time.Hour,
	})
	return p, q, c
}

func enqueueSubmission(t *testing.T, q *queue.Queue, c cache.StatusCache, id string) *types.Submission {
	t.Helper()
	sub := &types.Submission{
		SubmissionID: id,
		Language:     "python",
		Code:         "def add(a, b):\n    return a + b\n",
		Metadata: types.QuestionMetadata{
			FunctionName: "add",
			ReturnType:   "int",
			Parameters:   []types.Parameter{{Name: "a", Type: "int"}, {Name: "b", Type: "int"}},
		},
		TestCases: []types.TestCase{{Input: map[string]interface{}{"a": 1, "b": 2}}},
	}
	require.NoError(t, c.Put(context.Background(), id, &types.StatusRecord{
		SubmissionID: id,
		Status:       types.StatusQueued,
		QueuedAt:     time.Now(),
	}, time.Hour))
	q.Enqueue(sub)
	return sub
}

func waitForTerminal(t *testing.T, c cache.StatusCache, id string) *types.StatusRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, err := c.Get(context.Background(), id)
		if err == nil && record.Status.Terminal() {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("submission %s never reached a terminal status", id)
	return nil
}

func TestPool_HappyPathPublishesCompleted(t *testing.T) {
	runner := &sandbox.FakeRunner{
		Results: []*sandbox.Result{{ExitCode: 0, StdoutMerged: "TEST_CASE_RESULT: 0,Mw==,1,\n"}},
	}
	p, q, c := newTestPool(t, runner)
	enqueueSubmission(t, q, c, "sub-ok")

	p.Start(context.Background())
	defer p.Stop()

	record := waitForTerminal(t, c, "sub-ok")
	require.Equal(t, types.StatusCompleted, record.Status)
	require.Len(t, record.TestCaseResults, 1)
	require.Equal(t, "3", *record.TestCaseResults[0].ActualOutput)
	require.NotZero(t, record.QueuedAt)
}

func TestPool_OrchestratorPanicStillPublishesTerminalStatus(t *testing.T) {
	p, q, c := newTestPool(t, &panicRunner{})
	enqueueSubmission(t, q, c, "sub-panic")

	p.Start(context.Background())
	defer p.Stop()

	record := waitForTerminal(t, c, "sub-panic")
	require.Equal(t, types.StatusFailed, record.Status)
	require.Contains(t, record.ErrorMessage, "panic")
}

func TestPool_CancelledSubmissionIsDropped(t *testing.T) {
	runner := &sandbox.FakeRunner{
		Results: []*sandbox.Result{{ExitCode: 0, StdoutMerged: "TEST_CASE_RESULT: 0,Mw==,1,\n"}},
	}
	p, q, c := newTestPool(t, runner)
	sub := enqueueSubmission(t, q, c, "sub-cancel")

	ok, err := c.CompareAndSet(context.Background(), sub.SubmissionID, types.StatusQueued, &types.StatusRecord{
		SubmissionID: sub.SubmissionID,
		Status:       types.StatusCancelled,
		QueuedAt:     time.Now(),
	}, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)
	record, err := c.Get(context.Background(), sub.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, record.Status)
	require.Len(t, runner.Calls, 0)
}

func TestPool_KeepWorkdirLeavesDirectoryInPlace(t *testing.T) {
	runner := &sandbox.FakeRunner{
		Results: []*sandbox.Result{{ExitCode: 0, StdoutMerged: "TEST_CASE_RESULT: 0,Mw==,1,\n"}},
	}
	p, q, c := newTestPool(t, runner)
	p.keepWorkdir = true
	enqueueSubmission(t, q, c, "sub-keep")

	p.Start(context.Background())
	defer p.Stop()

	waitForTerminal(t, c, "sub-keep")

	entries, err := os.ReadDir(p.tempDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "expected the submission workdir to survive cleanup")
}

func TestPool_ActiveWorkersZeroWhenIdle(t *testing.T) {
	p, _, _ := newTestPool(t, &sandbox.FakeRunner{})
	require.Equal(t, 0, p.ActiveWorkers())
}

// panicRunner always panics, exercising the worker's panic-recovery path.
type panicRunner struct{}

func (panicRunner) Run(context.Context, string, string, string, []string, sandbox.Limits) (*sandbox.Result, error) {
	panic("simulated sandbox driver failure")
}
