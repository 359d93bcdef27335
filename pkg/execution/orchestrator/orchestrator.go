// Package orchestrator drives one submission end to end: write harness
// sources, run a sandbox through a COMPILE phase then a RUN phase, and
// parse the harness's marker lines into structured per-test-case results.
// It holds no state beyond one call.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/lang"
	"github.com/cxeteam/cxe/pkg/execution/logging"
	"github.com/cxeteam/cxe/pkg/execution/sandbox"
	"github.com/cxeteam/cxe/pkg/execution/types"
	"go.uber.org/zap"
)

// OverallStatus classifies an ExecutionResult once RUN/COMPILE complete.
// It is distinct from types.Status: the orchestrator only ever produces the
// terminal outcomes below, leaving QUEUED/COMPILING/RUNNING to the worker.
type OverallStatus string

const (
	StatusSuccess          OverallStatus = "SUCCESS"
	StatusCompilationError OverallStatus = "COMPILATION_ERROR"
	StatusRuntimeError     OverallStatus = "RUNTIME_ERROR"
	StatusTimeout          OverallStatus = "TIMEOUT"
	StatusInternalError    OverallStatus = "INTERNAL_ERROR"
)

const markerPrefix = "TEST_CASE_RESULT: "

// ExecutionResult is what the worker folds into the final StatusRecord.
type ExecutionResult struct {
	Status            OverallStatus
	CompilationOutput string
	ErrorMessage      string
	TestCaseResults   []types.TestCaseResult
	RuntimeMs         *int64
	MemoryKb          *int64
}

// Config bounds the phases this orchestrator drives.
type Config struct {
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	Limits         sandbox.Limits
	SandboxImage   func(language string) string // overrides an adapter's DefaultImage, if set
}

// Orchestrator wires a language registry and a sandbox runner together.
type Orchestrator struct {
	registry *lang.Registry
	runner   sandbox.Runner
	cfg      Config
	log      *logging.Logger
}

// New builds an Orchestrator.
func New(registry *lang.Registry, runner sandbox.Runner, cfg Config, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Orchestrator{registry: registry, runner: runner, cfg: cfg, log: log.WithComponent("orchestrator")}
}

// Execute runs the full WRITE -> COMPILE -> RUN -> PARSE pipeline for sub
// inside workdir, which must already exist and be empty.
func (o *Orchestrator) Execute(ctx context.Context, sub *types.Submission, workdir string) (*ExecutionResult, error) {
	adapter, err := o.registry.Get(sub.Language)
	if err != nil {
		return nil, err
	}

	sources, err := adapter.GenerateHarness(sub)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: generating harness: %w", err)
	}

	if err := writeSources(workdir, sources); err != nil {
		return nil, fmt.Errorf("orchestrator: writing sources: %w", err)
	}

	image := adapter.DefaultImage()
	if o.cfg.SandboxImage != nil {
		if override := o.cfg.SandboxImage(sub.Language); override != "" {
			image = override
		}
	}

	if compileArgv := adapter.CompileArgv(workdir, sources); len(compileArgv) > 0 {
		result, err := o.runWithRetry(ctx, image, workdir, compileArgv, o.cfg.CompileTimeout)
		if err != nil {
			return &ExecutionResult{Status: StatusInternalError, ErrorMessage: err.Error()}, nil
		}
		if result.ExitCode != 0 {
			return &ExecutionResult{
				Status:            StatusCompilationError,
				CompilationOutput: result.StdoutMerged,
				TestCaseResults:   []types.TestCaseResult{},
			}, nil
		}
	}

	runArgv := adapter.RunArgv(workdir, sources)
	result, err := o.runWithRetry(ctx, image, workdir, runArgv, o.cfg.RunTimeout)
	if err != nil {
		return &ExecutionResult{Status: StatusInternalError, ErrorMessage: err.Error()}, nil
	}

	switch {
	case result.TimedOut:
		return &ExecutionResult{
			Status:          StatusTimeout,
			TestCaseResults: parseMarkers(result.StdoutMerged, len(sub.TestCases)),
			MemoryKb:        bytesToKb(result.PeakMemoryBytes),
		}, nil
	case result.ExitCode != 0:
		return &ExecutionResult{
			Status:            StatusRuntimeError,
			ErrorMessage:      fmt.Sprintf("harness exited with code %d", result.ExitCode),
			CompilationOutput: result.StdoutMerged,
			TestCaseResults:   parseMarkers(result.StdoutMerged, len(sub.TestCases)),
			MemoryKb:          bytesToKb(result.PeakMemoryBytes),
		}, nil
	default:
		runtimeMs := result.FinishedAt.Sub(result.StartedAt).Milliseconds()
		return &ExecutionResult{
			Status:          StatusSuccess,
			TestCaseResults: parseMarkers(result.StdoutMerged, len(sub.TestCases)),
			RuntimeMs:       &runtimeMs,
			MemoryKb:        bytesToKb(result.PeakMemoryBytes),
		}, nil
	}
}

// runWithRetry invokes the sandbox runner, retrying on SandboxUnavailable
// with a 200ms backoff, then a 1s backoff, before giving up.
func (o *Orchestrator) runWithRetry(ctx context.Context, image, workdir string, argv []string, timeout time.Duration) (*sandbox.Result, error) {
	limits := o.cfg.Limits
	limits.WallClock = timeout

	result, err := o.runner.Run(ctx, image, workdir, workdir, argv, limits)
	var unavailable *sandbox.UnavailableError
	if errors.As(err, &unavailable) {
		o.log.Warn("sandbox unavailable, retrying", zap.Error(err))
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		result, err = o.runner.Run(ctx, image, workdir, workdir, argv, limits)
		if errors.As(err, &unavailable) {
			select {
			case <-time.After(1 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			result, err = o.runner.Run(ctx, image, workdir, workdir, argv, limits)
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func writeSources(workdir string, sources *lang.Sources) error {
	if err := os.WriteFile(filepath.Join(workdir, sources.SolutionFileName), []byte(sources.SolutionCode), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workdir, sources.DriverFileName), []byte(sources.DriverCode), 0o644)
}

// parseMarkers scans output line by line for TEST_CASE_RESULT lines,
// splitting each body into at most 4 fields, then gap-fills any index in
// [0, expectedCount) that never appeared with a PrematureTermination error.
func parseMarkers(output string, expectedCount int) []types.TestCaseResult {
	byIndex := make(map[int]types.TestCaseResult)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		body, ok := strings.CutPrefix(line, markerPrefix)
		if !ok {
			continue
		}
		tcr, ok := parseMarkerBody(body)
		if !ok {
			continue
		}
		byIndex[tcr.Index] = tcr
	}

	results := make([]types.TestCaseResult, 0, expectedCount)
	for i := 0; i < expectedCount; i++ {
		if tcr, ok := byIndex[i]; ok {
			results = append(results, tcr)
			continue
		}
		premature := "PrematureTermination"
		results = append(results, types.TestCaseResult{
			Index:           i,
			ExecutionTimeMs: 0,
			Error:           &premature,
		})
	}
	return results
}

// parseMarkerBody splits a marker's body into exactly 4 fields
// (index, actualOutput, durationMs, errorInfo). actualOutput is the second
// field but is not the last one, so it cannot simply "keep the rest of the
// line": a comma embedded in a JSON array or object (the common case for
// composite return values) would spill into durationMs/errorInfo and either
// corrupt the parse or drop the marker outright. Harness emitters avoid
// this by base64-encoding actualOutput before writing the line; only
// errorInfo, as the true last field, is safe to carry raw commas.
// Malformed lines are reported via ok=false and skipped by the caller.
func parseMarkerBody(body string) (types.TestCaseResult, bool) {
	parts := strings.SplitN(body, ",", 4)
	if len(parts) != 4 {
		return types.TestCaseResult{}, false
	}

	index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return types.TestCaseResult{}, false
	}
	durationMs, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return types.TestCaseResult{}, false
	}
	actualOutput, err := decodeActualOutput(parts[1])
	if err != nil {
		return types.TestCaseResult{}, false
	}

	errorInfo := parts[3]

	tcr := types.TestCaseResult{Index: index, ExecutionTimeMs: durationMs}

	// Success is preferred over error when both fields are somehow present.
	if actualOutput == "" && errorInfo != "" {
		errType, errMsg := splitErrorInfo(errorInfo)
		tcr.ErrorType = &errType
		tcr.Error = &errMsg
	} else {
		out := actualOutput
		tcr.ActualOutput = &out
	}
	return tcr, true
}

// decodeActualOutput reverses the harness emitters' base64 encoding of the
// actualOutput field. An empty field decodes to an empty string rather than
// erroring, matching emit's own empty-string special case.
func decodeActualOutput(field string) (string, error) {
	if field == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// splitErrorInfo splits "<ErrorTypeName>: <message>" at the first colon.
func splitErrorInfo(errorInfo string) (errType, errMsg string) {
	if idx := strings.Index(errorInfo, ":"); idx >= 0 {
		return strings.TrimSpace(errorInfo[:idx]), strings.TrimSpace(errorInfo[idx+1:])
	}
	return errorInfo, ""
}

func bytesToKb(peakBytes *int64) *int64 {
	if peakBytes == nil {
		return nil
	}
	kb := *peakBytes / 1024
	return &kb
}
