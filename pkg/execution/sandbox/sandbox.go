// Package sandbox launches a process inside an isolation boundary with CPU,
// memory, and wall-clock limits, and captures its merged stdout/stderr plus
// peak memory usage: one short-lived container per invocation, built on
// testcontainers-go with a network-disabled, memory- and CPU-capped host
// config.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/testcontainers/testcontainers-go"
)

// TimeoutExitCode is the synthetic exit code reported when the wall-clock
// limit is exceeded; it is never a real OS exit code.
const TimeoutExitCode = -999

// Limits bounds a single sandboxed invocation.
type Limits struct {
	CPUShare      float64       // fraction of a CPU core, e.g. 0.5
	MemoryBytes   int64         // hard memory ceiling
	WallClock     time.Duration // enforced by the runner, not by user code
}

// Result is everything the orchestrator needs back from one sandboxed run.
type Result struct {
	ExitCode        int
	StdoutMerged    string
	PeakMemoryBytes *int64 // nil when sampling was unavailable, never zero
	TimedOut        bool
	StartedAt       time.Time
	FinishedAt      time.Time
}

// UnavailableError flags an infrastructure failure (engine unreachable,
// image pull failed) that the orchestrator retries up to twice, after a
// 200ms and then a 1s backoff, before surfacing as INTERNAL_ERROR.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string { return fmt.Sprintf("sandbox unavailable: %v", e.Cause) }
func (e *UnavailableError) Unwrap() error { return e.Cause }

// Runner launches argv inside image, bind-mounting hostDir at
// containerWorkdir, with stderr merged into stdout to preserve marker
// interleaving order.
type Runner interface {
	Run(ctx context.Context, image, hostDir, containerWorkdir string, argv []string, limits Limits) (*Result, error)
}

// DockerRunner is the production Runner: one container per invocation,
// network disabled, resources capped via the Docker host config, wall-clock
// enforced by the caller's context plus a hard Stop on expiry.
type DockerRunner struct {
	statsPollInterval time.Duration // sample rate for peak memory, >=2Hz
}

// NewDockerRunner builds a DockerRunner sampling memory at the required
// minimum 2Hz rate.
func NewDockerRunner() *DockerRunner {
	return &DockerRunner{statsPollInterval: 400 * time.Millisecond}
}

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, image, hostDir, containerWorkdir string, argv []string, limits Limits) (*Result, error) {
	started := time.Now()

	req := testcontainers.ContainerRequest{
		Image: image,
		Cmd:   argv,
		Tty:   true, // merges stdout/stderr in write order, per marker protocol
		Mounts: testcontainers.ContainerMounts{
			{
				Source: testcontainers.GenericBindMountSource{HostPath: hostDir},
				Target: testcontainers.ContainerMountTarget(containerWorkdir),
			},
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.NetworkMode = "none"
			hc.Resources.Memory = limits.MemoryBytes
			hc.Resources.NanoCPUs = int64(limits.CPUShare * 1e9)
		},
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	defer func() { _ = c.Terminate(context.Background()) }()

	containerID := c.GetContainerID()
	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	statsDone := make(chan struct{})
	var peak *int64
	go func() {
		defer close(statsDone)
		peak = r.pollPeakMemory(statsCtx, containerID)
	}()

	runCtx, cancel := context.WithTimeout(ctx, limits.WallClock)
	defer cancel()

	timedOut := false
	exitCode := 0

	waitErr := waitForExit(runCtx, c)
	if waitErr != nil {
		// Either our own deadline fired or the container genuinely can't
		// be observed to exit; either way, force-terminate and report a
		// timeout. A wedged sandbox and a slow user program look identical
		// from here, so both are treated the same.
		timedOut = true
		exitCode = TimeoutExitCode
		stopTimeout := 2 * time.Second
		_ = c.Stop(context.Background(), &stopTimeout)
	} else {
		state, stateErr := c.State(context.Background())
		if stateErr == nil {
			exitCode = state.ExitCode
		}
	}

	stopStats()
	<-statsDone

	stdout := ""
	if rc, logErr := c.Logs(context.Background()); logErr == nil {
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		stdout = string(b)
	}

	return &Result{
		ExitCode:        exitCode,
		StdoutMerged:    stdout,
		PeakMemoryBytes: peak,
		TimedOut:        timedOut,
		StartedAt:       started,
		FinishedAt:      time.Now(),
	}, nil
}

// waitForExit polls the container's running state until it stops or ctx is
// done. testcontainers-go does not expose a generic "wait for exit code"
// strategy usable post-start for an arbitrary one-shot command, so this
// polls IsRunning at a short interval, matching the poll-based approach the
// stats sampler below also uses.
func waitForExit(ctx context.Context, c testcontainers.Container) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			running, err := c.IsRunning(), error(nil)
			if err != nil {
				return err
			}
			if !running {
				return nil
			}
		}
	}
}

// pollPeakMemory samples the container's memory usage at >=2Hz via the
// Docker stats API, tracking the maximum observation until ctx is done.
// Samples that fail are skipped; it returns nil, not zero, if the Docker
// client cannot be constructed or no sample succeeded: "unavailable" and
// "0 bytes" are different facts.
func (r *DockerRunner) pollPeakMemory(ctx context.Context, containerID string) *int64 {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil
	}
	defer cli.Close()

	var peak int64
	have := false

	ticker := time.NewTicker(r.statsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if !have {
				return nil
			}
			return &peak
		case <-ticker.C:
			usage, ok := sampleOnce(ctx, cli, containerID)
			if !ok {
				continue
			}
			have = true
			if usage > peak {
				peak = usage
			}
		}
	}
}
