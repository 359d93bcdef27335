package sandbox

import (
	"context"
	"time"
)

// FakeRunner is an in-memory Runner for orchestrator and worker tests: no
// Docker daemon required. Each call pops the next scripted Result/error pair
// (or the last one, if there are fewer scripts than calls), recording the
// arguments it was invoked with.
type FakeRunner struct {
	Results []*Result
	Errs    []error
	Calls   []FakeCall
}

// FakeCall records one invocation of FakeRunner.Run.
type FakeCall struct {
	Image            string
	HostDir          string
	ContainerWorkdir string
	Argv             []string
	Limits           Limits
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, image, hostDir, containerWorkdir string, argv []string, limits Limits) (*Result, error) {
	idx := len(f.Calls)
	f.Calls = append(f.Calls, FakeCall{Image: image, HostDir: hostDir, ContainerWorkdir: containerWorkdir, Argv: argv, Limits: limits})

	var result *Result
	if idx < len(f.Results) {
		result = f.Results[idx]
	} else if len(f.Results) > 0 {
		result = f.Results[len(f.Results)-1]
	} else {
		result = &Result{StartedAt: time.Now(), FinishedAt: time.Now()}
	}

	var err error
	if idx < len(f.Errs) {
		err = f.Errs[idx]
	} else if len(f.Errs) > 0 {
		err = f.Errs[len(f.Errs)-1]
	}
	return result, err
}
