package prereq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/localserve/devsup/pkg/models"
)

// ErrRequiredStepFailed is returned when a required step exits non-zero.
// Callers distinguish it from generic start failures so the abort can be
// reported precisely.
var ErrRequiredStepFailed = errors.New("required prerequisite failed")

// Runner executes an ordered list of prerequisite steps before a service
// starts. Required failures short-circuit the sequence; optional failures
// are reported and tolerated.
type Runner struct{}

// NewRunner creates a prerequisite runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes steps in order in the given working directory and
// environment. Each step's combined stdout/stderr is delivered line by
// line to sink as it is produced. Cancelling ctx abandons any remaining
// steps and pending delays.
func (r *Runner) Run(ctx context.Context, steps []models.PrerequisiteStep, dir string, env []string, sink func(line string)) error {
	if sink == nil {
		sink = func(string) {}
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		sink(fmt.Sprintf("[prereq %d/%d] %s", i+1, len(steps), step.Command))
		err := r.runStep(ctx, step.Command, dir, env, sink)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if step.IsRequired {
				sink(fmt.Sprintf("[prereq %d/%d] required step failed: %v", i+1, len(steps), err))
				return fmt.Errorf("%w: %q: %v", ErrRequiredStepFailed, step.Command, err)
			}
			sink(fmt.Sprintf("[prereq %d/%d] optional step failed, continuing: %v", i+1, len(steps), err))
		}

		if step.DelaySecs > 0 {
			select {
			case <-time.After(time.Duration(step.DelaySecs) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// runStep runs one command through the shell, streaming combined output.
func (r *Runner) runStep(ctx context.Context, command, dir string, env []string, sink func(string)) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			sink(scanner.Text())
		}
	}()

	if err := cmd.Start(); err != nil {
		pw.Close()
		wg.Wait()
		return err
	}

	err := cmd.Wait()
	pw.Close()
	wg.Wait()
	return err
}
