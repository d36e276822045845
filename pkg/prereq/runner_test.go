package prereq

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localserve/devsup/pkg/models"
)

// lineSink collects sink output safely across goroutines.
type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *lineSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *lineSink) contains(substr string) bool {
	for _, line := range s.all() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestRunStepsInOrder(t *testing.T) {
	t.Parallel()

	sink := &lineSink{}
	r := NewRunner()
	err := r.Run(context.Background(), []models.PrerequisiteStep{
		{Command: "echo alpha", IsRequired: true},
		{Command: "echo beta"},
	}, t.TempDir(), os.Environ(), sink.add)
	require.NoError(t, err)

	lines := sink.all()
	require.Len(t, lines, 4)
	assert.Equal(t, "[prereq 1/2] echo alpha", lines[0])
	assert.Equal(t, "alpha", lines[1])
	assert.Equal(t, "[prereq 2/2] echo beta", lines[2])
	assert.Equal(t, "beta", lines[3])
}

func TestRunRequiredFailureShortCircuits(t *testing.T) {
	t.Parallel()

	sink := &lineSink{}
	r := NewRunner()
	err := r.Run(context.Background(), []models.PrerequisiteStep{
		{Command: "false", IsRequired: true},
		{Command: "echo never", IsRequired: true},
	}, t.TempDir(), os.Environ(), sink.add)

	require.ErrorIs(t, err, ErrRequiredStepFailed)
	assert.False(t, sink.contains("never"))
}

func TestRunOptionalFailureContinues(t *testing.T) {
	t.Parallel()

	sink := &lineSink{}
	r := NewRunner()
	err := r.Run(context.Background(), []models.PrerequisiteStep{
		{Command: "false"},
		{Command: "echo survived", IsRequired: true},
	}, t.TempDir(), os.Environ(), sink.add)

	require.NoError(t, err)
	assert.True(t, sink.contains("optional step failed"))
	assert.True(t, sink.contains("survived"))
}

func TestRunStreamsStderr(t *testing.T) {
	t.Parallel()

	sink := &lineSink{}
	r := NewRunner()
	err := r.Run(context.Background(), []models.PrerequisiteStep{
		{Command: "echo oops 1>&2"},
	}, t.TempDir(), os.Environ(), sink.add)

	require.NoError(t, err)
	assert.True(t, sink.contains("oops"))
}

func TestRunCancelledBeforeSteps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &lineSink{}
	r := NewRunner()
	err := r.Run(ctx, []models.PrerequisiteStep{
		{Command: "echo never"},
	}, t.TempDir(), os.Environ(), sink.add)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.all())
}

func TestRunCancelDuringDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := NewRunner()
	start := time.Now()
	err := r.Run(ctx, []models.PrerequisiteStep{
		{Command: "true", DelaySecs: 30},
	}, t.TempDir(), os.Environ(), nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunNilSinkTolerated(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	err := r.Run(context.Background(), []models.PrerequisiteStep{
		{Command: "echo quiet"},
	}, t.TempDir(), os.Environ(), nil)
	require.NoError(t, err)
}

func TestRunEmptySteps(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	require.NoError(t, r.Run(context.Background(), nil, t.TempDir(), os.Environ(), nil))
}
