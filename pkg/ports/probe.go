package ports

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const probeTimeout = 2 * time.Second

// Probe answers which process occupies a TCP port and can force-terminate
// an occupant. Queries shell out to lsof; there is no portable syscall for
// "who owns this port".
type Probe struct{}

// NewProbe creates a port probe.
func NewProbe() *Probe {
	return &Probe{}
}

// Occupant returns the pid of the process listening on port, if any.
func (p *Probe) Occupant(port int) (int, bool) {
	if port <= 0 {
		return 0, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	// -t prints bare pids, one per line
	cmd := exec.CommandContext(ctx, "lsof", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-t")
	output, err := cmd.Output()
	if err != nil {
		// lsof exits non-zero when nothing matches
		return 0, false
	}
	return parseFirstPID(string(output))
}

// Kill sends SIGKILL to the process group of pid, falling back to the pid
// itself. A nil return means the signal was issued, not that the process
// has exited.
func (p *Probe) Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to send SIGKILL to %d: %w", pid, err)
		}
	}
	return nil
}

// parseFirstPID extracts the first pid from lsof -t output.
func parseFirstPID(output string) (int, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		if pid > 0 {
			return pid, true
		}
	}
	return 0, false
}
