package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/localserve/devsup/pkg/logger"
	"github.com/localserve/devsup/pkg/logs"
	"github.com/localserve/devsup/pkg/models"
	"github.com/localserve/devsup/pkg/prereq"
)

const (
	// stopGrace is how long a terminated child gets before SIGKILL.
	stopGrace = 500 * time.Millisecond
	// settleDelay separates a stop (or conflict kill) from the next start.
	settleDelay = 750 * time.Millisecond
	// overrideTimeout bounds check/stop/restart override commands.
	overrideTimeout = 10 * time.Second
)

// PortProbe answers port-occupancy questions and can terminate occupants.
type PortProbe interface {
	Occupant(port int) (int, bool)
	Kill(pid int) error
}

// PrereqRunner executes the ordered prerequisite steps for a start attempt.
type PrereqRunner interface {
	Run(ctx context.Context, steps []models.PrerequisiteStep, dir string, env []string, sink func(string)) error
}

// Supervisor owns the full lifecycle of one service: prerequisites, port
// checks, spawn, log capture, termination handling and reconciliation of
// externally managed processes. All observable state is mutated only by
// the supervisor's own sequenced operations; failures become log lines,
// never panics or errors escaping to callers.
type Supervisor struct {
	def     *models.ServiceDefinition
	probe   PortProbe
	prereqs PrereqRunner
	buf     *logs.Buffer

	mu              sync.Mutex
	phase           models.Phase
	external        bool
	portConflict    bool
	conflictPID     int
	cmd             *exec.Cmd
	pid             int
	startedAt       time.Time
	stoppedAt       time.Time
	runID           int
	intentionalStop bool
	startCancel     context.CancelFunc

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// New builds a supervisor for a definition. Runtime state starts at
// Stopped; nothing is spawned until Start.
func New(def *models.ServiceDefinition, probe PortProbe, prereqs PrereqRunner) *Supervisor {
	s := &Supervisor{
		def:     def,
		probe:   probe,
		prereqs: prereqs,
		buf:     logs.NewBuffer(def.EffectiveMaxLogLines()),
		phase:   models.PhaseStopped,
		subs:    make(map[chan struct{}]struct{}),
	}
	s.buf.SetOnPublish(s.notify)
	return s
}

// Definition returns the definition this supervisor was built from.
func (s *Supervisor) Definition() *models.ServiceDefinition {
	return s.def
}

// Start begins a start attempt. No-op unless the phase is Stopped.
// Prerequisites, the port check and the spawn all run in the background;
// outcomes surface through the snapshot and the service log.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.phase != models.PhaseStopped {
		s.mu.Unlock()
		return
	}
	s.phase = models.PhaseStarting
	s.intentionalStop = false
	s.external = false
	s.portConflict = false
	s.conflictPID = 0
	s.runID++
	runID := s.runID
	ctx, cancel := context.WithCancel(context.Background())
	s.startCancel = cancel
	s.buf.Reset()
	s.mu.Unlock()
	s.notify()

	go s.runStart(ctx, runID)
}

func (s *Supervisor) runStart(ctx context.Context, runID int) {
	def := s.def
	env := mergedEnv(def)

	if len(def.Prerequisites) > 0 {
		err := s.prereqs.Run(ctx, def.Prerequisites, def.WorkingDirectory, env, s.record)
		if err != nil {
			if errors.Is(err, prereq.ErrRequiredStepFailed) {
				s.record(fmt.Sprintf("start aborted: %v", err))
			}
			s.abortStart(runID)
			return
		}
	}

	if ctx.Err() != nil {
		s.abortStart(runID)
		return
	}

	if def.Port > 0 {
		if pid, occupied := s.probe.Occupant(def.Port); occupied {
			s.mu.Lock()
			if s.runID == runID {
				s.portConflict = true
				s.conflictPID = pid
				s.phase = models.PhaseStopped
			}
			s.mu.Unlock()
			s.record(fmt.Sprintf("port %d is already in use by pid %d; kill-and-restart to reclaim it", def.Port, pid))
			s.notify()
			return
		}
	}

	if ctx.Err() != nil {
		s.abortStart(runID)
		return
	}

	cmd := exec.Command("sh", "-c", def.Command)
	cmd.Dir = def.WorkingDirectory
	cmd.Env = env
	// Process group so stop can take down the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.record(fmt.Sprintf("failed to capture stdout: %v", err))
		s.abortStart(runID)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.record(fmt.Sprintf("failed to capture stderr: %v", err))
		s.abortStart(runID)
		return
	}

	if err := cmd.Start(); err != nil {
		s.record(fmt.Sprintf("failed to start %q: %v", def.Command, err))
		s.abortStart(runID)
		return
	}

	s.buf.Start()
	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(stdout, &pumps)
	go s.pump(stderr, &pumps)

	s.mu.Lock()
	if s.runID != runID || ctx.Err() != nil {
		// Stop arrived between spawn and here; take the child back down
		// and settle this run's phase so a later Start is possible.
		if s.runID == runID && s.phase == models.PhaseStarting {
			s.phase = models.PhaseStopped
			s.stoppedAt = time.Now()
		}
		s.mu.Unlock()
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		go func() {
			pumps.Wait()
			_ = cmd.Wait()
			s.buf.Stop()
		}()
		s.notify()
		return
	}
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.phase = models.PhaseRunning
	s.startedAt = time.Now()
	s.stoppedAt = time.Time{}
	s.mu.Unlock()
	logger.Debug("service started", "name", def.Name, "pid", cmd.Process.Pid)
	s.notify()

	go s.observeExit(runID, cmd, &pumps)
}

// abortStart returns the supervisor to Stopped after a failed or
// cancelled start attempt.
func (s *Supervisor) abortStart(runID int) {
	s.mu.Lock()
	if s.runID == runID && s.phase == models.PhaseStarting {
		s.phase = models.PhaseStopped
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Supervisor) pump(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.buf.Append(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// observeExit waits for the child to terminate, forces the final log
// flush, and reconciles the resulting state.
func (s *Supervisor) observeExit(runID int, cmd *exec.Cmd, pumps *sync.WaitGroup) {
	pumps.Wait()
	err := cmd.Wait()
	s.buf.Stop()

	s.mu.Lock()
	if s.runID != runID {
		s.mu.Unlock()
		return
	}
	intentional := s.intentionalStop
	s.cmd = nil
	s.pid = 0
	s.stoppedAt = time.Now()
	s.mu.Unlock()

	if !intentional {
		if err != nil {
			s.record(fmt.Sprintf("process exited: %v", err))
		} else {
			s.record("process exited")
		}
	}

	if s.buf.SawAddrInUse() && s.def.Port > 0 {
		if pid, occupied := s.probe.Occupant(s.def.Port); occupied {
			s.mu.Lock()
			s.portConflict = true
			s.conflictPID = pid
			s.mu.Unlock()
			s.record(fmt.Sprintf("port %d is held by pid %d; kill-and-restart to reclaim it", s.def.Port, pid))
		}
	}

	if intentional {
		s.notify()
		return
	}

	// Some launch commands are fire-and-forget wrappers around a process
	// that keeps running under a different parent. When a liveness signal
	// is configured, reconcile instead of assuming Stopped.
	if s.def.HasLivenessSignal() {
		s.ReconcileStatus()
		return
	}

	s.mu.Lock()
	if s.runID == runID {
		s.phase = models.PhaseStopped
	}
	s.mu.Unlock()
	s.notify()
}

// Stop terminates the service. Resolution order: stop-command override,
// then owned-process terminate with a grace period, then killing the port
// occupant of an externally managed service. The phase flips to Stopped
// immediately; the resolution itself runs off the caller's thread as
// fire-and-forget cleanup.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	switch s.phase {
	case models.PhaseStarting:
		// Cancel the in-flight start; no further steps or spawn happen.
		if s.startCancel != nil {
			s.startCancel()
		}
		s.intentionalStop = true
		s.mu.Unlock()
		s.notify()
		return
	case models.PhaseRunning:
	default:
		s.mu.Unlock()
		return
	}

	s.phase = models.PhaseStopping
	s.intentionalStop = true
	cmd := s.cmd
	external := s.external
	s.mu.Unlock()
	s.notify()

	go s.resolveStop(cmd, external)

	s.mu.Lock()
	s.phase = models.PhaseStopped
	s.external = false
	s.stoppedAt = time.Now()
	s.mu.Unlock()
	s.notify()
}

// resolveStop carries out the termination itself: override command, owned
// process group, or external port occupant. Outcomes land in the service
// log, never with the caller.
func (s *Supervisor) resolveStop(cmd *exec.Cmd, external bool) {
	def := s.def
	switch {
	case def.StopCommand != "":
		s.runOverride("stop", def.StopCommand)

	case cmd != nil && cmd.Process != nil:
		pid := cmd.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		time.Sleep(stopGrace)
		if processAlive(pid) {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}

	case external && def.Port > 0:
		if pid, occupied := s.probe.Occupant(def.Port); occupied {
			if err := s.probe.Kill(pid); err != nil {
				s.record(fmt.Sprintf("failed to stop external process %d: %v", pid, err))
			}
		}
		s.mu.Lock()
		s.portConflict = false
		s.conflictPID = 0
		s.mu.Unlock()
		s.notify()

	default:
		s.record("no way to stop this service: no owned process, no stop command, no port")
	}
}

// Restart runs the restart-command override in place when configured;
// otherwise it is stop followed by start after a settle delay.
func (s *Supervisor) Restart() {
	if s.def.RestartCommand != "" {
		s.mu.Lock()
		if s.phase != models.PhaseRunning {
			s.mu.Unlock()
			return
		}
		s.phase = models.PhaseRestarting
		s.mu.Unlock()
		s.notify()

		go func() {
			s.runOverride("restart", s.def.RestartCommand)

			s.mu.Lock()
			if s.phase == models.PhaseRestarting {
				s.phase = models.PhaseRunning
			}
			s.mu.Unlock()
			s.notify()
		}()
		return
	}

	s.Stop()
	go func() {
		time.Sleep(settleDelay)
		s.Start()
	}()
}

// KillConflict force-kills the process occupying the configured port and,
// if the kill was issued, re-invokes Start after a settle delay. On kill
// failure the conflict state is left intact.
func (s *Supervisor) KillConflict() {
	s.mu.Lock()
	if !s.portConflict || s.conflictPID <= 0 {
		s.mu.Unlock()
		return
	}
	if s.phase != models.PhaseStopped {
		s.mu.Unlock()
		return
	}
	s.phase = models.PhaseKillingConflict
	pid := s.conflictPID
	s.mu.Unlock()
	s.notify()

	go func() {
		err := s.probe.Kill(pid)
		s.mu.Lock()
		if err != nil {
			s.phase = models.PhaseStopped
			s.mu.Unlock()
			s.record(fmt.Sprintf("failed to kill conflicting pid %d: %v", pid, err))
			s.notify()
			return
		}
		s.portConflict = false
		s.conflictPID = 0
		s.phase = models.PhaseStopped
		s.mu.Unlock()
		s.record(fmt.Sprintf("killed conflicting pid %d", pid))
		s.notify()

		time.Sleep(settleDelay)
		s.Start()
	}()
}

// CheckStatus reconciles the running state against reality in the
// background. The outcome surfaces through the snapshot and change
// notifications.
func (s *Supervisor) CheckStatus() {
	go s.ReconcileStatus()
}

// ReconcileStatus is the synchronous form of CheckStatus, for callers that
// read the snapshot right after reconciling (bulk checks, CLI commands).
// A configured check command (exit 0 means alive) wins over a port probe.
// A service found alive without an owned process is marked externally
// managed. With neither signal configured this is a no-op.
func (s *Supervisor) ReconcileStatus() {
	def := s.def
	switch {
	case def.CheckCommand != "":
		s.applyLiveness(s.runCheckCommand(def.CheckCommand))
	case def.Port > 0:
		_, occupied := s.probe.Occupant(def.Port)
		s.applyLiveness(occupied)
	}
}

func (s *Supervisor) applyLiveness(alive bool) {
	s.mu.Lock()
	owned := s.cmd != nil
	if alive {
		s.external = !owned
		s.phase = models.PhaseRunning
	} else {
		s.external = false
		if !owned {
			s.phase = models.PhaseStopped
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Supervisor) runCheckCommand(command string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), overrideTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.def.WorkingDirectory
	cmd.Env = mergedEnv(s.def)
	return cmd.Run() == nil
}

// runOverride executes a stop/restart override command, folding its
// output and any failure into the service log.
func (s *Supervisor) runOverride(kind, command string) {
	ctx, cancel := context.WithTimeout(context.Background(), overrideTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.def.WorkingDirectory
	cmd.Env = mergedEnv(s.def)

	out, err := cmd.CombinedOutput()
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			s.record(fmt.Sprintf("[%s] %s", kind, line))
		}
	}
	if err != nil {
		s.record(fmt.Sprintf("%s command failed: %v", kind, err))
	}
}

// record appends a supervisor message to the service's own log stream.
// Failures are data here, not errors propagated to callers.
func (s *Supervisor) record(line string) {
	s.buf.AppendLine("[devsup] " + line)
}

// Snapshot publishes a consistent copy of the observable state.
func (s *Supervisor) Snapshot() models.ServiceSnapshot {
	s.mu.Lock()
	snap := models.ServiceSnapshot{
		ID:                  s.def.ID,
		Name:                s.def.Name,
		Phase:               s.phase,
		IsRunning:           s.phase == models.PhaseRunning,
		IsExternallyManaged: s.external,
		HasPortConflict:     s.portConflict,
		ConflictPID:         s.conflictPID,
		PID:                 s.pid,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		snap.StoppedAt = &t
	}
	s.mu.Unlock()

	snap.VisibleLog = s.buf.VisibleLog()
	snap.Errors = s.buf.Errors()
	snap.Warnings = s.buf.Warnings()
	return snap
}

// Subscribe returns a channel that receives a signal whenever observable
// state may have changed, plus a cancel func. Signals are coalesced.
func (s *Supervisor) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Supervisor) notify() {
	s.subMu.Lock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}

// Dispose tears the supervisor down when its definition is replaced or
// removed. An owned child is killed; an externally managed service is
// left alone.
func (s *Supervisor) Dispose() {
	s.mu.Lock()
	s.runID++
	s.intentionalStop = true
	if s.startCancel != nil {
		s.startCancel()
	}
	cmd := s.cmd
	s.cmd = nil
	s.pid = 0
	s.phase = models.PhaseStopped
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	s.buf.Stop()
}

// processAlive reports whether pid responds to signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
