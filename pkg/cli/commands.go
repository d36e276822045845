package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/localserve/devsup/pkg/api"
	"github.com/localserve/devsup/pkg/logger"
	"github.com/localserve/devsup/pkg/models"
	"github.com/localserve/devsup/pkg/supervisor"
)

// startWait bounds how long foreground commands wait for a start attempt
// to settle before reporting.
const startWait = 30 * time.Second

// ListCmd handles the 'ls' command
func (a *App) ListCmd(detailed bool) error {
	sups := a.registry.List()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if detailed {
		fmt.Fprintln(w, "Name\tPort\tPID\tPhase\tExternal\tConflict\tCommand")
	} else {
		fmt.Fprintln(w, "Name\tPort\tPID\tPhase")
	}
	for _, sup := range sups {
		def := sup.Definition()
		snap := sup.Snapshot()

		port := "-"
		if def.Port > 0 {
			port = fmt.Sprintf("%d", def.Port)
		}
		pid := "-"
		if snap.PID > 0 {
			pid = fmt.Sprintf("%d", snap.PID)
		}
		if detailed {
			conflict := "-"
			if snap.HasPortConflict {
				conflict = fmt.Sprintf("pid %d", snap.ConflictPID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
				def.Name, port, pid, snap.Phase, snap.IsExternallyManaged, conflict, def.Command)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, port, pid, snap.Phase)
		}
	}
	return w.Flush()
}

// AddCmd registers a new service definition
func (a *App) AddCmd(name, cwd, command string, port int) error {
	def := models.NewServiceDefinition(name, cwd, command)
	def.Port = port

	if err := a.registry.Add(def); err != nil {
		return err
	}
	fmt.Printf("Service %q registered\n", name)
	return nil
}

// RemoveCmd removes a service definition
func (a *App) RemoveCmd(name string) error {
	if err := a.registry.Remove(name); err != nil {
		return err
	}
	fmt.Printf("Service %q removed\n", name)
	return nil
}

// StartCmd starts a service and waits for the attempt to settle
func (a *App) StartCmd(name string) error {
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}

	fmt.Printf("Starting service %q...\n", name)
	sup.Start()
	snap := waitForSettle(sup, startWait)

	switch {
	case snap.HasPortConflict:
		fmt.Printf("Service %q not started: port conflict with pid %d (use kill-conflict)\n", name, snap.ConflictPID)
	case snap.IsRunning:
		fmt.Printf("Service %q started with PID %d\n", name, snap.PID)
	default:
		fmt.Printf("Service %q did not start; recent log:\n%s\n", name, tail(snap.VisibleLog, 12))
	}
	return nil
}

// StopCmd stops a service
func (a *App) StopCmd(name string) error {
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}
	sup.Stop()
	fmt.Printf("Service %q stopped\n", name)
	return nil
}

// RestartCmd restarts a service
func (a *App) RestartCmd(name string) error {
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}
	sup.Restart()
	fmt.Printf("Restart requested for %q\n", name)
	return nil
}

// KillConflictCmd force-kills the process occupying a service's port
func (a *App) KillConflictCmd(name string) error {
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}
	snap := sup.Snapshot()
	if !snap.HasPortConflict {
		fmt.Printf("Service %q has no recorded port conflict\n", name)
		return nil
	}
	sup.KillConflict()
	fmt.Printf("Killing pid %d and restarting %q...\n", snap.ConflictPID, name)
	return nil
}

// StatusCmd prints the observable state of a service
func (a *App) StatusCmd(name string) error {
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}
	snap := sup.Snapshot()

	fmt.Printf("Name:               %s\n", snap.Name)
	fmt.Printf("Phase:              %s\n", snap.Phase)
	fmt.Printf("Running:            %t\n", snap.IsRunning)
	fmt.Printf("Externally managed: %t\n", snap.IsExternallyManaged)
	if snap.PID > 0 {
		fmt.Printf("PID:                %d\n", snap.PID)
	}
	if snap.HasPortConflict {
		fmt.Printf("Port conflict:      pid %d\n", snap.ConflictPID)
	}
	if snap.StartedAt != nil && snap.IsRunning {
		fmt.Printf("Uptime:             %s\n", time.Since(*snap.StartedAt).Round(time.Second))
	}
	fmt.Printf("Errors:             %d\n", len(snap.Errors))
	fmt.Printf("Warnings:           %d\n", len(snap.Warnings))
	return nil
}

// CheckCmd reconciles status for one service or all of them
func (a *App) CheckCmd(name string) error {
	if name == "" {
		a.registry.CheckAll()
		return a.ListCmd(false)
	}
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}
	sup.ReconcileStatus()
	return a.StatusCmd(name)
}

// LogsCmd prints the tail of a service's visible log
func (a *App) LogsCmd(name string, lines int) error {
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}
	out := tail(sup.Snapshot().VisibleLog, lines)
	if out == "" {
		fmt.Println("(no logs this run)")
		return nil
	}
	fmt.Println(out)
	return nil
}

// ErrorsCmd prints the classified error and warning entries for a service
func (a *App) ErrorsCmd(name string) error {
	sup := a.registry.Get(name)
	if sup == nil {
		return fmt.Errorf("service %q not found", name)
	}
	snap := sup.Snapshot()
	if len(snap.Errors) == 0 && len(snap.Warnings) == 0 {
		fmt.Println("(no classified entries this run)")
		return nil
	}

	for _, e := range snap.Errors {
		fmt.Printf("[error] line %d %s: %s\n", e.LineNumber, e.Timestamp.Format("15:04:05"), e.Message)
		for _, frame := range e.StackTrace {
			fmt.Printf("    %s\n", frame)
		}
	}
	for _, e := range snap.Warnings {
		fmt.Printf("[warn]  line %d %s: %s\n", e.LineNumber, e.Timestamp.Format("15:04:05"), e.Message)
	}
	return nil
}

// ImportCmd upserts definitions from a JSON file
func (a *App) ImportCmd(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	summary, err := a.registry.Import(f)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d new, %d updated\n", summary.New, summary.Updated)
	return nil
}

// ExportCmd writes all definitions as JSON to path, or stdout when empty
func (a *App) ExportCmd(path string) error {
	if path == "" {
		return a.registry.Export(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()
	return a.registry.Export(f)
}

// ServeCmd runs the HTTP control API until the process is interrupted
func (a *App) ServeCmd(addr string) error {
	logger.Info("serving control API", "addr", addr)
	return http.ListenAndServe(addr, api.NewRouter(a.registry))
}

// waitForSettle polls until the supervisor leaves the Starting phase.
func waitForSettle(sup *supervisor.Supervisor, timeout time.Duration) models.ServiceSnapshot {
	changes, cancel := sup.Subscribe()
	defer cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		snap := sup.Snapshot()
		if snap.Phase != models.PhaseStarting {
			return snap
		}
		select {
		case <-changes:
		case <-deadline.C:
			return sup.Snapshot()
		}
	}
}

func tail(text string, lines int) string {
	if text == "" || lines <= 0 {
		return ""
	}
	split := strings.Split(text, "\n")
	if len(split) > lines {
		split = split[len(split)-lines:]
	}
	return strings.Join(split, "\n")
}
