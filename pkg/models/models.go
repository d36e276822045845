package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxLogLines bounds the raw log ring buffer when a definition
// does not set its own limit.
const DefaultMaxLogLines = 1000

// LogKind classifies a captured output line.
type LogKind string

const (
	LogKindError   LogKind = "error"
	LogKindWarning LogKind = "warning"
)

// Phase is the supervisor state machine phase.
type Phase string

const (
	PhaseStopped         Phase = "stopped"
	PhaseStarting        Phase = "starting"
	PhaseRunning         Phase = "running"
	PhaseStopping        Phase = "stopping"
	PhaseRestarting      Phase = "restarting"
	PhaseKillingConflict Phase = "killing-conflict"
)

// PrerequisiteStep is a setup command executed before the service command.
// Steps run in order; a required step that fails aborts the start.
type PrerequisiteStep struct {
	Command    string `json:"command"`
	DelaySecs  int    `json:"delay"`
	IsRequired bool   `json:"isRequired"`
}

// ServiceDefinition is the immutable configuration for one managed service.
// Edits replace the definition wholesale; the supervisor is rebuilt from it.
type ServiceDefinition struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Command          string             `json:"command"`
	WorkingDirectory string             `json:"workingDirectory"`
	Port             int                `json:"port,omitempty"`
	Environment      map[string]string  `json:"environment,omitempty"`
	Prerequisites    []PrerequisiteStep `json:"prerequisites,omitempty"`
	CheckCommand     string             `json:"checkCommand,omitempty"`
	StopCommand      string             `json:"stopCommand,omitempty"`
	RestartCommand   string             `json:"restartCommand,omitempty"`
	MaxLogLines      int                `json:"maxLogLines,omitempty"`
}

// NewServiceDefinition builds a definition with a fresh id.
func NewServiceDefinition(name, workingDirectory, command string) *ServiceDefinition {
	return &ServiceDefinition{
		ID:               uuid.NewString(),
		Name:             name,
		Command:          command,
		WorkingDirectory: workingDirectory,
	}
}

// EffectiveMaxLogLines returns the configured ring-buffer bound or the default.
func (d *ServiceDefinition) EffectiveMaxLogLines() int {
	if d.MaxLogLines > 0 {
		return d.MaxLogLines
	}
	return DefaultMaxLogLines
}

// HasLivenessSignal reports whether status reconciliation can do anything
// for this definition. Without a check command or a port there is no way
// to verify liveness beyond direct process ownership.
func (d *ServiceDefinition) HasLivenessSignal() bool {
	return d.CheckCommand != "" || d.Port > 0
}

// LogEntry is one classified unit of service output.
type LogEntry struct {
	Message    string    `json:"message"`
	LineNumber int       `json:"lineNumber"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       LogKind   `json:"kind"`
	StackTrace []string  `json:"stackTrace,omitempty"`
}

// ServiceSnapshot is the published, read-only view of a supervisor's
// runtime state. Mutation happens only inside the supervisor; readers
// always get a consistent copy.
type ServiceSnapshot struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Phase               Phase      `json:"phase"`
	IsRunning           bool       `json:"isRunning"`
	IsExternallyManaged bool       `json:"isExternallyManaged"`
	HasPortConflict     bool       `json:"hasPortConflict"`
	ConflictPID         int        `json:"conflictPid,omitempty"`
	PID                 int        `json:"pid,omitempty"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	StoppedAt           *time.Time `json:"stoppedAt,omitempty"`
	VisibleLog          string     `json:"-"`
	Errors              []LogEntry `json:"errors,omitempty"`
	Warnings            []LogEntry `json:"warnings,omitempty"`
}

// ImportSummary reports the outcome of a definition import.
type ImportSummary struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
}
