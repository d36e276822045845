package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/localserve/devsup/pkg/models"
	"github.com/localserve/devsup/pkg/supervisor"
)

// Registry owns one supervisor per service definition and the definitions'
// persistence round-trip. Replacing a definition rebuilds its supervisor;
// prior runtime state is discarded.
type Registry struct {
	filePath string
	probe    supervisor.PortProbe
	prereqs  supervisor.PrereqRunner

	mu   sync.RWMutex
	sups map[string]*supervisor.Supervisor // keyed by service name
}

// NewRegistry creates a registry persisting to filePath.
func NewRegistry(filePath string, probe supervisor.PortProbe, prereqs supervisor.PrereqRunner) *Registry {
	return &Registry{
		filePath: filePath,
		probe:    probe,
		prereqs:  prereqs,
		sups:     make(map[string]*supervisor.Supervisor),
	}
}

// Load reads the definition file and builds supervisors. A missing file
// is an empty registry, not an error.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	content, err := os.ReadFile(r.filePath)
	if os.IsNotExist(err) {
		r.sups = make(map[string]*supervisor.Supervisor)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read registry file: %w", err)
	}

	var defs []*models.ServiceDefinition
	if err := json.Unmarshal(content, &defs); err != nil {
		return fmt.Errorf("failed to parse registry: %w", err)
	}

	r.sups = make(map[string]*supervisor.Supervisor, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		r.sups[def.Name] = supervisor.New(def, r.probe, r.prereqs)
	}
	return nil
}

// Save writes all definitions to disk.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.save()
}

// Add registers a new service. The name must be unused.
func (r *Registry) Add(def *models.ServiceDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sups[def.Name]; exists {
		return fmt.Errorf("service %q already exists", def.Name)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	r.sups[def.Name] = supervisor.New(def, r.probe, r.prereqs)
	return r.save()
}

// Replace swaps in a new definition for an existing service and rebuilds
// its supervisor. The service id is stable across edits.
func (r *Registry) Replace(def *models.ServiceDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.sups[def.Name]
	if !exists {
		return fmt.Errorf("service %q not found", def.Name)
	}
	if def.ID == "" {
		def.ID = old.Definition().ID
	}
	old.Dispose()
	r.sups[def.Name] = supervisor.New(def, r.probe, r.prereqs)
	return r.save()
}

// Remove deletes a service, disposing its supervisor.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sup, exists := r.sups[name]
	if !exists {
		return fmt.Errorf("service %q not found", name)
	}
	sup.Dispose()
	delete(r.sups, name)
	return r.save()
}

// Get returns the supervisor for a service name, or nil.
func (r *Registry) Get(name string) *supervisor.Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sups[name]
}

// List returns all supervisors sorted by service name.
func (r *Registry) List() []*supervisor.Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*supervisor.Supervisor, 0, len(r.sups))
	for _, sup := range r.sups {
		out = append(out, sup)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition().Name < out[j].Definition().Name
	})
	return out
}

// CheckAll reconciles status concurrently across every service that has a
// liveness signal. Services with neither check command nor port are
// skipped; reconciliation would be a no-op for them.
func (r *Registry) CheckAll() {
	var wg sync.WaitGroup
	for _, sup := range r.List() {
		if !sup.Definition().HasLivenessSignal() {
			continue
		}
		wg.Add(1)
		go func(s *supervisor.Supervisor) {
			defer wg.Done()
			s.ReconcileStatus()
		}(sup)
	}
	wg.Wait()
}

// Import upserts definitions from a JSON array. A definition whose name
// matches an existing service replaces it (keeping the existing id when
// the incoming one is empty); otherwise it is added.
func (r *Registry) Import(reader io.Reader) (models.ImportSummary, error) {
	var summary models.ImportSummary

	var defs []*models.ServiceDefinition
	if err := json.NewDecoder(reader).Decode(&defs); err != nil {
		return summary, fmt.Errorf("failed to parse import: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		if old, exists := r.sups[def.Name]; exists {
			if def.ID == "" {
				def.ID = old.Definition().ID
			}
			old.Dispose()
			r.sups[def.Name] = supervisor.New(def, r.probe, r.prereqs)
			summary.Updated++
		} else {
			if def.ID == "" {
				def.ID = uuid.NewString()
			}
			r.sups[def.Name] = supervisor.New(def, r.probe, r.prereqs)
			summary.New++
		}
	}

	if err := r.save(); err != nil {
		return summary, err
	}
	return summary, nil
}

// Export writes all definitions as pretty-printed JSON with sorted keys
// and unescaped slashes.
func (r *Registry) Export(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	content, err := r.marshalDefinitions()
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}

// save writes the registry without taking locks.
func (r *Registry) save() error {
	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	content, err := r.marshalDefinitions()
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.filePath, content, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func (r *Registry) marshalDefinitions() ([]byte, error) {
	defs := make([]*models.ServiceDefinition, 0, len(r.sups))
	for _, sup := range r.sups {
		defs = append(defs, sup.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	// Round-trip through generic maps so the encoder sorts object keys.
	raw, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registry: %w", err)
	}
	var generic []map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to marshal registry: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to marshal registry: %w", err)
	}
	return buf.Bytes(), nil
}
