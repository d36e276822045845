package registry

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localserve/devsup/pkg/models"
)

type stubProbe struct{}

func (stubProbe) Occupant(port int) (int, bool) { return 0, false }
func (stubProbe) Kill(pid int) error            { return nil }

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, steps []models.PrerequisiteStep, dir string, env []string, sink func(string)) error {
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.json")
	r := NewRegistry(path, stubProbe{}, stubRunner{})
	require.NoError(t, r.Load())
	return r
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	assert.Empty(t, r.List())
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	def := models.NewServiceDefinition("web", "/tmp", "npm run dev")
	require.NoError(t, r.Add(def))

	sup := r.Get("web")
	require.NotNil(t, sup)
	assert.Equal(t, "npm run dev", sup.Definition().Command)
	assert.NotEmpty(t, sup.Definition().ID)
}

func TestAddDuplicateNameRejected(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	require.NoError(t, r.Add(models.NewServiceDefinition("web", "/tmp", "a")))
	err := r.Add(models.NewServiceDefinition("web", "/tmp", "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestAddAssignsIDWhenEmpty(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	def := &models.ServiceDefinition{Name: "api", Command: "go run ."}
	require.NoError(t, r.Add(def))
	assert.NotEmpty(t, def.ID)
}

func TestReplacePreservesID(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	orig := models.NewServiceDefinition("web", "/tmp", "old cmd")
	require.NoError(t, r.Add(orig))

	require.NoError(t, r.Replace(&models.ServiceDefinition{Name: "web", Command: "new cmd"}))

	sup := r.Get("web")
	require.NotNil(t, sup)
	assert.Equal(t, "new cmd", sup.Definition().Command)
	assert.Equal(t, orig.ID, sup.Definition().ID)
}

func TestReplaceUnknownServiceFails(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	err := r.Replace(&models.ServiceDefinition{Name: "ghost", Command: "x"})
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	require.NoError(t, r.Add(models.NewServiceDefinition("web", "/tmp", "cmd")))
	require.NoError(t, r.Remove("web"))
	assert.Nil(t, r.Get("web"))

	require.Error(t, r.Remove("web"))
}

func TestListSortedByName(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	require.NoError(t, r.Add(models.NewServiceDefinition("zeta", "/tmp", "z")))
	require.NoError(t, r.Add(models.NewServiceDefinition("alpha", "/tmp", "a")))
	require.NoError(t, r.Add(models.NewServiceDefinition("mid", "/tmp", "m")))

	var names []string
	for _, sup := range r.List() {
		names = append(names, sup.Definition().Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "services.json")
	r := NewRegistry(path, stubProbe{}, stubRunner{})
	require.NoError(t, r.Load())

	def := models.NewServiceDefinition("web", "/home/me/web", "npm run dev")
	def.Port = 3000
	def.Environment = map[string]string{"NODE_ENV": "development"}
	def.Prerequisites = []models.PrerequisiteStep{{Command: "npm install", IsRequired: true, DelaySecs: 2}}
	require.NoError(t, r.Add(def))

	fresh := NewRegistry(path, stubProbe{}, stubRunner{})
	require.NoError(t, fresh.Load())

	sup := fresh.Get("web")
	require.NotNil(t, sup)
	got := sup.Definition()
	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, 3000, got.Port)
	assert.Equal(t, "development", got.Environment["NODE_ENV"])
	require.Len(t, got.Prerequisites, 1)
	assert.Equal(t, 2, got.Prerequisites[0].DelaySecs)
	assert.True(t, got.Prerequisites[0].IsRequired)
}

func TestImportUpsert(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	existing := models.NewServiceDefinition("web", "/tmp", "old")
	require.NoError(t, r.Add(existing))

	payload := `[
		{"name": "web", "command": "new", "workingDirectory": "/tmp"},
		{"name": "api", "command": "go run .", "workingDirectory": "/srv"}
	]`
	summary, err := r.Import(strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.Updated)

	// The updated service keeps its original id.
	web := r.Get("web")
	require.NotNil(t, web)
	assert.Equal(t, "new", web.Definition().Command)
	assert.Equal(t, existing.ID, web.Definition().ID)

	api := r.Get("api")
	require.NotNil(t, api)
	assert.NotEmpty(t, api.Definition().ID)
}

func TestImportInvalidJSON(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	_, err := r.Import(strings.NewReader("{not json"))
	require.Error(t, err)
}

func TestImportSkipsNamelessEntries(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	summary, err := r.Import(strings.NewReader(`[{"command": "anon"}]`))
	require.NoError(t, err)
	assert.Zero(t, summary.New)
	assert.Zero(t, summary.Updated)
	assert.Empty(t, r.List())
}

func TestExportFormat(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	def := models.NewServiceDefinition("web", "/home/me/web", "npm run dev")
	require.NoError(t, r.Add(def))

	var buf bytes.Buffer
	require.NoError(t, r.Export(&buf))
	out := buf.String()

	// Pretty-printed, slashes left alone.
	assert.Contains(t, out, "\n  ")
	assert.Contains(t, out, "/home/me/web")
	assert.NotContains(t, out, `\/`)

	// Exported output re-imports cleanly.
	fresh := newTestRegistry(t)
	summary, err := fresh.Import(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
}
