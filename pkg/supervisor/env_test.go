package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/localserve/devsup/pkg/models"
)

func TestMergedEnvAppendsOverrides(t *testing.T) {
	def := &models.ServiceDefinition{
		Name:        "svc",
		Command:     "true",
		Environment: map[string]string{"NODE_ENV": "development"},
	}
	env := mergedEnv(def)
	assert.Contains(t, env, "NODE_ENV=development")
}

func TestMergedEnvSinglePath(t *testing.T) {
	env := mergedEnv(&models.ServiceDefinition{Name: "svc", Command: "true"})

	paths := 0
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			paths++
		}
	}
	assert.Equal(t, 1, paths)
}

func TestUserShellPathNonEmpty(t *testing.T) {
	assert.NotEmpty(t, UserShellPath())
}
