package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceDefinitionAssignsID(t *testing.T) {
	t.Parallel()

	a := NewServiceDefinition("web", "/tmp", "npm run dev")
	b := NewServiceDefinition("web", "/tmp", "npm run dev")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEffectiveMaxLogLines(t *testing.T) {
	t.Parallel()

	def := &ServiceDefinition{}
	assert.Equal(t, DefaultMaxLogLines, def.EffectiveMaxLogLines())

	def.MaxLogLines = 250
	assert.Equal(t, 250, def.EffectiveMaxLogLines())
}

func TestHasLivenessSignal(t *testing.T) {
	t.Parallel()

	assert.False(t, (&ServiceDefinition{}).HasLivenessSignal())
	assert.True(t, (&ServiceDefinition{Port: 3000}).HasLivenessSignal())
	assert.True(t, (&ServiceDefinition{CheckCommand: "curl -sf localhost:3000"}).HasLivenessSignal())
}

func TestPrerequisiteStepJSONShape(t *testing.T) {
	t.Parallel()

	raw := `{"command": "npm install", "delay": 3, "isRequired": true}`
	var step PrerequisiteStep
	require.NoError(t, json.Unmarshal([]byte(raw), &step))
	assert.Equal(t, "npm install", step.Command)
	assert.Equal(t, 3, step.DelaySecs)
	assert.True(t, step.IsRequired)
}
