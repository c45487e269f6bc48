package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/big3labs/waveflow/types"
)

const samplePlanYAML = `
name: research
steps:
  - key: spawn
    tool:
      type: create_agent
      agent_type: researcher
      name: scout
  - key: fetch
    tool:
      type: browser_use
      task: read
      url: https://example.com
    depends_on: [spawn]
  - key: summarize
    tool:
      type: command_agent
      name: writer
      instruction: "cat notes.md | wc -l"
    depends_on: [fetch]
`

func TestPlanDefinition_BuildPlan(t *testing.T) {
	def, err := ParsePlanDefinition([]byte(samplePlanYAML))
	require.NoError(t, err)
	assert.Equal(t, "research", def.Name)

	plan, keys, err := def.BuildPlan()
	require.NoError(t, err)
	require.Len(t, keys, 3)

	assert.Equal(t, [][]string{{keys["spawn"]}, {keys["fetch"]}, {keys["summarize"]}}, plan.Batches)

	fetch := plan.Steps[keys["fetch"]]
	assert.Equal(t, "fetch", fetch.Label)
	assert.Equal(t, BrowserUse{Task: "read", URL: "https://example.com"}, fetch.Tool)
	assert.Equal(t, []string{keys["spawn"]}, fetch.Dependencies())
}

func TestPlanDefinition_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  PlanDefinition
		code types.ErrorCode
	}{
		{
			name: "empty",
			def:  PlanDefinition{},
			code: types.ErrInvalidPlan,
		},
		{
			name: "duplicate key",
			def: PlanDefinition{Steps: []StepDefinition{
				{Key: "a", Tool: ToolSpec{Type: ToolKindCreateAgent, AgentType: "x"}},
				{Key: "a", Tool: ToolSpec{Type: ToolKindCreateAgent, AgentType: "x"}},
			}},
			code: types.ErrInvalidPlan,
		},
		{
			name: "unknown tool",
			def: PlanDefinition{Steps: []StepDefinition{
				{Key: "a", Tool: ToolSpec{Type: "teleport"}},
			}},
			code: types.ErrInvalidPlan,
		},
		{
			name: "unknown dependency",
			def: PlanDefinition{Steps: []StepDefinition{
				{Key: "a", Tool: ToolSpec{Type: ToolKindCreateAgent, AgentType: "x"}, DependsOn: []string{"ghost"}},
			}},
			code: types.ErrStepNotFound,
		},
		{
			name: "cycle",
			def: PlanDefinition{Steps: []StepDefinition{
				{Key: "a", Tool: ToolSpec{Type: ToolKindCreateAgent, AgentType: "x"}, DependsOn: []string{"b"}},
				{Key: "b", Tool: ToolSpec{Type: ToolKindCreateAgent, AgentType: "x"}, DependsOn: []string{"a"}},
			}},
			code: types.ErrCircularDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.def.BuildGraph()
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestLoadPlanDefinition(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(samplePlanYAML), 0o644))
	def, err := LoadPlanDefinition(yamlPath)
	require.NoError(t, err)
	assert.Len(t, def.Steps, 3)

	jsonPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"name": "j",
		"steps": [
			{"key": "a", "tool": {"type": "command_agent", "name": "s", "instruction": "ls"}},
			{"key": "b", "tool": {"type": "browser_use", "task": "screenshot"}, "depends_on": ["a"]}
		]
	}`), 0o644))
	def, err = LoadPlanDefinition(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, def.Steps[1].DependsOn)

	txtPath := filepath.Join(dir, "plan.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))
	_, err = LoadPlanDefinition(txtPath)
	assert.Error(t, err)

	_, err = LoadPlanDefinition(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefinitionOf_RoundTrip(t *testing.T) {
	def, err := ParsePlanDefinition([]byte(samplePlanYAML))
	require.NoError(t, err)
	plan, _, err := def.BuildPlan()
	require.NoError(t, err)

	back := DefinitionOf("research", plan)
	assert.Equal(t, def.Steps, back.Steps)

	out, err := back.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, out, "agent_type: researcher")
}
