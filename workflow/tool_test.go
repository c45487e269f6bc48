package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolSpec_Conversion(t *testing.T) {
	tools := []Tool{
		CreateAgent{AgentType: "coder", Name: "bob"},
		CommandAgent{Name: "s1", Instruction: "make test"},
		BrowserUse{Task: "click #submit", URL: "https://example.com"},
		BrowserUse{Task: "read"},
	}
	for _, tool := range tools {
		spec := SpecOf(tool)
		assert.Equal(t, tool.Kind(), spec.Type)

		back, err := spec.Tool()
		require.NoError(t, err)
		assert.Equal(t, tool, back)
	}
}

func TestToolSpec_RequiredFields(t *testing.T) {
	bad := []ToolSpec{
		{Type: ToolKindCreateAgent},
		{Type: ToolKindCommandAgent, Name: "s"},
		{Type: ToolKindCommandAgent, Instruction: "ls"},
		{Type: ToolKindBrowserUse, URL: "https://example.com"},
		{Type: "nope"},
	}
	for _, spec := range bad {
		_, err := spec.Tool()
		assert.Error(t, err, "spec %+v", spec)
	}
}

func TestTool_Describe(t *testing.T) {
	assert.Equal(t, `create coder agent "bob"`, CreateAgent{AgentType: "coder", Name: "bob"}.Describe())
	assert.Equal(t, "browser read @ https://x.io", BrowserUse{Task: "read", URL: "https://x.io"}.Describe())

	long := CommandAgent{Name: "s", Instruction: string(make([]byte, 100))}.Describe()
	assert.Contains(t, long, "...")
}
