package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// ToolKind identifies a tool variant.
type ToolKind string

const (
	// ToolKindCreateAgent spawns a sub-agent (no external call)
	ToolKindCreateAgent ToolKind = "create_agent"
	// ToolKindCommandAgent sends a coding instruction to the code-execution capability
	ToolKindCommandAgent ToolKind = "command_agent"
	// ToolKindBrowserUse drives the browser-automation capability
	ToolKindBrowserUse ToolKind = "browser_use"
)

// Tool is the closed set of invocable actions a step can wrap.
// The unexported marker keeps the set sealed to this package.
type Tool interface {
	Kind() ToolKind
	// Describe returns a short human readable summary used in logs.
	Describe() string

	isTool()
}

// CreateAgent spawns an agent of the given type.
type CreateAgent struct {
	AgentType string `json:"agent_type" yaml:"agent_type"`
	Name      string `json:"name" yaml:"name"`
}

// CommandAgent runs Instruction inside the session Name.
type CommandAgent struct {
	Name        string `json:"name" yaml:"name"`
	Instruction string `json:"instruction" yaml:"instruction"`
}

// BrowserUse performs Task, optionally after navigating to URL.
type BrowserUse struct {
	Task string `json:"task" yaml:"task"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

func (CreateAgent) Kind() ToolKind  { return ToolKindCreateAgent }
func (CommandAgent) Kind() ToolKind { return ToolKindCommandAgent }
func (BrowserUse) Kind() ToolKind   { return ToolKindBrowserUse }

func (CreateAgent) isTool()  {}
func (CommandAgent) isTool() {}
func (BrowserUse) isTool()   {}

func (t CreateAgent) Describe() string {
	return fmt.Sprintf("create %s agent %q", t.AgentType, t.Name)
}

func (t CommandAgent) Describe() string {
	return fmt.Sprintf("command %q: %s", t.Name, truncate(t.Instruction, 60))
}

func (t BrowserUse) Describe() string {
	if t.URL != "" {
		return fmt.Sprintf("browser %s @ %s", truncate(t.Task, 60), t.URL)
	}
	return "browser " + truncate(t.Task, 60)
}

// toolFactories 每个变体一个零值构造器，新增变体必须在这里登记
var toolFactories = map[ToolKind]func() Tool{
	ToolKindCreateAgent:  func() Tool { return CreateAgent{} },
	ToolKindCommandAgent: func() Tool { return CommandAgent{} },
	ToolKindBrowserUse:   func() Tool { return BrowserUse{} },
}

// ToolKinds returns every registered tool kind in lexical order.
func ToolKinds() []ToolKind {
	kinds := make([]ToolKind, 0, len(toolFactories))
	for k := range toolFactories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ToolSpec is the flat, serializable form of a Tool.
type ToolSpec struct {
	Type        ToolKind `json:"type" yaml:"type"`
	AgentType   string   `json:"agent_type,omitempty" yaml:"agent_type,omitempty"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Instruction string   `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Task        string   `json:"task,omitempty" yaml:"task,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
}

// SpecOf flattens a tool into its serializable form.
func SpecOf(tool Tool) ToolSpec {
	switch t := tool.(type) {
	case CreateAgent:
		return ToolSpec{Type: t.Kind(), AgentType: t.AgentType, Name: t.Name}
	case CommandAgent:
		return ToolSpec{Type: t.Kind(), Name: t.Name, Instruction: t.Instruction}
	case BrowserUse:
		return ToolSpec{Type: t.Kind(), Task: t.Task, URL: t.URL}
	default:
		return ToolSpec{}
	}
}

// Tool converts the definition back into a typed variant, checking required fields.
func (s ToolSpec) Tool() (Tool, error) {
	if _, ok := toolFactories[s.Type]; !ok {
		return nil, fmt.Errorf("unknown tool type %q", s.Type)
	}

	switch s.Type {
	case ToolKindCreateAgent:
		if s.AgentType == "" {
			return nil, fmt.Errorf("create_agent: agent_type is required")
		}
		return CreateAgent{AgentType: s.AgentType, Name: s.Name}, nil
	case ToolKindCommandAgent:
		if s.Name == "" || strings.TrimSpace(s.Instruction) == "" {
			return nil, fmt.Errorf("command_agent: name and instruction are required")
		}
		return CommandAgent{Name: s.Name, Instruction: s.Instruction}, nil
	case ToolKindBrowserUse:
		if strings.TrimSpace(s.Task) == "" {
			return nil, fmt.Errorf("browser_use: task is required")
		}
		return BrowserUse{Task: s.Task, URL: s.URL}, nil
	default:
		return nil, fmt.Errorf("tool type %q has no decoder", s.Type)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
