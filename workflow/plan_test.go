package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/big3labs/waveflow/types"
)

func cmd(name string) Tool {
	return CommandAgent{Name: name, Instruction: "echo " + name}
}

func ids(steps []*Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func TestPlanGraph_AddStep(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	b := g.AddStep(cmd("b"))

	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, strings.HasPrefix(a.ID, "node-"))
	assert.Equal(t, StepPending, a.Status())
	assert.Empty(t, a.Dependencies())
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []string{a.ID, b.ID}, ids(g.Steps()))
}

func TestPlanGraph_AddDependency_Errors(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	b := g.AddStep(cmd("b"))
	c := g.AddStep(cmd("c"))

	t.Run("unknown step", func(t *testing.T) {
		err := g.AddDependency("missing", a.ID)
		assert.True(t, types.IsCode(err, types.ErrStepNotFound))
		err = g.AddDependency(a.ID, "missing")
		assert.True(t, types.IsCode(err, types.ErrStepNotFound))
	})

	t.Run("self dependency", func(t *testing.T) {
		err := g.AddDependency(a.ID, a.ID)
		assert.True(t, types.IsCode(err, types.ErrCircularDependency))
		assert.Empty(t, a.Dependencies())
	})

	t.Run("transitive cycle rejected without partial edge", func(t *testing.T) {
		require.NoError(t, g.AddDependency(b.ID, a.ID)) // b -> a
		require.NoError(t, g.AddDependency(c.ID, b.ID)) // c -> b

		err := g.AddDependency(a.ID, c.ID) // a -> c 成环
		assert.True(t, types.IsCode(err, types.ErrCircularDependency))
		assert.Empty(t, a.Dependencies(), "rejected edge must not be added")
		assert.Equal(t, []string{a.ID}, b.Dependencies())
		assert.Equal(t, []string{b.ID}, c.Dependencies())
	})

	t.Run("duplicate edge is idempotent", func(t *testing.T) {
		require.NoError(t, g.AddDependency(b.ID, a.ID))
		assert.Equal(t, []string{a.ID}, b.Dependencies())
	})
}

func TestPlanGraph_Resolve_InsertionOrderTieBreak(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	b := g.AddStep(cmd("b"))
	c := g.AddStep(cmd("c"))
	d := g.AddStep(cmd("d"))
	require.NoError(t, g.AddDependency(b.ID, a.ID))
	require.NoError(t, g.AddDependency(a.ID, d.ID))

	resolved, err := g.Resolve()
	require.NoError(t, err)

	// c 与 d 同时就绪，c 先插入；d 完成后 a 就绪，a 完成后 b 就绪
	assert.Equal(t, []string{c.ID, d.ID, a.ID, b.ID}, ids(resolved))
}

func TestPlanGraph_Resolve_Deterministic(t *testing.T) {
	g := NewPlanGraph()
	var steps []*Step
	for i := 0; i < 8; i++ {
		steps = append(steps, g.AddStep(cmd("s")))
	}
	require.NoError(t, g.AddDependency(steps[5].ID, steps[1].ID))
	require.NoError(t, g.AddDependency(steps[2].ID, steps[7].ID))

	first, err := g.Resolve()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := g.Resolve()
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(again))
	}
}

func TestPlanGraph_Resolve_DetectsOutOfBandCycle(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	b := g.AddStep(cmd("b"))
	require.NoError(t, g.AddDependency(b.ID, a.ID))

	// 绕过 AddDependency 直接写入反向边
	a.dependencies = append(a.dependencies, b.ID)

	_, err := g.Resolve()
	assert.True(t, types.IsCode(err, types.ErrCircularDependency))
}

func TestPlanGraph_Resolve_CycleErrorNamesCycleEdge(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	c := g.AddStep(cmd("c"))
	b := g.AddStep(cmd("b"))
	// c 先于 b 插入，且 c 的第一个依赖 a 可正常排序，环在 b <-> c 之间
	require.NoError(t, g.AddDependency(c.ID, a.ID))
	require.NoError(t, g.AddDependency(c.ID, b.ID))
	b.dependencies = append(b.dependencies, c.ID)

	_, err := g.Resolve()
	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrCircularDependency, te.Code)
	assert.Contains(t, []string{b.ID, c.ID}, te.StepID)
	assert.NotContains(t, te.Message, a.ID, "a is not on the cycle")
}

func TestPlanGraph_Resolve_DetectsDanglingDependency(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	a.dependencies = append(a.dependencies, "node-ghost")

	_, err := g.Resolve()
	assert.True(t, types.IsCode(err, types.ErrStepNotFound))
}

func TestNewPlan(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		_, err := NewPlan(NewPlanGraph())
		assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
	})

	t.Run("diamond", func(t *testing.T) {
		g := NewPlanGraph()
		a := g.AddStep(cmd("a"))
		b := g.AddStep(cmd("b"))
		c := g.AddStep(cmd("c"))
		d := g.AddStep(cmd("d"))
		require.NoError(t, g.AddDependency(b.ID, a.ID))
		require.NoError(t, g.AddDependency(c.ID, a.ID))
		require.NoError(t, g.AddDependency(d.ID, b.ID))
		require.NoError(t, g.AddDependency(d.ID, c.ID))

		plan, err := NewPlan(g)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(plan.ID, "plan-"))
		assert.Equal(t, []string{a.ID, b.ID, c.ID, d.ID}, plan.Order)
		assert.Equal(t, [][]string{{a.ID}, {b.ID, c.ID}, {d.ID}}, plan.Batches)
		assert.Len(t, plan.Resolved(), 4)

		s, ok := plan.Step(d.ID)
		require.True(t, ok)
		assert.ElementsMatch(t, []string{b.ID, c.ID}, s.Dependencies())
	})

	t.Run("cycle aborts construction", func(t *testing.T) {
		g := NewPlanGraph()
		a := g.AddStep(cmd("a"))
		b := g.AddStep(cmd("b"))
		a.dependencies = []string{b.ID}
		b.dependencies = []string{a.ID}

		plan, err := NewPlan(g)
		assert.Nil(t, plan)
		assert.True(t, types.IsCode(err, types.ErrCircularDependency))
	})
}

func TestStep_DependenciesIsCopy(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	b := g.AddStep(cmd("b"))
	require.NoError(t, g.AddDependency(b.ID, a.ID))

	deps := b.Dependencies()
	deps[0] = "tampered"
	assert.Equal(t, []string{a.ID}, b.Dependencies())
}

func TestStepStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StepPending.String())
	assert.Equal(t, "running", StepRunning.String())
	assert.Equal(t, "completed", StepCompleted.String())
	assert.Equal(t, "failed", StepFailed.String())
	assert.True(t, StepFailed.Terminal())
	assert.False(t, StepRunning.Terminal())
}
