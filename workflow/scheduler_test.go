package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/big3labs/waveflow/types"
)

func TestComputeBatches(t *testing.T) {
	tests := []struct {
		name  string
		steps int
		edges [][2]int // {step, dependsOn}
		want  [][]int
	}{
		{
			name:  "single step",
			steps: 1,
			want:  [][]int{{0}},
		},
		{
			name:  "independent steps share one batch",
			steps: 3,
			want:  [][]int{{0, 1, 2}},
		},
		{
			name:  "chain",
			steps: 3,
			edges: [][2]int{{1, 0}, {2, 1}},
			want:  [][]int{{0}, {1}, {2}},
		},
		{
			name:  "fan out then join",
			steps: 5,
			edges: [][2]int{{1, 0}, {2, 0}, {3, 0}, {4, 1}, {4, 2}, {4, 3}},
			want:  [][]int{{0}, {1, 2, 3}, {4}},
		},
		{
			name:  "independent branch joins first batch",
			steps: 4,
			edges: [][2]int{{1, 0}, {2, 1}},
			want:  [][]int{{0, 3}, {1}, {2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPlanGraph()
			var steps []*Step
			for i := 0; i < tt.steps; i++ {
				steps = append(steps, g.AddStep(cmd("s")))
			}
			for _, e := range tt.edges {
				require.NoError(t, g.AddDependency(steps[e[0]].ID, steps[e[1]].ID))
			}

			resolved, err := g.Resolve()
			require.NoError(t, err)

			batches, err := ComputeBatches(resolved)
			require.NoError(t, err)

			want := make([][]string, len(tt.want))
			for i, b := range tt.want {
				for _, idx := range b {
					want[i] = append(want[i], steps[idx].ID)
				}
			}
			assert.Equal(t, want, batches)
		})
	}
}

func TestComputeBatches_DoesNotTouchStatus(t *testing.T) {
	g := NewPlanGraph()
	a := g.AddStep(cmd("a"))
	a.setStatus(StepRunning)

	_, err := ComputeBatches([]*Step{a})
	require.NoError(t, err)
	assert.Equal(t, StepRunning, a.Status())
}

func TestComputeBatches_Errors(t *testing.T) {
	t.Run("dependency outside input", func(t *testing.T) {
		g := NewPlanGraph()
		a := g.AddStep(cmd("a"))
		b := g.AddStep(cmd("b"))
		require.NoError(t, g.AddDependency(b.ID, a.ID))

		_, err := ComputeBatches([]*Step{b})
		assert.True(t, types.IsCode(err, types.ErrStepNotFound))
	})

	t.Run("cycle", func(t *testing.T) {
		g := NewPlanGraph()
		a := g.AddStep(cmd("a"))
		b := g.AddStep(cmd("b"))
		a.dependencies = []string{b.ID}
		b.dependencies = []string{a.ID}

		_, err := ComputeBatches([]*Step{a, b})
		assert.True(t, types.IsCode(err, types.ErrCircularDependency))
	})

	t.Run("empty input", func(t *testing.T) {
		batches, err := ComputeBatches(nil)
		require.NoError(t, err)
		assert.Empty(t, batches)
	})
}
