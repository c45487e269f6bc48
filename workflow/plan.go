package workflow

import (
	"container/heap"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/big3labs/waveflow/types"
)

// StepStatus is the lifecycle state of a step within one run.
type StepStatus int32

const (
	StepPending StepStatus = iota
	StepRunning
	StepCompleted
	StepFailed
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Step wraps exactly one tool invocation.
// Only the status changes after creation, and only the Runner changes it.
type Step struct {
	ID   string
	Tool Tool
	// Label is an optional caller-chosen name (plan definition key).
	Label string

	dependencies []string
	status       atomic.Int32
}

// Dependencies returns the ids this step depends on, in insertion order.
func (s *Step) Dependencies() []string {
	return slices.Clone(s.dependencies)
}

// Status returns the current status.
func (s *Step) Status() StepStatus {
	return StepStatus(s.status.Load())
}

func (s *Step) setStatus(status StepStatus) {
	s.status.Store(int32(status))
}

// Name returns the label when set, the id otherwise.
func (s *Step) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

func (s *Step) dependsOn(id string) bool {
	return slices.Contains(s.dependencies, id)
}

// PlanGraph holds steps and dependency edges.
// Not safe for concurrent mutation.
type PlanGraph struct {
	steps map[string]*Step
	order []string // insertion order
	index map[string]int
	newID func() string
}

// NewPlanGraph creates an empty graph.
func NewPlanGraph() *PlanGraph {
	return &PlanGraph{
		steps: make(map[string]*Step),
		index: make(map[string]int),
		newID: func() string { return "node-" + uuid.NewString() },
	}
}

// AddStep allocates a pending step with no dependencies.
func (g *PlanGraph) AddStep(tool Tool) *Step {
	step := &Step{ID: g.newID(), Tool: tool}
	step.setStatus(StepPending)

	g.index[step.ID] = len(g.order)
	g.order = append(g.order, step.ID)
	g.steps[step.ID] = step
	return step
}

// AddDependency makes stepID depend on dependsOnID.
// The edge is rejected, and the graph left unchanged, if it would close a cycle.
func (g *PlanGraph) AddDependency(stepID, dependsOnID string) error {
	step, ok := g.steps[stepID]
	if !ok {
		return types.NewStepNotFoundError(stepID)
	}
	if _, ok := g.steps[dependsOnID]; !ok {
		return types.NewStepNotFoundError(dependsOnID)
	}
	if stepID == dependsOnID || g.reachable(dependsOnID, stepID) {
		return types.NewCircularDependencyError(stepID, dependsOnID)
	}
	if step.dependsOn(dependsOnID) {
		return nil
	}
	step.dependencies = append(step.dependencies, dependsOnID)
	return nil
}

// reachable 沿依赖边从 from 出发，判断能否到达 target
func (g *PlanGraph) reachable(from, target string) bool {
	visited := make(map[string]bool, len(g.steps))
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if s, ok := g.steps[id]; ok {
			stack = append(stack, s.dependencies...)
		}
	}
	return false
}

// Step looks a step up by id.
func (g *PlanGraph) Step(id string) (*Step, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Steps returns all steps in insertion order.
func (g *PlanGraph) Steps() []*Step {
	out := make([]*Step, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.steps[id])
	}
	return out
}

// Len returns the number of steps.
func (g *PlanGraph) Len() int {
	return len(g.order)
}

// Resolve returns the steps in topological order. When several steps are ready
// at once the earliest inserted one goes first.
// Resolve re-checks for cycles rather than trusting AddDependency.
func (g *PlanGraph) Resolve() ([]*Step, error) {
	indegree := make(map[string]int, len(g.steps))
	dependents := make(map[string][]string, len(g.steps))

	for _, id := range g.order {
		step := g.steps[id]
		for _, dep := range step.dependencies {
			if _, ok := g.steps[dep]; !ok {
				return nil, types.NewStepNotFoundError(dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := &insertionQueue{}
	for _, id := range g.order {
		if indegree[id] == 0 {
			heap.Push(ready, g.index[id])
		}
	}

	resolved := make([]*Step, 0, len(g.order))
	for ready.Len() > 0 {
		id := g.order[heap.Pop(ready).(int)]
		resolved = append(resolved, g.steps[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, g.index[next])
			}
		}
	}

	if len(resolved) != len(g.order) {
		from, to := g.cycleEdge(indegree)
		return nil, types.NewCircularDependencyError(from, to).
			WithCause(fmt.Errorf("%d steps could not be ordered", len(g.order)-len(resolved)))
	}
	return resolved, nil
}

// cycleEdge 返回环上的一条边。未排序的步骤至少有一个未排序的依赖，
// 沿这些依赖走下去必然回到走过的节点，该节点在环上。
func (g *PlanGraph) cycleEdge(indegree map[string]int) (string, string) {
	stuckDep := func(id string) string {
		for _, dep := range g.steps[id].dependencies {
			if indegree[dep] > 0 {
				return dep
			}
		}
		return ""
	}

	var cur string
	for _, id := range g.order {
		if indegree[id] > 0 {
			cur = id
			break
		}
	}
	seen := make(map[string]bool)
	for !seen[cur] {
		seen[cur] = true
		cur = stuckDep(cur)
	}
	return cur, stuckDep(cur)
}

// insertionQueue 按插入序号出队的最小堆
type insertionQueue []int

func (q insertionQueue) Len() int           { return len(q) }
func (q insertionQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q insertionQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *insertionQueue) Push(x any)        { *q = append(*q, x.(int)) }
func (q *insertionQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// Plan is a resolved graph ready to run: steps, their order and their batches.
// A plan is built once per request and must not be shared by concurrent runs.
type Plan struct {
	ID      string
	Steps   map[string]*Step
	Order   []string
	Batches [][]string
}

// NewPlan resolves the graph and partitions it into batches.
// Construction errors abort: a malformed plan never runs partially.
func NewPlan(g *PlanGraph) (*Plan, error) {
	if g == nil || g.Len() == 0 {
		return nil, types.NewError(types.ErrInvalidPlan, "plan has no steps")
	}

	resolved, err := g.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	batches, err := ComputeBatches(resolved)
	if err != nil {
		return nil, fmt.Errorf("compute batches: %w", err)
	}

	p := &Plan{
		ID:      "plan-" + uuid.NewString(),
		Steps:   make(map[string]*Step, len(resolved)),
		Order:   make([]string, 0, len(resolved)),
		Batches: batches,
	}
	for _, s := range resolved {
		p.Steps[s.ID] = s
		p.Order = append(p.Order, s.ID)
	}
	return p, nil
}

// Resolved returns the steps in resolved order.
func (p *Plan) Resolved() []*Step {
	out := make([]*Step, 0, len(p.Order))
	for _, id := range p.Order {
		out = append(out, p.Steps[id])
	}
	return out
}

// Step looks a step up by id.
func (p *Plan) Step(id string) (*Step, bool) {
	s, ok := p.Steps[id]
	return s, ok
}

// reset puts every step back to pending before a run.
func (p *Plan) reset() {
	for _, s := range p.Steps {
		s.setStatus(StepPending)
	}
}
