package workflow

import (
	"fmt"
	"slices"

	"github.com/dukex/deckflow/pkg/models"
)

// DefaultPlanRetryCeiling is the number of plan attempts before a run aborts.
const DefaultPlanRetryCeiling = 3

type gate struct {
	name        string
	policy      RetryPolicy
	maxAttempts int
}

// Graph is a linear stage path with optional retry gates after individual stages.
type Graph struct {
	order    []models.StageName
	edges    map[models.StageName]models.StageName
	gates    map[models.StageName]gate
	maxSteps int
}

// NewGraph links the stages in the given order.
func NewGraph(order ...models.StageName) *Graph {
	g := &Graph{
		order: slices.Clone(order),
		edges: make(map[models.StageName]models.StageName, len(order)),
		gates: make(map[models.StageName]gate),
	}

	for i := 0; i+1 < len(order); i++ {
		g.edges[order[i]] = order[i+1]
	}

	return g
}

// DefaultGraph is the presentation pipeline with the plan retry gate.
func DefaultGraph(planCeiling int) *Graph {
	if planCeiling <= 0 {
		planCeiling = DefaultPlanRetryCeiling
	}

	return NewGraph(models.Pipeline()...).
		Gate(models.StagePlan, fmt.Sprintf("ceiling(%d)", planCeiling), CeilingPolicy(planCeiling), planCeiling)
}

// Gate installs a retry policy evaluated after stage. maxAttempts is the most attempts the policy
// can grant the stage and counts toward the run's step budget.
func (g *Graph) Gate(stage models.StageName, name string, policy RetryPolicy, maxAttempts int) *Graph {
	g.gates[stage] = gate{name: name, policy: policy, maxAttempts: max(maxAttempts, 1)}

	return g
}

// WithMaxSteps overrides the step budget derived from the gates.
func (g *Graph) WithMaxSteps(n int) *Graph {
	if n > 0 {
		g.maxSteps = n
	}

	return g
}

// Entry is the first stage of the graph.
func (g *Graph) Entry() (models.StageName, error) {
	if len(g.order) == 0 {
		return "", fmt.Errorf("%w: graph has no stages", ErrInvalidTransition)
	}

	return g.order[0], nil
}

// Order returns the stages in path order.
func (g *Graph) Order() []models.StageName {
	return slices.Clone(g.order)
}

// MaxSteps is the stage attempt budget of one run: one attempt per ungated stage plus the
// attempts each gate can grant, unless overridden with WithMaxSteps.
func (g *Graph) MaxSteps() int {
	if g.maxSteps > 0 {
		return g.maxSteps
	}

	steps := 0

	for _, stage := range g.order {
		if gt, ok := g.gates[stage]; ok {
			steps += gt.maxAttempts
		} else {
			steps++
		}
	}

	return steps
}

// PolicyName returns the name of the gate installed after stage.
func (g *Graph) PolicyName(stage models.StageName) string {
	return g.gates[stage].name
}

// Next returns the stage to run after current, or done when the terminal state is reached.
func (g *Graph) Next(state *models.WorkflowState, current models.StageName, last models.StageResult) (models.StageName, bool, error) {
	if !slices.Contains(g.order, current) {
		return "", false, fmt.Errorf("%w: %s is not part of the graph", ErrInvalidTransition, current)
	}

	if gt, ok := g.gates[current]; ok {
		decision := gt.policy(state.Attempts(current), state.Errors, last)

		switch decision {
		case Continue:
		case Retry:
			return current, false, nil
		case Abort:
			return "", true, nil
		default:
			return "", false, fmt.Errorf("%w: %s returned %s", ErrInvalidTransition, gt.name, decision)
		}
	}

	next, ok := g.edges[current]
	if !ok {
		return "", true, nil
	}

	return next, false, nil
}
