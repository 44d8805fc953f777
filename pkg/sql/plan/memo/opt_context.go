// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memo

import (
	"context"
	"fmt"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

type OptState uint8

const (
	OptStatePending OptState = iota
	OptStateExploringChildren
	OptStateCosted
	OptStateDone
)

func (s OptState) String() string {
	switch s {
	case OptStatePending:
		return "pending"
	case OptStateExploringChildren:
		return "exploring-children"
	case OptStateCosted:
		return "costed"
	case OptStateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// CandidateKey names one way of costing a physical expression: the
// expression plus the index of the child-requirement alternative used.
type CandidateKey struct {
	Expr        ExprID
	Alternative int
}

// OptimizationContext is the search state for one (Group, required
// property) pair. There is at most one per pair.
type OptimizationContext struct {
	group    GroupID
	required *property.Required
	state    OptState
	best     *CostContext

	children []*OptimizationContext
	childSet map[*OptimizationContext]struct{}

	costed map[CandidateKey]struct{}

	// generation is bumped whenever results computed so far become stale.
	generation uint64

	// redirect is set when a merge found an equivalent context in the
	// surviving group.
	redirect *OptimizationContext
}

func newOptimizationContext(group GroupID, required *property.Required) *OptimizationContext {
	return &OptimizationContext{
		group:    group,
		required: required,
		childSet: make(map[*OptimizationContext]struct{}),
		costed:   make(map[CandidateKey]struct{}),
	}
}

// Resolve follows merge redirects to the live context.
func (c *OptimizationContext) Resolve() *OptimizationContext {
	for c.redirect != nil {
		c = c.redirect
	}
	return c
}

func (c *OptimizationContext) Group() GroupID               { return c.group }
func (c *OptimizationContext) Required() *property.Required { return c.required }
func (c *OptimizationContext) State() OptState              { return c.state }
func (c *OptimizationContext) Best() *CostContext           { return c.best }
func (c *OptimizationContext) Generation() uint64           { return c.generation }
func (c *OptimizationContext) SetState(s OptState)          { c.state = s }

// InProgress reports whether the context has been started but not finished.
func (c *OptimizationContext) InProgress() bool {
	return c.state == OptStateExploringChildren || c.state == OptStateCosted
}

func (c *OptimizationContext) ChildContexts() []*OptimizationContext {
	return append([]*OptimizationContext(nil), c.children...)
}

// AddChildOptContext records a context spawned on behalf of this one.
func (c *OptimizationContext) AddChildOptContext(child *OptimizationContext) {
	if _, ok := c.childSet[child]; ok {
		return
	}
	c.childSet[child] = struct{}{}
	c.children = append(c.children, child)
}

// MarkCosted records key and reports whether it was not costed before in
// the current generation.
func (c *OptimizationContext) MarkCosted(key CandidateKey) bool {
	if _, ok := c.costed[key]; ok {
		return false
	}
	c.costed[key] = struct{}{}
	return true
}

// TieBreaker decides whether challenger replaces incumbent when their
// costs are equal.
type TieBreaker func(incumbent, challenger *CostContext) bool

// FirstFound keeps the incumbent.
func FirstFound(_, _ *CostContext) bool { return false }

// LowerExprID prefers the expression with the smaller id.
func LowerExprID(incumbent, challenger *CostContext) bool {
	return challenger.expr.id < incumbent.expr.id
}

// RatchetCost installs cc as the best if it is cheaper than the current
// one. Results from an older generation are ignored.
func (c *OptimizationContext) RatchetCost(cc *CostContext, tie TieBreaker) bool {
	if cc == nil || cc.generation != c.generation {
		return false
	}
	if c.best != nil {
		if cc.cost > c.best.cost {
			return false
		}
		if cc.cost == c.best.cost && (tie == nil || !tie(c.best, cc)) {
			return false
		}
	}
	c.best = cc
	return true
}

// invalidate drops everything computed so far. A context that was started
// stays started so it is not scheduled twice in the same pass.
func (c *OptimizationContext) invalidate() {
	c.generation++
	c.best = nil
	c.costed = make(map[CandidateKey]struct{})
	if c.state != OptStatePending {
		c.state = OptStateExploringChildren
	}
}

// reset prepares the context for a new search pass.
func (c *OptimizationContext) reset() {
	c.invalidate()
	c.state = OptStatePending
	c.children = nil
	c.childSet = make(map[*OptimizationContext]struct{})
}

func (c *OptimizationContext) String() string {
	s := fmt.Sprintf("%s%s %s", c.group, c.required, c.state)
	if c.best != nil {
		s += fmt.Sprintf(" best=#%d cost=%.2f", c.best.expr.id, c.best.cost)
	}
	return s
}

// CostContext is one fully costed way of producing a group's result under
// a required property. It is immutable.
type CostContext struct {
	expr     *MultiExpression
	ownCost  float64
	cost     float64
	provided *property.Provided
	children []*OptimizationContext

	generation uint64
}

// NewCostContext combines expr's own cost with the best costs of the given
// child contexts, which must all have a best.
func NewCostContext(
	ctx context.Context,
	expr *MultiExpression,
	ownCost float64,
	children []*OptimizationContext,
	provided *property.Provided,
	generation uint64,
) (*CostContext, error) {
	if len(children) != len(expr.children) {
		return nil, moerr.NewInternalError(ctx, "expression #%d has %d inputs, got %d child contexts",
			expr.id, len(expr.children), len(children))
	}
	if ownCost < 0 {
		return nil, moerr.NewInvalidInput(ctx, "negative cost %v for %s", ownCost, expr)
	}
	total := ownCost
	for i, child := range children {
		if child.best == nil {
			return nil, moerr.NewInternalError(ctx, "child %d of expression #%d has no plan", i, expr.id)
		}
		total += child.best.cost
	}
	return &CostContext{
		expr:       expr,
		ownCost:    ownCost,
		cost:       total,
		provided:   provided,
		children:   append([]*OptimizationContext(nil), children...),
		generation: generation,
	}, nil
}

func (cc *CostContext) Expr() *MultiExpression       { return cc.expr }
func (cc *CostContext) OwnCost() float64             { return cc.ownCost }
func (cc *CostContext) Cost() float64                { return cc.cost }
func (cc *CostContext) Provided() *property.Provided { return cc.provided }
func (cc *CostContext) Generation() uint64           { return cc.generation }
func (cc *CostContext) Children() []*OptimizationContext {
	return append([]*OptimizationContext(nil), cc.children...)
}
