// Copyright 2021 Matrix Origin
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
	"strings"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

// Plan is a physical operator tree read off the winners of a search.
type Plan struct {
	Expr     *MultiExpression
	Group    GroupID
	Required *property.Required
	Provided *property.Provided
	OwnCost  float64
	Cost     float64
	Children []*Plan
}

func (p *Plan) Operator() operator.Operator { return p.Expr.op }

// Walk visits p and its descendants in pre-order.
func (p *Plan) Walk(fn func(*Plan)) {
	fn(p)
	for _, c := range p.Children {
		c.Walk(fn)
	}
}

// String renders the plan as an indented tree.
func (p *Plan) String() string {
	var sb strings.Builder
	p.format(&sb, 0)
	return sb.String()
}

func (p *Plan) format(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(sb, "%s  cost=%.2f\n", p.Expr.op, p.Cost)
	for _, c := range p.Children {
		c.format(sb, depth+1)
	}
}

// BuildPlan extracts the best plan recorded for root.
func BuildPlan(ctx context.Context, root *OptimizationContext) (*Plan, error) {
	root = root.Resolve()
	if root.best == nil {
		return nil, moerr.NewNoPlanFound(ctx, root.required.String())
	}
	return buildPlan(ctx, root, make(map[*OptimizationContext]struct{}))
}

func buildPlan(ctx context.Context, octx *OptimizationContext, visiting map[*OptimizationContext]struct{}) (*Plan, error) {
	octx = octx.Resolve()
	best := octx.best
	if best == nil {
		return nil, moerr.NewInvalidState(ctx, "context %s lost its plan", octx)
	}
	if _, ok := visiting[octx]; ok {
		return nil, moerr.NewInvalidState(ctx, "plan cycle at %s", octx)
	}
	visiting[octx] = struct{}{}
	defer delete(visiting, octx)

	p := &Plan{
		Expr:     best.expr,
		Group:    octx.group,
		Required: octx.required,
		Provided: best.provided,
		OwnCost:  best.ownCost,
		Cost:     best.cost,
		Children: make([]*Plan, len(best.children)),
	}
	for i, child := range best.children {
		cp, err := buildPlan(ctx, child, visiting)
		if err != nil {
			return nil, err
		}
		p.Children[i] = cp
	}
	return p, nil
}
