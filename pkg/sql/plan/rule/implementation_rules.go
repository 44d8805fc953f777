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

package rule

import (
	"context"

	"github.com/samber/lo"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/pattern"
)

// implementRule turns a logical operator into one physical operator with
// the same payload and inputs.
type implementRule struct {
	baseRule
	physical operator.OpType
	match    func(b *memo.Binding) bool
}

func newImplementRule(name string, logical, physical operator.OpType, match func(*memo.Binding) bool) *implementRule {
	return &implementRule{
		baseRule: baseRule{
			name:    name,
			typ:     TypeImplementation,
			pattern: pattern.NewPattern(pattern.Operand(logical), pattern.Tree()),
			promise: 1,
		},
		physical: physical,
		match:    match,
	}
}

func (r *implementRule) Match(b *memo.Binding) bool {
	return r.match == nil || r.match(b)
}

func (r *implementRule) Apply(_ context.Context, b *memo.Binding) ([]*memo.Node, error) {
	children := lo.Map(b.Children, func(c *memo.Binding, _ int) *memo.Node { return c.Ref() })
	op := operator.New(r.physical, b.Op().Payload)
	return []*memo.Node{memo.NewNode(op, children...)}, nil
}

func hasJoinKeys(b *memo.Binding) bool {
	p, ok := b.Op().Payload.(*operator.JoinPayload)
	return ok && len(p.LeftKeys) > 0
}

func NewImplementScan() Rule {
	return newImplementRule("ImplementScan", operator.OpLogicalScan, operator.OpPhysicalTableScan, nil)
}

func NewImplementFilter() Rule {
	return newImplementRule("ImplementFilter", operator.OpLogicalFilter, operator.OpPhysicalFilter, nil)
}

func NewImplementProject() Rule {
	return newImplementRule("ImplementProject", operator.OpLogicalProject, operator.OpPhysicalProject, nil)
}

// NewImplementHashJoin needs at least one equality key.
func NewImplementHashJoin() Rule {
	return newImplementRule("ImplementHashJoin", operator.OpLogicalJoin, operator.OpPhysicalHashJoin, hasJoinKeys)
}

// NewImplementMergeJoin needs equality keys and an inner join.
func NewImplementMergeJoin() Rule {
	return newImplementRule("ImplementMergeJoin", operator.OpLogicalJoin, operator.OpPhysicalMergeJoin,
		func(b *memo.Binding) bool { return hasJoinKeys(b) && isInnerJoin(b) })
}

func NewImplementNestedLoopJoin() Rule {
	return newImplementRule("ImplementNestedLoopJoin", operator.OpLogicalJoin, operator.OpPhysicalNestedLoopJoin, nil)
}

func NewImplementHashAgg() Rule {
	return newImplementRule("ImplementHashAgg", operator.OpLogicalAggregate, operator.OpPhysicalHashAgg, nil)
}

func NewImplementStreamAgg() Rule {
	return newImplementRule("ImplementStreamAgg", operator.OpLogicalAggregate, operator.OpPhysicalStreamAgg, nil)
}

func NewImplementLimit() Rule {
	return newImplementRule("ImplementLimit", operator.OpLogicalLimit, operator.OpPhysicalLimit, nil)
}
