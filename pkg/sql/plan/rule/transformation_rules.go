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
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

var (
	operandFilter  = pattern.Operand(operator.OpLogicalFilter)
	operandProject = pattern.Operand(operator.OpLogicalProject)
	operandJoin    = pattern.Operand(operator.OpLogicalJoin)
)

func joinPayload(b *memo.Binding) *operator.JoinPayload {
	return b.Op().Payload.(*operator.JoinPayload)
}

func isInnerJoin(b *memo.Binding) bool {
	p, ok := b.Op().Payload.(*operator.JoinPayload)
	return ok && p.Type == operator.JoinInner
}

// JoinCommutativity swaps the inputs of an inner join.
type JoinCommutativity struct{ baseRule }

func NewJoinCommutativity() *JoinCommutativity {
	return &JoinCommutativity{baseRule{
		name:    "JoinCommutativity",
		typ:     TypeTransformation,
		pattern: pattern.NewPattern(operandJoin, pattern.Leaf(), pattern.Leaf()),
		promise: 10,
	}}
}

func (r *JoinCommutativity) Match(b *memo.Binding) bool { return isInnerJoin(b) }

func (r *JoinCommutativity) Apply(_ context.Context, b *memo.Binding) ([]*memo.Node, error) {
	swapped := operator.New(operator.OpLogicalJoin, joinPayload(b).Swapped())
	return []*memo.Node{memo.NewNode(swapped, b.Child(1).Ref(), b.Child(0).Ref())}, nil
}

// JoinAssociativity rotates (A join B) join C into A join (B join C) when
// the upper join only reads B on its left side.
type JoinAssociativity struct{ baseRule }

func NewJoinAssociativity() *JoinAssociativity {
	return &JoinAssociativity{baseRule{
		name: "JoinAssociativity",
		typ:  TypeTransformation,
		pattern: pattern.NewPattern(operandJoin,
			pattern.NewPattern(operandJoin, pattern.Leaf(), pattern.Leaf()),
			pattern.Leaf()),
		promise: 5,
	}}
}

func (r *JoinAssociativity) Match(b *memo.Binding) bool {
	if !isInnerJoin(b) || !isInnerJoin(b.Child(0)) {
		return false
	}
	top := joinPayload(b)
	if len(top.LeftKeys) == 0 {
		return false
	}
	bCols := b.Child(0).Child(1).Logical().Columns
	return property.MakeColSet(top.LeftKeys...).SubsetOf(bCols)
}

func (r *JoinAssociativity) Apply(_ context.Context, b *memo.Binding) ([]*memo.Node, error) {
	top, lower := joinPayload(b), joinPayload(b.Child(0))
	a, bb, c := b.Child(0).Child(0), b.Child(0).Child(1), b.Child(1)

	rightJoin := memo.NewNode(operator.New(operator.OpLogicalJoin, &operator.JoinPayload{
		Type:        operator.JoinInner,
		LeftKeys:    top.LeftKeys,
		RightKeys:   top.RightKeys,
		Selectivity: top.Selectivity,
	}), bb.Ref(), c.Ref())
	newTop := memo.NewNode(operator.New(operator.OpLogicalJoin, &operator.JoinPayload{
		Type:        operator.JoinInner,
		LeftKeys:    lower.LeftKeys,
		RightKeys:   lower.RightKeys,
		Selectivity: lower.Selectivity,
	}), a.Ref(), rightJoin)
	return []*memo.Node{newTop}, nil
}

// FilterPushdownThroughJoin moves a filter below a join onto the input
// that provides every column it reads. Only inner joins accept filters on
// their right input. It produces nothing when the filter needs both inputs.
type FilterPushdownThroughJoin struct{ baseRule }

func NewFilterPushdownThroughJoin() *FilterPushdownThroughJoin {
	return &FilterPushdownThroughJoin{baseRule{
		name:    "FilterPushdownThroughJoin",
		typ:     TypeTransformation,
		pattern: pattern.NewPattern(operandFilter, pattern.NewPattern(operandJoin, pattern.Leaf(), pattern.Leaf())),
		promise: 20,
	}}
}

func (r *FilterPushdownThroughJoin) Apply(_ context.Context, b *memo.Binding) ([]*memo.Node, error) {
	f := b.Op()
	cols := property.MakeColSet(f.Payload.(*operator.FilterPayload).Columns...)
	j := b.Child(0)
	jp := joinPayload(j)
	left, right := j.Child(0), j.Child(1)

	joinOp := operator.New(operator.OpLogicalJoin, jp)
	switch {
	case cols.SubsetOf(left.Logical().Columns):
		return []*memo.Node{memo.NewNode(joinOp, memo.NewNode(f, left.Ref()), right.Ref())}, nil
	case cols.SubsetOf(right.Logical().Columns) && jp.Type == operator.JoinInner:
		return []*memo.Node{memo.NewNode(joinOp, left.Ref(), memo.NewNode(f, right.Ref()))}, nil
	}
	return nil, nil
}

// FilterMerge combines two stacked filters into one.
type FilterMerge struct{ baseRule }

func NewFilterMerge() *FilterMerge {
	return &FilterMerge{baseRule{
		name:    "FilterMerge",
		typ:     TypeTransformation,
		pattern: pattern.NewPattern(operandFilter, pattern.NewPattern(operandFilter, pattern.Leaf())),
		promise: 20,
	}}
}

func (r *FilterMerge) Apply(_ context.Context, b *memo.Binding) ([]*memo.Node, error) {
	outer := b.Op().Payload.(*operator.FilterPayload)
	inner := b.Child(0).Op().Payload.(*operator.FilterPayload)
	cols := property.MakeColSet(outer.Columns...).Union(property.MakeColSet(inner.Columns...))
	merged := &operator.FilterPayload{
		Predicate:   "(" + outer.Predicate + ") and (" + inner.Predicate + ")",
		Columns:     cols.Ordered(),
		Selectivity: outer.Selectivity * inner.Selectivity,
	}
	op := operator.New(operator.OpLogicalFilter, merged)
	return []*memo.Node{memo.NewNode(op, b.Child(0).Child(0).Ref())}, nil
}

// ProjectElimination drops a projection that keeps every input column.
// Its output is the input group itself, so the two groups get merged.
type ProjectElimination struct{ baseRule }

func NewProjectElimination() *ProjectElimination {
	return &ProjectElimination{baseRule{
		name:    "ProjectElimination",
		typ:     TypeTransformation,
		pattern: pattern.NewPattern(operandProject, pattern.Leaf()),
		promise: 30,
	}}
}

func (r *ProjectElimination) Match(b *memo.Binding) bool {
	cols := b.Op().Payload.(*operator.ProjectPayload).Columns
	input := b.Child(0).Logical().Columns
	return len(lo.Uniq(cols)) == len(cols) && property.MakeColSet(cols...).Equals(input)
}

func (r *ProjectElimination) Apply(_ context.Context, b *memo.Binding) ([]*memo.Node, error) {
	return []*memo.Node{b.Child(0).Ref()}, nil
}
