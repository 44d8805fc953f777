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

package cost

import (
	"math"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

const (
	defaultFilterSelectivity = 0.33
	aggregateReduction       = 0.1
)

// Factors are per-row weights of the cost formulas.
type Factors struct {
	Scan      float64
	CPU       float64
	HashBuild float64
	HashProbe float64
	Merge     float64
	NestLoop  float64
	Sort      float64
	Network   float64
}

func DefaultFactors() Factors {
	return Factors{
		Scan:      1.0,
		CPU:       0.1,
		HashBuild: 1.5,
		HashProbe: 0.5,
		Merge:     0.3,
		NestLoop:  0.05,
		Sort:      0.2,
		Network:   1.0,
	}
}

// Model is a simple row-count based cost model and property deriver for
// the operators in package operator.
type Model struct {
	Factors Factors
	// Nodes is the cluster size, used to price broadcasts.
	Nodes int
}

func NewModel() *Model {
	return &Model{Factors: DefaultFactors(), Nodes: 3}
}

func rowsOf(l *property.Logical) float64 {
	if l == nil || l.RowCount < 1 {
		return 1
	}
	return l.RowCount
}

// ComputeCost returns the cost of expr alone, excluding its inputs.
func (m *Model) ComputeCost(expr *memo.MultiExpression, logical *property.Logical, children []*property.Logical) float64 {
	f := m.Factors
	out := rowsOf(logical)
	in := func(i int) float64 {
		if i >= len(children) {
			return 1
		}
		return rowsOf(children[i])
	}
	switch expr.OpType() {
	case operator.OpPhysicalTableScan:
		return out * f.Scan
	case operator.OpPhysicalFilter:
		return in(0) * f.CPU
	case operator.OpPhysicalProject:
		return in(0) * f.CPU / 2
	case operator.OpPhysicalHashJoin:
		return in(1)*f.HashBuild + in(0)*f.HashProbe + out*f.CPU
	case operator.OpPhysicalMergeJoin:
		return (in(0)+in(1))*f.Merge + out*f.CPU
	case operator.OpPhysicalNestedLoopJoin:
		return in(0)*in(1)*f.NestLoop + out*f.CPU
	case operator.OpPhysicalHashAgg:
		return in(0) * (f.HashBuild + f.CPU)
	case operator.OpPhysicalStreamAgg:
		return in(0) * f.CPU * 4
	case operator.OpPhysicalLimit:
		return out * f.CPU
	case operator.OpPhysicalSort:
		n := in(0)
		return n * math.Log2(n+2) * f.Sort
	case operator.OpPhysicalExchange:
		p := expr.Payload().(*operator.ExchangePayload)
		n := in(0)
		c := n * f.Network
		if p.Distribution.Type == property.DistributionReplicated {
			c *= float64(max(m.Nodes, 1))
		}
		if p.PreserveOrder {
			c += n * f.CPU
		}
		return c
	}
	return 0
}

// DeriveLogical computes the logical property of a group from its first
// expression.
func (m *Model) DeriveLogical(op operator.Operator, children []*property.Logical) (*property.Logical, error) {
	arity := func(n int) error {
		if len(children) != n {
			return moerr.NewInvalidInputNoCtx("%s expects %d inputs, got %d", op.Type, n, len(children))
		}
		return nil
	}
	switch op.Type {
	case operator.OpLogicalScan, operator.OpPhysicalTableScan:
		if err := arity(0); err != nil {
			return nil, err
		}
		p, ok := op.Payload.(*operator.ScanPayload)
		if !ok {
			return nil, moerr.NewInvalidInputNoCtx("scan without table")
		}
		return &property.Logical{Columns: property.MakeColSet(p.Columns...), RowCount: p.RowCount}, nil

	case operator.OpLogicalFilter, operator.OpPhysicalFilter:
		if err := arity(1); err != nil {
			return nil, err
		}
		sel := defaultFilterSelectivity
		if p, ok := op.Payload.(*operator.FilterPayload); ok && p.Selectivity > 0 && p.Selectivity <= 1 {
			sel = p.Selectivity
		}
		c := children[0]
		return &property.Logical{Columns: c.Columns, RowCount: c.RowCount * sel, EquivClasses: c.EquivClasses}, nil

	case operator.OpLogicalProject, operator.OpPhysicalProject:
		if err := arity(1); err != nil {
			return nil, err
		}
		p, ok := op.Payload.(*operator.ProjectPayload)
		if !ok {
			return nil, moerr.NewInvalidInputNoCtx("project without columns")
		}
		return &property.Logical{Columns: property.MakeColSet(p.Columns...), RowCount: children[0].RowCount}, nil

	case operator.OpLogicalJoin, operator.OpPhysicalHashJoin, operator.OpPhysicalMergeJoin, operator.OpPhysicalNestedLoopJoin:
		if err := arity(2); err != nil {
			return nil, err
		}
		p, ok := op.Payload.(*operator.JoinPayload)
		if !ok {
			return nil, moerr.NewInvalidInputNoCtx("join without condition")
		}
		return deriveJoin(p, children[0], children[1]), nil

	case operator.OpLogicalAggregate, operator.OpPhysicalHashAgg, operator.OpPhysicalStreamAgg:
		if err := arity(1); err != nil {
			return nil, err
		}
		p, ok := op.Payload.(*operator.AggregatePayload)
		if !ok {
			return nil, moerr.NewInvalidInputNoCtx("aggregate without keys")
		}
		rows := 1.0
		if len(p.GroupBy) > 0 {
			rows = math.Max(1, children[0].RowCount*aggregateReduction)
		}
		cols := property.MakeColSet(p.GroupBy...).Union(property.MakeColSet(p.Aggs...))
		return &property.Logical{Columns: cols, RowCount: rows}, nil

	case operator.OpLogicalLimit, operator.OpPhysicalLimit:
		if err := arity(1); err != nil {
			return nil, err
		}
		p, ok := op.Payload.(*operator.LimitPayload)
		if !ok {
			return nil, moerr.NewInvalidInputNoCtx("limit without count")
		}
		c := children[0]
		return &property.Logical{Columns: c.Columns, RowCount: math.Min(float64(p.Count), c.RowCount), EquivClasses: c.EquivClasses}, nil

	case operator.OpPhysicalSort, operator.OpPhysicalExchange:
		if err := arity(1); err != nil {
			return nil, err
		}
		return children[0], nil
	}
	return nil, moerr.NewInvalidInputNoCtx("no logical derivation for %s", op.Type)
}

func deriveJoin(p *operator.JoinPayload, left, right *property.Logical) *property.Logical {
	l, r := left.RowCount, right.RowCount
	sel := p.Selectivity
	if sel <= 0 || sel > 1 {
		sel = 1
		if len(p.LeftKeys) > 0 {
			sel = 1 / math.Max(1, math.Max(l, r))
		}
	}
	inner := l * r * sel

	out := &property.Logical{}
	switch p.Type {
	case operator.JoinSemi:
		out.Columns = left.Columns
		out.RowCount = math.Min(l, inner)
		out.EquivClasses = append(out.EquivClasses, left.EquivClasses...)
		return out
	case operator.JoinLeft:
		out.RowCount = math.Max(l, inner)
	default:
		out.RowCount = inner
	}
	out.Columns = left.Columns.Union(right.Columns)
	for _, c := range append(append([]property.ColSet(nil), left.EquivClasses...), right.EquivClasses...) {
		cols := c.Ordered()
		if len(cols) < 2 {
			continue
		}
		for _, other := range cols[1:] {
			out.AddEquivalence(cols[0], other)
		}
	}
	if p.Type == operator.JoinInner {
		for i := range p.LeftKeys {
			if i < len(p.RightKeys) {
				out.AddEquivalence(p.LeftKeys[i], p.RightKeys[i])
			}
		}
	}
	return out
}
