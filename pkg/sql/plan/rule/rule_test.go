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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/cost"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/pattern"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

func scan(table string, cols ...property.ColumnID) *memo.Node {
	return memo.NewNode(operator.New(operator.OpLogicalScan,
		&operator.ScanPayload{Table: table, Columns: cols, RowCount: 100}))
}

func filter(pred string, child *memo.Node, cols ...property.ColumnID) *memo.Node {
	return memo.NewNode(operator.New(operator.OpLogicalFilter,
		&operator.FilterPayload{Predicate: pred, Columns: cols, Selectivity: 0.5}), child)
}

func join(typ operator.JoinType, lk, rk []property.ColumnID, left, right *memo.Node) *memo.Node {
	return memo.NewNode(operator.New(operator.OpLogicalJoin,
		&operator.JoinPayload{Type: typ, LeftKeys: lk, RightKeys: rk}), left, right)
}

func cols(ids ...property.ColumnID) []property.ColumnID { return ids }

// fire applies r to every binding of the root's first expression and
// returns what it produced.
func fire(t *testing.T, tree *memo.Node, r Rule) (*memo.Memo, []*memo.Node) {
	ctx := context.Background()
	m := memo.NewMemo(cost.NewModel())
	root, err := m.Init(ctx, tree)
	require.NoError(t, err)
	var out []*memo.Node
	for iter := memo.NewExprIter(m, root.Exprs()[0], r.Pattern()); iter.Matched(); iter.Next() {
		b := iter.Binding()
		if !r.Match(b) {
			continue
		}
		nodes, err := r.Apply(ctx, b)
		require.NoError(t, err)
		out = append(out, nodes...)
	}
	return m, out
}

type stubRule struct {
	baseRule
}

func stub(name string, typ Type, promise int) Rule {
	return &stubRule{baseRule{
		name:    name,
		typ:     typ,
		pattern: pattern.NewPattern(pattern.Operand(operator.OpLogicalJoin), pattern.Leaf(), pattern.Leaf()),
		promise: promise,
	}}
}

func (r *stubRule) Apply(context.Context, *memo.Binding) ([]*memo.Node, error) { return nil, nil }

func TestSetAdd(t *testing.T) {
	ctx := context.Background()
	s := NewSet()
	require.NoError(t, s.Add(ctx, stub("a", TypeTransformation, 1), stub("b", TypeImplementation, 1)))
	require.Equal(t, 2, s.Len())
	require.Equal(t, uint32(1), s.Lookup("b").ID)

	err := s.Add(ctx, stub("a", TypeTransformation, 1))
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
	require.Error(t, s.Add(ctx, nil))
	require.Error(t, s.Add(ctx, stub("c", Type(9), 1)))

	bad := &stubRule{baseRule{name: "bad", typ: TypeTransformation, pattern: pattern.NewPattern(pattern.Operand(operator.OpLogicalJoin), pattern.Tree(), pattern.Leaf())}}
	require.Error(t, s.Add(ctx, bad))
}

func TestSetConfigure(t *testing.T) {
	ctx := context.Background()
	s := NewSet()
	require.NoError(t, s.Add(ctx,
		stub("low", TypeTransformation, 1),
		stub("high", TypeTransformation, 5),
		stub("tie", TypeTransformation, 1),
		stub("off", TypeTransformation, 9),
	))
	s.AddEnforcers(SortEnforcer{})

	c := s.Configure(map[string]int{"tie": 3, "ghost": 1}, []string{"off"})
	names := make([]string, 0, c.Len())
	for _, r := range c.Rules() {
		names = append(names, r.Name())
	}
	require.Equal(t, []string{"high", "tie", "low"}, names)
	require.Nil(t, c.Lookup("off"))
	require.Equal(t, uint32(0), c.Lookup("high").ID)
	require.Equal(t, 3, c.Lookup("tie").Priority)
	require.Len(t, c.Enforcers(), 1)
	require.Empty(t, c.WithoutEnforcers().Enforcers())

	// The source set is untouched.
	require.Equal(t, 4, s.Len())
	require.Equal(t, uint32(0), s.Lookup("low").ID)
}

func TestCandidates(t *testing.T) {
	ctx := context.Background()
	s, err := DefaultSet(ctx)
	require.NoError(t, err)
	s = s.Configure(nil, nil)

	m := memo.NewMemo(cost.NewModel())
	root, err := m.Init(ctx, join(operator.JoinInner, cols(1), cols(2), scan("t1", 1), scan("t2", 2)))
	require.NoError(t, err)
	j := root.Exprs()[0]

	transforms := s.Candidates(TypeTransformation, j)
	require.Len(t, transforms, 2)
	require.Equal(t, "JoinCommutativity", transforms[0].Name())
	require.Equal(t, "JoinAssociativity", transforms[1].Name())

	impls := s.Candidates(TypeImplementation, j)
	require.Len(t, impls, 3)
	for _, r := range impls {
		require.Equal(t, TypeImplementation, r.Type())
	}
	require.Empty(t, s.Candidates(TypeTransformation, m.Group(j.Child(0)).Exprs()[0]))
}

func TestJoinCommutativity(t *testing.T) {
	_, out := fire(t, join(operator.JoinInner, cols(1), cols(2), scan("t1", 1), scan("t2", 2)), NewJoinCommutativity())
	require.Len(t, out, 1)
	require.Equal(t, "LogicalJoin inner (2)=(1)(G2, G1)", out[0].String())

	_, out = fire(t, join(operator.JoinLeft, cols(1), cols(2), scan("t1", 1), scan("t2", 2)), NewJoinCommutativity())
	require.Empty(t, out)
}

func TestJoinAssociativity(t *testing.T) {
	tree := join(operator.JoinInner, cols(2), cols(3),
		join(operator.JoinInner, cols(1), cols(2), scan("a", 1), scan("b", 2)),
		scan("c", 3))
	_, out := fire(t, tree, NewJoinAssociativity())
	require.Len(t, out, 1)
	require.Equal(t, "LogicalJoin inner (1)=(2)(G1, LogicalJoin inner (2)=(3)(G2, G4))", out[0].String())

	// The upper join reads a, which the rotated inner join would lose.
	tree = join(operator.JoinInner, cols(1), cols(3),
		join(operator.JoinInner, cols(1), cols(2), scan("a", 1), scan("b", 2)),
		scan("c", 3))
	_, out = fire(t, tree, NewJoinAssociativity())
	require.Empty(t, out)
}

func TestFilterPushdownThroughJoin(t *testing.T) {
	r := NewFilterPushdownThroughJoin()
	j := func(typ operator.JoinType) *memo.Node {
		return join(typ, cols(1), cols(2), scan("t1", 1), scan("t2", 2))
	}

	_, out := fire(t, filter("a", j(operator.JoinInner), 1), r)
	require.Len(t, out, 1)
	require.Equal(t, operator.OpLogicalJoin, out[0].Op.Type)
	require.Equal(t, operator.OpLogicalFilter, out[0].Children[0].Op.Type)
	require.True(t, out[0].Children[1].IsGroupRef())

	_, out = fire(t, filter("b", j(operator.JoinInner), 2), r)
	require.Len(t, out, 1)
	require.Equal(t, operator.OpLogicalFilter, out[0].Children[1].Op.Type)

	_, out = fire(t, filter("b", j(operator.JoinLeft), 2), r)
	require.Empty(t, out)
	_, out = fire(t, filter("ab", j(operator.JoinInner), 1, 2), r)
	require.Empty(t, out)
}

func TestFilterMerge(t *testing.T) {
	_, out := fire(t, filter("x", filter("y", scan("t1", 1, 2), 2), 1), NewFilterMerge())
	require.Len(t, out, 1)
	p := out[0].Op.Payload.(*operator.FilterPayload)
	require.Equal(t, "(x) and (y)", p.Predicate)
	require.Equal(t, cols(1, 2), p.Columns)
	require.Equal(t, 0.25, p.Selectivity)
	require.True(t, out[0].Children[0].IsGroupRef())
}

func TestProjectElimination(t *testing.T) {
	project := func(child *memo.Node, ids ...property.ColumnID) *memo.Node {
		return memo.NewNode(operator.New(operator.OpLogicalProject, &operator.ProjectPayload{Columns: ids}), child)
	}
	m, out := fire(t, project(scan("t1", 1, 2), 2, 1), NewProjectElimination())
	require.Len(t, out, 1)
	require.True(t, out[0].IsGroupRef())
	require.Equal(t, m.Group(m.Root().Exprs()[0].Child(0)).ID(), out[0].Group)

	_, out = fire(t, project(scan("t1", 1, 2), 1), NewProjectElimination())
	require.Empty(t, out)
	_, out = fire(t, project(scan("t1", 1, 2), 1, 2, 2), NewProjectElimination())
	require.Empty(t, out)
}

func TestImplementationRules(t *testing.T) {
	keyed := join(operator.JoinInner, cols(1), cols(2), scan("t1", 1), scan("t2", 2))
	cross := join(operator.JoinInner, nil, nil, scan("t1", 1), scan("t2", 2))
	left := join(operator.JoinLeft, cols(1), cols(2), scan("t1", 1), scan("t2", 2))

	_, out := fire(t, keyed, NewImplementHashJoin())
	require.Len(t, out, 1)
	require.Equal(t, operator.OpPhysicalHashJoin, out[0].Op.Type)
	require.Len(t, out[0].Children, 2)
	require.True(t, out[0].Children[0].IsGroupRef())

	_, out = fire(t, cross, NewImplementHashJoin())
	require.Empty(t, out)
	_, out = fire(t, cross, NewImplementNestedLoopJoin())
	require.Len(t, out, 1)
	_, out = fire(t, left, NewImplementMergeJoin())
	require.Empty(t, out)

	_, out = fire(t, scan("t1", 1), NewImplementScan())
	require.Len(t, out, 1)
	require.Equal(t, operator.OpPhysicalTableScan, out[0].Op.Type)
	require.Empty(t, out[0].Children)
}

func TestEnforcers(t *testing.T) {
	sorted := property.NewRequired(property.HashedDistribution(1), property.Asc(1))

	op, child, ok := SortEnforcer{}.Enforce(sorted)
	require.True(t, ok)
	require.Equal(t, operator.OpPhysicalSort, op.Type)
	require.True(t, child.Ordering().Any())
	require.True(t, child.Distribution().Equal(property.HashedDistribution(1)))
	_, _, ok = SortEnforcer{}.Enforce(property.AnyRequired())
	require.False(t, ok)

	_, _, ok = ExchangeEnforcer{}.Enforce(sorted)
	require.False(t, ok)
	_, _, ok = ExchangeEnforcer{}.Enforce(property.AnyRequired())
	require.False(t, ok)

	gather := property.NewRequired(property.SingletonDistribution(), property.Asc(1))
	op, child, ok = ExchangeEnforcer{}.Enforce(gather)
	require.True(t, ok)
	require.True(t, op.Payload.(*operator.ExchangePayload).PreserveOrder)
	require.True(t, child.Equal(property.NewRequired(property.AnyDistribution(), property.Asc(1))))

	op, child, ok = ExchangeEnforcer{}.Enforce(property.AnyRequired().WithDistribution(property.ReplicatedDistribution()))
	require.True(t, ok)
	require.False(t, op.Payload.(*operator.ExchangePayload).PreserveOrder)
	require.True(t, child.Any())
}
