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

package cascades

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/config"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/cost"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/pattern"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/rule"
	"github.com/matrixorigin/mocascades/pkg/util/metric"
)

func scan(table string, rows float64, cols ...property.ColumnID) *memo.Node {
	return memo.NewNode(operator.New(operator.OpLogicalScan,
		&operator.ScanPayload{Table: table, Columns: cols, RowCount: rows}))
}

func filter(pred string, child *memo.Node, cols ...property.ColumnID) *memo.Node {
	return memo.NewNode(operator.New(operator.OpLogicalFilter,
		&operator.FilterPayload{Predicate: pred, Columns: cols, Selectivity: 0.5}), child)
}

func join(lk, rk property.ColumnID, left, right *memo.Node) *memo.Node {
	return memo.NewNode(operator.New(operator.OpLogicalJoin, &operator.JoinPayload{
		LeftKeys:  []property.ColumnID{lk},
		RightKeys: []property.ColumnID{rk},
	}), left, right)
}

func newRuleSet(t *testing.T, rules ...rule.Rule) *rule.Set {
	s := rule.NewSet()
	require.NoError(t, s.Add(context.Background(), rules...))
	return s
}

func defaultRuleSet(t *testing.T) *rule.Set {
	s, err := rule.DefaultSet(context.Background())
	require.NoError(t, err)
	return s
}

func newOptimizer(t *testing.T, rules *rule.Set, vars *config.SearchVariables, tree *memo.Node) *Optimizer {
	model := cost.NewModel()
	opt := New(rules, model, model, vars)
	_, err := opt.Init(context.Background(), tree)
	require.NoError(t, err)
	return opt
}

// requireCostsAdd checks every plan node costs its own cost plus its inputs.
func requireCostsAdd(t *testing.T, plan *memo.Plan) {
	plan.Walk(func(p *memo.Plan) {
		require.GreaterOrEqual(t, p.OwnCost, 0.0)
		sum := p.OwnCost
		for _, c := range p.Children {
			sum += c.Cost
		}
		require.InDelta(t, sum, p.Cost, 1e-9, "%s", p.Expr)
	})
}

func requireNoDuplicateExprs(t *testing.T, m *memo.Memo) {
	seen := make(map[uint64]memo.ExprID)
	for _, g := range m.Groups() {
		for _, e := range g.Exprs() {
			other, ok := seen[e.Fingerprint()]
			require.False(t, ok, "#%d duplicates #%d", e.ID(), other)
			seen[e.Fingerprint()] = e.ID()
		}
	}
}

// testRule is a rule built from functions.
type testRule struct {
	name    string
	typ     rule.Type
	pattern *pattern.Pattern
	promise int
	apply   func(b *memo.Binding) ([]*memo.Node, error)
}

func (r *testRule) Name() string              { return r.name }
func (r *testRule) Type() rule.Type           { return r.typ }
func (r *testRule) Pattern() *pattern.Pattern { return r.pattern }
func (r *testRule) Promise() int              { return r.promise }
func (r *testRule) Match(*memo.Binding) bool  { return true }
func (r *testRule) Apply(_ context.Context, b *memo.Binding) ([]*memo.Node, error) {
	return r.apply(b)
}

func onFilter(name string, promise int, apply func(b *memo.Binding) ([]*memo.Node, error)) *testRule {
	return &testRule{
		name:    name,
		typ:     rule.TypeTransformation,
		pattern: pattern.NewPattern(pattern.Operand(operator.OpLogicalFilter), pattern.Leaf()),
		promise: promise,
		apply:   apply,
	}
}

func TestScanFilter(t *testing.T) {
	ctx := context.Background()
	rules := newRuleSet(t,
		rule.NewFilterPushdownThroughJoin(),
		rule.NewImplementScan(),
		rule.NewImplementFilter(),
	)
	opt := newOptimizer(t, rules, nil, filter("a > 1", scan("t1", 100, 1), 1))

	plan, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.Equal(t, operator.OpPhysicalFilter, plan.Operator().Type)
	require.Len(t, plan.Children, 1)
	require.Equal(t, operator.OpPhysicalTableScan, plan.Children[0].Operator().Type)
	require.Equal(t, 100.0, plan.Children[0].Cost)
	require.Equal(t, 10.0, plan.OwnCost)
	require.Equal(t, plan.Children[0].Cost+plan.OwnCost, plan.Cost)

	m := opt.Memo()
	require.Equal(t, 2, m.NumGroups())
	require.Equal(t, 4, m.NumExprs())
	requireNoDuplicateExprs(t, m)

	stats := opt.Stats()
	require.Equal(t, 1, stats.Passes)
	require.Equal(t, 3, stats.RuleApplications)
	require.False(t, stats.BudgetExhausted)
	require.Same(t, plan, opt.BestPlan())
}

func TestContextsAreMemoized(t *testing.T) {
	ctx := context.Background()
	opt := newOptimizer(t, defaultRuleSet(t), nil, filter("a > 1", scan("t1", 100, 1), 1))
	plan, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)

	require.Same(t, opt.RootContext(), opt.Root().LookupOptContext(property.AnyRequired()))
	child, created := opt.Memo().Group(plan.Children[0].Group).EnsureOptContext(property.AnyRequired())
	require.False(t, created)
	require.Same(t, opt.RootContext().Best().Children()[0], child)
	require.Equal(t, memo.OptStateDone, child.State())
	require.Equal(t, 2, opt.Memo().NumOptContexts())

	// A second run over the unchanged memo reuses the finished contexts.
	again, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.Equal(t, plan.Cost, again.Cost)
	require.Equal(t, 0, opt.Stats().ContextsCreated)
}

func TestThreeWayJoin(t *testing.T) {
	ctx := context.Background()
	rules := defaultRuleSet(t)
	tree := join(2, 3,
		join(1, 2, scan("a", 1000, 1), scan("b", 100, 2)),
		scan("c", 10, 3))
	opt := newOptimizer(t, rules, nil, tree)

	required := property.NewRequired(property.SingletonDistribution(), property.Asc(1))
	plan, err := opt.Optimize(ctx, required)
	require.NoError(t, err)
	require.True(t, plan.Provided.Satisfies(required))
	requireCostsAdd(t, plan)
	requireNoDuplicateExprs(t, opt.Memo())

	stats := opt.Stats()
	require.Greater(t, stats.NewExprs, 0)
	require.LessOrEqual(t, stats.RuleApplications, opt.Memo().NumExprs()*opt.Rules().Len())
	for _, g := range opt.Memo().Groups() {
		keys := make(map[string]struct{})
		for _, octx := range g.OptContexts() {
			_, dup := keys[octx.Required().Key()]
			require.False(t, dup)
			keys[octx.Required().Key()] = struct{}{}
		}
	}
}

func TestMergedJoinOrdersShareContexts(t *testing.T) {
	ctx := context.Background()
	rules := newRuleSet(t, rule.DefaultImplementationRules()...)
	rules.AddEnforcers(rule.DefaultEnforcers()...)
	opt := newOptimizer(t, rules, nil, join(1, 2, scan("a", 1000, 1), scan("b", 100, 2)))
	m := opt.Memo()

	first, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	root := opt.Root()
	left, right := root.Exprs()[0].Child(0), root.Exprs()[0].Child(1)

	swapped := memo.NewNode(operator.New(operator.OpLogicalJoin, &operator.JoinPayload{
		LeftKeys:  []property.ColumnID{2},
		RightKeys: []property.ColumnID{1},
	}), memo.GroupRef(right), memo.GroupRef(left))
	e, created, err := m.Insert(ctx, swapped, 0)
	require.NoError(t, err)
	require.True(t, created)
	other := e.Group()
	require.NotEqual(t, root.ID(), other)
	otherCtx, _ := m.Group(other).EnsureOptContext(property.AnyRequired())

	survivor, err := m.MergeGroups(ctx, root.ID(), other)
	require.NoError(t, err)
	require.Equal(t, root.ID(), survivor)
	require.Len(t, m.Group(survivor).OptContexts(), 1)
	require.Same(t, opt.RootContext(), otherCtx.Resolve())

	second, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.LessOrEqual(t, second.Cost, first.Cost)
	requireCostsAdd(t, second)

	n := 0
	for _, octx := range m.Group(survivor).OptContexts() {
		if octx.Required().Any() {
			n++
		}
	}
	require.Equal(t, 1, n)
}

func TestProjectEliminationMergesGroups(t *testing.T) {
	ctx := context.Background()
	rules := newRuleSet(t,
		rule.NewProjectElimination(),
		rule.NewImplementScan(),
		rule.NewImplementProject(),
	)
	project := memo.NewNode(operator.New(operator.OpLogicalProject,
		&operator.ProjectPayload{Columns: []property.ColumnID{2, 1}}), scan("t1", 100, 1, 2))
	opt := newOptimizer(t, rules, nil, project)

	plan, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.Equal(t, operator.OpPhysicalTableScan, plan.Operator().Type)
	require.Equal(t, 100.0, plan.Cost)
	require.Equal(t, 1, opt.Memo().NumGroups())

	stats := opt.Stats()
	require.Equal(t, 2, stats.Passes)
	require.Equal(t, 1, stats.GroupMerges)
}

func TestMaxPassesReachedWithPendingMerge(t *testing.T) {
	ctx := context.Background()
	rules := newRuleSet(t,
		rule.NewProjectElimination(),
		rule.NewImplementScan(),
		rule.NewImplementProject(),
	)
	project := memo.NewNode(operator.New(operator.OpLogicalProject,
		&operator.ProjectPayload{Columns: []property.ColumnID{2, 1}}), scan("t1", 100, 1, 2))
	vars := config.NewSearchVariables()
	vars.MaxPasses = 1
	opt := newOptimizer(t, rules, vars, project)

	plan, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.Equal(t, operator.OpPhysicalTableScan, plan.Operator().Type)
	require.Equal(t, 100.0, plan.Cost)

	stats := opt.Stats()
	require.Equal(t, 1, stats.Passes)
	require.Equal(t, 1, stats.GroupMerges)
	require.True(t, stats.BudgetExhausted)
	require.Equal(t, memo.OptStateDone, opt.RootContext().State())

	// A later run finishes the search.
	plan, err = opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.Equal(t, 100.0, plan.Cost)
	require.False(t, opt.Stats().BudgetExhausted)
}

func TestMalformedRuleOutputIsRejected(t *testing.T) {
	ctx := context.Background()
	tree := func() *memo.Node { return join(1, 3, scan("t1", 100, 1, 2), scan("t2", 10, 3)) }
	implementations := []rule.Rule{rule.NewImplementScan(), rule.NewImplementHashJoin()}

	baseline := newOptimizer(t, newRuleSet(t, implementations...), nil, tree())
	want, err := baseline.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)

	oneInput := &testRule{
		name:    "OneInputJoin",
		typ:     rule.TypeTransformation,
		pattern: pattern.NewPattern(pattern.Operand(operator.OpLogicalJoin), pattern.Leaf(), pattern.Leaf()),
		promise: 1,
		apply: func(b *memo.Binding) ([]*memo.Node, error) {
			return []*memo.Node{memo.NewNode(b.Op(), b.Child(0).Ref())}, nil
		},
	}
	opt := newOptimizer(t, newRuleSet(t, append([]rule.Rule{oneInput}, implementations...)...), nil, tree())
	plan, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.Equal(t, want.Cost, plan.Cost)
	require.Equal(t, 1, opt.Stats().RuleFailures)
	require.Equal(t, baseline.Memo().String(), opt.Memo().String())
}

func TestNoPlanFound(t *testing.T) {
	ctx := context.Background()
	singleton := property.AnyRequired().WithDistribution(property.SingletonDistribution())

	opt := newOptimizer(t, newRuleSet(t, rule.NewImplementScan()), nil, scan("t1", 100, 1))
	before := testutil.ToFloat64(metric.OptimizerNoPlanCounter)
	plan, err := opt.Optimize(ctx, singleton)
	require.Nil(t, plan)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNoPlanFound))
	require.Equal(t, before+1, testutil.ToFloat64(metric.OptimizerNoPlanCounter))

	// The same query is feasible once an exchange may be added.
	rules := newRuleSet(t, rule.NewImplementScan())
	rules.AddEnforcers(rule.ExchangeEnforcer{})
	opt = newOptimizer(t, rules, nil, scan("t1", 100, 1))
	plan, err = opt.Optimize(ctx, singleton)
	require.NoError(t, err)
	require.Equal(t, operator.OpPhysicalExchange, plan.Operator().Type)
	require.Equal(t, 200.0, plan.Cost)

	vars := config.NewSearchVariables()
	vars.EnableEnforcers = false
	opt = newOptimizer(t, rules, vars, scan("t1", 100, 1))
	_, err = opt.Optimize(ctx, singleton)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNoPlanFound))
}

func TestEnforcers(t *testing.T) {
	ctx := context.Background()
	tree := func() *memo.Node { return filter("a > 1", scan("t1", 100, 1), 1) }

	opt := newOptimizer(t, defaultRuleSet(t), nil, tree())
	plan, err := opt.Optimize(ctx, property.AnyRequired().WithDistribution(property.SingletonDistribution()))
	require.NoError(t, err)
	require.Equal(t, operator.OpPhysicalExchange, plan.Operator().Type)
	require.Equal(t, operator.OpPhysicalFilter, plan.Children[0].Operator().Type)
	require.InDelta(t, 160.0, plan.Cost, 1e-9)
	requireCostsAdd(t, plan)

	sorted := property.NewRequired(property.AnyDistribution(), property.Asc(1))
	opt = newOptimizer(t, defaultRuleSet(t), nil, tree())
	plan, err = opt.Optimize(ctx, sorted)
	require.NoError(t, err)
	require.Equal(t, operator.OpPhysicalSort, plan.Operator().Type)
	require.True(t, plan.Provided.Satisfies(sorted))
	requireCostsAdd(t, plan)
}

func TestRuleFailuresAreContained(t *testing.T) {
	ctx := context.Background()
	panics := onFilter("Panics", 5, func(*memo.Binding) ([]*memo.Node, error) {
		panic("boom")
	})
	physical := onFilter("ProducesPhysical", 4, func(b *memo.Binding) ([]*memo.Node, error) {
		return []*memo.Node{memo.NewNode(operator.New(operator.OpPhysicalFilter, b.Op().Payload), b.Child(0).Ref())}, nil
	})
	rules := newRuleSet(t, panics, physical, rule.NewImplementScan(), rule.NewImplementFilter())
	opt := newOptimizer(t, rules, nil, filter("a > 1", scan("t1", 100, 1), 1))

	before := testutil.ToFloat64(metric.OptimizerRuleFailedCounter)
	plan, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.Equal(t, 110.0, plan.Cost)
	require.Equal(t, 2, opt.Stats().RuleFailures)
	require.Equal(t, before+2, testutil.ToFloat64(metric.OptimizerRuleFailedCounter))
	require.Equal(t, 4, opt.Memo().NumExprs())
}

func TestRulePriority(t *testing.T) {
	ctx := context.Background()
	run := func(vars *config.SearchVariables) []string {
		var fired []string
		record := func(name string) func(*memo.Binding) ([]*memo.Node, error) {
			return func(*memo.Binding) ([]*memo.Node, error) {
				fired = append(fired, name)
				return nil, nil
			}
		}
		rules := newRuleSet(t,
			onFilter("a", 1, record("a")),
			onFilter("b", 2, record("b")),
			rule.NewImplementScan(),
			rule.NewImplementFilter(),
		)
		opt := newOptimizer(t, rules, vars, filter("a > 1", scan("t1", 100, 1), 1))
		_, err := opt.Optimize(ctx, property.AnyRequired())
		require.NoError(t, err)
		return fired
	}

	require.Equal(t, []string{"b", "a"}, run(nil))

	vars := config.NewSearchVariables()
	vars.RulePriority = map[string]int{"a": 10}
	require.Equal(t, []string{"a", "b"}, run(vars))

	vars = config.NewSearchVariables()
	vars.DisabledRules = []string{"b"}
	require.Equal(t, []string{"a"}, run(vars))
}

func TestBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	tree := join(2, 3, join(1, 2, scan("a", 1000, 1), scan("b", 100, 2)), scan("c", 10, 3))

	vars := config.NewSearchVariables()
	vars.MaxTasks = 1
	opt := newOptimizer(t, defaultRuleSet(t), vars, tree)
	_, err := opt.Optimize(ctx, property.AnyRequired())
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNoPlanFound))
	require.True(t, opt.Stats().BudgetExhausted)
	require.Equal(t, 1, opt.Stats().TasksExecuted)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	opt = newOptimizer(t, defaultRuleSet(t), nil, tree)
	_, err = opt.Optimize(canceled, property.AnyRequired())
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNoPlanFound))
	require.True(t, opt.Stats().BudgetExhausted)
	require.Equal(t, 0, opt.Stats().TasksExecuted)
}

// cancelingModel cancels the search once a root candidate has been priced.
type cancelingModel struct {
	*cost.Model
	root   memo.GroupID
	cancel context.CancelFunc
}

func (m *cancelingModel) ComputeCost(expr *memo.MultiExpression, logical *property.Logical, children []*property.Logical) float64 {
	if expr.Group() == m.root {
		m.cancel()
	}
	return m.Model.ComputeCost(expr, logical, children)
}

func TestBudgetExhaustedKeepsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rules := newRuleSet(t, rule.NewImplementScan(), rule.NewImplementFilter())
	model := &cancelingModel{Model: cost.NewModel(), cancel: cancel}
	opt := New(rules, model, model.Model, nil)
	root, err := opt.Init(ctx, filter("a > 1", scan("t1", 100, 1), 1))
	require.NoError(t, err)
	model.root = root.ID()

	plan, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)
	require.True(t, opt.Stats().BudgetExhausted)
	require.Equal(t, 110.0, plan.Cost)
	require.NotEqual(t, memo.OptStateDone, opt.RootContext().State())

	// The interrupted contexts are searched again on the next run.
	plan, err = opt.Optimize(context.Background(), property.AnyRequired())
	require.NoError(t, err)
	require.False(t, opt.Stats().BudgetExhausted)
	require.Equal(t, 110.0, plan.Cost)
	require.Equal(t, memo.OptStateDone, opt.RootContext().State())
}

func TestTieBreak(t *testing.T) {
	ctx := context.Background()
	opt := newOptimizer(t, rule.NewSet(), nil, scan("t1", 100, 1))
	m := opt.Memo()
	g := opt.Root()
	payload := g.Exprs()[0].Payload()
	low, _, err := m.Insert(ctx, memo.NewNode(operator.New(operator.OpPhysicalTableScan, payload)), g.ID())
	require.NoError(t, err)
	high, _, err := m.Insert(ctx, memo.NewNode(operator.New(operator.OpPhysicalTableScan, &operator.ScanPayload{
		Table: "t1_copy", Columns: []property.ColumnID{1}, RowCount: 100,
	})), g.ID())
	require.NoError(t, err)
	require.Less(t, low.ID(), high.ID())

	lowCC, err := memo.NewCostContext(ctx, low, 5, nil, &property.Provided{}, 0)
	require.NoError(t, err)
	highCC, err := memo.NewCostContext(ctx, high, 5, nil, &property.Provided{}, 0)
	require.NoError(t, err)

	require.False(t, newSearchContext(ctx, opt).tie(highCC, lowCC))

	vars := config.NewSearchVariables()
	vars.TieBreak = config.TieBreakLowerExprID
	opt.vars = vars
	require.True(t, newSearchContext(ctx, opt).tie(highCC, lowCC))
	require.False(t, newSearchContext(ctx, opt).tie(lowCC, highCC))
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	optimizeGroup := testutil.ToFloat64(metric.OptimizerTaskOptimizeGroupCounter)
	applied := testutil.ToFloat64(metric.OptimizerRuleAppliedCounter)
	inputs := testutil.ToFloat64(metric.OptimizerTaskOptimizeInputsCounter)

	opt := newOptimizer(t, defaultRuleSet(t), nil, filter("a > 1", scan("t1", 100, 1), 1))
	_, err := opt.Optimize(ctx, property.AnyRequired())
	require.NoError(t, err)

	require.Greater(t, testutil.ToFloat64(metric.OptimizerTaskOptimizeGroupCounter), optimizeGroup)
	require.Greater(t, testutil.ToFloat64(metric.OptimizerRuleAppliedCounter), applied)
	require.Greater(t, testutil.ToFloat64(metric.OptimizerTaskOptimizeInputsCounter), inputs)
}

func TestOptimizeBeforeInit(t *testing.T) {
	model := cost.NewModel()
	opt := New(defaultRuleSet(t), model, model, nil)
	_, err := opt.Optimize(context.Background(), nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
}
