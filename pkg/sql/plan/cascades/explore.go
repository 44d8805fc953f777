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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/rule"
	"github.com/matrixorigin/mocascades/pkg/util/metric"
)

// exploreGroupTask fires the transformation rules on every logical member
// of a group.
type exploreGroupTask struct {
	group memo.GroupID
}

func (t *exploreGroupTask) counter() prometheus.Counter {
	return metric.OptimizerTaskExploreGroupCounter
}

func (t *exploreGroupTask) perform(sctx *SearchContext) error {
	g, err := sctx.group(t.group)
	if err != nil {
		return err
	}
	if g.Explored() {
		return nil
	}
	g.SetExplored()
	exprs := g.LogicalExprs()
	for i := len(exprs) - 1; i >= 0; i-- {
		if !exprs[i].Explored() {
			sctx.push(&exploreExprTask{expr: exprs[i]})
		}
	}
	return nil
}

// exploreExprTask explores the inputs of one expression and then fires the
// transformation rules whose pattern root matches it, best priority first.
type exploreExprTask struct {
	expr *memo.MultiExpression
}

func (t *exploreExprTask) counter() prometheus.Counter {
	return metric.OptimizerTaskExploreExprCounter
}

func (t *exploreExprTask) perform(sctx *SearchContext) error {
	e := t.expr
	if e.Dead() || e.Explored() {
		return nil
	}
	e.SetExplored()
	rules := sctx.optimizer.TransformationRules(e)
	for i := len(rules) - 1; i >= 0; i-- {
		if !e.IsRuleApplied(rules[i].ID) {
			sctx.push(&applyRuleTask{expr: e, rule: rules[i]})
		}
	}
	for i := e.NumChildren() - 1; i >= 0; i-- {
		sctx.push(&exploreGroupTask{group: e.Child(i)})
	}
	return nil
}

// applyRuleTask fires one rule on one expression, once.
type applyRuleTask struct {
	expr *memo.MultiExpression
	rule *rule.Registered
}

func (t *applyRuleTask) counter() prometheus.Counter {
	return metric.OptimizerTaskApplyRuleCounter
}

func (t *applyRuleTask) perform(sctx *SearchContext) error {
	e, r := t.expr, t.rule
	if e.Dead() || !e.SetRuleApplied(r.ID) {
		return nil
	}
	sctx.stats.RuleApplications++

	matched := false
	for iter := memo.NewExprIter(sctx.memo, e, r.Pattern()); iter.Matched() && !e.Dead(); iter.Next() {
		ok, outputs, err := sctx.fire(r, iter.Binding())
		if err != nil {
			sctx.ruleFailed(r, e, err)
			continue
		}
		if !ok {
			continue
		}
		matched = true
		for _, out := range outputs {
			if err := sctx.insertRuleOutput(r, e, out); err != nil {
				sctx.ruleFailed(r, e, err)
			}
		}
	}
	if matched {
		metric.OptimizerRuleAppliedCounter.Inc()
	} else {
		metric.OptimizerRuleNoMatchCounter.Inc()
	}
	return nil
}

// insertRuleOutput adds what r produced from e to e's group. A bare group
// reference states that the referenced group is e's group.
func (sctx *SearchContext) insertRuleOutput(r *rule.Registered, e *memo.MultiExpression, out *memo.Node) error {
	if err := validateRuleOutput(r, out, true); err != nil {
		return err
	}
	if out.IsGroupRef() {
		_, err := sctx.memo.MergeGroups(sctx.ctx, e.Group(), out.Group)
		return err
	}
	ne, created, err := sctx.memo.Insert(sctx.ctx, out, e.Group())
	if err != nil {
		return err
	}
	if created {
		sctx.stats.NewExprs++
		metric.OptimizerRuleNewExprsCounter.Inc()
		if ne.IsLogical() {
			sctx.push(&exploreExprTask{expr: ne})
		}
	}
	return nil
}

func validateRuleOutput(r *rule.Registered, n *memo.Node, top bool) error {
	if n == nil {
		return moerr.NewInvalidInputNoCtx("rule %s produced a nil expression", r.Name())
	}
	if n.IsGroupRef() {
		if top && r.Type() == rule.TypeImplementation {
			return moerr.NewInvalidInputNoCtx("implementation rule %s produced a bare group reference", r.Name())
		}
		return nil
	}
	switch r.Type() {
	case rule.TypeTransformation:
		if !n.Op.IsLogical() {
			return moerr.NewInvalidInputNoCtx("transformation rule %s produced %s", r.Name(), n.Op.Type)
		}
	case rule.TypeImplementation:
		if !top {
			return moerr.NewInvalidInputNoCtx("implementation rule %s produced a nested expression", r.Name())
		}
		if !n.Op.IsPhysical() || n.Op.IsEnforcer() {
			return moerr.NewInvalidInputNoCtx("implementation rule %s produced %s", r.Name(), n.Op.Type)
		}
	}
	for _, c := range n.Children {
		if err := validateRuleOutput(r, c, false); err != nil {
			return err
		}
	}
	return nil
}
