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
	"go.uber.org/zap"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
	"github.com/matrixorigin/mocascades/pkg/util/metric"
)

// optimizeGroupTask starts the search for a context. Exploration runs
// first, then implementation and costing, then enforcement, and finally
// the context is closed.
type optimizeGroupTask struct {
	octx *memo.OptimizationContext
}

func (t *optimizeGroupTask) counter() prometheus.Counter {
	return metric.OptimizerTaskOptimizeGroupCounter
}

func (t *optimizeGroupTask) perform(sctx *SearchContext) error {
	octx := t.octx.Resolve()
	if octx.State() != memo.OptStatePending {
		return nil
	}
	g, err := sctx.group(octx.Group())
	if err != nil {
		return err
	}
	octx.SetState(memo.OptStateExploringChildren)
	gen := octx.Generation()

	sctx.push(&finalizeContextTask{octx: octx, gen: gen})
	if sctx.vars.EnableEnforcers && !octx.Required().Any() && len(sctx.optimizer.rules.Enforcers()) > 0 {
		sctx.push(&enforcePropertyTask{octx: octx, gen: gen})
	}
	sctx.push(&implementGroupTask{octx: octx, gen: gen})
	if !g.Explored() && !sctx.costOnly {
		sctx.push(&exploreGroupTask{group: g.ID()})
	}
	return nil
}

// optimizeInputsTask costs one physical expression under one alternative
// of child requirements. It waits for each input context in turn by
// pushing itself back below the task that optimizes the input.
type optimizeInputsTask struct {
	octx *memo.OptimizationContext
	gen  uint64
	expr *memo.MultiExpression
	alt  int
	reqs []*property.Required

	started   bool
	waiting   bool
	childIdx  int
	childCtxs []*memo.OptimizationContext
}

func newOptimizeInputsTask(
	octx *memo.OptimizationContext,
	gen uint64,
	expr *memo.MultiExpression,
	alt int,
	reqs []*property.Required,
) *optimizeInputsTask {
	return &optimizeInputsTask{octx: octx, gen: gen, expr: expr, alt: alt, reqs: reqs}
}

func (t *optimizeInputsTask) counter() prometheus.Counter {
	return metric.OptimizerTaskOptimizeInputsCounter
}

func (t *optimizeInputsTask) perform(sctx *SearchContext) error {
	if stale(t.octx, t.gen) || t.expr.Dead() {
		return nil
	}
	if !t.started {
		if !t.octx.MarkCosted(memo.CandidateKey{Expr: t.expr.ID(), Alternative: t.alt}) {
			return nil
		}
		t.started = true
	}

	for t.childIdx < len(t.reqs) {
		if t.waiting {
			child := t.childCtxs[t.childIdx].Resolve()
			t.childCtxs[t.childIdx] = child
			t.waiting = false
			if child.State() != memo.OptStateDone || child.Best() == nil {
				return nil
			}
			if sctx.vars.EnableCostBound && t.exceedsBound() {
				return nil
			}
			t.childIdx++
			continue
		}

		g, err := sctx.group(t.expr.Child(t.childIdx))
		if err != nil {
			return err
		}
		child, created := g.EnsureOptContext(t.reqs[t.childIdx])
		if created {
			sctx.stats.ContextsCreated++
		}
		t.octx.AddChildOptContext(child)
		t.childCtxs = append(t.childCtxs, child)
		t.waiting = true
		if child.State() == memo.OptStateDone {
			continue
		}
		sctx.push(t)
		sctx.push(&optimizeGroupTask{octx: child})
		return nil
	}
	return t.cost(sctx)
}

// exceedsBound reports whether the inputs costed so far already cost more
// than the incumbent.
func (t *optimizeInputsTask) exceedsBound() bool {
	best := t.octx.Best()
	if best == nil {
		return false
	}
	partial := 0.0
	for _, c := range t.childCtxs[:t.childIdx+1] {
		partial += c.Best().Cost()
	}
	return partial > best.Cost()
}

func (t *optimizeInputsTask) cost(sctx *SearchContext) error {
	o := sctx.optimizer
	provided := make([]*property.Provided, len(t.childCtxs))
	logical := make([]*property.Logical, len(t.childCtxs))
	for i, c := range t.childCtxs {
		provided[i] = c.Best().Provided()
		g, err := sctx.group(c.Group())
		if err != nil {
			return err
		}
		logical[i] = g.Logical()
	}
	out := o.deriver.DeriveProvided(t.expr, provided)
	if out == nil || !out.Satisfies(t.octx.Required()) {
		return nil
	}

	g, err := sctx.group(t.octx.Group())
	if err != nil {
		return err
	}
	own := o.model.ComputeCost(t.expr, g.Logical(), logical)
	cc, err := memo.NewCostContext(sctx.ctx, t.expr, own, t.childCtxs, out, t.gen)
	if err != nil {
		if moerr.IsMoErrCode(err, moerr.ErrInvalidInput) {
			sctx.logger.Warn("skip candidate", zap.Stringer("expr", t.expr), zap.Error(err))
			return nil
		}
		return err
	}
	if t.octx.RatchetCost(cc, sctx.tie) {
		sctx.logger.Debug("new best",
			zap.Stringer("context", t.octx),
			zap.Float64("cost", cc.Cost()))
	}
	if t.octx.State() == memo.OptStateExploringChildren {
		t.octx.SetState(memo.OptStateCosted)
	}
	return nil
}

// enforcePropertyTask adds the enforcers able to establish the required
// property on top of the same group under a weaker requirement.
type enforcePropertyTask struct {
	octx *memo.OptimizationContext
	gen  uint64
}

func (t *enforcePropertyTask) counter() prometheus.Counter {
	return metric.OptimizerTaskEnforceCounter
}

func (t *enforcePropertyTask) perform(sctx *SearchContext) error {
	if stale(t.octx, t.gen) {
		return nil
	}
	required := t.octx.Required()
	var candidates []*optimizeInputsTask
	for _, enf := range sctx.optimizer.rules.Enforcers() {
		op, childReq, ok := enf.Enforce(required)
		if !ok || childReq == nil || childReq.Equal(required) {
			continue
		}
		node := memo.NewNode(op, memo.GroupRef(t.octx.Group()))
		e, _, err := sctx.memo.Insert(sctx.ctx, node, t.octx.Group())
		if err != nil {
			sctx.logger.Warn("enforcer failed", zap.String("enforcer", enf.Name()), zap.Error(err))
			continue
		}
		if stale(t.octx, t.gen) {
			return nil
		}
		candidates = append(candidates, newOptimizeInputsTask(t.octx, t.gen, e, 0, []*property.Required{childReq}))
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		sctx.push(candidates[i])
	}
	return nil
}

// finalizeContextTask closes a context once every candidate has been
// costed.
type finalizeContextTask struct {
	octx *memo.OptimizationContext
	gen  uint64
}

func (t *finalizeContextTask) counter() prometheus.Counter {
	return metric.OptimizerTaskFinalizeCounter
}

func (t *finalizeContextTask) perform(sctx *SearchContext) error {
	if stale(t.octx, t.gen) {
		return nil
	}
	t.octx.SetState(memo.OptStateDone)
	sctx.logger.Debug("context done", zap.Stringer("context", t.octx))
	return nil
}
