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

package cascades

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/util/metric"
)

// implementGroupTask runs in two phases for one context. The first fires
// the implementation rules on the logical members of the group; the second
// schedules the costing of every physical member under each way it can
// meet the required property.
type implementGroupTask struct {
	octx    *memo.OptimizationContext
	gen     uint64
	costing bool
}

func (t *implementGroupTask) counter() prometheus.Counter {
	return metric.OptimizerTaskImplementGroupCounter
}

func (t *implementGroupTask) perform(sctx *SearchContext) error {
	if stale(t.octx, t.gen) {
		return nil
	}
	g, err := sctx.group(t.octx.Group())
	if err != nil {
		return err
	}
	if !t.costing {
		sctx.push(&implementGroupTask{octx: t.octx, gen: t.gen, costing: true})
		exprs := g.LogicalExprs()
		for i := len(exprs) - 1; i >= 0; i-- {
			e := exprs[i]
			if e.Implemented() {
				continue
			}
			e.SetImplemented()
			rules := sctx.optimizer.ImplementationRules(e)
			for j := len(rules) - 1; j >= 0; j-- {
				if !e.IsRuleApplied(rules[j].ID) {
					sctx.push(&applyRuleTask{expr: e, rule: rules[j]})
				}
			}
		}
		return nil
	}

	required := t.octx.Required()
	var candidates []*optimizeInputsTask
	for _, e := range g.PhysicalExprs() {
		for alt, reqs := range sctx.optimizer.deriver.RequiredChildProperties(e, required) {
			if len(reqs) != e.NumChildren() {
				sctx.logger.Warn("child requirements do not match arity",
					zap.Stringer("expr", e),
					zap.Int("inputs", e.NumChildren()),
					zap.Int("requirements", len(reqs)))
				continue
			}
			candidates = append(candidates, newOptimizeInputsTask(t.octx, t.gen, e, alt, reqs))
		}
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		sctx.push(candidates[i])
	}
	return nil
}
