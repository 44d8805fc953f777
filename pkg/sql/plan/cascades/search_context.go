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
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/config"
	"github.com/matrixorigin/mocascades/pkg/logutil"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/rule"
	"github.com/matrixorigin/mocascades/pkg/util/metric"
)

// SearchStats counts what one Optimize call did.
type SearchStats struct {
	QueryID          string
	Passes           int
	TasksExecuted    int
	RuleApplications int
	RuleFailures     int
	NewExprs         int
	GroupMerges      int
	ContextsCreated  int
	BudgetExhausted  bool
}

func (s SearchStats) String() string {
	return fmt.Sprintf("passes=%d tasks=%d rules=%d failed=%d new=%d merges=%d contexts=%d exhausted=%t",
		s.Passes, s.TasksExecuted, s.RuleApplications, s.RuleFailures,
		s.NewExprs, s.GroupMerges, s.ContextsCreated, s.BudgetExhausted)
}

// SearchContext is everything the tasks of one Optimize call share.
type SearchContext struct {
	ctx       context.Context
	optimizer *Optimizer
	memo      *memo.Memo
	vars      *config.SearchVariables
	tie       memo.TieBreaker
	sched     *scheduler
	stats     *SearchStats
	logger    *zap.Logger

	// costOnly skips exploration; set for the closing pass of a run that
	// ran out of passes.
	costOnly bool
}

func newSearchContext(ctx context.Context, o *Optimizer) *SearchContext {
	queryID := uuid.NewString()
	o.stats.QueryID = queryID
	tie := memo.FirstFound
	if o.vars.TieBreak == config.TieBreakLowerExprID {
		tie = memo.LowerExprID
	}
	return &SearchContext{
		ctx:       ctx,
		optimizer: o,
		memo:      o.memo,
		vars:      o.vars,
		tie:       tie,
		sched:     newScheduler(),
		stats:     &o.stats,
		logger:    logutil.GetGlobalLogger().With(zap.String("query_id", queryID)),
	}
}

func (sctx *SearchContext) push(t task) { sctx.sched.push(t) }

// group resolves id, treating a dangling reference as a broken memo.
func (sctx *SearchContext) group(id memo.GroupID) (*memo.Group, error) {
	g := sctx.memo.Group(id)
	if g == nil {
		return nil, errors.AssertionFailedf("dangling group reference %s", id)
	}
	return g, nil
}

// stale reports whether work started for octx at generation gen has been
// overtaken by a merge.
func stale(octx *memo.OptimizationContext, gen uint64) bool {
	return octx.Resolve() != octx || octx.Generation() != gen
}

// fire runs r on b, turning a panic into an error.
func (sctx *SearchContext) fire(r *rule.Registered, b *memo.Binding) (matched bool, out []*memo.Node, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = moerr.ConvertPanicError(sctx.ctx, p)
		}
	}()
	if !r.Match(b) {
		return false, nil, nil
	}
	out, err = r.Apply(sctx.ctx, b)
	return true, out, err
}

func (sctx *SearchContext) ruleFailed(r *rule.Registered, e *memo.MultiExpression, err error) {
	sctx.stats.RuleFailures++
	metric.OptimizerRuleFailedCounter.Inc()
	sctx.logger.Warn("rule failed",
		zap.String("rule", r.Name()),
		zap.Uint32("expr", uint32(e.ID())),
		zap.Error(moerr.NewRuleFailed(sctx.ctx, r.Name(), err.Error())))
}
