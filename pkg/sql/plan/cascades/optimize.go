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
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/config"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/rule"
	"github.com/matrixorigin/mocascades/pkg/util/metric"
)

// Optimizer is the struct for cascades optimizer. It owns the memo of one
// query and is not safe for concurrent use.
type Optimizer struct {
	rules   *rule.Set
	model   CostModel
	deriver PropertyDeriver
	vars    *config.SearchVariables

	memo    *memo.Memo
	rootCtx *memo.OptimizationContext
	plan    *memo.Plan
	stats   SearchStats

	// searchedGen is the memo generation the last pass started from.
	searchedGen uint64
	interrupted bool
}

// New returns an optimizer searching with rules, ordered and filtered by
// the rule settings in vars. A nil vars means the defaults.
func New(rules *rule.Set, model CostModel, deriver PropertyDeriver, vars *config.SearchVariables) *Optimizer {
	if rules == nil {
		rules = rule.NewSet()
	}
	if vars == nil {
		vars = config.NewSearchVariables()
	} else {
		copied := *vars
		vars = &copied
	}
	return &Optimizer{
		rules:   rules.Configure(vars.RulePriority, vars.DisabledRules),
		model:   model,
		deriver: deriver,
		vars:    vars,
		memo:    memo.NewMemo(deriver),
	}
}

// Init copies the logical tree into the memo and returns the root group.
func (opt *Optimizer) Init(ctx context.Context, tree *memo.Node) (*memo.Group, error) {
	if err := opt.vars.Validate(ctx); err != nil {
		return nil, err
	}
	return opt.memo.Init(ctx, tree)
}

// TransformationRules gets the candidate transformation rules for e, best
// priority first.
func (opt *Optimizer) TransformationRules(e *memo.MultiExpression) []*rule.Registered {
	return opt.rules.Candidates(rule.TypeTransformation, e)
}

// ImplementationRules gets all the candidate implementation rules for e.
func (opt *Optimizer) ImplementationRules(e *memo.MultiExpression) []*rule.Registered {
	return opt.rules.Candidates(rule.TypeImplementation, e)
}

func (opt *Optimizer) Memo() *memo.Memo                       { return opt.memo }
func (opt *Optimizer) Root() *memo.Group                      { return opt.memo.Root() }
func (opt *Optimizer) RootContext() *memo.OptimizationContext { return opt.rootCtx }
func (opt *Optimizer) Stats() SearchStats                     { return opt.stats }
func (opt *Optimizer) Rules() *rule.Set                       { return opt.rules }

// BestPlan returns the plan of the last Optimize call, or nil.
func (opt *Optimizer) BestPlan() *memo.Plan { return opt.plan }

// Optimize is the optimization entrance of the cascades planner. It
// searches for the cheapest physical plan of the root group that delivers
// required. A search pass is composed of 3 phases, interleaved per group
// by the scheduler: exploration, implementation and enforcement.
//
// ------------------------------------------------------------------------------
// Phase 1: Exploration
// ------------------------------------------------------------------------------
//
// The target of this phase is to explore all the logically equivalent
// expressions by exploring all the equivalent group expressions of each group.
//
// At the very beginning, there is only one group expression in a Group. After
// applying some transformation rules on certain expressions of the Group, all
// the equivalent expressions are found and stored in the Group. This procedure
// can be regarded as searching for a weak connected component in a directed
// graph, where nodes are expressions and directed edges are the transformation
// rules. Each rule fires at most once per expression.
//
// ------------------------------------------------------------------------------
// Phase 2: Implementation
// ------------------------------------------------------------------------------
//
// The target of this phase is to search the best physical plan for a Group
// which satisfies a certain required physical property.
//
// In this phase, we need to enumerate all the applicable implementation rules
// for each expression in each group under the required physical property. An
// optimization context per group and property is used to reduce the repeated
// search on the same required physical property.
//
// ------------------------------------------------------------------------------
// Phase 3: Enforcement
// ------------------------------------------------------------------------------
//
// When no member of a group can deliver the required property by itself, an
// enforcer such as a sort or an exchange is costed on top of the best plan of
// the same group under a weaker property.
//
// Merging groups during a pass makes the costs computed so far stale. A new
// pass is then run, until a pass completes without merges or MaxPasses is
// reached. In the latter case one more pass costs the memo without
// exploring it and the run is reported as exhausted. When the task budget or the timeout runs out, the best plan found
// so far is returned.
func (opt *Optimizer) Optimize(ctx context.Context, required *property.Required) (*memo.Plan, error) {
	if opt.memo.Root() == nil {
		return nil, moerr.NewInvalidState(ctx, "optimize before init")
	}
	if err := opt.vars.Validate(ctx); err != nil {
		return nil, err
	}
	if required == nil {
		required = property.AnyRequired()
	}
	start := time.Now()
	defer func() {
		metric.OptimizerDurationHistogram.Observe(time.Since(start).Seconds())
	}()
	if timeout := opt.vars.TimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	opt.stats = SearchStats{}
	opt.plan = nil
	sctx := newSearchContext(ctx, opt)
	mergesBefore := opt.memo.Merges()

	merged := false
	for pass := 0; pass < opt.vars.MaxPasses; pass++ {
		if pass > 0 || opt.interrupted || opt.memo.Generation() != opt.searchedGen {
			opt.memo.InvalidateContexts()
		}
		opt.stats.Passes++
		merges := opt.memo.Merges()
		exhausted, err := opt.runPass(ctx, sctx, required)
		if err != nil {
			return nil, err
		}
		if exhausted {
			opt.stats.BudgetExhausted = true
			break
		}
		if merged = opt.memo.Merges() != merges; !merged {
			break
		}
		sctx.logger.Debug("groups merged, running another pass",
			zap.Int("pass", pass+1),
			zap.Int("merges", opt.memo.Merges()-merges))
	}
	if merged && !opt.stats.BudgetExhausted {
		// Out of passes with the last merge unpriced: cost what the memo
		// holds without exploring further.
		sctx.logger.Info("max passes reached with pending merges, costing without exploration",
			zap.Int("passes", opt.stats.Passes))
		opt.stats.BudgetExhausted = true
		opt.memo.InvalidateContexts()
		sctx.costOnly = true
		if _, err := opt.runPass(ctx, sctx, required); err != nil {
			return nil, err
		}
	}
	opt.stats.GroupMerges = opt.memo.Merges() - mergesBefore
	opt.interrupted = opt.stats.BudgetExhausted

	sctx.logger.Info("optimize done",
		zap.Stringer("required", required),
		zap.Stringer("stats", opt.stats),
		zap.Duration("duration", time.Since(start)))
	if opt.plan == nil {
		metric.OptimizerNoPlanCounter.Inc()
		return nil, moerr.NewNoPlanFound(ctx, required.String())
	}
	return opt.plan, nil
}

// runPass searches the root group under required once and keeps the plan
// it produced, if any.
func (opt *Optimizer) runPass(ctx context.Context, sctx *SearchContext, required *property.Required) (bool, error) {
	opt.searchedGen = opt.memo.Generation()
	rootCtx, created := opt.memo.Root().EnsureOptContext(required)
	if created {
		opt.stats.ContextsCreated++
	}
	opt.rootCtx = rootCtx
	sctx.push(&optimizeGroupTask{octx: rootCtx})
	exhausted, err := sctx.sched.run(sctx)
	if err != nil {
		return false, err
	}
	opt.extract(ctx, sctx)
	return exhausted, nil
}

// extract keeps the plan of the root context if the pass produced a
// consistent one.
func (opt *Optimizer) extract(ctx context.Context, sctx *SearchContext) {
	rootCtx := opt.rootCtx.Resolve()
	opt.rootCtx = rootCtx
	if rootCtx.Best() == nil {
		return
	}
	plan, err := memo.BuildPlan(ctx, rootCtx)
	if err != nil {
		sctx.logger.Debug("no consistent plan after pass", zap.Error(err))
		return
	}
	opt.plan = plan
}
