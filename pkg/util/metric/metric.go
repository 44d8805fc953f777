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

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var registry = prometheus.NewRegistry()

var (
	taskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "optimizer",
			Name:      "task_total",
			Help:      "Total number of search tasks executed, by task kind.",
		}, []string{"type"})
	OptimizerTaskExploreGroupCounter   = taskCounter.WithLabelValues("explore-group")
	OptimizerTaskExploreExprCounter    = taskCounter.WithLabelValues("explore-expr")
	OptimizerTaskApplyRuleCounter      = taskCounter.WithLabelValues("apply-rule")
	OptimizerTaskOptimizeGroupCounter  = taskCounter.WithLabelValues("optimize-group")
	OptimizerTaskImplementGroupCounter = taskCounter.WithLabelValues("implement-group")
	OptimizerTaskOptimizeInputsCounter = taskCounter.WithLabelValues("optimize-inputs")
	OptimizerTaskEnforceCounter        = taskCounter.WithLabelValues("enforce-property")
	OptimizerTaskFinalizeCounter       = taskCounter.WithLabelValues("finalize-context")

	ruleCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "optimizer",
			Name:      "rule_apply_total",
			Help:      "Total number of rule applications, by outcome.",
		}, []string{"type"})
	OptimizerRuleAppliedCounter  = ruleCounter.WithLabelValues("applied")
	OptimizerRuleNoMatchCounter  = ruleCounter.WithLabelValues("no-match")
	OptimizerRuleFailedCounter   = ruleCounter.WithLabelValues("failed")
	OptimizerRuleNewExprsCounter = ruleCounter.WithLabelValues("new-exprs")

	OptimizerGroupMergeCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "optimizer",
			Name:      "group_merge_total",
			Help:      "Total number of memo group merges.",
		})

	OptimizerNoPlanCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "optimizer",
			Name:      "no_plan_total",
			Help:      "Total number of runs that ended without a feasible plan.",
		})

	OptimizerDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mo",
			Subsystem: "optimizer",
			Name:      "optimize_duration_seconds",
			Help:      "Bucketed histogram of optimize() duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2.0, 20),
		})
)

func init() {
	registry.MustRegister(taskCounter)
	registry.MustRegister(ruleCounter)
	registry.MustRegister(OptimizerGroupMergeCounter)
	registry.MustRegister(OptimizerNoPlanCounter)
	registry.MustRegister(OptimizerDurationHistogram)
}

// GetRegistry returns the registry every optimizer metric is registered on,
// so an embedding server can expose it.
func GetRegistry() *prometheus.Registry {
	return registry
}
