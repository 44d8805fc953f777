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
)

// task is one unit of search work. A task may push further tasks; the
// ones pushed last run first.
type task interface {
	perform(sctx *SearchContext) error
	counter() prometheus.Counter
}

// scheduler runs tasks depth first off a stack.
type scheduler struct {
	stack []task
}

func newScheduler() *scheduler {
	return &scheduler{}
}

func (s *scheduler) push(t task) {
	s.stack = append(s.stack, t)
}

func (s *scheduler) pop() task {
	n := len(s.stack) - 1
	t := s.stack[n]
	s.stack[n] = nil
	s.stack = s.stack[:n]
	return t
}

func (s *scheduler) empty() bool { return len(s.stack) == 0 }

// drop discards the pending tasks.
func (s *scheduler) drop() {
	clear(s.stack)
	s.stack = s.stack[:0]
}

// run executes tasks until none are left or the budget runs out. The
// budget is checked between tasks, so a task always runs to completion.
// It reports whether the run stopped early.
func (s *scheduler) run(sctx *SearchContext) (exhausted bool, err error) {
	for !s.empty() {
		if reason := sctx.outOfBudget(); reason != "" {
			sctx.logger.Info("search budget exhausted",
				zap.String("reason", reason),
				zap.Int("pending", len(s.stack)),
				zap.Int("tasks", sctx.stats.TasksExecuted))
			s.drop()
			return true, nil
		}
		t := s.pop()
		t.counter().Inc()
		sctx.stats.TasksExecuted++
		if err = t.perform(sctx); err != nil {
			s.drop()
			return false, err
		}
	}
	return false, nil
}

func (sctx *SearchContext) outOfBudget() string {
	if sctx.stats.TasksExecuted >= sctx.vars.MaxTasks {
		return "max-tasks"
	}
	if err := sctx.ctx.Err(); err != nil {
		return err.Error()
	}
	return ""
}
