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
)

func DefaultTransformationRules() []Rule {
	return []Rule{
		NewProjectElimination(),
		NewFilterMerge(),
		NewFilterPushdownThroughJoin(),
		NewJoinCommutativity(),
		NewJoinAssociativity(),
	}
}

func DefaultImplementationRules() []Rule {
	return []Rule{
		NewImplementScan(),
		NewImplementFilter(),
		NewImplementProject(),
		NewImplementHashJoin(),
		NewImplementMergeJoin(),
		NewImplementNestedLoopJoin(),
		NewImplementHashAgg(),
		NewImplementStreamAgg(),
		NewImplementLimit(),
	}
}

func DefaultEnforcers() []Enforcer {
	return []Enforcer{SortEnforcer{}, ExchangeEnforcer{}}
}

// DefaultSet holds every reference rule and enforcer.
func DefaultSet(ctx context.Context) (*Set, error) {
	s := NewSet()
	if err := s.Add(ctx, DefaultTransformationRules()...); err != nil {
		return nil, err
	}
	if err := s.Add(ctx, DefaultImplementationRules()...); err != nil {
		return nil, err
	}
	s.AddEnforcers(DefaultEnforcers()...)
	return s, nil
}
