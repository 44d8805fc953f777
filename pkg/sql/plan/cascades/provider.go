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
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

// CostModel prices a physical expression.
type CostModel interface {
	// ComputeCost returns the cost of expr alone, excluding its inputs. It
	// must not be negative.
	ComputeCost(expr *memo.MultiExpression, logical *property.Logical, children []*property.Logical) float64
}

// PropertyDeriver supplies the operator semantics the search relies on.
type PropertyDeriver interface {
	memo.LogicalDeriver

	// RequiredChildProperties returns one entry per way expr can deliver
	// required, each listing the property every input must meet. An empty
	// result means expr cannot deliver required without an enforcer.
	RequiredChildProperties(expr *memo.MultiExpression, required *property.Required) [][]*property.Required

	// DeriveProvided returns what expr delivers given what its inputs
	// delivered.
	DeriveProvided(expr *memo.MultiExpression, children []*property.Provided) *property.Provided
}
