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
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

// Enforcer adds an operator whose only job is to establish a physical
// property on top of an input that lacks it.
type Enforcer interface {
	Name() string
	// Enforce returns the enforcer operator for required and the strictly
	// weaker requirement its input must meet. ok is false when the enforcer
	// cannot help.
	Enforce(required *property.Required) (op operator.Operator, childRequired *property.Required, ok bool)
}

// SortEnforcer sorts its input into the required order, keeping its
// distribution.
type SortEnforcer struct{}

func (SortEnforcer) Name() string { return "SortEnforcer" }

func (SortEnforcer) Enforce(required *property.Required) (operator.Operator, *property.Required, bool) {
	if required.Ordering().Any() {
		return operator.Operator{}, nil, false
	}
	op := operator.New(operator.OpPhysicalSort, &operator.SortPayload{Ordering: required.Ordering()})
	return op, required.WithOrdering(nil), true
}

// ExchangeEnforcer redistributes its input. Only a gather to a single node
// can keep the input order, by merging sorted streams.
type ExchangeEnforcer struct{}

func (ExchangeEnforcer) Name() string { return "ExchangeEnforcer" }

func (ExchangeEnforcer) Enforce(required *property.Required) (operator.Operator, *property.Required, bool) {
	dist := required.Distribution()
	if dist.Type == property.DistributionAny || dist.Type == property.DistributionRandom {
		return operator.Operator{}, nil, false
	}
	if !required.Ordering().Any() {
		if dist.Type != property.DistributionSingleton {
			return operator.Operator{}, nil, false
		}
		op := operator.New(operator.OpPhysicalExchange, &operator.ExchangePayload{Distribution: dist, PreserveOrder: true})
		return op, required.WithDistribution(property.AnyDistribution()), true
	}
	op := operator.New(operator.OpPhysicalExchange, &operator.ExchangePayload{Distribution: dist})
	return op, property.AnyRequired(), true
}
