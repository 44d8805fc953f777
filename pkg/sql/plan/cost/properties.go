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

package cost

import (
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

type alternatives [][]*property.Required

func req(d property.Distribution, o property.Ordering) *property.Required {
	return property.NewRequired(d, o)
}

// RequiredChildProperties lists, for each way expr can run, what it needs
// from each input to produce the required property. An empty result means
// expr cannot satisfy the requirement by itself.
func (m *Model) RequiredChildProperties(expr *memo.MultiExpression, required *property.Required) [][]*property.Required {
	dist, ord := required.Distribution(), required.Ordering()
	singleton := dist.Type == property.DistributionSingleton
	anyDist := property.AnyDistribution()

	switch expr.OpType() {
	case operator.OpPhysicalTableScan:
		return alternatives{{}}

	case operator.OpPhysicalFilter, operator.OpPhysicalProject:
		return alternatives{{required}}

	case operator.OpPhysicalLimit:
		return alternatives{{req(property.SingletonDistribution(), ord)}}

	case operator.OpPhysicalHashJoin:
		if !ord.Any() {
			return nil
		}
		p := expr.Payload().(*operator.JoinPayload)
		alts := alternatives{
			{req(property.HashedDistribution(p.LeftKeys...), nil), req(property.HashedDistribution(p.RightKeys...), nil)},
			{req(anyDist, nil), req(property.ReplicatedDistribution(), nil)},
		}
		if singleton {
			alts = append(alts, []*property.Required{req(dist, nil), req(dist, nil)})
		}
		return alts

	case operator.OpPhysicalMergeJoin:
		p := expr.Payload().(*operator.JoinPayload)
		leftOrd, rightOrd := property.Asc(p.LeftKeys...), property.Asc(p.RightKeys...)
		if !leftOrd.Satisfies(ord) {
			return nil
		}
		alts := alternatives{
			{req(property.HashedDistribution(p.LeftKeys...), leftOrd), req(property.HashedDistribution(p.RightKeys...), rightOrd)},
		}
		if singleton {
			alts = append(alts, []*property.Required{req(dist, leftOrd), req(dist, rightOrd)})
		}
		return alts

	case operator.OpPhysicalNestedLoopJoin:
		alts := alternatives{
			{req(anyDist, ord), req(property.ReplicatedDistribution(), nil)},
		}
		if singleton {
			alts = append(alts, []*property.Required{req(dist, ord), req(dist, nil)})
		}
		return alts

	case operator.OpPhysicalHashAgg:
		if !ord.Any() {
			return nil
		}
		p := expr.Payload().(*operator.AggregatePayload)
		if len(p.GroupBy) == 0 {
			return alternatives{{req(property.SingletonDistribution(), nil)}}
		}
		alts := alternatives{{req(property.HashedDistribution(p.GroupBy...), nil)}}
		if singleton {
			alts = append(alts, []*property.Required{req(dist, nil)})
		}
		return alts

	case operator.OpPhysicalStreamAgg:
		p := expr.Payload().(*operator.AggregatePayload)
		if len(p.GroupBy) == 0 {
			if !ord.Any() {
				return nil
			}
			return alternatives{{req(property.SingletonDistribution(), nil)}}
		}
		groupOrd := property.Asc(p.GroupBy...)
		if !groupOrd.Satisfies(ord) {
			return nil
		}
		alts := alternatives{{req(property.HashedDistribution(p.GroupBy...), groupOrd)}}
		if singleton {
			alts = append(alts, []*property.Required{req(dist, groupOrd)})
		}
		return alts
	}
	return nil
}

// DeriveProvided computes what expr delivers given what its inputs
// delivered.
func (m *Model) DeriveProvided(expr *memo.MultiExpression, children []*property.Provided) *property.Provided {
	child := func(i int) *property.Provided {
		if i < len(children) && children[i] != nil {
			return children[i]
		}
		return &property.Provided{}
	}
	switch expr.OpType() {
	case operator.OpPhysicalTableScan:
		p := expr.Payload().(*operator.ScanPayload)
		dist := p.Distribution
		if dist.Type == property.DistributionAny {
			dist = property.Distribution{Type: property.DistributionRandom}
		}
		return &property.Provided{Distribution: dist, Ordering: p.Ordering}

	case operator.OpPhysicalFilter, operator.OpPhysicalProject:
		c := child(0)
		return &property.Provided{Distribution: c.Distribution, Ordering: c.Ordering}

	case operator.OpPhysicalLimit:
		return &property.Provided{Distribution: property.SingletonDistribution(), Ordering: child(0).Ordering}

	case operator.OpPhysicalHashJoin, operator.OpPhysicalHashAgg:
		return &property.Provided{Distribution: child(0).Distribution}

	case operator.OpPhysicalMergeJoin, operator.OpPhysicalNestedLoopJoin, operator.OpPhysicalStreamAgg:
		c := child(0)
		return &property.Provided{Distribution: c.Distribution, Ordering: c.Ordering}

	case operator.OpPhysicalSort:
		p := expr.Payload().(*operator.SortPayload)
		return &property.Provided{Distribution: child(0).Distribution, Ordering: p.Ordering}

	case operator.OpPhysicalExchange:
		p := expr.Payload().(*operator.ExchangePayload)
		out := &property.Provided{Distribution: p.Distribution}
		if p.PreserveOrder {
			out.Ordering = child(0).Ordering
		}
		return out
	}
	return &property.Provided{}
}
