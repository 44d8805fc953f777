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

package operator

import (
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

func digest(op Operator) uint64 {
	d := xxhash.New()
	op.Hash(d)
	return d.Sum64()
}

func TestOpTypeKinds(t *testing.T) {
	require.True(t, OpLogicalJoin.IsLogical())
	require.True(t, OpPhysicalHashJoin.IsPhysical())
	require.False(t, OpPhysicalHashJoin.IsEnforcer())
	require.True(t, OpPhysicalSort.IsEnforcer())
	require.True(t, OpPatternLeaf.IsPattern())
	require.Equal(t, KindUnknown, OpType(9999).Kind())
	require.Equal(t, "OpType(9999)", OpType(9999).String())

	typ, ok := OpTypeByName("MergeJoin")
	require.True(t, ok)
	require.Equal(t, OpPhysicalMergeJoin, typ)
	_, ok = OpTypeByName("Teleport")
	require.False(t, ok)
}

func TestOperatorHashEqual(t *testing.T) {
	scan := func(table string) Operator {
		return New(OpLogicalScan, &ScanPayload{Table: table, Columns: []property.ColumnID{1, 2}, RowCount: 10})
	}
	require.True(t, scan("t1").Equal(scan("t1")))
	require.Equal(t, digest(scan("t1")), digest(scan("t1")))
	require.False(t, scan("t1").Equal(scan("t2")))
	require.NotEqual(t, digest(scan("t1")), digest(scan("t2")))

	// Same payload, different operator type.
	phys := New(OpPhysicalTableScan, scan("t1").Payload)
	require.False(t, phys.Equal(scan("t1")))
	require.NotEqual(t, digest(phys), digest(scan("t1")))

	// Payloads of different concrete types never compare equal.
	require.False(t, (&LimitPayload{Count: 1}).Equal(&ProjectPayload{}))

	require.True(t, New(OpPatternLeaf, nil).Equal(New(OpPatternLeaf, nil)))
	require.False(t, New(OpLogicalLimit, nil).Equal(New(OpLogicalLimit, &LimitPayload{})))
}

func TestJoinPayload(t *testing.T) {
	j := &JoinPayload{LeftKeys: []property.ColumnID{1}, RightKeys: []property.ColumnID{3}, Selectivity: 0.1}
	s := j.Swapped()
	require.Equal(t, []property.ColumnID{3}, s.LeftKeys)
	require.Equal(t, []property.ColumnID{1}, s.RightKeys)
	require.False(t, j.Equal(s))
	require.True(t, j.Equal(s.Swapped()))
	require.Equal(t, "LogicalJoin inner (1)=(3)", New(OpLogicalJoin, j).String())
	require.Equal(t, "inner cross", (&JoinPayload{}).String())
}

func TestEnforcerPayloads(t *testing.T) {
	a := &ExchangePayload{Distribution: property.SingletonDistribution(), PreserveOrder: true}
	b := &ExchangePayload{Distribution: property.SingletonDistribution()}
	require.False(t, a.Equal(b))
	require.NotEqual(t, digest(New(OpPhysicalExchange, a)), digest(New(OpPhysicalExchange, b)))
	require.Equal(t, "singleton merge", a.String())

	s := &SortPayload{Ordering: property.Asc(1, 2)}
	require.True(t, s.Equal(&SortPayload{Ordering: property.Asc(1, 2)}))
	require.Equal(t, "Sort [1, 2]", New(OpPhysicalSort, s).String())
}
