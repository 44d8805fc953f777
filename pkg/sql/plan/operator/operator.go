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
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Kind separates logical operators (what to compute), physical operators
// (how to compute it) and the placeholders that only appear in rule
// patterns.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLogical
	KindPhysical
	KindPattern
)

func (k Kind) String() string {
	switch k {
	case KindLogical:
		return "logical"
	case KindPhysical:
		return "physical"
	case KindPattern:
		return "pattern"
	}
	return "unknown"
}

// OpType enumerates every operator the engine knows about.
type OpType uint16

const (
	OpUnknown OpType = iota

	OpLogicalScan
	OpLogicalFilter
	OpLogicalProject
	OpLogicalJoin
	OpLogicalAggregate
	OpLogicalLimit

	OpPhysicalTableScan
	OpPhysicalFilter
	OpPhysicalProject
	OpPhysicalHashJoin
	OpPhysicalMergeJoin
	OpPhysicalNestedLoopJoin
	OpPhysicalHashAgg
	OpPhysicalStreamAgg
	OpPhysicalLimit
	OpPhysicalSort
	OpPhysicalExchange

	OpPatternLeaf
	OpPatternTree

	opTypeCount
)

type opTypeInfo struct {
	name     string
	kind     Kind
	enforcer bool
}

var opTypeInfos = [opTypeCount]opTypeInfo{
	OpUnknown: {name: "Unknown"},

	OpLogicalScan:      {name: "LogicalScan", kind: KindLogical},
	OpLogicalFilter:    {name: "LogicalFilter", kind: KindLogical},
	OpLogicalProject:   {name: "LogicalProject", kind: KindLogical},
	OpLogicalJoin:      {name: "LogicalJoin", kind: KindLogical},
	OpLogicalAggregate: {name: "LogicalAggregate", kind: KindLogical},
	OpLogicalLimit:     {name: "LogicalLimit", kind: KindLogical},

	OpPhysicalTableScan:      {name: "TableScan", kind: KindPhysical},
	OpPhysicalFilter:         {name: "Filter", kind: KindPhysical},
	OpPhysicalProject:        {name: "Project", kind: KindPhysical},
	OpPhysicalHashJoin:       {name: "HashJoin", kind: KindPhysical},
	OpPhysicalMergeJoin:      {name: "MergeJoin", kind: KindPhysical},
	OpPhysicalNestedLoopJoin: {name: "NestedLoopJoin", kind: KindPhysical},
	OpPhysicalHashAgg:        {name: "HashAgg", kind: KindPhysical},
	OpPhysicalStreamAgg:      {name: "StreamAgg", kind: KindPhysical},
	OpPhysicalLimit:          {name: "Limit", kind: KindPhysical},
	OpPhysicalSort:           {name: "Sort", kind: KindPhysical, enforcer: true},
	OpPhysicalExchange:       {name: "Exchange", kind: KindPhysical, enforcer: true},

	OpPatternLeaf: {name: "PatternLeaf", kind: KindPattern},
	OpPatternTree: {name: "PatternTree", kind: KindPattern},
}

func (t OpType) String() string {
	if t >= opTypeCount {
		return fmt.Sprintf("OpType(%d)", uint16(t))
	}
	return opTypeInfos[t].name
}

func (t OpType) Kind() Kind {
	if t >= opTypeCount {
		return KindUnknown
	}
	return opTypeInfos[t].kind
}

func (t OpType) IsLogical() bool  { return t.Kind() == KindLogical }
func (t OpType) IsPhysical() bool { return t.Kind() == KindPhysical }
func (t OpType) IsPattern() bool  { return t.Kind() == KindPattern }

// IsEnforcer reports whether operators of this type exist only to provide a
// physical property, e.g. a sort or a data redistribution.
func (t OpType) IsEnforcer() bool {
	if t >= opTypeCount {
		return false
	}
	return opTypeInfos[t].enforcer
}

// OpTypeByName resolves the name printed by String.
func OpTypeByName(name string) (OpType, bool) {
	for i := range opTypeInfos {
		if opTypeInfos[i].name == name {
			return OpType(i), true
		}
	}
	return OpUnknown, false
}

// Payload is the operator-specific part of an operator. The engine never
// looks inside it; it only hashes and compares it so structurally identical
// expressions are deduplicated.
type Payload interface {
	// Hash writes a canonical encoding of the payload into h. Equal payloads
	// must write identical bytes.
	Hash(h *xxhash.Digest)
	Equal(other Payload) bool
	String() string
}

// Operator is an immutable (type, payload) pair. Payload may be nil.
type Operator struct {
	Type    OpType
	Payload Payload
}

func New(t OpType, payload Payload) Operator {
	return Operator{Type: t, Payload: payload}
}

func (o Operator) Kind() Kind       { return o.Type.Kind() }
func (o Operator) IsLogical() bool  { return o.Type.IsLogical() }
func (o Operator) IsPhysical() bool { return o.Type.IsPhysical() }
func (o Operator) IsEnforcer() bool { return o.Type.IsEnforcer() }
func (o Operator) IsValid() bool    { return o.Type != OpUnknown && o.Type < opTypeCount }
func (o Operator) IsPattern() bool  { return o.Type.IsPattern() }

// Hash writes the operator type and payload into h.
func (o Operator) Hash(h *xxhash.Digest) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(o.Type))
	_, _ = h.Write(buf[:])
	if o.Payload == nil {
		_, _ = h.Write([]byte{0})
		return
	}
	_, _ = h.Write([]byte{1})
	o.Payload.Hash(h)
}

func (o Operator) Equal(other Operator) bool {
	if o.Type != other.Type {
		return false
	}
	if o.Payload == nil || other.Payload == nil {
		return o.Payload == nil && other.Payload == nil
	}
	return o.Payload.Equal(other.Payload)
}

func (o Operator) String() string {
	if o.Payload == nil {
		return o.Type.String()
	}
	if s := o.Payload.String(); s != "" {
		return o.Type.String() + " " + s
	}
	return o.Type.String()
}
