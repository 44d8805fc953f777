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
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

func hashFloat(h *xxhash.Digest, f float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	_, _ = h.Write(buf[:])
}

func hashUint64(h *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashString(h *xxhash.Digest, s string) {
	hashUint64(h, uint64(len(s)))
	_, _ = h.WriteString(s)
}

// ScanPayload reads a base table.
type ScanPayload struct {
	Table    string
	Columns  []property.ColumnID
	RowCount float64
	// Ordering and Distribution describe how the table is stored.
	Ordering     property.Ordering
	Distribution property.Distribution
}

func (p *ScanPayload) Hash(h *xxhash.Digest) {
	hashString(h, p.Table)
	property.HashColumns(h, p.Columns)
	hashFloat(h, p.RowCount)
	p.Ordering.Hash(h)
	p.Distribution.Hash(h)
}

func (p *ScanPayload) Equal(other Payload) bool {
	o, ok := other.(*ScanPayload)
	return ok && p.Table == o.Table &&
		slices.Equal(p.Columns, o.Columns) &&
		p.RowCount == o.RowCount &&
		p.Ordering.Equal(o.Ordering) &&
		p.Distribution.Equal(o.Distribution)
}

func (p *ScanPayload) String() string {
	return fmt.Sprintf("%s%s", p.Table, property.FormatColumns(p.Columns))
}

// FilterPayload keeps rows matching Predicate. Columns lists every column
// the predicate reads.
type FilterPayload struct {
	Predicate   string
	Columns     []property.ColumnID
	Selectivity float64
}

func (p *FilterPayload) Hash(h *xxhash.Digest) {
	hashString(h, p.Predicate)
	property.HashColumns(h, p.Columns)
	hashFloat(h, p.Selectivity)
}

func (p *FilterPayload) Equal(other Payload) bool {
	o, ok := other.(*FilterPayload)
	return ok && p.Predicate == o.Predicate &&
		slices.Equal(p.Columns, o.Columns) &&
		p.Selectivity == o.Selectivity
}

func (p *FilterPayload) String() string {
	return "[" + p.Predicate + "]"
}

// ProjectPayload narrows its input to Columns.
type ProjectPayload struct {
	Columns []property.ColumnID
}

func (p *ProjectPayload) Hash(h *xxhash.Digest) {
	property.HashColumns(h, p.Columns)
}

func (p *ProjectPayload) Equal(other Payload) bool {
	o, ok := other.(*ProjectPayload)
	return ok && slices.Equal(p.Columns, o.Columns)
}

func (p *ProjectPayload) String() string {
	return property.FormatColumns(p.Columns)
}

type JoinType uint8

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinSemi
)

func (t JoinType) String() string {
	switch t {
	case JoinInner:
		return "inner"
	case JoinLeft:
		return "left"
	case JoinSemi:
		return "semi"
	}
	return fmt.Sprintf("join(%d)", uint8(t))
}

// JoinPayload describes an equi-join: LeftKeys[i] = RightKeys[i]. A join
// without keys is a cross product.
type JoinPayload struct {
	Type        JoinType
	LeftKeys    []property.ColumnID
	RightKeys   []property.ColumnID
	Selectivity float64
}

func (p *JoinPayload) Hash(h *xxhash.Digest) {
	_, _ = h.Write([]byte{byte(p.Type)})
	property.HashColumns(h, p.LeftKeys)
	property.HashColumns(h, p.RightKeys)
	hashFloat(h, p.Selectivity)
}

func (p *JoinPayload) Equal(other Payload) bool {
	o, ok := other.(*JoinPayload)
	return ok && p.Type == o.Type &&
		slices.Equal(p.LeftKeys, o.LeftKeys) &&
		slices.Equal(p.RightKeys, o.RightKeys) &&
		p.Selectivity == o.Selectivity
}

func (p *JoinPayload) String() string {
	if len(p.LeftKeys) == 0 {
		return p.Type.String() + " cross"
	}
	return fmt.Sprintf("%s %s=%s", p.Type, property.FormatColumns(p.LeftKeys), property.FormatColumns(p.RightKeys))
}

// Swapped returns the payload of the same join with its inputs exchanged.
func (p *JoinPayload) Swapped() *JoinPayload {
	return &JoinPayload{
		Type:        p.Type,
		LeftKeys:    slices.Clone(p.RightKeys),
		RightKeys:   slices.Clone(p.LeftKeys),
		Selectivity: p.Selectivity,
	}
}

// AggregatePayload groups by GroupBy and produces Aggs as new columns.
type AggregatePayload struct {
	GroupBy []property.ColumnID
	Aggs    []property.ColumnID
}

func (p *AggregatePayload) Hash(h *xxhash.Digest) {
	property.HashColumns(h, p.GroupBy)
	property.HashColumns(h, p.Aggs)
}

func (p *AggregatePayload) Equal(other Payload) bool {
	o, ok := other.(*AggregatePayload)
	return ok && slices.Equal(p.GroupBy, o.GroupBy) && slices.Equal(p.Aggs, o.Aggs)
}

func (p *AggregatePayload) String() string {
	return "group" + property.FormatColumns(p.GroupBy) + " aggs" + property.FormatColumns(p.Aggs)
}

type LimitPayload struct {
	Count uint64
}

func (p *LimitPayload) Hash(h *xxhash.Digest) {
	hashUint64(h, p.Count)
}

func (p *LimitPayload) Equal(other Payload) bool {
	o, ok := other.(*LimitPayload)
	return ok && p.Count == o.Count
}

func (p *LimitPayload) String() string {
	return fmt.Sprintf("%d", p.Count)
}

// SortPayload is carried by the sort enforcer.
type SortPayload struct {
	Ordering property.Ordering
}

func (p *SortPayload) Hash(h *xxhash.Digest) {
	p.Ordering.Hash(h)
}

func (p *SortPayload) Equal(other Payload) bool {
	o, ok := other.(*SortPayload)
	return ok && p.Ordering.Equal(o.Ordering)
}

func (p *SortPayload) String() string {
	return p.Ordering.String()
}

// ExchangePayload is carried by the redistribution enforcer. PreserveOrder
// marks a merging exchange that keeps its input's sort order.
type ExchangePayload struct {
	Distribution  property.Distribution
	PreserveOrder bool
}

func (p *ExchangePayload) Hash(h *xxhash.Digest) {
	p.Distribution.Hash(h)
	if p.PreserveOrder {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}

func (p *ExchangePayload) Equal(other Payload) bool {
	o, ok := other.(*ExchangePayload)
	return ok && p.PreserveOrder == o.PreserveOrder && p.Distribution.Equal(o.Distribution)
}

func (p *ExchangePayload) String() string {
	if p.PreserveOrder {
		return p.Distribution.String() + " merge"
	}
	return p.Distribution.String()
}
