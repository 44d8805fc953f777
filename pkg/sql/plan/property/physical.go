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

package property

import (
	"encoding/binary"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type DistributionType uint8

const (
	// DistributionAny places no constraint on where rows live.
	DistributionAny DistributionType = iota
	// DistributionSingleton means all rows are on one node.
	DistributionSingleton
	// DistributionHashed means rows with equal key values are on the same node.
	DistributionHashed
	// DistributionReplicated means every node holds a full copy.
	DistributionReplicated
	// DistributionRandom means rows are spread with no known placement.
	DistributionRandom
)

func (t DistributionType) String() string {
	switch t {
	case DistributionAny:
		return "any"
	case DistributionSingleton:
		return "singleton"
	case DistributionHashed:
		return "hashed"
	case DistributionReplicated:
		return "replicated"
	case DistributionRandom:
		return "random"
	}
	return "distribution(" + strconv.Itoa(int(t)) + ")"
}

type Distribution struct {
	Type DistributionType
	// Keys is only meaningful for DistributionHashed.
	Keys []ColumnID
}

func AnyDistribution() Distribution       { return Distribution{} }
func SingletonDistribution() Distribution { return Distribution{Type: DistributionSingleton} }
func ReplicatedDistribution() Distribution {
	return Distribution{Type: DistributionReplicated}
}
func HashedDistribution(keys ...ColumnID) Distribution {
	return Distribution{Type: DistributionHashed, Keys: append([]ColumnID(nil), keys...)}
}

// Satisfies reports whether data laid out as d meets the requirement.
// Hashing on a subset of the required keys co-locates every group of the
// required keys as well.
func (d Distribution) Satisfies(required Distribution) bool {
	switch required.Type {
	case DistributionAny:
		return true
	case DistributionHashed:
		if d.Type != DistributionHashed || len(d.Keys) == 0 {
			return false
		}
		return MakeColSet(d.Keys...).SubsetOf(MakeColSet(required.Keys...))
	case DistributionRandom:
		return d.Type == DistributionRandom || d.Type == DistributionHashed
	default:
		return d.Type == required.Type
	}
}

// canonical orders and deduplicates hashed keys; Satisfies treats them as a
// set, so hashed(1,2) and hashed(2,1) are the same requirement.
func (d Distribution) canonical() Distribution {
	if d.Type != DistributionHashed {
		return d
	}
	keys := slices.Clone(d.Keys)
	slices.Sort(keys)
	return Distribution{Type: d.Type, Keys: slices.Compact(keys)}
}

func (d Distribution) Equal(o Distribution) bool {
	if d.Type != o.Type || len(d.Keys) != len(o.Keys) {
		return false
	}
	for i := range d.Keys {
		if d.Keys[i] != o.Keys[i] {
			return false
		}
	}
	return true
}

func (d Distribution) Hash(h *xxhash.Digest) {
	_, _ = h.Write([]byte{byte(d.Type)})
	HashColumns(h, d.Keys)
}

func (d Distribution) String() string {
	if d.Type != DistributionHashed {
		return d.Type.String()
	}
	return d.Type.String() + FormatColumns(d.Keys)
}

// SortItem is one key of an ordering.
type SortItem struct {
	Col  ColumnID
	Desc bool
}

func (s SortItem) String() string {
	if s.Desc {
		return strconv.FormatUint(uint64(s.Col), 10) + " desc"
	}
	return strconv.FormatUint(uint64(s.Col), 10)
}

// Ordering is a lexicographic sort order. An empty Ordering means no order.
type Ordering []SortItem

func Asc(cols ...ColumnID) Ordering {
	o := make(Ordering, len(cols))
	for i, c := range cols {
		o[i] = SortItem{Col: c}
	}
	return o
}

func (o Ordering) Any() bool { return len(o) == 0 }

// Satisfies reports whether rows sorted by o are also sorted by required,
// which holds when required is a prefix of o.
func (o Ordering) Satisfies(required Ordering) bool {
	if len(required) > len(o) {
		return false
	}
	for i := range required {
		if o[i] != required[i] {
			return false
		}
	}
	return true
}

func (o Ordering) Equal(other Ordering) bool {
	return len(o) == len(other) && o.Satisfies(other)
}

func (o Ordering) Columns() []ColumnID {
	cols := make([]ColumnID, len(o))
	for i, item := range o {
		cols[i] = item.Col
	}
	return cols
}

func (o Ordering) Hash(h *xxhash.Digest) {
	var buf [5]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(o)))
	_, _ = h.Write(buf[:4])
	for _, item := range o {
		binary.LittleEndian.PutUint32(buf[:], uint32(item.Col))
		buf[4] = 0
		if item.Desc {
			buf[4] = 1
		}
		_, _ = h.Write(buf[:])
	}
}

func (o Ordering) String() string {
	if o.Any() {
		return "any"
	}
	parts := make([]string, len(o))
	for i, item := range o {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Required is a physical property a consumer asks of a group. It is
// immutable once built, so it can be used as a context key.
type Required struct {
	distribution Distribution
	ordering     Ordering
	key          string
}

func NewRequired(d Distribution, o Ordering) *Required {
	d.Keys = append([]ColumnID(nil), d.Keys...)
	o = append(Ordering(nil), o...)
	r := &Required{distribution: d, ordering: o}
	r.key = "dist=" + d.canonical().String() + ";order=" + o.String()
	return r
}

// AnyRequired places no constraint on the result.
func AnyRequired() *Required {
	return NewRequired(AnyDistribution(), nil)
}

func (r *Required) Distribution() Distribution { return r.distribution }
func (r *Required) Ordering() Ordering         { return r.ordering }

// Key is a canonical encoding, equal exactly when the requirements are.
func (r *Required) Key() string { return r.key }

func (r *Required) Hash() uint64 { return xxhash.Sum64String(r.key) }

func (r *Required) Any() bool {
	return r.distribution.Type == DistributionAny && r.ordering.Any()
}

func (r *Required) Equal(o *Required) bool {
	return r.key == o.key
}

func (r *Required) WithOrdering(o Ordering) *Required {
	return NewRequired(r.distribution, o)
}

func (r *Required) WithDistribution(d Distribution) *Required {
	return NewRequired(d, r.ordering)
}

func (r *Required) String() string {
	return "{" + r.key + "}"
}

// Provided is what a costed physical expression actually delivers.
type Provided struct {
	Distribution Distribution
	Ordering     Ordering
}

func (p *Provided) Satisfies(r *Required) bool {
	if p == nil {
		return r.Any()
	}
	return p.Distribution.Satisfies(r.distribution) && p.Ordering.Satisfies(r.ordering)
}

func (p *Provided) String() string {
	if p == nil {
		return "{}"
	}
	return "{dist=" + p.Distribution.String() + ";order=" + p.Ordering.String() + "}"
}

// HashColumns writes a length-prefixed encoding of cols, so adjacent lists
// never run together.
func HashColumns(h *xxhash.Digest, cols []ColumnID) {
	buf := make([]byte, 4*(len(cols)+1))
	binary.LittleEndian.PutUint32(buf, uint32(len(cols)))
	for i, c := range cols {
		binary.LittleEndian.PutUint32(buf[4*(i+1):], uint32(c))
	}
	_, _ = h.Write(buf)
}

func FormatColumns(cols []ColumnID) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, c := range cols {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(c), 10))
	}
	sb.WriteByte(')')
	return sb.String()
}
