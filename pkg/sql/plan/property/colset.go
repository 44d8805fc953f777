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
	"github.com/RoaringBitmap/roaring"
)

// ColumnID identifies an output column of some relational expression.
type ColumnID uint32

// ColSet is an immutable set of columns. The zero value is the empty set.
type ColSet struct {
	bm *roaring.Bitmap
}

func MakeColSet(cols ...ColumnID) ColSet {
	if len(cols) == 0 {
		return ColSet{}
	}
	bm := roaring.New()
	for _, c := range cols {
		bm.Add(uint32(c))
	}
	return ColSet{bm: bm}
}

func (s ColSet) Len() int {
	if s.bm == nil {
		return 0
	}
	return int(s.bm.GetCardinality())
}

func (s ColSet) Empty() bool {
	return s.bm == nil || s.bm.IsEmpty()
}

func (s ColSet) Contains(c ColumnID) bool {
	return s.bm != nil && s.bm.Contains(uint32(c))
}

func (s ColSet) Union(o ColSet) ColSet {
	switch {
	case s.Empty():
		return o
	case o.Empty():
		return s
	}
	return ColSet{bm: roaring.Or(s.bm, o.bm)}
}

func (s ColSet) Intersects(o ColSet) bool {
	if s.Empty() || o.Empty() {
		return false
	}
	return s.bm.Intersects(o.bm)
}

// SubsetOf reports whether every column of s is in o.
func (s ColSet) SubsetOf(o ColSet) bool {
	if s.Empty() {
		return true
	}
	if o.Empty() {
		return false
	}
	return roaring.AndNot(s.bm, o.bm).IsEmpty()
}

func (s ColSet) Equals(o ColSet) bool {
	if s.Empty() || o.Empty() {
		return s.Empty() && o.Empty()
	}
	return s.bm.Equals(o.bm)
}

// Ordered returns the columns in ascending order.
func (s ColSet) Ordered() []ColumnID {
	if s.Empty() {
		return nil
	}
	arr := s.bm.ToArray()
	cols := make([]ColumnID, len(arr))
	for i, c := range arr {
		cols[i] = ColumnID(c)
	}
	return cols
}

func (s ColSet) String() string {
	return FormatColumns(s.Ordered())
}
