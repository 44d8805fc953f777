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
	"fmt"
	"strings"
)

// Logical holds the properties shared by every expression of a group:
// they depend on what is computed, never on how.
type Logical struct {
	Columns  ColSet
	RowCount float64
	// EquivClasses are sets of columns known to hold equal values.
	EquivClasses []ColSet
}

// AddEquivalence records that a and b are equal, merging any classes that
// already contain either column.
func (l *Logical) AddEquivalence(a, b ColumnID) {
	merged := MakeColSet(a, b)
	kept := l.EquivClasses[:0:0]
	for _, c := range l.EquivClasses {
		if c.Intersects(merged) {
			merged = merged.Union(c)
		} else {
			kept = append(kept, c)
		}
	}
	l.EquivClasses = append(kept, merged)
}

// Equivalent reports whether a and b are known to hold equal values.
func (l *Logical) Equivalent(a, b ColumnID) bool {
	if a == b {
		return true
	}
	for _, c := range l.EquivClasses {
		if c.Contains(a) {
			return c.Contains(b)
		}
	}
	return false
}

func (l *Logical) String() string {
	if l == nil {
		return "{}"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "{cols=%s rows=%.0f", l.Columns, l.RowCount)
	if len(l.EquivClasses) > 0 {
		sb.WriteString(" eq=")
		for i, c := range l.EquivClasses {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(c.String())
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
