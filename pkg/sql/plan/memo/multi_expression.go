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

package memo

import (
	"encoding/binary"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
)

// MultiExpression is an operator whose inputs are Groups rather than
// concrete sub-expressions. It belongs to exactly one Group.
type MultiExpression struct {
	id       ExprID
	op       operator.Operator
	children []GroupID
	group    GroupID

	fingerprint uint64

	// applied holds the ids of rules already applied to this expression.
	applied *roaring.Bitmap

	// dead is set when a merge turned this expression into a duplicate of
	// another one. Dead expressions are unlinked from every index.
	dead bool

	ExploreMark
}

func (e *MultiExpression) ID() ExprID                   { return e.id }
func (e *MultiExpression) Op() operator.Operator        { return e.op }
func (e *MultiExpression) Group() GroupID               { return e.group }
func (e *MultiExpression) Fingerprint() uint64          { return e.fingerprint }
func (e *MultiExpression) NumChildren() int             { return len(e.children) }
func (e *MultiExpression) Child(i int) GroupID          { return e.children[i] }
func (e *MultiExpression) IsLogical() bool              { return e.op.IsLogical() }
func (e *MultiExpression) IsPhysical() bool             { return e.op.IsPhysical() }
func (e *MultiExpression) IsEnforcer() bool             { return e.op.IsEnforcer() }
func (e *MultiExpression) Dead() bool                   { return e.dead }
func (e *MultiExpression) Payload() operator.Payload    { return e.op.Payload }
func (e *MultiExpression) OpType() operator.OpType      { return e.op.Type }
func (e *MultiExpression) Children() []GroupID          { return append([]GroupID(nil), e.children...) }
func (e *MultiExpression) IsRuleApplied(id uint32) bool { return e.applied.Contains(id) }

// SetRuleApplied records id and reports whether it was newly added.
func (e *MultiExpression) SetRuleApplied(id uint32) bool {
	return e.applied.CheckedAdd(id)
}

// AppliedRules returns the number of rules already applied.
func (e *MultiExpression) AppliedRules() int {
	return int(e.applied.GetCardinality())
}

func (e *MultiExpression) String() string {
	var sb strings.Builder
	sb.WriteString(e.op.String())
	if len(e.children) > 0 {
		sb.WriteByte('(')
		for i, c := range e.children {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.String())
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func fingerprintOf(op operator.Operator, children []GroupID) uint64 {
	d := xxhash.New()
	op.Hash(d)
	buf := make([]byte, 4*(len(children)+1))
	binary.LittleEndian.PutUint32(buf, uint32(len(children)))
	for i, c := range children {
		binary.LittleEndian.PutUint32(buf[4*(i+1):], uint32(c))
	}
	_, _ = d.Write(buf)
	return d.Sum64()
}

// sameStructure is the exact check behind a fingerprint match.
func (e *MultiExpression) sameStructure(op operator.Operator, children []GroupID) bool {
	if len(e.children) != len(children) || !e.op.Equal(op) {
		return false
	}
	for i := range children {
		if e.children[i] != children[i] {
			return false
		}
	}
	return true
}
