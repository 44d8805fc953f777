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

package pattern

import (
	"math"
	"strings"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
)

// Operand is the operator type a pattern node matches.
type Operand uint16

const (
	// OperandAny matches any logical operator.
	OperandAny Operand = math.MaxUint16
	// OperandLeaf binds a whole child group without looking into it.
	OperandLeaf = Operand(operator.OpPatternLeaf)
	// OperandTree binds all remaining child groups as leaves. It may only
	// be the last child of a pattern.
	OperandTree = Operand(operator.OpPatternTree)
)

// GetOperand maps an operator to its Operand.
func GetOperand(op operator.Operator) Operand {
	return Operand(op.Type)
}

// Match checks if the Operand matches the target.
func (o Operand) Match(t Operand) bool {
	if o == OperandAny || t == OperandAny {
		return true
	}
	return o == t
}

func (o Operand) String() string {
	switch o {
	case OperandAny:
		return "Any"
	case OperandLeaf:
		return "Leaf"
	case OperandTree:
		return "Tree"
	}
	return operator.OpType(o).String()
}

// Pattern is a tree of Operands a rule expects its input to look like.
type Pattern struct {
	Operand  Operand
	Children []*Pattern
}

// NewPattern creates a pattern node. Leaf and Tree operands take no children.
func NewPattern(operand Operand, children ...*Pattern) *Pattern {
	return &Pattern{Operand: operand, Children: children}
}

// Leaf matches any single child group.
func Leaf() *Pattern {
	return &Pattern{Operand: OperandLeaf}
}

// Tree matches every remaining child group.
func Tree() *Pattern {
	return &Pattern{Operand: OperandTree}
}

func (p *Pattern) IsLeaf() bool { return p.Operand == OperandLeaf }
func (p *Pattern) IsTree() bool { return p.Operand == OperandTree }

// MatchArity reports whether an expression with n children can be bound to
// the child patterns of p.
func (p *Pattern) MatchArity(n int) bool {
	if k := len(p.Children); k > 0 && p.Children[k-1].IsTree() {
		return n >= k-1
	}
	return n == len(p.Children)
}

// ChildAt returns the pattern the i-th child of a bound expression must
// match. Past a trailing Tree every child binds as a leaf.
func (p *Pattern) ChildAt(i int) *Pattern {
	if k := len(p.Children); k > 0 && i >= k-1 && p.Children[k-1].IsTree() {
		return p.Children[k-1]
	}
	return p.Children[i]
}

// Depth is the number of operand levels the pattern descends.
func (p *Pattern) Depth() int {
	if p.IsLeaf() || p.IsTree() {
		return 0
	}
	d := 0
	for _, c := range p.Children {
		if cd := c.Depth(); cd > d {
			d = cd
		}
	}
	return d + 1
}

// Validate checks that Leaf and Tree nodes have no children, that Tree is
// only used as a last child and that the root is a real operand.
func (p *Pattern) Validate() bool {
	if p == nil || p.IsLeaf() || p.IsTree() {
		return false
	}
	return p.validate()
}

func (p *Pattern) validate() bool {
	if p.IsLeaf() || p.IsTree() {
		return len(p.Children) == 0
	}
	for i, c := range p.Children {
		if c == nil || (c.IsTree() && i != len(p.Children)-1) {
			return false
		}
		if !c.validate() {
			return false
		}
	}
	return true
}

func (p *Pattern) String() string {
	var sb strings.Builder
	p.format(&sb)
	return sb.String()
}

func (p *Pattern) format(sb *strings.Builder) {
	sb.WriteString(p.Operand.String())
	if len(p.Children) == 0 {
		return
	}
	sb.WriteByte('(')
	for i, c := range p.Children {
		if i > 0 {
			sb.WriteString(", ")
		}
		c.format(sb)
	}
	sb.WriteByte(')')
}
