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
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/pattern"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

// Binding is one concrete match of a pattern. Leaf bindings stand for a
// whole group and have no Expr.
type Binding struct {
	Expr     *MultiExpression
	Group    *Group
	Children []*Binding
}

func (b *Binding) IsLeaf() bool { return b.Expr == nil }

// Op returns the bound operator. It must not be called on a leaf.
func (b *Binding) Op() operator.Operator { return b.Expr.op }

func (b *Binding) Child(i int) *Binding { return b.Children[i] }

// Logical returns the logical property of the bound group.
func (b *Binding) Logical() *property.Logical { return b.Group.logical }

// Ref returns a node referring to the bound group, for use in rule output.
func (b *Binding) Ref() *Node { return GroupRef(b.Group.id) }

// ExprIter enumerates the bindings of a pattern rooted at one expression.
// Candidate bindings of each input are collected only as deep as the
// pattern goes, and their combinations are produced one at a time.
type ExprIter struct {
	root       *MultiExpression
	group      *Group
	candidates [][]*Binding
	cursor     []int
	matched    bool
}

// NewExprIter positions the iterator on the first binding, if any.
func NewExprIter(m *Memo, root *MultiExpression, p *pattern.Pattern) *ExprIter {
	iter := &ExprIter{root: root, group: m.Group(root.group)}
	if root.dead || !matchRoot(root, p) {
		return iter
	}
	iter.candidates = make([][]*Binding, len(root.children))
	for i, c := range root.children {
		iter.candidates[i] = m.groupBindings(c, p.ChildAt(i))
		if len(iter.candidates[i]) == 0 {
			return iter
		}
	}
	iter.cursor = make([]int, len(root.children))
	iter.matched = true
	return iter
}

// Matched reports whether the iterator is positioned on a binding.
func (iter *ExprIter) Matched() bool { return iter.matched }

// Binding returns the current binding.
func (iter *ExprIter) Binding() *Binding {
	children := make([]*Binding, len(iter.candidates))
	for i, list := range iter.candidates {
		children[i] = list[iter.cursor[i]]
	}
	return &Binding{Expr: iter.root, Group: iter.group, Children: children}
}

// Next advances to the following combination.
func (iter *ExprIter) Next() {
	for i := len(iter.cursor) - 1; i >= 0; i-- {
		iter.cursor[i]++
		if iter.cursor[i] < len(iter.candidates[i]) {
			return
		}
		iter.cursor[i] = 0
	}
	iter.matched = false
}

func matchRoot(e *MultiExpression, p *pattern.Pattern) bool {
	operand := pattern.GetOperand(e.op)
	if p.Operand == pattern.OperandAny {
		if !e.IsLogical() {
			return false
		}
	} else if !p.Operand.Match(operand) {
		return false
	}
	return p.MatchArity(len(e.children))
}

func (m *Memo) groupBindings(id GroupID, p *pattern.Pattern) []*Binding {
	g := m.Group(id)
	if p.IsLeaf() || p.IsTree() {
		return []*Binding{{Group: g}}
	}
	var out []*Binding
	for elem := g.GetFirstElem(p.Operand); elem != nil; elem = elem.Next() {
		e := elem.Value.(*MultiExpression)
		if p.Operand != pattern.OperandAny && pattern.GetOperand(e.op) != p.Operand {
			break
		}
		if !matchRoot(e, p) {
			continue
		}
		out = append(out, m.exprBindings(e, g, p)...)
	}
	return out
}

func (m *Memo) exprBindings(e *MultiExpression, g *Group, p *pattern.Pattern) []*Binding {
	lists := make([][]*Binding, len(e.children))
	total := 1
	for i, c := range e.children {
		lists[i] = m.groupBindings(c, p.ChildAt(i))
		total *= len(lists[i])
		if total == 0 {
			return nil
		}
	}
	out := make([]*Binding, 0, total)
	cursor := make([]int, len(lists))
	for {
		children := make([]*Binding, len(lists))
		for i := range lists {
			children[i] = lists[i][cursor[i]]
		}
		out = append(out, &Binding{Expr: e, Group: g, Children: children})
		i := len(cursor) - 1
		for ; i >= 0; i-- {
			cursor[i]++
			if cursor[i] < len(lists[i]) {
				break
			}
			cursor[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
