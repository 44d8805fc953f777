// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memo

import (
	"container/list"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/pattern"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

// Group is short for expression Group, which is used to store all the
// logically equivalent expressions. It's a set of MultiExpression.
type Group struct {
	id GroupID

	Equivalents *list.List

	FirstExpr    map[pattern.Operand]*list.Element
	Fingerprints map[uint64]*list.Element

	logical *property.Logical

	// ExploreMark is used to mark whether this Group has been explored.
	ExploreMark

	optContexts map[string]*OptimizationContext
	// ctxOrder keeps contexts in creation order for deterministic walks.
	ctxOrder []*OptimizationContext

	// absorbed is set once the group was merged into another one.
	absorbed bool
}

func newGroup(id GroupID, logical *property.Logical) *Group {
	if logical == nil {
		logical = &property.Logical{}
	}
	return &Group{
		id:           id,
		Equivalents:  list.New(),
		Fingerprints: make(map[uint64]*list.Element),
		FirstExpr:    make(map[pattern.Operand]*list.Element),
		logical:      logical,
		optContexts:  make(map[string]*OptimizationContext),
	}
}

func (g *Group) ID() GroupID                { return g.id }
func (g *Group) Logical() *property.Logical { return g.logical }
func (g *Group) Len() int                   { return g.Equivalents.Len() }

// Insert a nonexistent Group expression.
func (g *Group) Insert(e *MultiExpression) bool {
	if e == nil || g.Exists(e) {
		return false
	}

	operand := pattern.GetOperand(e.op)
	var newEquiv *list.Element
	mark, hasMark := g.FirstExpr[operand]
	if hasMark {
		newEquiv = g.Equivalents.InsertAfter(e, mark)
	} else {
		newEquiv = g.Equivalents.PushBack(e)
		g.FirstExpr[operand] = newEquiv
	}
	g.Fingerprints[e.fingerprint] = newEquiv
	e.group = g.id
	return true
}

// Delete an existing Group expression.
func (g *Group) Delete(e *MultiExpression) {
	equiv, ok := g.Fingerprints[e.fingerprint]
	if !ok || equiv.Value.(*MultiExpression) != e {
		return
	}
	operand := pattern.GetOperand(e.op)
	if g.FirstExpr[operand] == equiv {
		next := equiv.Next()
		if next != nil && pattern.GetOperand(next.Value.(*MultiExpression).op) == operand {
			g.FirstExpr[operand] = next
		} else {
			delete(g.FirstExpr, operand)
		}
	}
	g.Equivalents.Remove(equiv)
	delete(g.Fingerprints, e.fingerprint)
}

// Exists checks whether a Group expression existed in a Group.
func (g *Group) Exists(e *MultiExpression) bool {
	_, ok := g.Fingerprints[e.fingerprint]
	return ok
}

// GetFirstElem returns the first Group expression which matches the Operand.
// Return a nil pointer if there isn't.
func (g *Group) GetFirstElem(operand pattern.Operand) *list.Element {
	if operand == pattern.OperandAny {
		return g.Equivalents.Front()
	}
	return g.FirstExpr[operand]
}

// Exprs returns a snapshot of the members, safe to hold while the group
// keeps growing.
func (g *Group) Exprs() []*MultiExpression {
	exprs := make([]*MultiExpression, 0, g.Equivalents.Len())
	for elem := g.Equivalents.Front(); elem != nil; elem = elem.Next() {
		exprs = append(exprs, elem.Value.(*MultiExpression))
	}
	return exprs
}

func (g *Group) LogicalExprs() []*MultiExpression {
	return g.filter(func(e *MultiExpression) bool { return e.IsLogical() })
}

// PhysicalExprs returns the physical members that are not enforcers.
func (g *Group) PhysicalExprs() []*MultiExpression {
	return g.filter(func(e *MultiExpression) bool { return e.IsPhysical() && !e.IsEnforcer() })
}

func (g *Group) filter(keep func(*MultiExpression) bool) []*MultiExpression {
	var exprs []*MultiExpression
	for elem := g.Equivalents.Front(); elem != nil; elem = elem.Next() {
		if e := elem.Value.(*MultiExpression); keep(e) {
			exprs = append(exprs, e)
		}
	}
	return exprs
}

// EnsureOptContext returns the context of this group for required, creating
// it on first use. The second result reports whether it was created.
func (g *Group) EnsureOptContext(required *property.Required) (*OptimizationContext, bool) {
	if octx, ok := g.optContexts[required.Key()]; ok {
		return octx.Resolve(), false
	}
	octx := newOptimizationContext(g.id, required)
	g.optContexts[required.Key()] = octx
	g.ctxOrder = append(g.ctxOrder, octx)
	return octx, true
}

// LookupOptContext returns the context for required, or nil.
func (g *Group) LookupOptContext(required *property.Required) *OptimizationContext {
	if octx, ok := g.optContexts[required.Key()]; ok {
		return octx.Resolve()
	}
	return nil
}

// OptContexts returns the contexts owned by this group in creation order.
func (g *Group) OptContexts() []*OptimizationContext {
	return append([]*OptimizationContext(nil), g.ctxOrder...)
}
