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
	"context"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/logutil"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
	"github.com/matrixorigin/mocascades/pkg/util/metric"
)

// LogicalDeriver computes the logical property of a new group from its
// first expression and the logical properties of that expression's inputs.
type LogicalDeriver interface {
	DeriveLogical(op operator.Operator, children []*property.Logical) (*property.Logical, error)
}

// Memo stores every group and expression discovered during one search.
type Memo struct {
	// groups and exprs are indexed by id; slot 0 is unused.
	groups []*Group
	exprs  []*MultiExpression

	// forward[id] is the group id was merged into, or 0.
	forward []GroupID

	// index maps a fingerprint to the live expressions carrying it.
	index map[uint64][]*MultiExpression

	root       GroupID
	deriver    LogicalDeriver
	generation uint64
	merges     int
}

func NewMemo(deriver LogicalDeriver) *Memo {
	return &Memo{
		groups:  []*Group{nil},
		exprs:   []*MultiExpression{nil},
		forward: []GroupID{0},
		index:   make(map[uint64][]*MultiExpression),
		deriver: deriver,
	}
}

// Generation changes every time groups are merged.
func (m *Memo) Generation() uint64 { return m.generation }

// Merges returns the number of group merges performed so far.
func (m *Memo) Merges() int { return m.merges }

func (m *Memo) NumExprs() int { return len(m.exprs) - 1 }

// NumGroups returns the number of live groups.
func (m *Memo) NumGroups() int { return len(m.groups) - 1 - m.merges }

// find resolves id through the merge table, compressing paths on the way.
func (m *Memo) find(id GroupID) GroupID {
	root := id
	for m.forward[root] != 0 {
		root = m.forward[root]
	}
	for id != root {
		next := m.forward[id]
		m.forward[id] = root
		id = next
	}
	return root
}

func (m *Memo) valid(id GroupID) bool {
	return id != 0 && int(id) < len(m.groups)
}

// Group returns the live group for id, following merges. Unknown ids
// yield nil.
func (m *Memo) Group(id GroupID) *Group {
	if !m.valid(id) {
		return nil
	}
	return m.groups[m.find(id)]
}

// Root returns the group holding the whole query, or nil before Init.
func (m *Memo) Root() *Group {
	if m.root == 0 {
		return nil
	}
	return m.Group(m.root)
}

// Groups returns the live groups in id order.
func (m *Memo) Groups() []*Group {
	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups[1:] {
		if !g.absorbed {
			groups = append(groups, g)
		}
	}
	return groups
}

// Expr returns the expression with the given id, dead or not.
func (m *Memo) Expr(id ExprID) *MultiExpression {
	if id == 0 || int(id) >= len(m.exprs) {
		return nil
	}
	return m.exprs[id]
}

// Init copies a logical expression tree into the memo, bottom-up, and
// returns the root group. Shared subtrees become a single group.
func (m *Memo) Init(ctx context.Context, tree *Node) (*Group, error) {
	if m.root != 0 {
		return nil, moerr.NewInvalidState(ctx, "memo already initialized")
	}
	if tree == nil {
		return nil, moerr.NewInvalidInput(ctx, "empty expression tree")
	}
	g, err := m.initGroup(ctx, tree, make(map[*Node]struct{}))
	if err != nil {
		return nil, err
	}
	m.root = g.id
	return g, nil
}

func (m *Memo) initGroup(ctx context.Context, n *Node, visiting map[*Node]struct{}) (*Group, error) {
	if n == nil {
		return nil, moerr.NewInvalidInput(ctx, "nil node in expression tree")
	}
	if n.IsGroupRef() {
		return nil, moerr.NewInvalidInput(ctx, "group reference %s in expression tree", n.Group)
	}
	if !n.Op.IsLogical() {
		return nil, moerr.NewInvalidInput(ctx, "operator %s is not logical", n.Op.Type)
	}
	if _, ok := visiting[n]; ok {
		return nil, moerr.NewInvalidInput(ctx, "cycle at %s", n.Op)
	}
	visiting[n] = struct{}{}
	defer delete(visiting, n)

	children := make([]GroupID, len(n.Children))
	for i, child := range n.Children {
		cg, err := m.initGroup(ctx, child, visiting)
		if err != nil {
			return nil, err
		}
		children[i] = cg.id
	}
	e, _, err := m.insertExpr(ctx, n.Op, children, 0)
	if err != nil {
		return nil, err
	}
	return m.Group(e.group), nil
}

// Insert adds a rule output to the memo. Nested nodes become groups of
// their own (or are found to exist already); group references resolve to
// the live group. When target is set the top expression belongs to target;
// if it already exists elsewhere the two groups are merged. The second
// result reports whether the top expression is new. The whole output is
// checked before anything is added, so a rejected output leaves the memo
// unchanged.
func (m *Memo) Insert(ctx context.Context, n *Node, target GroupID) (*MultiExpression, bool, error) {
	if target != 0 && !m.valid(target) {
		return nil, false, moerr.NewInvalidInput(ctx, "unknown target group %s", target)
	}
	if n != nil && n.IsGroupRef() {
		return nil, false, moerr.NewInvalidInput(ctx, "top-level group reference %s", n.Group)
	}
	if _, err := m.check(ctx, n); err != nil {
		return nil, false, err
	}
	return m.insert(ctx, n, target)
}

// check validates n and derives its logical property without modifying
// the memo. Arity errors surface through the deriver.
func (m *Memo) check(ctx context.Context, n *Node) (*property.Logical, error) {
	if n == nil {
		return nil, moerr.NewInvalidInput(ctx, "nil node")
	}
	if n.IsGroupRef() {
		if !m.valid(n.Group) {
			return nil, moerr.NewInvalidInput(ctx, "dangling group reference %s", n.Group)
		}
		return m.groups[m.find(n.Group)].logical, nil
	}
	if !n.Op.IsValid() || n.Op.IsPattern() {
		return nil, moerr.NewInvalidInput(ctx, "invalid operator %s", n.Op.Type)
	}
	children := make([]*property.Logical, len(n.Children))
	for i, child := range n.Children {
		if child == nil {
			return nil, moerr.NewInvalidInput(ctx, "nil child %d of %s", i, n.Op)
		}
		l, err := m.check(ctx, child)
		if err != nil {
			return nil, err
		}
		children[i] = l
	}
	if m.deriver == nil {
		return &property.Logical{}, nil
	}
	logical, err := m.deriver.DeriveLogical(n.Op, children)
	if err != nil {
		return nil, moerr.NewInvalidInput(ctx, "derive logical property of %s: %v", n.Op, err)
	}
	return logical, nil
}

func (m *Memo) insert(ctx context.Context, n *Node, target GroupID) (*MultiExpression, bool, error) {
	children := make([]GroupID, len(n.Children))
	for i, child := range n.Children {
		if child.IsGroupRef() {
			children[i] = m.find(child.Group)
			continue
		}
		ce, _, err := m.insert(ctx, child, 0)
		if err != nil {
			return nil, false, err
		}
		children[i] = m.find(ce.group)
	}
	if target != 0 {
		target = m.find(target)
	}
	return m.insertExpr(ctx, n.Op, children, target)
}

func (m *Memo) lookup(fp uint64, op operator.Operator, children []GroupID) *MultiExpression {
	for _, e := range m.index[fp] {
		if e.sameStructure(op, children) {
			return e
		}
	}
	return nil
}

func (m *Memo) insertExpr(ctx context.Context, op operator.Operator, children []GroupID, target GroupID) (*MultiExpression, bool, error) {
	fp := fingerprintOf(op, children)
	if existing := m.lookup(fp, op, children); existing != nil {
		if target != 0 && m.find(existing.group) != target {
			if _, err := m.MergeGroups(ctx, existing.group, target); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}

	var g *Group
	if target != 0 {
		g = m.groups[target]
	} else {
		logical, err := m.deriveLogical(ctx, op, children)
		if err != nil {
			return nil, false, err
		}
		g = newGroup(GroupID(len(m.groups)), logical)
		m.groups = append(m.groups, g)
		m.forward = append(m.forward, 0)
	}

	e := &MultiExpression{
		id:          ExprID(len(m.exprs)),
		op:          op,
		children:    children,
		fingerprint: fp,
		applied:     roaring.New(),
	}
	m.exprs = append(m.exprs, e)
	m.index[fp] = append(m.index[fp], e)
	g.Insert(e)
	return e, true, nil
}

func (m *Memo) deriveLogical(ctx context.Context, op operator.Operator, children []GroupID) (*property.Logical, error) {
	if m.deriver == nil {
		return &property.Logical{}, nil
	}
	childProps := make([]*property.Logical, len(children))
	for i, c := range children {
		childProps[i] = m.groups[c].logical
	}
	logical, err := m.deriver.DeriveLogical(op, childProps)
	if err != nil {
		return nil, moerr.NewInvalidInput(ctx, "derive logical property of %s: %v", op, err)
	}
	return logical, nil
}

// MergeGroups records that a and b are the same relation. The lower id
// survives. Every expression referencing the absorbed group is rewritten,
// and rewrites that collide with an existing expression either drop the
// duplicate or merge further groups. Merging a group with itself is a no-op.
func (m *Memo) MergeGroups(ctx context.Context, a, b GroupID) (GroupID, error) {
	if !m.valid(a) || !m.valid(b) {
		return 0, moerr.NewInvalidInput(ctx, "merge of unknown groups %s and %s", a, b)
	}
	pending := [][2]GroupID{{a, b}}
	for len(pending) > 0 {
		pair := pending[0]
		pending = pending[1:]
		pending = append(pending, m.mergeOnce(pair[0], pair[1])...)
	}
	return m.find(a), nil
}

func (m *Memo) mergeOnce(a, b GroupID) [][2]GroupID {
	a, b = m.find(a), m.find(b)
	if a == b {
		return nil
	}
	survivorID, absorbedID := a, b
	if absorbedID < survivorID {
		survivorID, absorbedID = absorbedID, survivorID
	}
	survivor, absorbed := m.groups[survivorID], m.groups[absorbedID]
	m.forward[absorbedID] = survivorID
	absorbed.absorbed = true
	m.generation++
	m.merges++
	metric.OptimizerGroupMergeCounter.Inc()
	logutil.Debug("merge groups",
		zap.Uint32("survivor", uint32(survivorID)),
		zap.Uint32("absorbed", uint32(absorbedID)))

	for _, e := range absorbed.Exprs() {
		absorbed.Delete(e)
		survivor.Insert(e)
	}

	for _, octx := range absorbed.ctxOrder {
		if existing, ok := survivor.optContexts[octx.required.Key()]; ok {
			octx.redirect = existing
			continue
		}
		octx.group = survivorID
		survivor.optContexts[octx.required.Key()] = octx
		survivor.ctxOrder = append(survivor.ctxOrder, octx)
	}
	absorbed.optContexts = make(map[string]*OptimizationContext)
	absorbed.ctxOrder = nil
	for _, octx := range survivor.ctxOrder {
		octx.invalidate()
	}
	survivor.SetUnexplored()

	if m.root == absorbedID {
		m.root = survivorID
	}
	return m.rewriteReferences(absorbedID)
}

// rewriteReferences repoints every live expression reading the absorbed
// group at its survivor and returns the merges the rewrite exposes.
func (m *Memo) rewriteReferences(absorbed GroupID) [][2]GroupID {
	var pending [][2]GroupID
	for _, e := range m.exprs[1:] {
		if e.dead || !e.readsGroup(absorbed) {
			continue
		}
		owner := m.groups[m.find(e.group)]
		owner.Delete(e)
		m.unindex(e)

		for i, c := range e.children {
			e.children[i] = m.find(c)
		}
		e.fingerprint = fingerprintOf(e.op, e.children)

		if dup := m.lookup(e.fingerprint, e.op, e.children); dup != nil {
			e.dead = true
			if m.find(dup.group) != owner.id {
				pending = append(pending, [2]GroupID{dup.group, owner.id})
			}
			continue
		}
		m.index[e.fingerprint] = append(m.index[e.fingerprint], e)
		owner.Insert(e)
	}
	return pending
}

func (e *MultiExpression) readsGroup(id GroupID) bool {
	for _, c := range e.children {
		if c == id {
			return true
		}
	}
	return false
}

func (m *Memo) unindex(e *MultiExpression) {
	list := m.index[e.fingerprint]
	for i, x := range list {
		if x == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.index, e.fingerprint)
	} else {
		m.index[e.fingerprint] = list
	}
}

// InvalidateContexts resets every optimization context for a fresh pass.
// Rule-application marks are kept.
func (m *Memo) InvalidateContexts() {
	for _, g := range m.Groups() {
		for _, octx := range g.ctxOrder {
			octx.reset()
		}
	}
}

// NumOptContexts returns the number of live optimization contexts.
func (m *Memo) NumOptContexts() int {
	n := 0
	for _, g := range m.Groups() {
		n += len(g.ctxOrder)
	}
	return n
}

// String dumps the memo one group per line.
func (m *Memo) String() string {
	var sb strings.Builder
	for _, g := range m.Groups() {
		sb.WriteString(g.id.String())
		if g.id == m.root {
			sb.WriteString(" (root)")
		}
		sb.WriteByte(':')
		for _, e := range g.Exprs() {
			fmt.Fprintf(&sb, " [#%d %s]", e.id, e)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
