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

package rule

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/logutil"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/pattern"
)

type Type uint8

const (
	// TypeTransformation rules produce logically equivalent logical
	// expressions.
	TypeTransformation Type = iota + 1
	// TypeImplementation rules produce physical expressions implementing a
	// logical one.
	TypeImplementation
)

func (t Type) String() string {
	switch t {
	case TypeTransformation:
		return "transformation"
	case TypeImplementation:
		return "implementation"
	}
	return "unknown"
}

// Rule rewrites a bound expression into equivalent ones.
type Rule interface {
	Name() string
	Type() Type
	Pattern() *pattern.Pattern
	// Promise orders rules: higher promise is tried first.
	Promise() int
	// Match is a cheap check run on a binding before Apply.
	Match(b *memo.Binding) bool
	// Apply returns the rewritten expressions. Children that stay
	// unchanged are returned as group references. Apply must not modify b.
	Apply(ctx context.Context, b *memo.Binding) ([]*memo.Node, error)
}

type baseRule struct {
	name    string
	typ     Type
	pattern *pattern.Pattern
	promise int
}

func (r *baseRule) Name() string              { return r.name }
func (r *baseRule) Type() Type                { return r.typ }
func (r *baseRule) Pattern() *pattern.Pattern { return r.pattern }
func (r *baseRule) Promise() int              { return r.promise }
func (r *baseRule) Match(*memo.Binding) bool  { return true }

// Registered is a rule as known to a Set. ID is dense and stable for the
// lifetime of the Set.
type Registered struct {
	Rule
	ID       uint32
	Priority int
}

// Set is an ordered table of rules plus the enforcers available to the
// search.
type Set struct {
	rules     []*Registered
	byName    map[string]*Registered
	enforcers []Enforcer

	byOperand map[Type]map[pattern.Operand][]*Registered
	anyRoot   map[Type][]*Registered
}

func NewSet() *Set {
	return &Set{byName: make(map[string]*Registered)}
}

// Add registers rules in order. Names must be unique and patterns valid.
func (s *Set) Add(ctx context.Context, rules ...Rule) error {
	for _, r := range rules {
		if r == nil {
			return moerr.NewInvalidInput(ctx, "nil rule")
		}
		if _, ok := s.byName[r.Name()]; ok {
			return moerr.NewInvalidInput(ctx, "duplicate rule %s", r.Name())
		}
		if r.Type() != TypeTransformation && r.Type() != TypeImplementation {
			return moerr.NewInvalidInput(ctx, "rule %s has unknown type", r.Name())
		}
		if !r.Pattern().Validate() {
			return moerr.NewInvalidInput(ctx, "rule %s has invalid pattern", r.Name())
		}
		reg := &Registered{Rule: r, ID: uint32(len(s.rules)), Priority: r.Promise()}
		s.rules = append(s.rules, reg)
		s.byName[r.Name()] = reg
	}
	s.byOperand = nil
	return nil
}

func (s *Set) AddEnforcers(enforcers ...Enforcer) {
	s.enforcers = append(s.enforcers, enforcers...)
}

// Configure returns a copy of s ordered by priority, highest first, with
// disabled rules removed. A priority entry overrides the rule's promise;
// equal priorities keep registration order.
func (s *Set) Configure(priority map[string]int, disabled []string) *Set {
	for _, name := range append(lo.Keys(priority), disabled...) {
		if _, ok := s.byName[name]; !ok {
			logutil.Warn("unknown rule in search config", zap.String("rule", name))
		}
	}
	kept := lo.Filter(s.rules, func(r *Registered, _ int) bool {
		return !lo.Contains(disabled, r.Name())
	})
	ordered := lo.Map(kept, func(r *Registered, _ int) *Registered {
		p := r.Promise()
		if v, ok := priority[r.Name()]; ok {
			p = v
		}
		return &Registered{Rule: r.Rule, Priority: p}
	})
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	out := NewSet()
	for i, r := range ordered {
		r.ID = uint32(i)
		out.rules = append(out.rules, r)
		out.byName[r.Name()] = r
	}
	out.enforcers = append(out.enforcers, s.enforcers...)
	return out
}

// WithoutEnforcers returns a copy of s that cannot enforce properties.
func (s *Set) WithoutEnforcers() *Set {
	out := s.Configure(nil, nil)
	out.enforcers = nil
	return out
}

func (s *Set) Len() int                       { return len(s.rules) }
func (s *Set) Rules() []*Registered           { return append([]*Registered(nil), s.rules...) }
func (s *Set) Enforcers() []Enforcer          { return append([]Enforcer(nil), s.enforcers...) }
func (s *Set) Lookup(name string) *Registered { return s.byName[name] }

// Candidates returns the rules of the given type whose pattern root can
// match e, in priority order.
func (s *Set) Candidates(typ Type, e *memo.MultiExpression) []*Registered {
	if s.byOperand == nil {
		s.buildIndex()
	}
	specific := s.byOperand[typ][pattern.GetOperand(e.Op())]
	generic := s.anyRoot[typ]
	if len(generic) == 0 || !e.IsLogical() {
		return specific
	}
	merged := append(append([]*Registered(nil), specific...), generic...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

func (s *Set) buildIndex() {
	s.byOperand = make(map[Type]map[pattern.Operand][]*Registered)
	s.anyRoot = make(map[Type][]*Registered)
	for _, r := range s.rules {
		operand := r.Pattern().Operand
		if operand == pattern.OperandAny {
			s.anyRoot[r.Type()] = append(s.anyRoot[r.Type()], r)
			continue
		}
		if s.byOperand[r.Type()] == nil {
			s.byOperand[r.Type()] = make(map[pattern.Operand][]*Registered)
		}
		s.byOperand[r.Type()][operand] = append(s.byOperand[r.Type()][operand], r)
	}
}
