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

package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// inputNode is the JSON form of a logical operator tree. Which fields are
// read depends on Op.
type inputNode struct {
	Op       string       `json:"op"`
	Children []*inputNode `json:"children,omitempty"`

	// scan, filter and project
	Columns []property.ColumnID `json:"columns,omitempty"`

	// scan
	Table        string              `json:"table,omitempty"`
	Rows         float64             `json:"rows,omitempty"`
	Ordering     []property.ColumnID `json:"ordering,omitempty"`
	Distribution string              `json:"distribution,omitempty"`

	// filter and join
	Predicate   string  `json:"predicate,omitempty"`
	Selectivity float64 `json:"selectivity,omitempty"`

	// join
	JoinType  string              `json:"join_type,omitempty"`
	LeftKeys  []property.ColumnID `json:"left_keys,omitempty"`
	RightKeys []property.ColumnID `json:"right_keys,omitempty"`

	// aggregate
	GroupBy []property.ColumnID `json:"group_by,omitempty"`
	Aggs    []property.ColumnID `json:"aggs,omitempty"`

	// limit
	Count uint64 `json:"count,omitempty"`
}

func readTree(ctx context.Context, path string) (*memo.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, moerr.NewInvalidInput(ctx, "read input %s: %v", path, err)
	}
	return parseTree(ctx, data)
}

func parseTree(ctx context.Context, data []byte) (*memo.Node, error) {
	var root inputNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, moerr.NewInvalidInput(ctx, "decode input: %v", err)
	}
	return root.toNode(ctx)
}

// opType accepts both "LogicalJoin" and the short "Join".
func opType(name string) (operator.OpType, bool) {
	if t, ok := operator.OpTypeByName(name); ok && t.IsLogical() {
		return t, true
	}
	if t, ok := operator.OpTypeByName("Logical" + name); ok {
		return t, true
	}
	return operator.OpUnknown, false
}

func (n *inputNode) toNode(ctx context.Context) (*memo.Node, error) {
	typ, ok := opType(n.Op)
	if !ok {
		return nil, moerr.NewInvalidInput(ctx, "unknown logical operator %q", n.Op)
	}
	payload, err := n.payload(ctx, typ)
	if err != nil {
		return nil, err
	}
	children := make([]*memo.Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c == nil {
			return nil, moerr.NewInvalidInput(ctx, "%s has a null input", n.Op)
		}
		child, err := c.toNode(ctx)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return memo.NewNode(operator.New(typ, payload), children...), nil
}

func (n *inputNode) payload(ctx context.Context, typ operator.OpType) (operator.Payload, error) {
	switch typ {
	case operator.OpLogicalScan:
		dist, err := parseDistribution(ctx, n.Distribution)
		if err != nil {
			return nil, err
		}
		return &operator.ScanPayload{
			Table:        n.Table,
			Columns:      n.Columns,
			RowCount:     n.Rows,
			Ordering:     property.Asc(n.Ordering...),
			Distribution: dist,
		}, nil
	case operator.OpLogicalFilter:
		return &operator.FilterPayload{Predicate: n.Predicate, Columns: n.Columns, Selectivity: n.Selectivity}, nil
	case operator.OpLogicalProject:
		return &operator.ProjectPayload{Columns: n.Columns}, nil
	case operator.OpLogicalJoin:
		jt, err := parseJoinType(ctx, n.JoinType)
		if err != nil {
			return nil, err
		}
		if len(n.LeftKeys) != len(n.RightKeys) {
			return nil, moerr.NewInvalidInput(ctx, "join has %d left keys and %d right keys", len(n.LeftKeys), len(n.RightKeys))
		}
		return &operator.JoinPayload{Type: jt, LeftKeys: n.LeftKeys, RightKeys: n.RightKeys, Selectivity: n.Selectivity}, nil
	case operator.OpLogicalAggregate:
		return &operator.AggregatePayload{GroupBy: n.GroupBy, Aggs: n.Aggs}, nil
	case operator.OpLogicalLimit:
		return &operator.LimitPayload{Count: n.Count}, nil
	}
	return nil, moerr.NewNotSupported(ctx, "operator %s in input", typ)
}

func parseJoinType(ctx context.Context, s string) (operator.JoinType, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return operator.JoinInner, nil
	case "left":
		return operator.JoinLeft, nil
	case "semi":
		return operator.JoinSemi, nil
	}
	return 0, moerr.NewInvalidInput(ctx, "unknown join type %q", s)
}

// parseDistribution reads "any", "singleton", "replicated", "random" or
// "hashed:1,2".
func parseDistribution(ctx context.Context, s string) (property.Distribution, error) {
	name, keys, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch strings.ToLower(name) {
	case "", "any":
		return property.AnyDistribution(), nil
	case "singleton":
		return property.SingletonDistribution(), nil
	case "replicated":
		return property.ReplicatedDistribution(), nil
	case "random":
		return property.Distribution{Type: property.DistributionRandom}, nil
	case "hashed":
		cols, err := parseColumns(ctx, keys)
		if err != nil {
			return property.Distribution{}, err
		}
		if len(cols) == 0 {
			return property.Distribution{}, moerr.NewInvalidInput(ctx, "hashed distribution needs keys")
		}
		return property.HashedDistribution(cols...), nil
	}
	return property.Distribution{}, moerr.NewInvalidInput(ctx, "unknown distribution %q", s)
}

// parseOrdering reads a comma separated list of columns, each optionally
// followed by "desc", e.g. "1,3 desc".
func parseOrdering(ctx context.Context, s string) (property.Ordering, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var o property.Ordering
	for _, item := range strings.Split(s, ",") {
		fields := strings.Fields(item)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, moerr.NewInvalidInput(ctx, "bad sort item %q", item)
		}
		col, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, moerr.NewInvalidInput(ctx, "bad sort column %q", fields[0])
		}
		si := property.SortItem{Col: property.ColumnID(col)}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				si.Desc = true
			default:
				return nil, moerr.NewInvalidInput(ctx, "bad sort direction %q", fields[1])
			}
		}
		o = append(o, si)
	}
	return o, nil
}

func parseColumns(ctx context.Context, s string) ([]property.ColumnID, error) {
	var cols []property.ColumnID
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		c, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, moerr.NewInvalidInput(ctx, "bad column %q", f)
		}
		cols = append(cols, property.ColumnID(c))
	}
	return cols, nil
}
