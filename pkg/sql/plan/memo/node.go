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
	"strconv"
	"strings"

	"github.com/matrixorigin/mocascades/pkg/sql/plan/operator"
)

// GroupID identifies a Group. Zero is never a valid id.
type GroupID uint32

func (id GroupID) String() string {
	return "G" + strconv.FormatUint(uint64(id), 10)
}

// ExprID identifies a MultiExpression. Zero is never a valid id.
type ExprID uint32

// Node is a plain expression tree, used both as optimizer input and as
// rule output. A node whose Group is set is a reference to an existing
// Group and carries no operator or children.
type Node struct {
	Op       operator.Operator
	Children []*Node
	Group    GroupID
}

func NewNode(op operator.Operator, children ...*Node) *Node {
	return &Node{Op: op, Children: children}
}

// GroupRef returns a node standing for the whole Group id.
func GroupRef(id GroupID) *Node {
	return &Node{Group: id}
}

func (n *Node) IsGroupRef() bool {
	return n.Group != 0
}

func (n *Node) String() string {
	var sb strings.Builder
	n.format(&sb)
	return sb.String()
}

func (n *Node) format(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("<nil>")
		return
	}
	if n.IsGroupRef() {
		sb.WriteString(n.Group.String())
		return
	}
	sb.WriteString(n.Op.String())
	if len(n.Children) == 0 {
		return
	}
	sb.WriteByte('(')
	for i, c := range n.Children {
		if i > 0 {
			sb.WriteString(", ")
		}
		c.format(sb)
	}
	sb.WriteByte(')')
}
