// Copyright 2021 Matrix Origin
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

// ExploreMark records which search stages a Group or MultiExpression has
// been through.
type ExploreMark uint8

const (
	markExplored ExploreMark = 1 << iota
	markImplemented
)

// SetExplored marks that transformation rules have been scheduled.
func (m *ExploreMark) SetExplored() {
	*m |= markExplored
}

// SetUnexplored clears the explored bit, e.g. after new members arrived
// through a merge.
func (m *ExploreMark) SetUnexplored() {
	*m &^= markExplored
}

// Explored returns whether transformation rules have been scheduled.
func (m *ExploreMark) Explored() bool {
	return *m&markExplored != 0
}

// SetImplemented marks that implementation rules have been scheduled.
func (m *ExploreMark) SetImplemented() {
	*m |= markImplemented
}

// Implemented returns whether implementation rules have been scheduled.
func (m *ExploreMark) Implemented() bool {
	return *m&markImplemented != 0
}
