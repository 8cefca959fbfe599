// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package typeutil

import (
	"slices"
	"sync"

	"golang.org/x/exp/constraints"
)

// ConcurrentSet 是读多写少场景下的并发安全集合，零值可用。
type ConcurrentSet[T comparable] struct {
	inner sync.Map
}

func NewConcurrentSet[T comparable](elements ...T) *ConcurrentSet[T] {
	set := &ConcurrentSet[T]{}
	set.Upsert(elements...)
	return set
}

func (set *ConcurrentSet[T]) Upsert(elements ...T) {
	for _, e := range elements {
		set.inner.Store(e, struct{}{})
	}
}

// Insert 返回 element 是否为新加入的元素。
func (set *ConcurrentSet[T]) Insert(element T) bool {
	_, loaded := set.inner.LoadOrStore(element, struct{}{})
	return !loaded
}

// Contain 只有所有元素都存在时才返回 true。
func (set *ConcurrentSet[T]) Contain(elements ...T) bool {
	for _, e := range elements {
		if _, ok := set.inner.Load(e); !ok {
			return false
		}
	}
	return true
}

func (set *ConcurrentSet[T]) Remove(elements ...T) {
	for _, e := range elements {
		set.inner.Delete(e)
	}
}

func (set *ConcurrentSet[T]) Collect() []T {
	var elements []T
	set.inner.Range(func(key, _ any) bool {
		elements = append(elements, key.(T))
		return true
	})
	return elements
}

func (set *ConcurrentSet[T]) Len() int {
	n := 0
	set.inner.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sorted 返回集合当前元素的有序快照。
func Sorted[T constraints.Ordered](set *ConcurrentSet[T]) []T {
	elements := set.Collect()
	slices.Sort(elements)
	return elements
}
