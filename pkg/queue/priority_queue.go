// Copyright 2019 Preferred Networks, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"container/heap"
	"time"

	"github.com/pfnet-research/k8s-scheduling-framework/pkg/pod"
)

// lessFunc returns true if item0 should be popped before item1.
type lessFunc = func(item0, item1 *item) bool

// podHeap stores pods keyed by name in a heap ordered by less.
type podHeap struct {
	// podHeap wraps rawPriorityQueue for type-safetiness.

	inner rawPriorityQueue
}

func newPodHeap(less lessFunc) *podHeap {
	return &podHeap{
		inner: rawPriorityQueue{
			items: map[string]*item{},
			keys:  []string{},
			less:  less,
		},
	}
}

// push adds the item, or replaces the item with the same pod name.
func (h *podHeap) push(itm *item) {
	if existing, ok := h.inner.items[itm.pod.Name]; ok {
		existing.pod = itm.pod
		existing.expire = itm.expire
		heap.Fix(&h.inner, existing.index)
		return
	}
	heap.Push(&h.inner, itm)
}

func (h *podHeap) pop() *item {
	if h.inner.Len() == 0 {
		return nil
	}
	return heap.Pop(&h.inner).(*item)
}

func (h *podHeap) peek() *item {
	if h.inner.Len() == 0 {
		return nil
	}
	return h.inner.items[h.inner.keys[0]]
}

func (h *podHeap) get(name string) (*item, bool) {
	itm, ok := h.inner.items[name]
	return itm, ok
}

func (h *podHeap) remove(name string) (*item, bool) {
	itm, ok := h.inner.items[name]
	if !ok {
		return nil, false
	}
	return heap.Remove(&h.inner, itm.index).(*item), true
}

func (h *podHeap) len() int {
	return h.inner.Len()
}

func (h *podHeap) list() []*pod.PodInfo {
	return h.inner.pendingPods()
}

type item struct {
	pod *pod.PodInfo
	// expire is the end of the backoff of the pod. Zero for pods in the active queue.
	expire time.Time
	index  int // Needed by update and is maintained by the heap.Interface methods.
}

type rawPriorityQueue struct {
	// A pod exists in keys iff it also exists in items.

	items map[string]*item
	keys  []string
	less  lessFunc
}

// Len, Less, and Swap are required to implement sort.Interface, which is included in heap.Interface.
func (pq rawPriorityQueue) Len() int { return len(pq.keys) }

func (pq rawPriorityQueue) Less(i, j int) bool {
	return pq.less(pq.items[pq.keys[i]], pq.items[pq.keys[j]])
}

func (pq rawPriorityQueue) Swap(i, j int) {
	pq.keys[i], pq.keys[j] = pq.keys[j], pq.keys[i]

	pq.items[pq.keys[i]].index = i
	pq.items[pq.keys[j]].index = j
}

// Push and Pop are required to implement heap.Interface.
func (pq *rawPriorityQueue) Push(itm interface{}) {
	item := itm.(*item)
	item.index = len(pq.keys)

	pq.items[item.pod.Name] = item
	pq.keys = append(pq.keys, item.pod.Name)
}

func (pq *rawPriorityQueue) Pop() interface{} {
	keysOld := pq.keys
	n := len(keysOld)

	key := keysOld[n-1]
	item := pq.items[key]
	item.index = -1 // for safety

	delete(pq.items, key)
	pq.keys = keysOld[0 : n-1]

	return item
}

func (pq *rawPriorityQueue) pendingPods() []*pod.PodInfo {
	pods := make([]*pod.PodInfo, 0, pq.Len())
	for _, item := range pq.items {
		pods = append(pods, item.pod)
	}
	return pods
}

// activeLess returns true if the pod of item0 has higher priority than that of item1.
// Pods of equal priority are not ordered, whatever their arrival.
func activeLess(item0, item1 *item) bool {
	return item0.pod.Spec.Priority > item1.pod.Spec.Priority
}

// backoffLess returns true if the backoff of item0 expires earlier than that of item1.
func backoffLess(item0, item1 *item) bool {
	return item0.expire.Before(item1.expire)
}
