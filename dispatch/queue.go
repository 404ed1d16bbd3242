package dispatch

import (
	"container/heap"
	"sync"
)

// queuedItem wraps a task with its heap position so removal by id stays O(log n)
type queuedItem struct {
	task  *Task
	index int
}

// taskHeap orders tasks by priority descending, then deadline ascending with
// deadlined tasks ahead of deadline-free ones, then queue time ascending.
type taskHeap []*queuedItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i].task, h[j].task
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	switch {
	case !a.Deadline.IsZero() && !b.Deadline.IsZero():
		if !a.Deadline.Equal(b.Deadline) {
			return a.Deadline.Before(b.Deadline)
		}
	case !a.Deadline.IsZero():
		return true
	case !b.Deadline.IsZero():
		return false
	}
	return a.QueueTime.Before(b.QueueTime)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queuedItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// taskQueue is the locked façade over the heap. All ordering invariants live
// in taskHeap; this layer only adds the mutex and the id index.
type taskQueue struct {
	mu   sync.Mutex
	heap taskHeap
	byID map[string]*queuedItem
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		byID: make(map[string]*queuedItem),
	}
}

// Push enqueues a task
func (q *taskQueue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &queuedItem{task: t}
	heap.Push(&q.heap, item)
	q.byID[t.ID] = item
}

// Pop removes and returns the highest-ordered task, or nil when empty
func (q *taskQueue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*queuedItem)
	delete(q.byID, item.task.ID)
	return item.task
}

// PopEligible removes and returns the highest-ordered task accepted by the
// predicate, or nil when none qualifies. Rejected tasks ahead of it are put
// back untouched, so a head task waiting on an unavailable capability never
// blocks eligible tasks behind it.
func (q *taskQueue) PopEligible(eligible func(*Task) bool) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*queuedItem
	var found *Task
	for len(q.heap) > 0 {
		item := heap.Pop(&q.heap).(*queuedItem)
		if eligible(item.task) {
			delete(q.byID, item.task.ID)
			found = item.task
			break
		}
		skipped = append(skipped, item)
	}
	for _, item := range skipped {
		heap.Push(&q.heap, item)
	}
	return found
}

// Remove deletes a task by id, returning it if it was queued
func (q *taskQueue) Remove(id string) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return nil
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, id)
	return item.task
}

// Contains reports whether a task id is currently queued
func (q *taskQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[id]
	return ok
}

// Len returns the number of queued tasks
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// CountByPriority returns queued task counts keyed by priority name
func (q *taskQueue) CountByPriority() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]int)
	for _, item := range q.heap {
		counts[item.task.Priority.String()]++
	}
	return counts
}
