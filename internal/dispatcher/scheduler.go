package dispatcher

import (
	"container/heap"
	"time"

	"devpulse/pkg/models"
	"devpulse/pkg/retry"
)

// task is one target's delivery. While a task sits in the queue no worker
// owns it; once popped it belongs to exactly one worker until it is pushed
// back or reaches a terminal state.
type task struct {
	attempt      models.DeliveryAttempt
	notification models.Notification
	schedule     *retry.Schedule
	inflightKey  string
	due          time.Time
	index        int
}

// taskQueue is a min-heap on due time.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].due.Before(q[j].due)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

func (q *taskQueue) push(t *task) {
	heap.Push(q, t)
}

// popDue removes and returns the earliest task if it is due at now. Otherwise
// it returns how long until the earliest task is due, or false when empty.
func (q *taskQueue) popDue(now time.Time) (*task, time.Duration, bool) {
	if q.Len() == 0 {
		return nil, 0, false
	}
	next := (*q)[0]
	if wait := next.due.Sub(now); wait > 0 {
		return nil, wait, true
	}
	return heap.Pop(q).(*task), 0, true
}

// drain empties the queue and returns its tasks in due order.
func (q *taskQueue) drain() []*task {
	tasks := make([]*task, 0, q.Len())
	for q.Len() > 0 {
		tasks = append(tasks, heap.Pop(q).(*task))
	}
	return tasks
}
