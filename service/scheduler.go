package service

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler runs one-shot tasks at a point in time. Scheduling a key that is
// already pending replaces the earlier task.
type Scheduler interface {
	Schedule(key string, at time.Time, task func())
	Cancel(key string) bool
	Close()
}

type delayedTask struct {
	key   string
	at    time.Time
	task  func()
	index int
}

type taskHeap []*delayedTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*delayedTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// DelayQueue is a Scheduler backed by a min-heap and a single worker
// goroutine. Tasks run sequentially on that goroutine.
type DelayQueue struct {
	mu     sync.Mutex
	tasks  taskHeap
	byKey  map[string]*delayedTask
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

var _ Scheduler = (*DelayQueue)(nil)

// NewDelayQueue starts the worker goroutine. Close stops it.
func NewDelayQueue() *DelayQueue {
	q := &DelayQueue{
		byKey: make(map[string]*delayedTask),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *DelayQueue) Schedule(key string, at time.Time, task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if old, ok := q.byKey[key]; ok {
		heap.Remove(&q.tasks, old.index)
	}
	t := &delayedTask{key: key, at: at, task: task}
	heap.Push(&q.tasks, t)
	q.byKey[key] = t
	q.signal()
}

func (q *DelayQueue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&q.tasks, t.index)
	delete(q.byKey, key)
	q.signal()
	return true
}

// Len returns the number of pending tasks
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close drops pending tasks and waits for a running task to return.
func (q *DelayQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.tasks = nil
	q.byKey = map[string]*delayedTask{}
	close(q.done)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *DelayQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *DelayQueue) run() {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := q.next()
		for _, t := range due {
			t.task()
		}
		if len(due) > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.done:
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// next pops every due task, or reports how long to sleep until the earliest one.
func (q *DelayQueue) next() ([]*delayedTask, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var due []*delayedTask
	for len(q.tasks) > 0 && !q.tasks[0].at.After(now) {
		t := heap.Pop(&q.tasks).(*delayedTask)
		delete(q.byKey, t.key)
		due = append(due, t)
	}
	if len(due) > 0 || len(q.tasks) == 0 {
		return due, time.Hour
	}
	return nil, q.tasks[0].at.Sub(now)
}
