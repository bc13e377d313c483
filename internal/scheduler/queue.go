package scheduler

import (
	"container/heap"
	"time"
)

// CrawlTask is one unit of pending crawl work.
type CrawlTask struct {
	URL        string    `json:"url"`
	Host       string    `json:"host"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	NotBefore  time.Time `json:"not_before"`

	// insertion order, breaks priority ties first-in first-out
	seq uint64
}

// taskQueue is a max-heap on Priority, then min on seq.
type taskQueue []*CrawlTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) {
	*q = append(*q, x.(*CrawlTask))
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func (q *taskQueue) push(t *CrawlTask) { heap.Push(q, t) }

func (q *taskQueue) pop() *CrawlTask { return heap.Pop(q).(*CrawlTask) }

func (q taskQueue) peek() *CrawlTask {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
