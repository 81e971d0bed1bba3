package dispatcher

import (
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
)

type job struct {
	id         string
	req        contractx.Request
	scene      scenex.Config
	priority   contractx.Priority
	retries    int
	enqueuedAt time.Time
	future     *Future
}

// queue is ordered by priority class, FIFO within a class. It is not safe
// for concurrent use; the dispatcher guards it.
type queue struct {
	items []*job
}

func (q *queue) Len() int { return len(q.items) }

// insert places j after every queued job of equal or higher priority.
func (q *queue) insert(j *job) {
	idx := len(q.items)
	for i, existing := range q.items {
		if existing.priority > j.priority {
			idx = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = j
}

func (q *queue) pushFront(j *job) {
	q.items = append([]*job{j}, q.items...)
}

func (q *queue) pop() (*job, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return j, true
}

func (q *queue) drain() []*job {
	out := q.items
	q.items = nil
	return out
}
