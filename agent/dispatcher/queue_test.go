package dispatcher

import (
	"testing"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

func TestQueueStablePriorityOrder(t *testing.T) {
	t.Parallel()

	var q queue
	q.insert(&job{id: "low1", priority: contractx.PriorityLow})
	q.insert(&job{id: "med1", priority: contractx.PriorityMedium})
	q.insert(&job{id: "high1", priority: contractx.PriorityHigh})
	q.insert(&job{id: "med2", priority: contractx.PriorityMedium})
	q.insert(&job{id: "high2", priority: contractx.PriorityHigh})
	q.pushFront(&job{id: "retry", priority: contractx.PriorityLow})

	want := []string{"retry", "high1", "high2", "med1", "med2", "low1"}
	for i, id := range want {
		j, ok := q.pop()
		if !ok {
			t.Fatalf("pop() #%d empty", i)
		}
		if j.id != id {
			t.Fatalf("pop() #%d = %s, want %s", i, j.id, id)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop() on empty queue returned a job")
	}
}
