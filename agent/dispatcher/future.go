package dispatcher

import (
	"context"
	"sync"
)

// Future is the pending reply of one enqueued request. It is resolved
// exactly once.
type Future struct {
	id    string
	done  chan struct{}
	once  sync.Once
	reply string
	err   error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func resolvedFuture(id, reply string) *Future {
	f := newFuture(id)
	f.resolve(reply, nil)
	return f
}

func (f *Future) ID() string { return f.id }

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the reply is available. Giving up on ctx does not
// cancel the request.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.reply, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Future) resolve(reply string, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.reply, f.err = reply, err
		close(f.done)
		resolved = true
	})
	return resolved
}
