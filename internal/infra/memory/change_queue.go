package memory

import (
	"context"
	"strconv"
	"sync"

	"quizroom/internal/domain"
)

// changeQueue is an at-least-once FIFO: a delivered change stays in flight
// until acked, and a nack puts it back at the tail.
type changeQueue struct {
	mu       sync.Mutex
	items    []domain.Change
	inflight map[string]domain.Change
	ready    chan struct{}
	tokens   int64
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		inflight: make(map[string]domain.Change),
		ready:    make(chan struct{}, 1),
	}
}

func (q *changeQueue) push(c domain.Change) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.signal()
}

func (q *changeQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *changeQueue) next(ctx context.Context) (domain.Change, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items = q.items[1:]
			q.tokens++
			c.Token = strconv.FormatInt(q.tokens, 10)
			q.inflight[c.Token] = c
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return c, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Change{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *changeQueue) ack(c domain.Change) {
	q.mu.Lock()
	delete(q.inflight, c.Token)
	q.mu.Unlock()
}

func (q *changeQueue) nack(c domain.Change) {
	q.mu.Lock()
	if _, ok := q.inflight[c.Token]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.inflight, c.Token)
	c.Token = ""
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.signal()
}

func (q *changeQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + len(q.inflight)
}
