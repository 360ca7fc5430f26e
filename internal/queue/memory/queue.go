// Package memory provides the in-process entity queue shared by workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.Entity
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.Entity, capacity),
	}
}

// Enqueue pushes an entity or returns once the context ends. Enqueue after
// Close reports crawler.ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, entity crawler.Entity) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- entity:
		return nil
	}
}

// Dequeue pops the next entity. Buffered entities are still returned after
// Close; crawler.ErrQueueClosed follows once the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Entity, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case entity, ok := <-q.ch:
		if !ok {
			return "", crawler.ErrQueueClosed
		}
		return entity, nil
	}
}

// Len reports how many entities are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
