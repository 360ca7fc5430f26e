// Package dispatcher fans the discovered entities out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
)

// Worker consumes the shared queue until it is drained or ctx ends.
type Worker interface {
	Run(ctx context.Context)
}

// Queue is the closable entity queue shared by the pool.
type Queue interface {
	crawler.Queue
	Close()
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []Worker
}

// New creates a Dispatcher.
func New(queue Queue, workers []Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers, feeds them the entities in order, closes the queue
// and blocks until every worker has returned. A feed error (cancellation)
// is returned after the workers stop.
func (d *Dispatcher) Run(ctx context.Context, entities []crawler.Entity) error {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	var feedErr error
	for _, entity := range entities {
		if err := d.Enqueue(ctx, entity); err != nil {
			feedErr = err
			break
		}
	}
	d.queue.Close()
	wg.Wait()
	return feedErr
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, entity crawler.Entity) error {
	if err := d.queue.Enqueue(ctx, entity); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
