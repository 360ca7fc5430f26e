package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Dequeue once a closed queue has been drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue hands discovered entities to workers.
type Queue interface {
	Enqueue(ctx context.Context, entity Entity) error
	Dequeue(ctx context.Context) (Entity, error)
}

// PageDriver drives one browser session on the exchange statistics page.
// A session is not safe for concurrent use; each worker owns its own.
type PageDriver interface {
	ListEntities(ctx context.Context) ([]string, error)
	SelectEntity(ctx context.Context, entity Entity) error
	SetWindow(ctx context.Context, window Window) error
	Search(ctx context.Context) error
	WaitResults(ctx context.Context) error
	PageSource(ctx context.Context) (string, error)
	Close() error
}

// SessionFactory opens independent page-driver sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (PageDriver, error)
}

// EntityLister returns the raw option labels of the listing control.
type EntityLister interface {
	ListEntities(ctx context.Context) ([]string, error)
}

// RowExtractor turns rendered markup into ordered rows of cell text.
type RowExtractor interface {
	Extract(markup string) ([][]string, error)
}

// CheckpointStore loads prior checkpoints and appends accumulated observations.
type CheckpointStore interface {
	Load(ctx context.Context) (map[CheckpointKey]struct{}, error)
	Append(ctx context.Context, rows []Observation) error
}

// Exporter mirrors a run's observations to a secondary destination after the flush.
type Exporter interface {
	Name() string
	Export(ctx context.Context, runID string, rows []Observation) error
}

// CellFormatter rewrites a single extracted cell value.
type CellFormatter func(value string) string

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
