package persist

import (
	"context"
	"sync"

	"github.com/surrealdb/scenesync/pkg/constants"
)

// Job is one unit of work on a SaveQueue.
type Job func(ctx context.Context) error

// SaveQueue runs jobs strictly one after another in submission order. A
// job starts only once its predecessor has finished, whether it succeeded
// or failed, so two saves never race on the document version.
type SaveQueue struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tail   chan struct{}
	closed bool
}

func NewSaveQueue() *SaveQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &SaveQueue{ctx: ctx, cancel: cancel}
}

// Submit appends job and returns a channel that receives its result. The
// job runs with ctx, which is also cancelled when the queue is closed.
func (q *SaveQueue) Submit(ctx context.Context, job Job) <-chan error {
	res := make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		res <- constants.ErrQueueClosed
		return res
	}
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if q.ctx.Err() != nil {
			res <- constants.ErrQueueClosed
			return
		}

		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(q.ctx, cancel)
		defer stop()

		res <- job(jobCtx)
	}()
	return res
}

// Enqueue submits job and waits for its result or for ctx to end. When ctx
// ends first the job still runs, in its turn, with a cancelled context.
func (q *SaveQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case err := <-q.Submit(ctx, job):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new jobs, cancels the running one and those still waiting,
// and waits until the queue is drained or ctx ends.
func (q *SaveQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	tail := q.tail
	q.mu.Unlock()

	q.cancel()
	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
