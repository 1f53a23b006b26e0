package flat

import (
	"context"
	"fmt"
)

// ErrRebuildSuperseded is the result of a rebuild cancelled by a newer one.
var ErrRebuildSuperseded = fmt.Errorf("rebuild superseded: %w", context.Canceled)

// Task tracks one asynchronous rebuild.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task { return &Task{done: make(chan struct{})} }

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the rebuild has been published or discarded.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the outcome once Done is closed: nil when the new list was
// published, the cancellation or failure otherwise.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
