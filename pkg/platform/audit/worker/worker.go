package worker

import (
	"context"
	"errors"

	audit "cirvia/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. It decouples
// emitters from slow sinks without wiring queue implementations into services.
type Worker struct {
	store audit.Store
	inbox <-chan audit.Event
}

func NewWorker(store audit.Store, inbox <-chan audit.Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

// ChannelStore is the producer side of a Worker: an audit.Store that enqueues
// events onto the worker's inbox. Append fails when the inbox is full rather
// than blocking the request path.
type ChannelStore struct {
	inbox chan<- audit.Event
}

// NewChannel builds a paired ChannelStore and inbox of the given capacity.
func NewChannel(size int) (*ChannelStore, <-chan audit.Event) {
	ch := make(chan audit.Event, size)
	return &ChannelStore{inbox: ch}, ch
}

func (s *ChannelStore) Append(_ context.Context, event audit.Event) error {
	select {
	case s.inbox <- event:
		return nil
	default:
		return errors.New("audit inbox full")
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}
