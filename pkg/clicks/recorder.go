// Package clicks records link accesses in the background. Recording must
// never delay or fail a redirect: events are handed off through a buffered
// channel to a worker pool that writes with its own context, and are dropped
// (with a log line) when the buffer is full.
package clicks

import (
	"context"
	"sync"
	"time"

	"shortlink/pkg/logging"
	"shortlink/pkg/storage"
)

// Sink is where click events land. Satisfied by storage.LinkStorage.
type Sink interface {
	RecordClick(ctx context.Context, event *storage.ClickEvent) error
}

type Recorder struct {
	sink   Sink
	logger *logging.Logger

	events chan *storage.ClickEvent
	wg     sync.WaitGroup

	writeTimeout time.Duration
}

func NewRecorder(sink Sink, logger *logging.Logger, workers, buffer int) *Recorder {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}
	r := &Recorder{
		sink:         sink,
		logger:       logger,
		events:       make(chan *storage.ClickEvent, buffer),
		writeTimeout: 5 * time.Second,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Enqueue hands an event to the workers without blocking the caller.
func (r *Recorder) Enqueue(event *storage.ClickEvent) {
	select {
	case r.events <- event:
	default:
		r.logger.Warn(context.Background(), "click buffer full, dropping event",
			"link_id", event.LinkID)
	}
}

// Close stops accepting events and waits for the workers to drain the buffer.
func (r *Recorder) Close() {
	close(r.events)
	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for event := range r.events {
		// Deliberately not the request context: the redirect response may
		// already be gone by the time this write runs.
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		if err := r.sink.RecordClick(ctx, event); err != nil {
			r.logger.Error(ctx, "failed to record click",
				"link_id", event.LinkID, "error", err)
		}
		cancel()
	}
}
