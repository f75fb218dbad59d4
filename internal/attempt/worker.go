package attempt

import (
	"context"
	"log"

	"faceattend/internal/attendance"
	"faceattend/internal/queue"
)

// Marker identifies staged captures.
type Marker interface {
	MarkStaged(ctx context.Context, path string) (attendance.Outcome, error)
	Discard(path string)
}

// Worker consumes identify messages and stores their outcome.
type Worker struct {
	queue  queue.Queue
	store  Store
	marker Marker
}

// NewWorker creates a worker.
func NewWorker(q queue.Queue, store Store, marker Marker) *Worker {
	return &Worker{queue: q, store: store, marker: marker}
}

// Run processes messages until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeIdentify {
			log.Printf("worker: skipping message type %q", msg.Type)
			continue
		}
		w.Process(ctx, msg.Body)
	}
	log.Println("worker stopped")
	return nil
}

// Process identifies the capture of attempt id and saves the result. The
// staged capture is removed afterwards whatever the outcome.
func (w *Worker) Process(ctx context.Context, id string) {
	a, err := w.store.Get(ctx, id)
	if err != nil {
		log.Printf("worker: fetch attempt %s failed: %v", id, err)
		return
	}
	if a.Status != StatusPending {
		return
	}
	defer w.marker.Discard(a.Path)

	out, err := w.marker.MarkStaged(ctx, a.Path)
	if err != nil {
		log.Printf("worker: attempt %s failed: %v", id, err)
	}
	a.Complete(out, err)
	if err := w.store.Save(ctx, a); err != nil {
		log.Printf("worker: save attempt %s failed: %v", id, err)
		return
	}
	log.Printf("worker: attempt %s %s", id, a.Status)
}
