// Package resolve turns submitted URLs into playable stream
// descriptors in the background.
package resolve

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/arai051/tunebox/internal/app/notification"
	"github.com/arai051/tunebox/internal/app/queue"
	"github.com/arai051/tunebox/internal/domain/media"
	"github.com/arai051/tunebox/internal/infra/resolver"
)

// Task is one pending resolution.
type Task struct {
	ID  string
	URL string
}

// Resolver resolves a page URL into stream details.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*media.Resolved, error)
}

// Starter is asked to begin playback of freshly readied items.
type Starter interface {
	AutoStart(id string)
}

// Worker consumes resolution tasks one at a time on its own goroutine.
// The task queue is unbounded: a submission must never block and never
// be dropped, however slow the resolver is.
type Worker struct {
	store    *queue.Store
	resolver Resolver
	starter  Starter
	pub      notification.Publisher
	timeout  time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Task
	closed  bool
	done    chan struct{}
}

// NewWorker creates and starts a worker. A non-positive timeout falls
// back to 30s per resolution.
func NewWorker(store *queue.Store, res Resolver, starter Starter, pub notification.Publisher, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	w := &Worker{
		store:    store,
		resolver: res,
		starter:  starter,
		pub:      pub,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue adds a resolution task. Never blocks; tasks submitted after
// Close are dropped.
func (w *Worker) Enqueue(id, url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = append(w.pending, Task{ID: id, URL: url})
	w.cond.Signal()
}

// Pending returns the number of queued tasks.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops the worker after the task in flight and waits for the
// loop to exit. Queued tasks are dropped. Safe to call repeatedly.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			return
		}
		task := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		w.process(task)
	}
}

// process resolves one task. Failures mark the item errored; failures
// that smell like stale resolver credentials additionally raise a
// credential-refresh event. There is no retry, the user resubmits.
func (w *Worker) process(task Task) {
	zlog.Info().Str("id", task.ID).Str("url", task.URL).Msg("Resolving media URL")

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	resolved, err := w.resolver.Resolve(ctx, task.URL)
	if err != nil {
		zlog.Warn().Err(err).Str("id", task.ID).Str("url", task.URL).Msg("Resolution failed")
		w.store.AttachError(task.ID)
		if resolver.SuggestsStaleCredentials(err) && w.pub != nil {
			w.pub.Publish(notification.TypeCredentialRefresh, notification.CredentialRefreshPayload{
				URL:    task.URL,
				ItemID: task.ID,
			})
		}
		return
	}

	if !w.store.AttachResult(task.ID, resolved) {
		zlog.Debug().Str("id", task.ID).Msg("Item removed before resolution finished")
		return
	}

	zlog.Info().Str("id", task.ID).Str("title", resolved.Title).Msg("Media URL resolved")
	if w.starter != nil {
		w.starter.AutoStart(task.ID)
	}
}
