package persist

import (
	"sync"

	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/aschepis/backscratcher/lifebook/vault"
)

// task is one queued write, or a barrier when barrier is non-nil.
type task struct {
	uid     string
	snap    story.Snapshot
	barrier chan struct{}
}

// worker drains one (user, collection) queue in submission order. The queue
// is unbounded so enqueueing never waits on a slow write.
type worker struct {
	uid        string
	collection vault.Collection

	mu       sync.Mutex
	queue    []task
	stopping bool
	wake     chan struct{}
	done     chan struct{}
}

func newWorker(uid string, collection vault.Collection) *worker {
	return &worker{
		uid:        uid,
		collection: collection,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (w *worker) enqueue(t task) {
	w.mu.Lock()
	w.queue = append(w.queue, t)
	w.mu.Unlock()
	w.signal()
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop lets the worker finish what is queued and exit.
func (w *worker) stop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.signal()
}

func (w *worker) run(handle func(collection vault.Collection, t task)) {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			stopping := w.stopping
			w.mu.Unlock()
			if stopping {
				return
			}
			<-w.wake
			continue
		}
		t := w.queue[0]
		w.queue[0] = task{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if t.barrier != nil {
			close(t.barrier)
			continue
		}
		handle(w.collection, t)
	}
}
