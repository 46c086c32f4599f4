// Package live is the change feed behind live snippet lists.
//
// The store publishes one Change per committed write. Watchers register a
// filter with the Broker and receive a wake-up signal whenever a matching
// change arrives; they then re-run their query and deliver the fresh result
// set. Wake-ups coalesce, so a burst of writes costs one re-query.
package live

import (
	"sync/atomic"

	"github.com/sakif/codeshelf/internal/model"
)

// Kind of write that produced a Change.
type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
)

// Change describes one committed write. Before is nil for Created, After is
// nil for Deleted.
type Change struct {
	Kind   Kind
	ID     string
	Before *model.Snippet
	After  *model.Snippet
}

// Publisher is implemented by Broker and consumed by the store.
type Publisher interface {
	Publish(Change)
}

type watcher struct {
	filter func(Change) bool
	wake   chan struct{}
}

// Broker fans changes out to watchers.
//
// A single event loop owns the watcher set; public methods talk to it over
// channels, so no mutexes are needed. Publish never blocks on a slow watcher:
// each watcher has a wake channel of capacity 1 and extra signals are dropped.
type Broker struct {
	subscribeCh   chan *watcher
	unsubscribeCh chan *watcher
	publishCh     chan Change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ Publisher = (*Broker)(nil)

func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan *watcher),
		unsubscribeCh: make(chan *watcher),
		publishCh:     make(chan Change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	watchers := make(map[*watcher]struct{})

	for {
		select {
		case <-b.stopCh:
			for w := range watchers {
				close(w.wake)
			}
			return

		case w := <-b.subscribeCh:
			watchers[w] = struct{}{}

		case w := <-b.unsubscribeCh:
			if _, ok := watchers[w]; ok {
				delete(watchers, w)
				close(w.wake)
			}

		case c := <-b.publishCh:
			for w := range watchers {
				if w.filter != nil && !w.filter(c) {
					continue
				}
				select {
				case w.wake <- struct{}{}:
				default:
					// already signalled; the pending re-query will see this change too
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(watchers)
		}
	}
}

// Close stops the event loop and closes every watcher's wake channel.
// It is safe to call more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// subscribe registers a watcher. A nil filter matches every change.
// The returned channel is closed on unsubscribe or broker shutdown.
func (b *Broker) subscribe(filter func(Change) bool) *watcher {
	w := &watcher{filter: filter, wake: make(chan struct{}, 1)}
	if b.closed.Load() {
		close(w.wake)
		return w
	}

	select {
	case b.subscribeCh <- w:
	case <-b.stopped:
		close(w.wake)
	}
	return w
}

func (b *Broker) unsubscribe(w *watcher) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- w:
	case <-b.stopped:
	}
}

// WatcherCount returns the number of registered watchers.
func (b *Broker) WatcherCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish hands a change to the event loop. After Close it is a no-op.
func (b *Broker) Publish(c Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- c:
	case <-b.stopped:
	}
}
