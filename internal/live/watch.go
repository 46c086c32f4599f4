package live

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/sakif/codeshelf/internal/model"
)

// QueryFunc materialises the current result set of a live list.
type QueryFunc func(ctx context.Context) ([]model.Snippet, error)

// Options configure a Watch.
type Options struct {
	// Filter narrows which changes trigger a re-query. Nil means all.
	Filter func(Change) bool
	// OnUpdate receives every delivered result set, in order, from a single
	// goroutine. Required.
	OnUpdate func([]model.Snippet)
	// OnError receives re-query failures. The subscription stays alive.
	OnError func(error)
}

// Subscription is the handle of a running Watch.
type Subscription struct {
	broker *Broker
	query  QueryFunc
	opts   Options

	cancel     context.CancelFunc
	done       chan struct{}
	cancelled  atomic.Bool
	delivering atomic.Bool
	last       uint64
	delivered  bool
}

// Watch registers with the broker, runs the initial query and starts the
// delivery goroutine. The initial result set is always delivered first.
//
// If the initial query fails nothing is started and the error is returned.
// The subscription ends when ctx is cancelled, when Cancel is called or when
// the broker is closed.
func Watch(ctx context.Context, b *Broker, query QueryFunc, opts Options) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		broker: b,
		query:  query,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Register before the first read so no write between the two is missed.
	w := b.subscribe(opts.Filter)

	first, err := query(ctx)
	if err != nil {
		b.unsubscribe(w)
		cancel()
		close(s.done)
		return nil, err
	}

	go s.run(ctx, w, first)
	return s, nil
}

func (s *Subscription) run(ctx context.Context, w *watcher, first []model.Snippet) {
	defer close(s.done)
	defer s.broker.unsubscribe(w)

	s.deliver(ctx, first)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.wake:
			if !ok {
				return
			}
			result, err := s.query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if s.opts.OnError != nil {
					s.opts.OnError(err)
				}
				continue
			}
			s.deliver(ctx, result)
		}
	}
}

func (s *Subscription) deliver(ctx context.Context, result []model.Snippet) {
	sum := Fingerprint(result)
	if s.delivered && sum == s.last {
		return
	}

	s.delivering.Store(true)
	defer s.delivering.Store(false)
	if s.cancelled.Load() || ctx.Err() != nil {
		return
	}
	s.last, s.delivered = sum, true
	s.opts.OnUpdate(result)
}

// Cancel stops the subscription. It is idempotent. Once it returns no new
// delivery starts; when called from inside OnUpdate it returns immediately
// and the delivery goroutine exits after the callback.
func (s *Subscription) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
	if !s.delivering.Load() {
		<-s.done
	}
}

// Done is closed when the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Fingerprint hashes the identity and version of every snippet in order.
// Two result sets with the same fingerprint render identically.
func Fingerprint(snippets []model.Snippet) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, sn := range snippets {
		_, _ = d.WriteString(sn.ID)
		_, _ = d.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], uint64(sn.UpdatedAt.UnixNano()))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
