package memory

import (
	"context"
	"sync"

	"github.com/charlesng35/lensfusion/internal/docstore"
)

type subscription struct {
	query    docstore.Query
	onChange docstore.ChangeFunc
	onError  docstore.ErrorFunc
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (sub *subscription) trigger() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

func (sub *subscription) stopped() bool {
	select {
	case <-sub.done:
		return true
	default:
		return false
	}
}

// Subscribe starts a goroutine that re-runs q on every write to its
// collection. Bursts of writes are coalesced into one snapshot.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onChange docstore.ChangeFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	q, err := docstore.Validate(q)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		query:    q,
		onChange: onChange,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errClosed
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	unsubscribe := func() {
		sub.stop()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}

	sub.trigger()
	go s.run(ctx, sub)
	return unsubscribe, nil
}

func (s *Store) run(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			sub.stop()
			return
		case <-sub.done:
			return
		case <-sub.wake:
		}

		docs, err := s.Query(context.WithoutCancel(ctx), sub.query)
		if sub.stopped() {
			return
		}
		if err != nil {
			sub.stop()
			if sub.onError != nil {
				sub.onError(err)
			}
			return
		}
		if sub.onChange != nil {
			sub.onChange(docs)
		}
	}
}

func (s *Store) notify(collections ...string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		for _, collection := range collections {
			if sub.query.Collection == collection {
				sub.trigger()
				break
			}
		}
	}
}
