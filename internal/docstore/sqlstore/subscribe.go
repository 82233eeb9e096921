package sqlstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

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

// Subscribe polls q at the configured interval and immediately after writes
// made through this Store. A snapshot is delivered first and then whenever the
// result set differs from the previous one.
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
		return nil, docstore.Unavailable("subscribe", errStoreClosed)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	go s.poll(ctx, sub)

	return func() {
		sub.stop()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *Store) poll(ctx context.Context, sub *subscription) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var (
		last      []docstore.Document
		delivered bool
	)
	for {
		docs, err := s.Query(context.WithoutCancel(ctx), sub.query)
		if sub.stopped() {
			return
		}
		if err != nil {
			s.log.Warn("subscription query failed",
				zap.String("collection", sub.query.Collection),
				zap.Error(err),
			)
			sub.stop()
			if sub.onError != nil {
				sub.onError(err)
			}
			return
		}
		if !delivered || !docstore.Equivalent(last, docs) {
			delivered = true
			last = docs
			if sub.onChange != nil {
				sub.onChange(docs)
			}
		}

		select {
		case <-ctx.Done():
			sub.stop()
			return
		case <-sub.done:
			return
		case <-ticker.C:
		case <-sub.wake:
		}
	}
}

func (s *Store) notify(collections ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		for _, collection := range collections {
			if sub.query.Collection == collection {
				sub.trigger()
				break
			}
		}
	}
}
