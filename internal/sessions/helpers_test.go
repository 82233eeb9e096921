package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/internal/docstore/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingStore counts writes and lets tests inject failures.
type recordingStore struct {
	docstore.Store

	mu        sync.Mutex
	writes    int
	reads     int
	queryErr  error
	batchHook func(ops []docstore.Op) error
	onErrors  []docstore.ErrorFunc
}

func (s *recordingStore) Insert(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.Store.Insert(ctx, collection, fields)
}

func (s *recordingStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.Store.Get(ctx, collection, id)
}

func (s *recordingStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	s.reads++
	err := s.queryErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Query(ctx, q)
}

func (s *recordingStore) Batch(ctx context.Context, ops []docstore.Op) error {
	s.mu.Lock()
	s.writes++
	hook := s.batchHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ops); err != nil {
			return err
		}
	}
	return s.Store.Batch(ctx, ops)
}

func (s *recordingStore) Subscribe(ctx context.Context, q docstore.Query, onChange docstore.ChangeFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	s.mu.Lock()
	s.onErrors = append(s.onErrors, onError)
	s.mu.Unlock()
	return s.Store.Subscribe(ctx, q, onChange, onError)
}

func (s *recordingStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *recordingStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes + s.reads
}

func (s *recordingStore) setQueryErr(err error) {
	s.mu.Lock()
	s.queryErr = err
	s.mu.Unlock()
}

func (s *recordingStore) setBatchHook(hook func(ops []docstore.Op) error) {
	s.mu.Lock()
	s.batchHook = hook
	s.mu.Unlock()
}

func (s *recordingStore) failSubscriptions(err error) {
	s.mu.Lock()
	handlers := append([]docstore.ErrorFunc(nil), s.onErrors...)
	s.mu.Unlock()
	for _, handler := range handlers {
		handler(err)
	}
}

type fixture struct {
	registry *Registry
	store    *recordingStore
	clock    *testClock
	logs     *observer.ObservedLogs
}

func setupRegistry(t *testing.T, mutate ...func(*Config)) fixture {
	t.Helper()

	clock := newTestClock()
	core, logs := observer.New(zap.DebugLevel)
	store := &recordingStore{Store: memory.New()}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	cfg := Config{
		Clock:           clock.Now,
		Logger:          zap.New(core),
		MonitorInterval: 20 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	registry, err := NewRegistry(store, cfg)
	require.NoError(t, err)
	return fixture{registry: registry, store: store, clock: clock, logs: logs}
}

func sessionDoc(t *testing.T, f fixture, id string) docstore.Document {
	t.Helper()
	doc, err := f.store.Store.Get(context.Background(), SessionsCollection, id)
	require.NoError(t, err)
	return doc
}

func terminationLogs(t *testing.T, f fixture, sessionID string) []docstore.Document {
	t.Helper()
	docs, err := f.store.Store.Query(context.Background(), docstore.Query{
		Collection: TerminationsCollection,
		Filters:    []docstore.Filter{docstore.Where(fieldSessionID, docstore.Equal, sessionID)},
	})
	require.NoError(t, err)
	return docs
}

var (
	deviceA = DeviceInfo{UserAgent: "UA1", Platform: "P1", Language: "en"}
	deviceB = DeviceInfo{UserAgent: "UA2", Platform: "P1", Language: "en"}
)

const (
	chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariIPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	safariIPadUA    = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	googlebotUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)
