package docstore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/lensfusion/pkg/metrics"
)

type stubStore struct {
	Store
	queries int
}

func (s *stubStore) Query(context.Context, Query) ([]Document, error) {
	s.queries++
	return []Document{{ID: "1"}}, nil
}

func TestInstrumentDelegatesAndObserves(t *testing.T) {
	stub := &stubStore{}
	store := Instrument(stub)
	require.Same(t, store, Instrument(store))
	require.Nil(t, Instrument(nil))

	docs, err := store.Query(context.Background(), Query{Collection: "sessions"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, 1, stub.queries)
	require.Equal(t, 1, testutil.CollectAndCount(metrics.StoreLatency, "lensfusion_store_latency_seconds"))
}
