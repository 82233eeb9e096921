package checks

import (
	"context"
	"time"

	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/internal/monitoring"
)

// DocumentStore probes the session store with a single-row query on
// collection.
func DocumentStore(store docstore.Store, collection string, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("document_store", func(ctx context.Context) monitoring.ProbeResult {
		if store == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "document store not configured"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		_, err := store.Query(probeCtx, docstore.Query{Collection: collection, Limit: 1})
		return monitoring.ResultFromError("document_store", err, time.Since(start))
	})
}
