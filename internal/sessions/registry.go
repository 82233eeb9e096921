// Package sessions is the per-device session registry: creation with
// deduplication, listing, explicit termination with an audit trail, and live
// revocation monitoring.
package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/pkg/metrics"
)

// Registry manages the sessions of every user in a document store. It is safe
// for concurrent use.
type Registry struct {
	store           docstore.Store
	log             *zap.Logger
	now             func() time.Time
	ttl             time.Duration
	refreshInterval time.Duration
	monitorInterval time.Duration
	sweepBatch      int
	cache           *listCache
}

// NewRegistry constructs a registry backed by store.
func NewRegistry(store docstore.Store, cfg Config) (*Registry, error) {
	if store == nil {
		return nil, errors.New("sessions: store is required")
	}
	cfg = cfg.withDefaults()

	return &Registry{
		store:           store,
		log:             cfg.Logger,
		now:             cfg.Clock,
		ttl:             cfg.SessionTTL,
		refreshInterval: cfg.RefreshInterval,
		monitorInterval: cfg.MonitorInterval,
		sweepBatch:      cfg.SweepBatchSize,
		cache:           newListCache(cfg.ListCacheTTL, cfg.Clock),
	}, nil
}

// Create returns the id of the live session for (userID, device), reusing a
// matching one when it exists. A reused session is only written when its last
// activity is older than the refresh interval.
func (r *Registry) Create(ctx context.Context, userID string, device DeviceInfo) (string, error) {
	const op = "create"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", malformed(op, "user id is required")
	}
	device = device.Normalized()
	if err := device.Validate(); err != nil {
		return "", &Error{Kind: KindMalformedInput, Op: op, Message: "invalid device info", Err: err}
	}

	now := r.now()
	if _, err := r.sweep(ctx, userID, now); err != nil {
		r.log.Warn("expiry sweep failed", zap.String("user_id", userID), zap.Error(err))
	}

	existing, err := r.findLive(ctx, userID, device, now)
	if err != nil {
		return "", unavailable(op, err)
	}

	if existing != nil {
		if now.Sub(existing.LastActive) <= r.refreshInterval {
			metrics.SessionsReused.WithLabelValues("unchanged").Inc()
			return existing.ID, nil
		}

		refresh := docstore.Fields{
			fieldLastActive: now,
			fieldExpiresAt:  now.Add(r.ttl),
			fieldIPAddress:  device.IPAddress,
		}
		err := r.store.Batch(ctx, []docstore.Op{
			docstore.UpdateOp(SessionsCollection, existing.ID, refresh,
				docstore.Where(fieldStatus, docstore.Equal, string(StatusActive))),
		})
		switch {
		case err == nil:
			r.cache.invalidate(userID)
			metrics.SessionsReused.WithLabelValues("bumped").Inc()
			return existing.ID, nil
		case errors.Is(err, docstore.ErrPreconditionFailed):
			// Either the session was terminated after the lookup or a
			// concurrent writer moved its version. Only the former needs a
			// new session.
			live, err := r.stillLive(ctx, existing.ID, now)
			if err != nil {
				return "", unavailable(op, err)
			}
			if live {
				r.cache.invalidate(userID)
				metrics.SessionsReused.WithLabelValues("concurrent").Inc()
				return existing.ID, nil
			}
		default:
			return "", unavailable(op, err)
		}
	}

	id, err := r.store.Insert(ctx, SessionsCollection, newSessionFields(userID, device, now, r.ttl))
	if err != nil {
		return "", unavailable(op, err)
	}
	r.cache.invalidate(userID)
	metrics.SessionsCreated.Inc()
	r.log.Debug("session created", zap.String("user_id", userID), zap.String("session_id", id))
	return id, nil
}

func (r *Registry) findLive(ctx context.Context, userID string, device DeviceInfo, now time.Time) (*Session, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: SessionsCollection,
		Filters: []docstore.Filter{
			docstore.Where(fieldUserID, docstore.Equal, userID),
			docstore.Where(fieldStatus, docstore.Equal, string(StatusActive)),
			docstore.Where(fieldFingerprint, docstore.Equal, device.Fingerprint()),
			docstore.Where(fieldExpiresAt, docstore.Greater, now),
		},
		OrderBy: []docstore.Order{{Field: fieldExpiresAt, Descending: true}},
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		s, err := sessionFromDocument(doc)
		if err != nil {
			r.log.Warn("skipping malformed session document", zap.String("session_id", doc.ID), zap.Error(err))
			continue
		}
		if s.Device.Matches(device) && s.Live(now) {
			return &s, nil
		}
	}
	return nil, nil
}

// ListOptions controls List.
type ListOptions struct {
	// Fresh bypasses the instance-local cache.
	Fresh bool
}

// List returns the active sessions of userID ordered by expiry, latest first.
// Results may come from a cache that only reflects writes made through this
// registry; set Fresh when other devices may have changed the set.
func (r *Registry) List(ctx context.Context, userID string, opts ListOptions) ([]Session, error) {
	const op = "list"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, malformed(op, "user id is required")
	}

	if opts.Fresh {
		metrics.ListCacheLookups.WithLabelValues("bypass").Inc()
	} else if cached, ok := r.cache.get(userID); ok {
		metrics.ListCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	} else {
		metrics.ListCacheLookups.WithLabelValues("miss").Inc()
	}

	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: SessionsCollection,
		Filters: []docstore.Filter{
			docstore.Where(fieldUserID, docstore.Equal, userID),
			docstore.Where(fieldStatus, docstore.Equal, string(StatusActive)),
		},
		OrderBy: []docstore.Order{{Field: fieldExpiresAt, Descending: true}},
	})
	if err != nil {
		return nil, unavailable(op, err)
	}

	out := make([]Session, 0, len(docs))
	for _, doc := range docs {
		s, err := sessionFromDocument(doc)
		if err != nil {
			r.log.Warn("skipping malformed session document", zap.String("session_id", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, s)
	}

	r.cache.put(userID, out)
	return out, nil
}

// Get loads one session regardless of status.
// stillLive re-reads a session after a failed conditional write.
func (r *Registry) stillLive(ctx context.Context, id string, now time.Time) (bool, error) {
	doc, err := r.store.Get(ctx, SessionsCollection, id)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	s, err := sessionFromDocument(doc)
	if err != nil {
		return false, nil
	}
	return s.Live(now), nil
}

func (r *Registry) Get(ctx context.Context, sessionID string) (Session, error) {
	const op = "get"

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, malformed(op, "session id is required")
	}

	doc, err := r.store.Get(ctx, SessionsCollection, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Session{}, notFound(op, sessionID)
	}
	if err != nil {
		return Session{}, unavailable(op, err)
	}
	s, err := sessionFromDocument(doc)
	if err != nil {
		return Session{}, &Error{Kind: KindStoreUnavailable, Op: op, Message: "malformed session document", Err: err}
	}
	return s, nil
}

// Terminations lists the audit trail of userID, newest first.
func (r *Registry) Terminations(ctx context.Context, userID string, limit int) ([]TerminationLog, error) {
	const op = "terminations"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, malformed(op, "user id is required")
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}

	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: TerminationsCollection,
		Filters:    []docstore.Filter{docstore.Where(fieldUserID, docstore.Equal, userID)},
		OrderBy:    []docstore.Order{{Field: fieldCreatedAt, Descending: true}},
		Limit:      limit,
	})
	if err != nil {
		return nil, unavailable(op, err)
	}

	out := make([]TerminationLog, 0, len(docs))
	for _, doc := range docs {
		out = append(out, terminationFromDocument(doc))
	}
	return out, nil
}
