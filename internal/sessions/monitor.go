package sessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/pkg/metrics"
)

// RevocationCause tells a monitor callback why it fired.
type RevocationCause string

const (
	// CauseSessionGone means the tracked device no longer has a live session.
	CauseSessionGone RevocationCause = "session_gone"
	// CauseSubscriptionError means the live feed failed and the session is
	// presumed revoked.
	CauseSubscriptionError RevocationCause = "subscription_error"
)

// RevokedFunc is invoked at most once per monitor.
type RevokedFunc func(cause RevocationCause)

// Unsubscribe stops a monitor. It is idempotent. It waits for a callback that
// is already running, so once it returns the callback never runs again. It
// must not be called from inside the callback.
type Unsubscribe func()

type monitorState int

const (
	awaitingFirstMatch monitorState = iota
	tracking
	revoked
)

func (s monitorState) String() string {
	switch s {
	case awaitingFirstMatch:
		return "awaiting_first_match"
	case tracking:
		return "tracking"
	default:
		return "revoked"
	}
}

type monitor struct {
	registry  *Registry
	userID    string
	device    DeviceInfo
	onRevoked RevokedFunc
	interval  time.Duration

	mu        sync.Mutex
	state     monitorState
	trackedID string
	latest    []docstore.Document
	lastEval  time.Time
	timer     *time.Timer
	stopped   bool

	// invokeMu is held while onRevoked runs.
	invokeMu sync.Mutex

	releaseOnce sync.Once
	release     docstore.Unsubscribe
}

// Monitor watches the most recently expiring active session of userID that
// matches device and calls onRevoked once it disappears after having been
// seen. Change events are evaluated at most once per monitor interval; events
// in between are coalesced and the latest snapshot is evaluated at the next
// tick. A failing subscription counts as a revocation.
func (r *Registry) Monitor(ctx context.Context, userID string, device DeviceInfo, onRevoked RevokedFunc) (Unsubscribe, error) {
	const op = "monitor"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, malformed(op, "user id is required")
	}
	if onRevoked == nil {
		return nil, malformed(op, "revocation callback is required")
	}
	device = device.Normalized()
	if err := device.Validate(); err != nil {
		return nil, &Error{Kind: KindMalformedInput, Op: op, Message: "invalid device info", Err: err}
	}

	m := &monitor{
		registry:  r,
		userID:    userID,
		device:    device,
		onRevoked: onRevoked,
		interval:  r.monitorInterval,
	}

	release, err := r.store.Subscribe(ctx, docstore.Query{
		Collection: SessionsCollection,
		Filters: []docstore.Filter{
			docstore.Where(fieldUserID, docstore.Equal, userID),
			docstore.Where(fieldStatus, docstore.Equal, string(StatusActive)),
			docstore.Where(fieldFingerprint, docstore.Equal, device.Fingerprint()),
		},
		OrderBy: []docstore.Order{{Field: fieldExpiresAt, Descending: true}},
		Limit:   1,
	}, m.handleChange, m.handleError)
	if err != nil {
		return nil, &Error{Kind: KindSubscription, Op: op, Message: "subscribe to session changes", Err: err}
	}
	m.mu.Lock()
	m.release = release
	m.mu.Unlock()

	metrics.ActiveMonitors.Inc()
	return m.unsubscribe, nil
}

func (m *monitor) handleChange(docs []docstore.Document) {
	m.mu.Lock()
	if m.stopped || m.state == revoked {
		m.mu.Unlock()
		return
	}
	m.latest = docs

	now := time.Now()
	wait := m.interval - now.Sub(m.lastEval)
	if m.lastEval.IsZero() || wait <= 0 {
		fire := m.evaluateLocked(now)
		m.mu.Unlock()
		m.fire(fire)
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(wait, m.tick)
	}
	m.mu.Unlock()
}

func (m *monitor) tick() {
	m.mu.Lock()
	m.timer = nil
	if m.stopped || m.state == revoked {
		m.mu.Unlock()
		return
	}
	fire := m.evaluateLocked(time.Now())
	m.mu.Unlock()
	m.fire(fire)
}

// evaluateLocked advances the state machine against the latest snapshot and
// reports whether the callback must fire. Callers hold m.mu.
func (m *monitor) evaluateLocked(at time.Time) bool {
	m.lastEval = at
	now := m.registry.now()

	matchID := ""
	for _, doc := range m.latest {
		s, err := sessionFromDocument(doc)
		if err != nil {
			continue
		}
		if s.Live(now) && s.UserID == m.userID && s.Device.Matches(m.device) {
			matchID = s.ID
			break
		}
	}

	switch m.state {
	case awaitingFirstMatch:
		if matchID != "" {
			m.state = tracking
			m.trackedID = matchID
			m.registry.log.Debug("tracking session",
				zap.String("user_id", m.userID),
				zap.String("session_id", matchID),
			)
		}
	case tracking:
		if matchID == "" {
			m.registry.log.Info("tracked session revoked",
				zap.String("user_id", m.userID),
				zap.String("session_id", m.trackedID),
			)
			m.state = revoked
			return true
		}
		m.trackedID = matchID
	}
	return false
}

func (m *monitor) handleError(err error) {
	m.mu.Lock()
	if m.stopped || m.state == revoked {
		m.mu.Unlock()
		return
	}
	m.state = revoked
	m.mu.Unlock()

	m.registry.log.Warn("session monitor subscription failed",
		zap.String("user_id", m.userID),
		zap.Error(err),
	)
	m.invoke(CauseSubscriptionError)
}

func (m *monitor) fire(fire bool) {
	if fire {
		m.invoke(CauseSessionGone)
	}
}

func (m *monitor) invoke(cause RevocationCause) {
	m.invokeMu.Lock()
	defer m.invokeMu.Unlock()

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}

	metrics.MonitorRevocations.WithLabelValues(string(cause)).Inc()
	m.onRevoked(cause)
}

func (m *monitor) unsubscribe() {
	m.mu.Lock()
	wasStopped := m.stopped
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	release := m.release
	m.mu.Unlock()

	// Wait out a callback that is already running.
	m.invokeMu.Lock()
	m.invokeMu.Unlock()

	if wasStopped {
		return
	}
	metrics.ActiveMonitors.Dec()
	m.releaseOnce.Do(func() {
		if release != nil {
			release()
		}
	})
}
