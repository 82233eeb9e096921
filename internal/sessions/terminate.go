package sessions

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/pkg/metrics"
)

// Result is the outcome of Delete.
type Result int

const (
	// ResultNotFound means the session was absent, already terminated or not
	// owned by DeleteOptions.OwnerID.
	ResultNotFound Result = iota
	ResultTerminated
)

func (r Result) String() string {
	if r == ResultTerminated {
		return "terminated"
	}
	return "not_found"
}

// DeleteOptions describes who terminates a session and why.
type DeleteOptions struct {
	// Actor is recorded as terminated_by. Defaults to the session owner.
	Actor  string
	Reason string
	// OwnerID, when set, restricts termination to sessions of that user.
	OwnerID string
}

// Delete terminates a session. The status flip and the termination log entry
// are written in one atomic batch; losing a race against another terminator
// reports ResultNotFound. Delete never signs anybody out.
func (r *Registry) Delete(ctx context.Context, sessionID string, opts DeleteOptions) (Result, error) {
	const op = "delete"

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ResultNotFound, malformed(op, "session id is required")
	}

	doc, err := r.store.Get(ctx, SessionsCollection, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		metrics.SessionsTerminated.WithLabelValues("not_found").Inc()
		return ResultNotFound, nil
	}
	if err != nil {
		metrics.SessionsTerminated.WithLabelValues("error").Inc()
		return ResultNotFound, unavailable(op, err)
	}

	s, err := sessionFromDocument(doc)
	if err != nil || s.Status != StatusActive || (opts.OwnerID != "" && s.UserID != opts.OwnerID) {
		metrics.SessionsTerminated.WithLabelValues("not_found").Inc()
		return ResultNotFound, nil
	}

	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = s.UserID
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = ReasonUserRequested
	}
	now := r.now()

	entry := deviceFields(s.Device)
	delete(entry, fieldFingerprint)
	entry[fieldSessionID] = s.ID
	entry[fieldUserID] = s.UserID
	entry[fieldActor] = actor
	entry[fieldReason] = reason
	entry[fieldCreatedAt] = now

	err = r.store.Batch(ctx, []docstore.Op{
		docstore.UpdateOp(SessionsCollection, s.ID, docstore.Fields{
			fieldStatus:            string(StatusTerminated),
			fieldTerminatedAt:      now,
			fieldTerminatedBy:      actor,
			fieldTerminationReason: reason,
			fieldExpiresAt:         now,
		}, docstore.Where(fieldStatus, docstore.Equal, string(StatusActive))),
		docstore.InsertOp(TerminationsCollection, entry),
	})
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		metrics.SessionsTerminated.WithLabelValues("not_found").Inc()
		return ResultNotFound, nil
	}
	if err != nil {
		metrics.SessionsTerminated.WithLabelValues("error").Inc()
		return ResultNotFound, unavailable(op, err)
	}

	r.cache.invalidate(s.UserID)
	metrics.SessionsTerminated.WithLabelValues("terminated").Inc()
	r.log.Info("session terminated",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return ResultTerminated, nil
}

// TerminateAllOptions describes a bulk termination.
type TerminateAllOptions struct {
	Actor  string
	Reason string
}

// TerminateAll terminates every active session of userID except
// exceptSessionID. Individual failures are logged and do not stop the batch;
// the count reflects successful terminations and the error combines the
// failures.
func (r *Registry) TerminateAll(ctx context.Context, userID, exceptSessionID string, opts TerminateAllOptions) (int, error) {
	sessions, err := r.List(ctx, userID, ListOptions{Fresh: true})
	if err != nil {
		return 0, err
	}

	reason := opts.Reason
	if reason == "" {
		reason = ReasonTerminateAll
	}

	var (
		count int
		errs  error
	)
	for _, s := range sessions {
		if s.ID == exceptSessionID {
			continue
		}
		result, err := r.Delete(ctx, s.ID, DeleteOptions{Actor: opts.Actor, Reason: reason, OwnerID: userID})
		if err != nil {
			r.log.Warn("terminate session failed",
				zap.String("session_id", s.ID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
			continue
		}
		if result == ResultTerminated {
			count++
		}
	}
	return count, errs
}
