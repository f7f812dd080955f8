package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/internal/sessionstore"
	"github.com/BaSui01/agentrelay/router"
	"github.com/BaSui01/agentrelay/types"
)

// Return pops the most recent delegation of sessionID. At the root it is a
// no-op and the decision says so.
func (r *Relay) Return(ctx context.Context, sessionID, reason string) (router.Decision, router.State, error) {
	ctx, release, err := r.acquire(ctx, sessionID)
	if err != nil {
		return router.Decision{}, router.State{}, err
	}
	defer release()

	st, err := r.load(ctx, sessionID, true)
	if err != nil {
		return router.Decision{}, router.State{}, err
	}
	next, dec := r.router.Return(st, reason)
	if !dec.ShouldSwitch && st.Handback == nil {
		return dec, st, nil
	}
	if err := r.save(ctx, sessionID, next); err != nil {
		return router.Decision{}, st, err
	}
	if dec.Change != nil {
		r.announce(sessionID, []*router.Change{dec.Change}, func(Event) {})
	}
	return dec, next, nil
}

// Cancel aborts the in-flight request of sessionID and reports whether one
// was running.
func (r *Relay) Cancel(sessionID string) bool {
	r.mu.Lock()
	cancel, ok := r.inflight[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
		r.logger.Info("turn cancelled", zap.String("session_id", sessionID))
	}
	return ok
}

// InFlight returns the number of sessions with a running request.
func (r *Relay) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// State returns the stored state of sessionID.
func (r *Relay) State(ctx context.Context, sessionID string) (router.State, error) {
	if err := validateSessionID(sessionID); err != nil {
		return router.State{}, err
	}
	return r.load(ctx, sessionID, false)
}

// Export returns the stored snapshot of sessionID.
func (r *Relay) Export(ctx context.Context, sessionID string) (router.Snapshot, error) {
	st, err := r.State(ctx, sessionID)
	if err != nil {
		return router.Snapshot{}, err
	}
	return router.ExportState(st, r.now()), nil
}

// Import replaces the state of sessionID with snap after validating it.
func (r *Relay) Import(ctx context.Context, sessionID string, snap router.Snapshot) (router.State, error) {
	st, err := router.ImportState(snap)
	if err != nil {
		return router.State{}, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithCause(err).WithHTTPStatus(http.StatusBadRequest)
	}
	if !r.catalog.Known(st.ActiveAgentID) {
		return router.State{}, types.NewError(types.ErrAgentNotFound, "unknown agent "+st.ActiveAgentID).
			WithAgent(st.ActiveAgentID).WithHTTPStatus(http.StatusBadRequest)
	}

	ctx, release, err := r.acquire(ctx, sessionID)
	if err != nil {
		return router.State{}, err
	}
	defer release()

	if err := r.save(ctx, sessionID, st); err != nil {
		return router.State{}, err
	}
	return st, nil
}

// Reset forgets sessionID. The next turn starts at the root agent.
func (r *Relay) Reset(ctx context.Context, sessionID string) error {
	ctx, release, err := r.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	start := r.now()
	err = r.store.Delete(ctx, sessionID)
	r.recordStore("delete", err, start)
	if err != nil {
		return storeError("failed to delete session", err)
	}
	return nil
}

// acquire marks sessionID in flight. The returned context is cancelled by
// Cancel or by release.
func (r *Relay) acquire(ctx context.Context, sessionID string) (context.Context, func(), error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[sessionID]; busy {
		return nil, nil, types.NewError(types.ErrSessionBusy, "session "+sessionID+" already has a request in flight").
			WithHTTPStatus(http.StatusConflict).WithRetryable(true)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.inflight[sessionID] = cancel

	return ctx, func() {
		cancel()
		r.mu.Lock()
		delete(r.inflight, sessionID)
		r.mu.Unlock()
	}, nil
}

// load reads the state of sessionID. A missing session yields a fresh state
// when create is set and SESSION_NOT_FOUND otherwise.
func (r *Relay) load(ctx context.Context, sessionID string, create bool) (router.State, error) {
	start := r.now()
	snap, err := r.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
		r.recordStore("load", nil, start)
		if create {
			return r.router.NewState(), nil
		}
		return router.State{}, types.NewError(types.ErrSessionNotFound, "session "+sessionID+" not found").
			WithHTTPStatus(http.StatusNotFound)
	case err != nil:
		r.recordStore("load", err, start)
		return router.State{}, storeError("failed to load session", err)
	}
	r.recordStore("load", nil, start)

	st, err := router.ImportState(snap)
	if err != nil {
		r.logger.Error("stored session is corrupt",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return router.State{}, storeError("stored session is corrupt", err)
	}
	return st, nil
}

// save persists st. It outlives a cancelled request so a completed turn is
// never lost.
func (r *Relay) save(ctx context.Context, sessionID string, st router.State) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
	defer cancel()

	start := r.now()
	err := r.store.Save(sctx, sessionID, router.ExportState(st, start))
	r.recordStore("save", err, start)
	if err != nil {
		r.logger.Error("failed to save session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return storeError("failed to save session", err)
	}
	return nil
}

func (r *Relay) recordStore(op string, err error, start time.Time) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordStoreOperation(r.cfg.StoreBackend, op, status, r.now().Sub(start))
}

func validateSessionID(id string) error {
	if err := sessionstore.ValidateSessionID(id); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error()).
			WithCause(err).WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

func storeError(msg string, err error) *types.Error {
	return types.NewError(types.ErrStoreError, msg).
		WithCause(err).WithHTTPStatus(http.StatusInternalServerError).WithRetryable(true)
}
