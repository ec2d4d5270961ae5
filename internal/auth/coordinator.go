package auth

import (
	"context"
	"sync"
	"tether/internal/ports"
	"tether/internal/types"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Coordinator guarantees at most one refresh in flight per session.
// Callers that hit an expired credential while a refresh is running join it
// and all of them observe the same outcome.
type Coordinator struct {
	store     ports.CredentialStore
	refresher ports.Refresher
	teardown  *Teardown

	group singleflight.Group

	mu       sync.Mutex
	state    types.RefreshState
	episodes int
	closed   bool

	log *log.Entry
}

func NewCoordinator(store ports.CredentialStore, refresher ports.Refresher, teardown *Teardown) *Coordinator {
	if teardown == nil {
		teardown = NewTeardown(nil, "")
	}
	return &Coordinator{
		store:     store,
		refresher: refresher,
		teardown:  teardown,
		log:       log.WithField("component", "refresh"),
	}
}

// Teardown returns the signal fired when a refresh fails.
func (c *Coordinator) Teardown() *Teardown { return c.teardown }

// State reports whether a refresh is currently in flight.
func (c *Coordinator) State() types.RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Episodes is the number of refreshes started since creation.
func (c *Coordinator) Episodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.episodes
}

// Close disposes the coordinator. Subsequent Refresh calls fail with
// types.ErrSessionInvalid; a refresh already in flight completes for its waiters.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Refresh starts a refresh, or joins the one in flight, and returns the new
// credential. On failure the store has been cleared, teardown has fired once
// and the error wraps types.ErrSessionInvalid.
// If ctx is done before the refresh finishes the caller stops waiting; the
// refresh itself carries on for the other waiters.
func (c *Coordinator) Refresh(ctx context.Context) (types.Credential, error) {
	return c.RefreshStale(ctx, "")
}

// RefreshStale is Refresh for a caller that was rejected while presenting
// stale. When the store already holds a different access credential, a
// refresh completed after the caller's request was sent, and that credential
// is returned without starting another episode.
func (c *Coordinator) RefreshStale(ctx context.Context, stale string) (types.Credential, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return types.Credential{}, types.Err(types.ErrSessionInvalid, nil, "refresh coordinator closed")
	}

	cred, err := c.join(ctx, stale)
	if err == nil && stale != "" && cred.AccessToken == stale {
		// Joined a refresh started for an older credential, which handed back
		// the very credential this caller had rejected. One more round runs a
		// real episode for it.
		cred, err = c.join(ctx, stale)
	}
	return cred, err
}

func (c *Coordinator) join(ctx context.Context, stale string) (types.Credential, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.run(context.WithoutCancel(ctx), stale)
	})
	select {
	case <-ctx.Done():
		return types.Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.Credential{}, res.Err
		}
		return res.Val.(types.Credential), nil
	}
}

func (c *Coordinator) run(ctx context.Context, stale string) (types.Credential, error) {
	cur, err := c.store.Get(ctx)
	if err == nil && stale != "" {
		if cur.IsZero() {
			// An earlier episode failed and tore the session down.
			return types.Credential{}, types.Err(types.ErrSessionInvalid, types.ErrNoCredential, "")
		}
		if cur.AccessToken != stale {
			return cur, nil
		}
	}

	c.mu.Lock()
	c.state = types.RefreshRefreshing
	c.episodes++
	episode := c.episodes
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = types.RefreshIdle
		c.mu.Unlock()
	}()

	l := c.log.WithField("episode", episode)
	l.Debug("refresh started")

	if err != nil {
		return c.fail(ctx, l, "credential store unreadable", err)
	}
	if cur.RefreshToken == "" {
		return c.fail(ctx, l, "no refresh credential", types.ErrNoCredential)
	}

	next, err := c.refresher.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return c.fail(ctx, l, "refresh rejected", err)
	}
	if next.AccessToken == "" {
		return c.fail(ctx, l, "refresh returned no access credential", types.ErrMalformedPayload)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if err := c.store.Set(ctx, next); err != nil {
		return c.fail(ctx, l, "credential store unwritable", err)
	}

	l.Info("credential refreshed")
	return next, nil
}

func (c *Coordinator) fail(ctx context.Context, l *log.Entry, reason string, cause error) (types.Credential, error) {
	l.WithError(cause).WithField("reason", reason).Warn("refresh failed")
	if err := c.store.Clear(ctx); err != nil {
		l.WithError(err).Error("failed to clear credential store")
	}
	c.teardown.Fire(ctx, reason)
	return types.Credential{}, types.Err(types.ErrSessionInvalid, cause, "%s", reason)
}
