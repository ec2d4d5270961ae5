package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"tether/internal/backends/memory"
	"tether/internal/types"
	"time"

	"github.com/stretchr/testify/suite"
)

// stubRefresher hands out access tokens a1, a2, ... and blocks until release
// is closed when gate is set.
type stubRefresher struct {
	calls   atomic.Int32
	gate    chan struct{}
	err     error
	rotate  bool
	entered chan struct{}
	once    sync.Once
}

func (r *stubRefresher) Refresh(ctx context.Context, refreshToken string) (types.Credential, error) {
	n := r.calls.Add(1)
	if r.entered != nil {
		r.once.Do(func() { close(r.entered) })
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return types.Credential{}, r.err
	}
	cred := types.Credential{AccessToken: "a" + string(rune('0'+n))}
	if r.rotate {
		cred.RefreshToken = "r" + string(rune('0'+n))
	}
	return cred, nil
}

type CoordinatorTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *memory.CredentialStore
	refresher *stubRefresher
	teardowns atomic.Int32
	coord     *Coordinator
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewCredentialStore()
	s.Require().NoError(s.store.Set(s.ctx, types.Credential{AccessToken: "a0", RefreshToken: "r0"}))
	s.refresher = &stubRefresher{}
	s.teardowns.Store(0)
	td := NewTeardown(nil, "")
	td.OnTeardown(func(TeardownEvent) { s.teardowns.Add(1) })
	s.coord = NewCoordinator(s.store, s.refresher, td)
}

func (s *CoordinatorTestSuite) TestSuccessKeepsRefreshCredential() {
	cred, err := s.coord.Refresh(s.ctx)
	s.Require().NoError(err)
	s.Equal(types.Credential{AccessToken: "a1", RefreshToken: "r0"}, cred)

	stored, err := s.store.Get(s.ctx)
	s.NoError(err)
	s.Equal(cred, stored)
	s.Equal(1, s.coord.Episodes())
	s.Equal(types.RefreshIdle, s.coord.State())
	s.Zero(s.teardowns.Load())
}

func (s *CoordinatorTestSuite) TestSuccessStoresRotatedRefreshCredential() {
	s.refresher.rotate = true
	cred, err := s.coord.Refresh(s.ctx)
	s.Require().NoError(err)
	s.Equal(types.Credential{AccessToken: "a1", RefreshToken: "r1"}, cred)
}

func (s *CoordinatorTestSuite) TestConcurrentCallersShareOneRefresh() {
	s.refresher.gate = make(chan struct{})
	s.refresher.entered = make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]types.Credential, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.coord.RefreshStale(s.ctx, "a0")
		}(i)
	}

	<-s.refresher.entered
	s.Equal(types.RefreshRefreshing, s.coord.State())
	time.Sleep(20 * time.Millisecond)
	close(s.refresher.gate)
	wg.Wait()

	s.EqualValues(1, s.refresher.calls.Load())
	s.Equal(1, s.coord.Episodes())
	for i := 0; i < callers; i++ {
		s.NoError(errs[i])
		s.Equal("a1", results[i].AccessToken)
	}
}

func (s *CoordinatorTestSuite) TestStaleCallerAfterRefreshDoesNotRefreshAgain() {
	_, err := s.coord.Refresh(s.ctx)
	s.Require().NoError(err)

	cred, err := s.coord.RefreshStale(s.ctx, "a0")
	s.NoError(err)
	s.Equal("a1", cred.AccessToken)
	s.Equal(1, s.coord.Episodes())
}

func (s *CoordinatorTestSuite) TestFailureClearsStoreAndTearsDownOnce() {
	s.refresher.gate = make(chan struct{})
	s.refresher.entered = make(chan struct{})
	s.refresher.err = &types.APIError{Kind: types.KindUnauthorized, StatusCode: 401, Message: "expired"}

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.coord.RefreshStale(s.ctx, "a0")
		}(i)
	}
	<-s.refresher.entered
	time.Sleep(20 * time.Millisecond)
	close(s.refresher.gate)
	wg.Wait()

	for _, err := range errs {
		s.ErrorIs(err, types.ErrSessionInvalid)
	}
	s.EqualValues(1, s.teardowns.Load())
	s.EqualValues(1, s.refresher.calls.Load())

	stored, err := s.store.Get(s.ctx)
	s.NoError(err)
	s.True(stored.IsZero())
}

func (s *CoordinatorTestSuite) TestMissingRefreshCredential() {
	s.Require().NoError(s.store.Set(s.ctx, types.Credential{AccessToken: "a0"}))
	_, err := s.coord.Refresh(s.ctx)
	s.ErrorIs(err, types.ErrSessionInvalid)
	s.ErrorIs(err, types.ErrNoCredential)
	s.Zero(s.refresher.calls.Load())
	s.EqualValues(1, s.teardowns.Load())
}

func (s *CoordinatorTestSuite) TestEmptyAccessFromRefresherIsFailure() {
	s.coord = NewCoordinator(s.store, refresherFunc(func(context.Context, string) (types.Credential, error) {
		return types.Credential{}, nil
	}), nil)
	_, err := s.coord.Refresh(s.ctx)
	s.ErrorIs(err, types.ErrSessionInvalid)
	s.ErrorIs(err, types.ErrMalformedPayload)
}

func (s *CoordinatorTestSuite) TestClosedCoordinatorRejects() {
	s.coord.Close()
	_, err := s.coord.Refresh(s.ctx)
	s.ErrorIs(err, types.ErrSessionInvalid)
	s.Zero(s.refresher.calls.Load())
}

func (s *CoordinatorTestSuite) TestCancelledWaiterDoesNotCancelRefresh() {
	s.refresher.gate = make(chan struct{})
	s.refresher.entered = make(chan struct{})

	ctx, cancel := context.WithCancel(s.ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.coord.Refresh(ctx)
		errCh <- err
	}()
	<-s.refresher.entered
	cancel()
	s.True(errors.Is(<-errCh, context.Canceled))

	close(s.refresher.gate)
	s.Eventually(func() bool {
		cred, _ := s.store.Get(s.ctx)
		return cred.AccessToken == "a1"
	}, time.Second, 5*time.Millisecond)
}

type refresherFunc func(ctx context.Context, refreshToken string) (types.Credential, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (types.Credential, error) {
	return f(ctx, refreshToken)
}

func (s *CoordinatorTestSuite) TestStaleCallerAfterTeardownIsRejectedQuietly() {
	s.refresher.err = &types.APIError{Kind: types.KindUnauthorized, StatusCode: 401}
	_, err := s.coord.RefreshStale(s.ctx, "a0")
	s.ErrorIs(err, types.ErrSessionInvalid)

	_, err = s.coord.RefreshStale(s.ctx, "a0")
	s.ErrorIs(err, types.ErrSessionInvalid)
	s.EqualValues(1, s.teardowns.Load())
	s.Equal(1, s.coord.Episodes())
}

// gatedStore blocks the next Get until release is closed once armed.
type gatedStore struct {
	*memory.CredentialStore
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
}

func (g *gatedStore) Get(ctx context.Context) (types.Credential, error) {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.entered, g.release = nil, nil
	g.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return g.CredentialStore.Get(ctx)
}

func (s *CoordinatorTestSuite) TestRejectedCurrentCredentialJoiningOlderRefreshStillRefreshes() {
	store := &gatedStore{CredentialStore: memory.NewCredentialStore()}
	s.Require().NoError(store.Set(s.ctx, types.Credential{AccessToken: "x1", RefreshToken: "r0"}))
	s.coord = NewCoordinator(store, s.refresher, nil)
	store.arm()
	entered, release := store.entered, store.release

	lateDone := make(chan error, 1)
	go func() {
		cred, err := s.coord.RefreshStale(s.ctx, "x0")
		if err == nil && cred.AccessToken == "x0" {
			err = errors.New("got back the stale credential")
		}
		lateDone <- err
	}()
	<-entered

	type result struct {
		cred types.Credential
		err  error
	}
	currentDone := make(chan result, 1)
	go func() {
		cred, err := s.coord.RefreshStale(s.ctx, "x1")
		currentDone <- result{cred, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	s.NoError(<-lateDone)
	res := <-currentDone
	s.Require().NoError(res.err)
	s.Equal("a1", res.cred.AccessToken)
	s.EqualValues(1, s.refresher.calls.Load())
	s.Equal(1, s.coord.Episodes())
}

func (s *CoordinatorTestSuite) TestRefreshAlreadyDoneForOlderCredentialReturnsCurrent() {
	s.Require().NoError(s.store.Set(s.ctx, types.Credential{AccessToken: "x1", RefreshToken: "r0"}))
	cred, err := s.coord.RefreshStale(s.ctx, "x0")
	s.NoError(err)
	s.Equal("x1", cred.AccessToken)
	s.Zero(s.refresher.calls.Load())
	s.Zero(s.coord.Episodes())
}
