package tests

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"tether/internal/api"
	"tether/internal/gateway"
	"tether/internal/types"
)

func (s *IntegrationTestSuite) TestCallWithValidCredential() {
	sess := s.newSession()
	var me struct{ Username string }
	s.NoError(sess.Gateway.Get(context.Background(), "/users/me/", &me))
	s.Equal("demo", me.Username)
}

func (s *IntegrationTestSuite) TestExpiredCredentialIsRefreshedAndReplayed() {
	ctx := context.Background()
	sess := s.newSession()
	before, _ := sess.Store.Get(ctx)
	refreshes := s.server.Refreshes()

	s.expireAccess()
	var out map[string]any
	s.NoError(sess.Gateway.Post(ctx, "/echo/", map[string]any{"n": 1}, &out))
	s.Equal("demo", out["user"])
	s.Equal(map[string]any{"n": 1.0}, out["body"])
	s.Equal(refreshes+1, s.server.Refreshes())

	after, _ := sess.Store.Get(ctx)
	s.NotEqual(before.AccessToken, after.AccessToken)
	s.Equal(before.RefreshToken, after.RefreshToken)
	s.Empty(s.publisher.Events())

	var me struct{ Username string }
	s.NoError(sess.Gateway.Get(ctx, "/users/me/", &me))
	s.Equal("demo", me.Username)
	s.Equal(refreshes+1, s.server.Refreshes())
	s.Equal(1, sess.Coordinator.Episodes())
}

func (s *IntegrationTestSuite) TestConcurrentExpiredCallsRefreshOnce() {
	ctx := context.Background()
	sess := s.newSession()
	refreshes := s.server.Refreshes()
	s.expireAccess()

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sess.Gateway.Get(ctx, "/users/me/", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	s.Equal(refreshes+1, s.server.Refreshes())
	s.Equal(1, sess.Coordinator.Episodes())
}

func (s *IntegrationTestSuite) TestExpiredRefreshTearsDownAndPublishes() {
	ctx := context.Background()
	sess := s.newSession()
	s.Require().NoError(sess.Channel.Connect(ctx))

	s.expireAll()
	_, err := sess.Gateway.Call(ctx, gateway.Operation{Method: http.MethodGet, Path: "/users/me/", RequiresAuth: true})
	s.ErrorIs(err, types.ErrSessionInvalid)

	cred, _ := sess.Store.Get(ctx)
	s.True(cred.IsZero())
	s.Equal(types.Closing, sess.Channel.State())

	events := s.publisher.Events()
	s.Require().Len(events, 1)
	s.True(strings.HasPrefix(events[0], TestTopicArn+"|session_teardown|"))

	// No further network activity once torn down.
	refreshes := s.server.Refreshes()
	_, err = sess.Gateway.Call(ctx, gateway.Operation{Path: "/users/me/", RequiresAuth: true})
	s.ErrorIs(err, types.ErrSessionInvalid)
	s.Equal(refreshes, s.server.Refreshes())
}

func (s *IntegrationTestSuite) TestLoginThroughGateway() {
	ctx := context.Background()
	sess := s.newSession()
	s.Require().NoError(sess.Logout(ctx))

	resp, err := sess.Gateway.Call(ctx, gateway.Operation{
		Method: http.MethodPost,
		Path:   strings.TrimPrefix(api.LoginPath, "/api"),
		Body:   map[string]string{"username": "demo", "password": "wrong"},
	})
	s.ErrorIs(err, types.ErrUnauthorized)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("No active account found with the given credentials", err.(*types.APIError).Message)

	_, err = sess.Gateway.Call(ctx, gateway.Operation{
		Method: http.MethodPost,
		Path:   strings.TrimPrefix(api.LoginPath, "/api"),
		Body:   map[string]string{"username": "demo"},
	})
	s.ErrorIs(err, types.ErrValidation)
	s.Equal("This field is required.", err.(*types.APIError).Message)
}
