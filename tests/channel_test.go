package tests

import (
	"context"
	"fmt"
	"sync"
	"tether/internal/channel"
	"tether/internal/types"
	"time"
)

func (s *IntegrationTestSuite) TestEnvelopeRoundTrip() {
	ctx := context.Background()
	sess := s.newSession()

	got := make(chan any, 4)
	sess.Channel.On("pong", func(v any) { got <- v })
	s.Require().NoError(sess.Channel.Connect(ctx))
	s.Require().NoError(sess.Channel.Send("ping", map[string]any{"seq": 7}))

	select {
	case v := <-got:
		s.Equal(map[string]any{"seq": 7.0}, v)
	case <-time.After(2 * time.Second):
		s.Fail("no pong")
	}
}

func (s *IntegrationTestSuite) TestReconnectAfterDrop() {
	ctx := context.Background()
	sess := s.newSession()

	var mu sync.Mutex
	var closes []channel.CloseEvent
	sess.Channel.OnClose(func(ev channel.CloseEvent) {
		mu.Lock()
		defer mu.Unlock()
		closes = append(closes, ev)
	})
	got := make(chan any, 4)
	sess.Channel.On("draw_result", func(v any) { got <- v })

	s.Require().NoError(sess.Channel.Connect(ctx))
	s.Eventually(func() bool { return s.server.Peers() >= 1 }, time.Second, 5*time.Millisecond)

	s.server.DropAll()
	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(closes) == 1
	}, time.Second, 5*time.Millisecond)
	s.Eventually(sess.Channel.IsConnected, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	s.Equal(1, closes[0].Attempt)
	s.False(closes[0].Terminal)
	mu.Unlock()

	s.Eventually(func() bool {
		return s.server.Broadcast(types.Envelope{Type: "draw_result", Payload: "after"}) > 0
	}, time.Second, 10*time.Millisecond)
	s.Equal("after", <-got)
}

func (s *IntegrationTestSuite) TestGivesUpAgainstDeadServer() {
	ctx := context.Background()
	cfg := s.config()
	cfg.WSURL = "ws://localhost:1/ws"
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	cfg.ReconnectMaxAttempts = 3

	store := s.newStore(fmt.Sprintf("dead-%d", time.Now().UnixNano()))
	s.Require().NoError(store.Set(ctx, types.Credential{AccessToken: "a", RefreshToken: "r"}))
	client := channel.NewClient(cfg, store)

	terminal := make(chan channel.CloseEvent, 2)
	var mu sync.Mutex
	closes := 0
	client.OnClose(func(ev channel.CloseEvent) {
		mu.Lock()
		closes++
		mu.Unlock()
		if ev.Terminal {
			terminal <- ev
		}
	})

	s.Error(client.Connect(ctx))
	select {
	case ev := <-terminal:
		s.Equal(3, ev.Attempt)
	case <-time.After(3 * time.Second):
		s.FailNow("never gave up")
	}
	time.Sleep(50 * time.Millisecond)
	s.Len(terminal, 0)
	mu.Lock()
	s.Equal(4, closes)
	mu.Unlock()
	s.Equal(types.Disconnected, client.State())
}
