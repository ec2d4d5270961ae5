package session

import (
	"context"
	"net/http"
	"sync"
	"tether/internal/auth"
	"tether/internal/channel"
	"tether/internal/gateway"
	"tether/internal/ports"
	"tether/internal/types"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Options carries the optional collaborators of a Session.
type Options struct {
	HTTPClient *http.Client
	// Refresher overrides the one selected by Config.RefreshMode.
	Refresher ports.Refresher
	// Publisher receives teardown events when Config.TeardownSNSArn is set.
	Publisher      ports.Publisher
	ChannelOptions []channel.Option
}

// Session owns one login: the credential store, its refresh coordinator,
// the request gateway and the event channel. A teardown disconnects the
// channel; Close disposes everything.
type Session struct {
	ID          string
	Config      types.Config
	Store       ports.CredentialStore
	Teardown    *auth.Teardown
	Coordinator *auth.Coordinator
	Gateway     *gateway.Gateway
	Channel     *channel.Client

	closeOnce   sync.Once
	cancelWatch context.CancelFunc
	offTeardown func()
	log         *log.Entry
}

func New(cfg types.Config, store ports.CredentialStore, opts Options) *Session {
	cfg = cfg.WithDefaults()
	cli := opts.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: cfg.Timeout}
	}

	refresher := opts.Refresher
	if refresher == nil {
		refresher = NewRefresher(cfg, cli)
	}

	s := &Session{
		ID:     uuid.NewString(),
		Config: cfg,
		Store:  store,
	}
	s.log = log.WithFields(log.Fields{"component": "session", "session": s.ID})

	s.Teardown = auth.NewTeardown(opts.Publisher, cfg.TeardownSNSArn).WithPublishTimeout(cfg.Timeout)
	s.Coordinator = auth.NewCoordinator(store, refresher, s.Teardown)
	s.Gateway = gateway.New(cfg, cli, store, s.Coordinator)
	s.Channel = channel.NewClient(cfg, store, opts.ChannelOptions...)

	s.offTeardown = s.Teardown.OnTeardown(func(ev auth.TeardownEvent) {
		s.log.WithField("reason", ev.Reason).Info("disconnecting event channel after teardown")
		s.Channel.Disconnect()
	})

	if w, ok := store.(ports.CredentialWatcher); ok {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelWatch = cancel
		if err := w.Watch(ctx, s.credentialChanged); err != nil {
			s.log.WithError(err).Warn("credential watch not started")
		}
	}
	return s
}

// NewRefresher picks the refresher for cfg.RefreshMode.
func NewRefresher(cfg types.Config, cli *http.Client) ports.Refresher {
	if cfg.RefreshMode == types.RefreshModeOAuth2 {
		return auth.NewOAuth2Refresher(cfg.OAuth2, cli)
	}
	return auth.NewHTTPRefresher(cfg.BaseURL, cfg.RefreshPath, cli)
}

// credentialChanged reacts to a login or logout made by another process.
func (s *Session) credentialChanged(cred types.Credential) {
	if cred.IsZero() {
		s.log.Info("credential removed externally")
		s.Channel.Disconnect()
		return
	}
	s.log.Debug("credential replaced externally")
}

// Login stores a freshly issued credential pair.
func (s *Session) Login(ctx context.Context, cred types.Credential) error {
	if cred.IsZero() {
		return types.ErrNoCredential
	}
	return s.Store.Set(ctx, cred)
}

// Logout ends the session on purpose: the channel is disconnected and the
// credential removed. No teardown event is fired.
func (s *Session) Logout(ctx context.Context) error {
	s.Channel.Disconnect()
	return s.Store.Clear(ctx)
}

// Close releases the session. The credential is left in the store.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancelWatch != nil {
			s.cancelWatch()
		}
		s.offTeardown()
		s.Coordinator.Close()
		s.Channel.Disconnect()
	})
}
