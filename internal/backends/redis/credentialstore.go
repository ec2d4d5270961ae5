package redis

import (
	"context"
	"errors"
	"fmt"
	"tether/internal/types"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	credentialKeyNameTemplate = "_tether_cred_%s"
)

// CredentialStore keeps one credential pair per session name in Redis, so that
// several client processes can share a login.
// A non-zero ttl bounds how long an abandoned credential lingers.
type CredentialStore struct {
	cli     *redis.Client
	session string
	ttl     time.Duration
}

func NewCredentialStore(cli *redis.Client, session string, ttl time.Duration) *CredentialStore {
	return &CredentialStore{cli: cli, session: session, ttl: ttl}
}

func (s *CredentialStore) Get(ctx context.Context) (types.Credential, error) {
	out := s.cli.Get(ctx, getCredentialKey(s.session))
	if out.Err() != nil {
		if errors.Is(out.Err(), redis.Nil) {
			return types.Credential{}, nil
		}
		return types.Credential{}, types.Err(types.ErrDataStoreAccess, out.Err(), "")
	}
	var cred types.Credential
	if err := json.Unmarshal([]byte(out.Val()), &cred); err != nil {
		return types.Credential{}, types.Err(types.ErrDataStoreAccess, err, "decode credential for session %s", s.session)
	}
	return cred, nil
}

func (s *CredentialStore) Set(ctx context.Context, cred types.Credential) error {
	out, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	outS := s.cli.Set(
		ctx,
		getCredentialKey(s.session),
		string(out),
		s.ttl,
	)
	if outS.Err() != nil {
		return types.Err(types.ErrDataStoreAccess, outS.Err(), "")
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	out := s.cli.Del(ctx, getCredentialKey(s.session))
	if out.Err() != nil {
		log.WithError(out.Err()).WithField("session", s.session).Error("failed to clear credential")
		return types.Err(types.ErrDataStoreAccess, out.Err(), "")
	}
	return nil
}

// ListSessions returns the session names that currently hold a credential.
func (s *CredentialStore) ListSessions(ctx context.Context) ([]string, error) {
	out := s.cli.Keys(ctx, getCredentialKey("*"))
	if out.Err() != nil {
		return nil, out.Err()
	}
	keys := out.Val()
	sessions := make([]string, 0, len(keys))
	prefixLen := len(fmt.Sprintf(credentialKeyNameTemplate, ""))
	for _, k := range keys {
		if len(k) > prefixLen {
			sessions = append(sessions, k[prefixLen:])
		}
	}
	return sessions, nil
}

func getCredentialKey(session string) string {
	return fmt.Sprintf(credentialKeyNameTemplate, session)
}
