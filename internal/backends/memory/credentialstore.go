package memory

import (
	"context"
	"sync"
	"tether/internal/types"
)

// CredentialStore keeps the credential in process memory. Nothing survives
// the process; select it with CREDENTIAL_BACKEND=memory.
type CredentialStore struct {
	mu   sync.RWMutex
	cred types.Credential
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

func (s *CredentialStore) Get(_ context.Context) (types.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, nil
}

func (s *CredentialStore) Set(_ context.Context, cred types.Credential) error {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.cred = types.Credential{}
	s.mu.Unlock()
	return nil
}
