package ports

import (
	"context"
	"tether/internal/types"
)

// CredentialStore holds the current access/refresh credential pair.
// It has no logic of its own: writes are last-write-wins and there is at most
// one current pair per store.
type CredentialStore interface {
	// Get returns the current credential.
	// MUST return a zero Credential and a nil error when nothing is stored.
	Get(ctx context.Context) (types.Credential, error)

	// Set replaces the current credential.
	Set(ctx context.Context, cred types.Credential) error

	// Clear removes the current credential. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// CredentialWatcher is implemented by stores whose content can change outside
// this process (a file another login writes, for instance). fn is called with
// the new credential after every external change until ctx is done.
type CredentialWatcher interface {
	Watch(ctx context.Context, fn func(types.Credential)) error
}
