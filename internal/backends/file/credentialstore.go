package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"tether/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// CredentialStore persists the credential as a JSON document on disk so that
// separate invocations (and separate processes) share one session.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

func (s *CredentialStore) Path() string { return s.path }

func (s *CredentialStore) Get(_ context.Context) (types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *CredentialStore) read() (types.Credential, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Credential{}, nil
		}
		return types.Credential{}, types.Err(types.ErrDataStoreAccess, err, "read %s", s.path)
	}
	if len(b) == 0 {
		return types.Credential{}, nil
	}
	var cred types.Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return types.Credential{}, types.Err(types.ErrDataStoreAccess, err, "decode %s", s.path)
	}
	return cred, nil
}

// Set writes to a temporary file and renames it over the target so readers
// never observe a partial document.
func (s *CredentialStore) Set(_ context.Context, cred types.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	if err := tmp.Close(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "rename to %s", s.path)
	}
	return nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return types.Err(types.ErrDataStoreAccess, err, "remove %s", s.path)
	}
	return nil
}

// Watch follows the credential file. The parent directory is watched rather
// than the file because Set (and most editors) replace it by rename.
func (s *CredentialStore) Watch(ctx context.Context, fn func(types.Credential)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		_ = w.Close()
		return types.Err(types.ErrDataStoreAccess, err, "create %s", dir)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	name := filepath.Clean(s.path)

	go func() {
		defer func() {
			_ = w.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				cred, err := s.Get(ctx)
				if err != nil {
					log.WithError(err).WithField("path", s.path).Warn("failed to reload credential file")
					continue
				}
				fn(cred)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).WithField("path", s.path).Warn("credential file watcher error")
			}
		}
	}()
	return nil
}
