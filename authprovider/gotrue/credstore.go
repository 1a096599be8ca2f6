package gotrue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// credentialNamespace prefixes every persisted credential key so a purge
// can never touch unrelated state.
const credentialNamespace = "covergen.auth"

// storedCredentials is the on-disk shape of a cached session.
type storedCredentials struct {
	Namespace    string    `json:"namespace"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Provider     string    `json:"provider,omitempty"`
}

// CredStore persists credential material between process restarts.
// Implementations must tolerate Clear on an empty store.
type CredStore interface {
	Load() (*storedCredentials, error)
	Save(*storedCredentials) error
	Clear() error
}

// FileCredStore keeps credentials in a JSON file with 0600 permissions.
type FileCredStore struct {
	path string
	lock sync.Mutex
}

var _ CredStore = (*FileCredStore)(nil)

func NewFileCredStore(path string) *FileCredStore {
	return &FileCredStore{path: path}
}

func (s *FileCredStore) Load() (*storedCredentials, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FileCredStore.Load] read credentials")
	}

	var creds storedCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, errors.Wrap(err, "[FileCredStore.Load] parse credentials")
	}
	if creds.Namespace != credentialNamespace {
		// Foreign or stale file: treat as absent rather than failing.
		return nil, nil
	}
	return &creds, nil
}

func (s *FileCredStore) Save(creds *storedCredentials) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	creds.Namespace = credentialNamespace
	raw, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[FileCredStore.Save] marshal credentials")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "[FileCredStore.Save] create credentials dir")
	}
	return errors.Wrap(os.WriteFile(s.path, raw, 0o600), "[FileCredStore.Save] write credentials")
}

func (s *FileCredStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[FileCredStore.Clear] remove credentials")
	}
	return nil
}

// MemCredStore is an in-memory CredStore for tests and for deployments that
// do not want sessions to survive a restart.
type MemCredStore struct {
	creds *storedCredentials
	lock  sync.Mutex
}

var _ CredStore = (*MemCredStore)(nil)

func NewMemCredStore() *MemCredStore {
	return &MemCredStore{}
}

func (s *MemCredStore) Load() (*storedCredentials, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.creds == nil {
		return nil, nil
	}
	copied := *s.creds
	return &copied, nil
}

func (s *MemCredStore) Save(creds *storedCredentials) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	copied := *creds
	copied.Namespace = credentialNamespace
	s.creds = &copied
	return nil
}

func (s *MemCredStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.creds = nil
	return nil
}
