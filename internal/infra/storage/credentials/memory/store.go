// Package memory provides an in-memory credential store. Production
// deployments back this with the account service; the core only ever reads.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

var _ content.CredentialStore = (*CredentialStore)(nil)

// CredentialStore holds publish credentials keyed by account.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[uuid.UUID]content.Credential
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[uuid.UUID]content.Credential)}
}

// Put stores or replaces an account's credential.
func (s *CredentialStore) Put(ownerID uuid.UUID, cred content.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[ownerID] = cred
}

// Revoke removes an account's credential. Subsequent publish attempts for the
// account fail with ErrMissingCredential.
func (s *CredentialStore) Revoke(ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, ownerID)
}

// Credential returns the account's credential, or ErrMissingCredential when
// none is connected or the token has expired.
func (s *CredentialStore) Credential(ctx context.Context, ownerID uuid.UUID) (content.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[ownerID]
	if !ok || !cred.Valid(time.Now()) {
		return content.Credential{}, content.ErrMissingCredential
	}
	return cred, nil
}
