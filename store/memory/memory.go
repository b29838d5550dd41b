// Package memory provides in-process AccountStore and APIKeyStore
// implementations for tests and single-node development.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/modforge/authcore"
)

type identityKey struct {
	provider   string
	externalID string
}

// Store keeps accounts and API keys in maps guarded by one mutex. Values
// are copied on the way in and out.
type Store struct {
	mu sync.RWMutex

	accounts   map[string]*authcore.Account
	byUsername map[string]string
	byEmail    map[string]string
	byIdentity map[identityKey]string

	keys     map[string]*authcore.APIKey
	byPrefix map[string]string
}

var (
	_ authcore.AccountStore = (*Store)(nil)
	_ authcore.APIKeyStore  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		accounts:   make(map[string]*authcore.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		byIdentity: make(map[identityKey]string),
		keys:       make(map[string]*authcore.APIKey),
		byPrefix:   make(map[string]string),
	}
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *Store) CreateAccount(_ context.Context, account *authcore.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return authcore.ErrConflict
	}
	if _, ok := s.byUsername[fold(account.Username)]; ok {
		return authcore.ErrConflict
	}
	if account.Email != "" {
		if _, ok := s.byEmail[fold(account.Email)]; ok {
			return authcore.ErrConflict
		}
	}
	for _, li := range account.LinkedIdentities {
		if _, ok := s.byIdentity[identityKey{li.Provider, li.ExternalID}]; ok {
			return authcore.ErrConflict
		}
	}

	stored := cloneAccount(account)
	s.accounts[stored.ID] = stored
	s.index(stored)
	return nil
}

func (s *Store) index(a *authcore.Account) {
	s.byUsername[fold(a.Username)] = a.ID
	if a.Email != "" {
		s.byEmail[fold(a.Email)] = a.ID
	}
	for _, li := range a.LinkedIdentities {
		s.byIdentity[identityKey{li.Provider, li.ExternalID}] = a.ID
	}
}

func (s *Store) GetAccountByID(_ context.Context, id string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byUsername[fold(username)])
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byEmail[fold(email)])
}

func (s *Store) FindByLinkedIdentity(_ context.Context, provider, externalID string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byIdentity[identityKey{provider, externalID}])
}

func (s *Store) lookup(id string) (*authcore.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	return cloneAccount(a), nil
}

// UpdateAccount replaces the stored account. Linked identities are owned
// by UpsertLinkedIdentity and are not changed here.
func (s *Store) UpdateAccount(_ context.Context, account *authcore.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.ID]
	if !ok {
		return authcore.ErrNotFound
	}
	if id, ok := s.byUsername[fold(account.Username)]; ok && id != account.ID {
		return authcore.ErrConflict
	}
	if account.Email != "" {
		if id, ok := s.byEmail[fold(account.Email)]; ok && id != account.ID {
			return authcore.ErrConflict
		}
	}

	delete(s.byUsername, fold(current.Username))
	if current.Email != "" {
		delete(s.byEmail, fold(current.Email))
	}

	updated := cloneAccount(account)
	updated.LinkedIdentities = current.LinkedIdentities
	s.accounts[updated.ID] = updated
	s.index(updated)
	return nil
}

func (s *Store) UpsertLinkedIdentity(_ context.Context, accountID string, identity authcore.LinkedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return authcore.ErrNotFound
	}
	key := identityKey{identity.Provider, identity.ExternalID}
	if owner, ok := s.byIdentity[key]; ok && owner != accountID {
		return authcore.ErrConflict
	}

	for i, li := range account.LinkedIdentities {
		if li.Provider == identity.Provider {
			delete(s.byIdentity, identityKey{li.Provider, li.ExternalID})
			account.LinkedIdentities[i] = identity
			s.byIdentity[key] = accountID
			return nil
		}
	}
	account.LinkedIdentities = append(account.LinkedIdentities, identity)
	s.byIdentity[key] = accountID
	return nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *authcore.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; ok {
		return authcore.ErrConflict
	}
	if _, ok := s.byPrefix[key.Prefix]; ok {
		return authcore.ErrConflict
	}
	stored := cloneKey(key)
	s.keys[stored.ID] = stored
	s.byPrefix[stored.Prefix] = stored.ID
	return nil
}

func (s *Store) FindAPIKeyByPrefix(_ context.Context, prefix string) (*authcore.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[s.byPrefix[prefix]]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	return cloneKey(key), nil
}

func (s *Store) TouchAPIKey(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return authcore.ErrNotFound
	}
	key.LastUsedAt = &usedAt
	return nil
}

func (s *Store) DeleteAPIKey(_ context.Context, id, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok || key.OwnerID != ownerID {
		return false, nil
	}
	delete(s.keys, id)
	delete(s.byPrefix, key.Prefix)
	return true, nil
}

func (s *Store) ListAPIKeys(_ context.Context, ownerID string) ([]authcore.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []authcore.APIKey
	for _, key := range s.keys {
		if key.OwnerID == ownerID {
			out = append(out, *cloneKey(key))
		}
	}
	sortKeys(out)
	return out, nil
}

func cloneAccount(a *authcore.Account) *authcore.Account {
	c := *a
	c.Roles = append([]string(nil), a.Roles...)
	c.LinkedIdentities = append([]authcore.LinkedIdentity(nil), a.LinkedIdentities...)
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func cloneKey(k *authcore.APIKey) *authcore.APIKey {
	c := *k
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
