// Package session holds the credential attached to every outbound provider call.
//
// The credential is persisted in a durable key-value store and cached in
// memory behind a read-write lock, so concurrent requests share one session
// without racing on it. Re-authentication only happens when a caller asks
// for it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
)

// CredentialKey is the durable record holding the current credential.
const CredentialKey = "credential"

// Store supplies and refreshes the session credential.
type Store struct {
	authenticator core.Authenticator
	durable       core.KeyValueStore
	log           *logger.Logger

	mu     sync.RWMutex
	cached core.Credential
}

// New creates a Store that logs in through authenticator and persists the
// result in durable.
func New(authenticator core.Authenticator, durable core.KeyValueStore, log *logger.Logger) *Store {
	return &Store{
		authenticator: authenticator,
		durable:       durable,
		log:           log,
	}
}

// Authenticate performs a remote login, persists the credential, then caches it.
func (s *Store) Authenticate(ctx context.Context, username, password string) (core.Credential, error) {
	cred, err := s.authenticator.Authenticate(ctx, username, password)
	if err != nil {
		return core.Credential{}, fmt.Errorf("login failed: %w", err)
	}

	if cred.IsZero() {
		return core.Credential{}, fmt.Errorf("%w: login returned an empty credential", core.ErrAuth)
	}

	record, err := json.Marshal(cred)
	if err != nil {
		return core.Credential{}, fmt.Errorf("failed to encode credential: %w", err)
	}

	err = s.durable.Put(ctx, CredentialKey, record)
	if err != nil {
		return core.Credential{}, fmt.Errorf("failed to persist credential: %w", err)
	}

	s.mu.Lock()
	s.cached = cred
	s.mu.Unlock()

	s.log.Info("Session established with a %s credential", cred.Kind)

	return cred, nil
}

// Credential returns the cached credential, falling back to the durable
// store. It fails with core.ErrNoSession when neither holds one.
func (s *Store) Credential(ctx context.Context) (core.Credential, error) {
	s.mu.RLock()
	cred := s.cached
	s.mu.RUnlock()

	if !cred.IsZero() {
		return cred, nil
	}

	record, err := s.durable.Get(ctx, CredentialKey)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Credential{}, core.ErrNoSession
		}

		return core.Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}

	err = json.Unmarshal(record, &cred)
	if err != nil {
		return core.Credential{}, fmt.Errorf("failed to decode stored credential: %w", err)
	}

	if cred.IsZero() {
		return core.Credential{}, core.ErrNoSession
	}

	// A concurrent Authenticate may have won; keep its credential.
	s.mu.Lock()
	if s.cached.IsZero() {
		s.cached = cred
	}

	cred = s.cached
	s.mu.Unlock()

	return cred, nil
}

// Invalidate discards the credential after the provider rejected it. The
// next Credential call fails until Authenticate runs again.
func (s *Store) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	s.cached = core.Credential{}
	s.mu.Unlock()

	err := s.durable.Delete(ctx, CredentialKey)
	if err != nil {
		return fmt.Errorf("failed to delete stored credential: %w", err)
	}

	s.log.Warn("Session invalidated; authenticate again before the next request")

	return nil
}
