// Package session tracks whether a remote-capable identity is currently
// established and owns the privacy-sensitive teardown on sign-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/wellness-sync-engine/internal/types"
)

// Purger clears every locally held, owner-scoped record across all
// collections in one transaction. Remote copies are untouched.
type Purger interface {
	PurgeLocalData(ctx context.Context) error
}

// Manager holds the current authenticated identity, or none. The identity
// itself comes from an external authentication provider; this package only
// gates sync on its presence.
type Manager struct {
	purger Purger
	logger zerolog.Logger

	mu       sync.RWMutex
	identity types.Identity
	signedIn bool
}

// NewManager builds a manager with no identity established.
func NewManager(purger Purger, logger zerolog.Logger) *Manager {
	return &Manager{purger: purger, logger: logger}
}

// SignIn establishes the identity for subsequent sync cycles.
func (m *Manager) SignIn(identity types.Identity) error {
	if identity == "" {
		return errors.New("identity must not be empty")
	}
	m.mu.Lock()
	m.identity = identity
	m.signedIn = true
	m.mu.Unlock()
	m.logger.Info().Str("identity", string(identity)).Msg("signed in")
	return nil
}

// SignOut drops the identity and purges all local user data so a second
// user on the same device cannot see the first user's records. The purge is
// all-or-nothing; if it fails the identity is still dropped and the error
// is surfaced so the caller can retry the purge.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	identity := m.identity
	m.identity = ""
	m.signedIn = false
	m.mu.Unlock()

	if identity == "" {
		return nil
	}

	if m.purger != nil {
		if err := m.purger.PurgeLocalData(ctx); err != nil {
			return fmt.Errorf("purge local data on sign-out: %w", err)
		}
	}
	m.logger.Info().Str("identity", string(identity)).Msg("signed out; local data purged")
	return nil
}

// Current returns the established identity, if any. Implements
// engine.SessionSource.
func (m *Manager) Current() (types.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity, m.signedIn
}
