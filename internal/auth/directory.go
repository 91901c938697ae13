package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"vigil/pkg/platform/sentinel"
)

// Directory resolves usernames to identities. The business user store
// implements this; the in-memory directory serves tests and dev mode.
type Directory interface {
	// FindByUsername returns the identity or sentinel.ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*Identity, error)
}

// InMemoryDirectory is a mutex-guarded username index with bcrypt hashes.
type InMemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]Identity
}

// NewInMemoryDirectory constructs an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{users: make(map[string]Identity)}
}

// Add registers a user, hashing the given plaintext password.
func (d *InMemoryDirectory) Add(username, password, role string, permissions []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[username] = Identity{
		Username:     username,
		Role:         role,
		Permissions:  permissions,
		PasswordHash: string(hash),
	}
	return nil
}

// Remove deletes a user; outstanding tokens for it fail verification with
// an unknown-subject error from then on.
func (d *InMemoryDirectory) Remove(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, username)
}

func (d *InMemoryDirectory) FindByUsername(_ context.Context, username string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if identity, ok := d.users[username]; ok {
		return &identity, nil
	}
	return nil, fmt.Errorf("user %q: %w", username, sentinel.ErrNotFound)
}
