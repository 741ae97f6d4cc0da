// Package accountstest provides an in-memory user repository for package tests
package accountstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/accounts"
)

// MemoryRepository implements accounts.Repository over a map
type MemoryRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]*accounts.User
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[uuid.UUID]*accounts.User)}
}

// Add stores a user and returns its id
func (m *MemoryRepository) Add(user accounts.User) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	m.users[user.ID] = &user
	return user.ID
}

func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*accounts.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, accounts.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*accounts.User, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) StageLedgerKey(ctx context.Context, id uuid.UUID, binding accounts.Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return accounts.ErrUserNotFound
	}
	if user.HasLedgerAccount() {
		return fmt.Errorf("user %s already has a ledger account", id)
	}
	user.LedgerPublicKey = &binding.PublicKey
	user.SealedLedgerKey = binding.SealedKey
	user.LedgerMode = &binding.Mode
	return nil
}

func (m *MemoryRepository) BindLedgerAccount(ctx context.Context, id uuid.UUID, binding accounts.Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return accounts.ErrUserNotFound
	}
	if user.HasLedgerAccount() {
		return fmt.Errorf("user %s already has a ledger account", id)
	}
	user.LedgerAccountID = &binding.AccountID
	user.LedgerPublicKey = &binding.PublicKey
	user.SealedLedgerKey = binding.SealedKey
	user.LedgerMode = &binding.Mode
	return nil
}
