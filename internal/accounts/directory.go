package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Directory resolves how to reach a user
type Directory interface {
	Contact(ctx context.Context, userID uuid.UUID) (*Contact, error)
}

// CachedDirectory keeps recently resolved contacts for ttl
type CachedDirectory struct {
	next  Directory
	cache *cache.Cache
}

// NewCachedDirectory wraps next with a TTL cache
func NewCachedDirectory(next Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (d *CachedDirectory) Contact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	key := userID.String()
	if cached, ok := d.cache.Get(key); ok {
		return cached.(*Contact), nil
	}

	contact, err := d.next.Contact(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, contact)
	return contact, nil
}

// Invalidate drops a cached contact after a profile change
func (d *CachedDirectory) Invalidate(userID uuid.UUID) {
	d.cache.Delete(userID.String())
}
