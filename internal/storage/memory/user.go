package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/internal/domain/auth"
	"github.com/xenking/oolio-delivery/internal/domain/order"
)

var (
	_ order.Users     = (*UserDirectory)(nil)
	_ auth.Repository = (*APIKeyRepository)(nil)
)

// UserDirectory maps user ids to display details.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]order.Owner
}

func NewUserDirectory(users ...order.Owner) *UserDirectory {
	d := &UserDirectory{users: make(map[string]order.Owner, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user.
func (d *UserDirectory) Put(u order.Owner) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

func (d *UserDirectory) Owners(_ context.Context, ids []string) (map[string]order.Owner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]order.Owner, len(ids))
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// APIKeyRepository holds API keys by hash.
type APIKeyRepository struct {
	mu   sync.RWMutex
	keys map[string]auth.APIKeyInfo
}

func NewAPIKeyRepository(keys ...auth.APIKeyInfo) *APIKeyRepository {
	r := &APIKeyRepository{keys: make(map[string]auth.APIKeyInfo, len(keys))}
	for _, k := range keys {
		r.keys[k.KeyHash] = k
	}
	return r
}

// Put stores a key, replacing any key with the same hash.
func (r *APIKeyRepository) Put(info auth.APIKeyInfo) {
	r.mu.Lock()
	r.keys[info.KeyHash] = info
	r.mu.Unlock()
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.keys[hash]
	if !ok {
		return nil, errors.Wrap(apperr.ErrNotFound, "api key")
	}
	return &info, nil
}
