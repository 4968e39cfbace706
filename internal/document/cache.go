package document

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ViewCache holds assembled document views keyed by document id. It is an
// optimization only: a nil cache or an unreachable Redis always falls back
// to the authoritative store.
type ViewCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewViewCache instantiates the cache helper.
func NewViewCache(client *redis.Client, ttl time.Duration) *ViewCache {
	return &ViewCache{client: client, ttl: ttl}
}

func viewKey(id uuid.UUID) string {
	return "doc:view:" + id.String()
}

// Get returns the cached view when present.
func (c *ViewCache) Get(ctx context.Context, id uuid.UUID) (View, bool) {
	if c == nil || c.client == nil {
		return View{}, false
	}
	payload, err := c.client.Get(ctx, viewKey(id)).Bytes()
	if err != nil {
		return View{}, false
	}
	var view View
	if err := json.Unmarshal(payload, &view); err != nil {
		return View{}, false
	}
	return view, true
}

// Set stores the view with the configured TTL. Failures are ignored: the
// cache never blocks a read.
func (c *ViewCache) Set(ctx context.Context, id uuid.UUID, view View) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, viewKey(id), payload, c.ttl).Err()
}

// Invalidate removes the document's entry. Every create/approve/reject
// deletes the key so a stale pending snapshot is never served.
func (c *ViewCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, viewKey(id)).Err()
}
