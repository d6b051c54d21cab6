package pallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyByID     = "pallet:closed:id:"
	cacheKeyByNumber = "pallet:closed:number:"
)

// ClosedCache keeps closed pallets in Redis. A closed pallet never changes,
// so entries need no invalidation; open pallets are never stored.
type ClosedCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClosedCache instantiates the cache. A nil client disables caching.
func NewClosedCache(client *redis.Client, ttl time.Duration) *ClosedCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ClosedCache{client: client, ttl: ttl}
}

// Get returns the cached pallet by id.
func (c *ClosedCache) Get(ctx context.Context, id int64) (*Pallet, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	return c.load(ctx, cacheKeyByID+strconv.FormatInt(id, 10))
}

// GetByNumber returns the cached pallet by its permanent number.
func (c *ClosedCache) GetByNumber(ctx context.Context, number string) (*Pallet, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	return c.load(ctx, cacheKeyByNumber+number)
}

// Put stores a closed pallet under both keys.
func (c *ClosedCache) Put(ctx context.Context, p *Pallet) error {
	if c == nil || c.client == nil || p == nil {
		return nil
	}
	if !p.IsClosed {
		return errors.New("pallet cache: refusing to cache an open pallet")
	}
	raw, err := json.Marshal(ToView(p))
	if err != nil {
		return fmt.Errorf("pallet cache: encode: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, cacheKeyByID+strconv.FormatInt(p.ID, 10), raw, c.ttl)
	pipe.Set(ctx, cacheKeyByNumber+p.Number.Value(), raw, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *ClosedCache) load(ctx context.Context, key string) (*Pallet, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var view PalletView
	if err := json.Unmarshal(raw, &view); err != nil {
		// drop entries we cannot decode, the database remains authoritative
		_ = c.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return view.toPallet(), true, nil
}
