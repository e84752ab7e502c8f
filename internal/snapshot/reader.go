package snapshot

import (
	"context"
	"encoding/json"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/go-redis/redis/v8"
)

// Reader serves balance queries from the cache. A miss or a decode
// failure is reported as not-found so callers fall back to the
// authoritative store.
type Reader struct {
	client    redis.Cmdable
	namespace string
}

func NewReader(client redis.Cmdable, namespace string) *Reader {
	return &Reader{client: client, namespace: namespace}
}

// Get returns the cached snapshot value, or nil on a miss.
func (r *Reader) Get(ctx context.Context, accountID uint64, currency string) (*Value, error) {
	fields, err := r.client.HGetAll(ctx, Key(r.namespace, accountID, currency)).Result()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "cache read", err)
	}
	raw, ok := fields["value"]
	if !ok || raw == "" {
		return nil, nil
	}
	var v Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, nil
	}
	return &v, nil
}
