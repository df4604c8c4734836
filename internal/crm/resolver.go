package crm

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// IdentityResolver maps a verified email to a CRM contact id. A miss returns
// ErrNoContact.
type IdentityResolver interface {
	ResolveContactID(ctx context.Context, email string) (int, error)
}

// ClientResolver looks the email up with a Contact.get call, first match wins.
type ClientResolver struct {
	Client Client
}

func (r ClientResolver) ResolveContactID(ctx context.Context, email string) (int, error) {
	rows, err := r.Client.Call(ctx, "Contact", "get", map[string]any{
		"email":   email,
		"return":  contactFields,
		"options": map[string]any{"limit": 1},
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ErrNoContact
	}
	id := int(number(rows[0]["id"]))
	if id <= 0 {
		return 0, fmt.Errorf("crm: contact without id for identity: %w", ErrNoContact)
	}
	return id, nil
}

// Cache is the small key-value surface the cached resolver needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CachedResolver memoizes hits. Misses are not cached so a contact created
// later is found on the next request.
type CachedResolver struct {
	Next  IdentityResolver
	Cache Cache
	TTL   time.Duration
	Log   *slog.Logger
}

// identityKey hashes the normalized email so no address lands in the cache.
func identityKey(email string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "crm:contact:" + hex.EncodeToString(sum[:16])
}

func (r *CachedResolver) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *CachedResolver) ResolveContactID(ctx context.Context, email string) (int, error) {
	key := identityKey(email)
	if v, ok, err := r.Cache.Get(ctx, key); err != nil {
		r.logger().Warn("identity cache read failed", "error", err)
	} else if ok {
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			return id, nil
		}
	}

	id, err := r.Next.ResolveContactID(ctx, email)
	if err != nil {
		return 0, err
	}

	ttl := r.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := r.Cache.Set(ctx, key, strconv.Itoa(id), ttl); err != nil {
		r.logger().Warn("identity cache write failed", "error", err)
	}
	return id, nil
}
