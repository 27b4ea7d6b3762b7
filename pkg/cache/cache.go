// Package cache stores advisory responses keyed by a digest of the request.
// Two implementations share one interface: an in-memory cache for local
// mode and a redis-backed cache for served mode. Keys are content-derived,
// so identical requests hit regardless of which node computed the answer.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// RequestType buckets cached advisory calls; each bucket carries its own
// TTL and can be invalidated independently.
type RequestType string

const (
	RequestClassify RequestType = "classify"
	RequestCost     RequestType = "cost"
	RequestOptimize RequestType = "optimize"
)

// Default TTL windows per request type. Classification of a given SQL pair
// never changes, so it keeps the longest window; cost predictions chase
// moving telemetry and expire fastest.
const (
	ttlClassify = time.Hour
	ttlCost     = 15 * time.Minute
	ttlOptimize = 30 * time.Minute
)

// TTLs carries the per-type freshness windows. Zero fields keep the
// defaults, so a partially-populated config overrides only what it names.
type TTLs struct {
	Classify time.Duration
	Cost     time.Duration
	Optimize time.Duration
}

// DefaultTTLs returns the built-in windows.
func DefaultTTLs() TTLs {
	return TTLs{Classify: ttlClassify, Cost: ttlCost, Optimize: ttlOptimize}
}

// For returns the freshness window for a request type. Unknown types get
// the shortest window rather than an error; a stale-prone default is safer
// than an immortal one.
func (t TTLs) For(rt RequestType) time.Duration {
	pick := func(configured, fallback time.Duration) time.Duration {
		if configured > 0 {
			return configured
		}
		return fallback
	}
	switch rt {
	case RequestClassify:
		return pick(t.Classify, ttlClassify)
	case RequestOptimize:
		return pick(t.Optimize, ttlOptimize)
	default:
		return pick(t.Cost, ttlCost)
	}
}

// TTLFor returns the default freshness window for a request type.
func TTLFor(rt RequestType) time.Duration {
	return TTLs{}.For(rt)
}

// Cache is the response cache shared by the advisory engine.
type Cache interface {
	// Get returns the cached value for key, or found=false on miss or
	// expiry. Expired entries are evicted on the way out.
	Get(ctx context.Context, rt RequestType, key string) (value []byte, found bool, err error)
	// Set stores value under key with the type's TTL.
	Set(ctx context.Context, rt RequestType, key string, value []byte) error
	// InvalidateType drops every entry of one request type.
	InvalidateType(ctx context.Context, rt RequestType) (int, error)
	// InvalidateAll drops everything.
	InvalidateAll(ctx context.Context) (int, error)
}

// keyEnvelope is the canonical digest input. encoding/json sorts map keys,
// and payload is pre-marshalled, so identical requests always produce
// identical bytes.
type keyEnvelope struct {
	Type          RequestType     `json:"type"`
	PromptVersion string          `json:"prompt_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Key digests (type, prompt version, payload) to the cache key. Payload
// must marshal deterministically: structs do, and Go maps marshal with
// sorted keys.
func Key(rt RequestType, promptVersion string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	envelope, err := json.Marshal(keyEnvelope{Type: rt, PromptVersion: promptVersion, Payload: raw})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(envelope)
	return hex.EncodeToString(sum[:]), nil
}
