// Package cache is the namespaced result cache shared by the execution
// service and the workers.
//
// Values are JSON documents, zstd-compressed above a size threshold, stored in
// a Store (Redis in production, memory otherwise). Cache failures never fail
// the caller: a failed read is a miss and a failed write is logged.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Namespace partitions keys and selects their TTL.
type Namespace string

const (
	NamespaceQuestion Namespace = "question"
	NamespaceResult   Namespace = "result"
	NamespaceProgress Namespace = "progress"
	NamespaceRuntime  Namespace = "runtime"
)

// TTLs holds the expiry of each namespace.
type TTLs struct {
	Question time.Duration
	Result   time.Duration
	Progress time.Duration
	Runtime  time.Duration
}

// DefaultTTLs returns the standard namespace expiries.
func DefaultTTLs() TTLs {
	return TTLs{
		Question: 30 * time.Minute,
		Result:   time.Hour,
		Progress: 5 * time.Minute,
		Runtime:  24 * time.Hour,
	}
}

// Options configures a Cache.
type Options struct {
	TTLs              TTLs
	CompressThreshold int
}

// Cache stores JSON values under namespaced keys.
type Cache struct {
	store     Store
	logger    *zap.Logger
	ttls      TTLs
	threshold int
}

// New creates a cache over store. Zero TTLs fall back to DefaultTTLs.
func New(store Store, logger *zap.Logger, opts Options) *Cache {
	defaults := DefaultTTLs()
	ttls := opts.TTLs
	if ttls.Question <= 0 {
		ttls.Question = defaults.Question
	}
	if ttls.Result <= 0 {
		ttls.Result = defaults.Result
	}
	if ttls.Progress <= 0 {
		ttls.Progress = defaults.Progress
	}
	if ttls.Runtime <= 0 {
		ttls.Runtime = defaults.Runtime
	}
	return &Cache{store: store, logger: logger, ttls: ttls, threshold: opts.CompressThreshold}
}

// TTL returns the expiry used for ns.
func (c *Cache) TTL(ns Namespace) time.Duration {
	switch ns {
	case NamespaceQuestion:
		return c.ttls.Question
	case NamespaceResult:
		return c.ttls.Result
	case NamespaceProgress:
		return c.ttls.Progress
	case NamespaceRuntime:
		return c.ttls.Runtime
	default:
		return c.ttls.Result
	}
}

// Key joins ns and parts with ':'.
func Key(ns Namespace, parts ...string) string {
	return string(ns) + ":" + strings.Join(parts, ":")
}

// Fingerprint identifies an execution by code, language and question. Equal
// inputs always produce equal fingerprints.
func Fingerprint(code, language, questionID string) string {
	return FingerprintWithInput(code, language, questionID, "")
}

// FingerprintWithInput extends Fingerprint with the program input. An empty
// input yields exactly Fingerprint(code, language, questionID).
func FingerprintWithInput(code, language, questionID, input string) string {
	h := sha256.New()
	h.Write([]byte(code))
	h.Write([]byte{0})
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(questionID))
	if input != "" {
		h.Write([]byte{0})
		h.Write([]byte(input))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ResultKey is the result-namespace key for a fingerprint.
func ResultKey(fingerprint string) string {
	return Key(NamespaceResult, fingerprint)
}

// QuestionKey is the question-namespace key for a question id.
func QuestionKey(questionID string) string {
	return Key(NamespaceQuestion, questionID)
}

// ProgressKey is the progress-namespace key for a user's question progress.
func ProgressKey(userID, questionID string) string {
	return Key(NamespaceProgress, userID, questionID)
}

// RuntimeKey is the runtime-namespace key for an engine's metadata.
func RuntimeKey(language string) string {
	return Key(NamespaceRuntime, language)
}

// GetJSON decodes the value at key into dst and reports whether it was found.
// Store and decode failures are logged and reported as misses.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	payload, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	data, err := decodePayload(payload)
	if err == nil {
		err = json.Unmarshal(data, dst)
	}
	if err != nil {
		c.logger.Warn("cache entry undecodable, dropping", zap.String("key", key), zap.Error(err))
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON stores v at key with the TTL of ns. Failures are logged only.
func (c *Cache) SetJSON(ctx context.Context, ns Namespace, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache value not encodable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, encodePayload(data, c.threshold), c.TTL(ns)); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes keys. Failures are logged only.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Exists reports whether key is present. Failures read as absent.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	ok, err := c.store.Exists(ctx, key)
	if err != nil {
		c.logger.Warn("cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// InvalidateProgress drops every progress entry of userID and returns how
// many were removed.
func (c *Cache) InvalidateProgress(ctx context.Context, userID string) int {
	pattern := Key(NamespaceProgress, escapeGlob(userID), "*")
	n, err := c.store.DeletePattern(ctx, pattern)
	if err != nil {
		c.logger.Warn("progress invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
	return n
}

// Close releases the store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
