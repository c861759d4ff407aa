// Package cache keeps raw upstream GetFeatureInfo bodies: a small in-process
// LRU in front of a shared Redis tier.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/ows-codec/internal/cache/keys"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
)

// Entry is one cached upstream answer.
type Entry struct {
	ContentType string
	Body        []byte
}

// Remote is the shared tier, implemented by redisstore.Client.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

type Interface interface {
	Get(ctx context.Context, layer, requestURL string) (Entry, bool)
	Put(ctx context.Context, layer, requestURL string, e Entry, ttl time.Duration)
	InvalidateLayer(ctx context.Context, layer string) error
}

// promoteTTL bounds how long an L2 hit lives in L1.
const promoteTTL = 10 * time.Second

type local struct {
	e       Entry
	expires time.Time
}

// Layered checks the LRU, then Redis. Remote failures degrade to a miss and
// are logged, never returned to the caller.
type Layered struct {
	logger    *slog.Logger
	remote    Remote
	opTimeout time.Duration

	mu  sync.Mutex
	l1  *lru.Cache[string, local]
	now func() time.Time // for tests
}

func NewLayered(logger *slog.Logger, remote Remote, l1Size int, opTimeout time.Duration) *Layered {
	if l1Size <= 0 {
		l1Size = 1024
	}
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	c, _ := lru.New[string, local](l1Size)
	return &Layered{
		logger:    logger,
		remote:    remote,
		opTimeout: opTimeout,
		l1:        c,
		now:       time.Now,
	}
}

func (c *Layered) Get(ctx context.Context, layer, requestURL string) (Entry, bool) {
	key := keys.FeatureInfoKey(layer, requestURL)

	c.mu.Lock()
	if v, ok := c.l1.Get(key); ok {
		if c.now().Before(v.expires) {
			c.mu.Unlock()
			observability.IncCacheResult("l1", "hit")
			return v.e, true
		}
		c.l1.Remove(key)
	}
	c.mu.Unlock()
	observability.IncCacheResult("l1", "miss")

	if c.remote == nil {
		return Entry{}, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	raw, ok, err := c.remote.Get(opCtx, key)
	if err != nil {
		observability.IncCacheResult("l2", "error")
		c.logger.WarnContext(ctx, "cache get failed", "key", key, "err", err)
		return Entry{}, false
	}
	if !ok {
		observability.IncCacheResult("l2", "miss")
		return Entry{}, false
	}
	e, err := decodeEntry(raw)
	if err != nil {
		observability.IncCacheResult("l2", "error")
		c.logger.WarnContext(ctx, "cache entry unreadable", "key", key, "err", err)
		return Entry{}, false
	}
	observability.IncCacheResult("l2", "hit")
	// remote ttl is unknown here
	c.putLocal(key, e, promoteTTL)
	return e, true
}

func (c *Layered) Put(ctx context.Context, layer, requestURL string, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	key := keys.FeatureInfoKey(layer, requestURL)
	c.putLocal(key, e, ttl)
	if c.remote == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.remote.Set(opCtx, key, encodeEntry(e), ttl); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "key", key, "err", err)
	}
}

func (c *Layered) putLocal(key string, e Entry, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1.Add(key, local{e: e, expires: c.now().Add(ttl)})
}

// InvalidateLayer drops every cached body of layer from both tiers.
func (c *Layered) InvalidateLayer(ctx context.Context, layer string) error {
	prefix := keys.LayerPrefix(layer)
	c.mu.Lock()
	for _, k := range c.l1.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.l1.Remove(k)
		}
	}
	c.mu.Unlock()

	if c.remote == nil {
		return nil
	}
	n, err := c.remote.DelPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("invalidate layer %q: %w", layer, err)
	}
	c.logger.DebugContext(ctx, "cache invalidated", "layer", layer, "keys", n)
	return nil
}

var errBadEntry = errors.New("malformed cache entry")

// entries are stored as "<content type>\n<body>"
func encodeEntry(e Entry) []byte {
	out := make([]byte, 0, len(e.ContentType)+1+len(e.Body))
	out = append(out, strings.ReplaceAll(e.ContentType, "\n", " ")...)
	out = append(out, '\n')
	return append(out, e.Body...)
}

func decodeEntry(b []byte) (Entry, error) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return Entry{}, errBadEntry
	}
	return Entry{ContentType: string(b[:i]), Body: append([]byte(nil), b[i+1:]...)}, nil
}
