package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/parkpal/internal/cache"
	"github.com/charlesng35/parkpal/pkg/errors"
	"github.com/charlesng35/parkpal/pkg/logger"
	"github.com/charlesng35/parkpal/pkg/response"
)

// ErrRateLimited is returned once a caller exhausts its request budget.
var ErrRateLimited = errors.New("RATE_LIMITED", "Too many requests", http.StatusTooManyRequests)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
	Prune(ctx context.Context) error
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// MemoryRateStore is a process-local fixed window counter store.
type MemoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	clock func() time.Time
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: time.Now,
	}
}

// Increment implements RateStore.
func (s *MemoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}
	counter.count++

	return counter.count, counter.windowEnd.Sub(now), nil
}

// Prune drops counters whose window has ended.
func (s *MemoryRateStore) Prune(context.Context) error {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, counter := range s.data {
		if now.After(counter.windowEnd) {
			delete(s.data, key)
		}
	}
	return nil
}

// DatabaseRateStore shares rate limit windows across processes through the
// database-backed counter cache.
type DatabaseRateStore struct {
	store *cache.DatabaseStore
}

// NewDatabaseRateStore wraps a database counter store.
func NewDatabaseRateStore(store *cache.DatabaseStore) *DatabaseRateStore {
	if store == nil {
		return nil
	}
	return &DatabaseRateStore{store: store}
}

// Increment implements RateStore.
func (s *DatabaseRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	count, ttl, err := s.store.IncrementWithTTL(ctx, "ratelimit:"+key, window)
	if err != nil {
		return 0, 0, err
	}
	return int(count), ttl, nil
}

// Prune removes expired windows from the database.
func (s *DatabaseRateStore) Prune(ctx context.Context) error {
	_, err := s.store.PurgeExpired(ctx)
	return err
}

// RateLimit limits requests per (caller, route) within a fixed window. The
// caller is the authenticated user when known, otherwise the client IP.
// Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		caller := c.GetString(CtxUserIDKey)
		if caller == "" {
			caller = c.ClientIP()
		}
		key := caller + "|" + c.Request.Method + " " + c.FullPath()
		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("rate limit store unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			response.Error(c, ErrRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}
