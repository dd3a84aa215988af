package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key over a sliding window. The window is
// approximated from two fixed buckets: the current one and the previous one
// weighted by how much of it still overlaps the sliding window.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// decide applies the sliding window estimate to bucket counts observed
// before the current request.
func decide(prev, curr int64, bucket, now time.Time, window time.Duration, limit int) Decision {
	weight := 1 - float64(now.Sub(bucket))/float64(window)
	used := float64(prev)*max(weight, 0) + float64(curr)

	d := Decision{ResetAt: bucket.Add(window)}
	if used >= float64(limit) {
		return d
	}
	d.Allowed = true
	d.Remaining = max(int(float64(limit)-used-1), 0)
	return d
}

type buckets struct {
	start      time.Time
	prev, curr int64
}

// MemoryLimiter keeps counters in process memory. Counters are only
// consistent within one replica.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*buckets
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*buckets),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	bucket := now.Truncate(m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	switch {
	case !ok:
		e = &buckets{start: bucket}
		m.entries[key] = e
	case bucket.Equal(e.start):
	case bucket.Sub(e.start) == m.window:
		e.start, e.prev, e.curr = bucket, e.curr, 0
	default:
		e.start, e.prev, e.curr = bucket, 0, 0
	}

	d := decide(e.prev, e.curr, bucket, now, m.window, m.limit)
	if d.Allowed {
		e.curr++
	}
	return d, nil
}

// Evict drops keys that have been idle for two full windows.
func (m *MemoryLimiter) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, e := range m.entries {
		if now.Sub(e.start) >= 2*m.window {
			delete(m.entries, key)
			evicted++
		}
	}
	return evicted
}

// Run evicts idle keys every other window until ctx is done.
func (m *MemoryLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * m.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Evict(now)
		}
	}
}

// slidingWindowScript checks and increments the current bucket atomically.
// KEYS: current bucket, previous bucket. ARGV: previous bucket weight,
// limit, bucket TTL in milliseconds. Returns {allowed, current, previous}
// with counts as observed before this request.
var slidingWindowScript = redis.NewScript(`
local curr = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
if prev * tonumber(ARGV[1]) + curr >= tonumber(ARGV[2]) then
	return {0, curr, prev}
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, curr, prev}
`)

// RedisLimiter shares counters between replicas through Redis.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb redis.Scripter, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	bucket := now.Truncate(l.window)
	weight := max(1-float64(now.Sub(bucket))/float64(l.window), 0)

	res, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{l.bucketKey(key, bucket), l.bucketKey(key, bucket.Add(-l.window))},
		strconv.FormatFloat(weight, 'f', -1, 64),
		l.limit,
		(2 * l.window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limit script")
	}
	if len(res) != 3 {
		return Decision{}, errors.Errorf("rate limit script returned %d values", len(res))
	}

	d := decide(res[2], res[1], bucket, now, l.window, l.limit)
	d.Allowed = res[0] == 1
	if !d.Allowed {
		d.Remaining = 0
	}
	return d, nil
}

func (l *RedisLimiter) bucketKey(key string, bucket time.Time) string {
	return l.prefix + key + ":" + strconv.FormatInt(bucket.UnixMilli(), 10)
}

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window, reported in
	// X-RateLimit-Limit.
	Max int
	// KeyFunc extracts the rate limit key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// RateLimit rejects requests over the limit with 429. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset. When the
// limiter itself fails the request is let through.
func RateLimit(l Limiter, cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := l.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				wait := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyByHeader limits callers that present header by a digest of its value
// and everyone else by client IP. The raw value never leaves the process.
func KeyByHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		v := r.Header.Get(header)
		if v == "" {
			return "ip:" + ClientIP(r)
		}
		sum := sha256.Sum256([]byte(v))
		return "key:" + hex.EncodeToString(sum[:8])
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
