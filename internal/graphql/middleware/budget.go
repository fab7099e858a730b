package middleware

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Cost budget defaults.
const (
	// DefaultClientTTL is how long an idle client's bucket is kept.
	DefaultClientTTL = 10 * time.Minute

	// MinCleanupInterval is the minimum interval between idle sweeps.
	MinCleanupInterval = 10 * time.Second

	// MaxCleanupInterval is the maximum interval between idle sweeps.
	MaxCleanupInterval = time.Minute

	// globalClientKey keys the shared bucket when buckets are not per client.
	globalClientKey = ""
)

type budgetEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// CostBudget is a token bucket denominated in cost units. Admitted
// operations spend their cost; the bucket refills at costPerSecond up to
// burst. Buckets are kept per client or shared by all clients.
type CostBudget struct {
	limit     rate.Limit
	burst     int
	perClient bool
	clientTTL time.Duration
	logger    observability.Logger
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*budgetEntry
	stopCh  chan struct{}
	stopped bool
}

// BudgetOption configures a CostBudget.
type BudgetOption func(*CostBudget)

// WithBudgetLogger sets the budget's logger.
func WithBudgetLogger(logger observability.Logger) BudgetOption {
	return func(b *CostBudget) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClientTTL sets how long an idle client's bucket is kept.
func WithClientTTL(ttl time.Duration) BudgetOption {
	return func(b *CostBudget) {
		if ttl > 0 {
			b.clientTTL = ttl
		}
	}
}

// NewCostBudget creates a cost budget.
func NewCostBudget(costPerSecond float64, burst int, perClient bool, opts ...BudgetOption) *CostBudget {
	b := &CostBudget{
		limit:     rate.Limit(costPerSecond),
		burst:     burst,
		perClient: perClient,
		clientTTL: DefaultClientTTL,
		logger:    observability.NopLogger(),
		now:       time.Now,
		clients:   make(map[string]*budgetEntry),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CostBudgetFromConfig creates a budget from cfg and starts idle cleanup
// for per-client buckets. It returns nil when the budget is disabled. The
// caller stops the returned budget on shutdown.
func CostBudgetFromConfig(cfg *config.BudgetConfig, logger observability.Logger) *CostBudget {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	b := NewCostBudget(cfg.CostPerSecond, cfg.Burst, cfg.PerClient,
		WithBudgetLogger(logger),
		WithClientTTL(cfg.ClientTTL.Duration()),
	)
	if cfg.PerClient {
		b.StartAutoCleanup()
	}
	return b
}

// Allow spends cost from client's bucket. When the bucket cannot cover the
// cost it returns false and how long until it could. An operation costing
// more than burst can never be admitted; the returned wait is then the time
// to refill an empty bucket.
func (b *CostBudget) Allow(client string, cost uint64) (bool, time.Duration) {
	if !b.perClient {
		client = globalClientKey
	}
	now := b.now()
	limiter := b.limiterFor(client, now)

	if cost > uint64(b.burst) {
		b.logger.Debug("operation cost exceeds budget burst",
			observability.String("client", client),
			observability.Uint64("cost", cost),
			observability.Int("burst", b.burst),
		)
		return false, b.waitFor(float64(b.burst))
	}
	if limiter.AllowN(now, int(cost)) {
		return true, 0
	}
	return false, b.waitFor(float64(cost) - limiter.TokensAt(now))
}

func (b *CostBudget) waitFor(tokens float64) time.Duration {
	if tokens <= 0 || b.limit <= 0 {
		return 0
	}
	seconds := math.Ceil(tokens / float64(b.limit))
	return time.Duration(seconds) * time.Second
}

func (b *CostBudget) limiterFor(client string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.clients[client]
	if !ok {
		entry = &budgetEntry{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.clients[client] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

// Clients returns the number of tracked buckets.
func (b *CostBudget) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// CleanupIdle removes buckets not used within maxAge.
func (b *CostBudget) CleanupIdle(maxAge time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for client, entry := range b.clients {
		if now.Sub(entry.lastAccess) > maxAge {
			delete(b.clients, client)
			removed++
		}
	}

	if removed > 0 {
		b.logger.Debug("cleaned up idle cost budget entries",
			observability.Int("removed", removed),
			observability.Int("remaining", len(b.clients)),
		)
	}
}

// StartAutoCleanup sweeps idle buckets every half TTL, bounded by
// MinCleanupInterval and MaxCleanupInterval, until Stop is called.
func (b *CostBudget) StartAutoCleanup() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	interval := min(max(b.clientTTL/2, MinCleanupInterval), MaxCleanupInterval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.CleanupIdle(b.clientTTL)
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (b *CostBudget) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.stopped {
		b.stopped = true
		close(b.stopCh)
	}
}
