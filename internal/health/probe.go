package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Checker probes one dependency.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner runs registered checkers with a per-check timeout and caches
// the aggregate result briefly so probe storms do not hammer dependencies.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu       sync.Mutex
	cachedAt time.Time
	ready    bool
	results  []CheckResult
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

// Ready reports whether every dependency check passed.
func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cacheTTL > 0 && time.Since(p.cachedAt) < p.cacheTTL && p.results != nil {
		return p.ready, append([]CheckResult(nil), p.results...)
	}

	ready := true
	results := make([]CheckResult, 0, len(p.checkers))
	for _, c := range p.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		res := c.Check(checkCtx)
		cancel()
		if !res.Healthy {
			ready = false
		}
		results = append(results, res)
	}

	p.cachedAt = time.Now()
	p.ready = ready
	p.results = results
	return ready, append([]CheckResult(nil), results...)
}

// DatabaseChecker pings the backing SQL database.
type DatabaseChecker struct {
	DB *gorm.DB
}

func (c DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	sqlDB, err := c.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	res := CheckResult{Name: "database", Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// RedisChecker pings the abuse-guard redis backend.
type RedisChecker struct {
	Client *redis.Client
}

func (c RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.Client.Ping(ctx).Err()
	res := CheckResult{Name: "redis", Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
