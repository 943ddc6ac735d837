/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/internal/ratelimit"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/lrucache"
	"github.com/acronis/watchtower/service"
)

const redisKeyPrefix = "watchtower:ratelimit:"

// Policy is a named limiter together with the way its rejections are reported to clients.
type Policy struct {
	Name    string
	Config  PolicyConfig
	Limiter ratelimit.Limiter

	cacheMetrics *lrucache.PrometheusMetrics
}

// expirer is implemented by limiters whose per-key state may be reclaimed eagerly.
type expirer interface {
	RemoveExpired() int
}

// Opts represents options for New.
type Opts struct {
	// MetricsNamespace is prepended to all metric names.
	MetricsNamespace string
	// RedisClient is used instead of creating a new one when the storage is "redis".
	RedisClient redis.UniversalClient
}

// Admission holds the admission policies of the service.
// It implements service.MetricsRegisterer interface.
type Admission struct {
	API  *Policy
	Auth *Policy

	cfg         *Config
	metrics     *PrometheusMetrics
	redisClient redis.UniversalClient
	ownsRedis   bool
}

var _ service.MetricsRegisterer = (*Admission)(nil)

// New creates admission policies according to the configuration.
func New(cfg *Config, opts Opts) (*Admission, error) {
	a := &Admission{cfg: cfg, metrics: NewPrometheusMetrics(opts.MetricsNamespace)}
	if cfg.Storage == StorageRedis {
		a.redisClient = opts.RedisClient
		if a.redisClient == nil {
			a.redisClient = redis.NewClient(&redis.Options{
				Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
			})
			a.ownsRedis = true
		}
	}

	var err error
	if a.API, err = a.newPolicy(PolicyAPI, cfg.API, opts.MetricsNamespace); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.Auth, err = a.newPolicy(PolicyAuth, cfg.Auth, opts.MetricsNamespace); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Admission) newPolicy(name string, policyCfg PolicyConfig, metricsNamespace string) (*Policy, error) {
	p := &Policy{Name: name, Config: policyCfg}
	var err error
	if a.redisClient != nil {
		p.Limiter, err = ratelimit.NewRedisFixedWindowLimiter(a.redisClient, policyCfg.Rate(), redisKeyPrefix+name+":")
	} else {
		cacheNamespace := "rate_limit"
		if metricsNamespace != "" {
			cacheNamespace = metricsNamespace + "_" + cacheNamespace
		}
		p.cacheMetrics = lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
			Namespace:   cacheNamespace,
			ConstLabels: prometheus.Labels{policyLabel: name},
		})
		p.Limiter, err = ratelimit.NewLimiter(a.cfg.Alg, policyCfg.Rate(), ratelimit.Opts{
			MaxKeys:          a.cfg.MaxKeys,
			MaxBurst:         policyCfg.MaxRequests - 1, // GCRA admits MaxBurst+1 requests at once
			MetricsCollector: p.cacheMetrics,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("create limiter for %q policy: %w", name, err)
	}
	return p, nil
}

// Middleware returns an HTTP middleware that admits requests according to the policy.
// Rejections are counted in the rate_limit_rejections_total metric.
func (a *Admission) Middleware(p *Policy) func(next http.Handler) http.Handler {
	countRejection := func(onReject middleware.RateLimitOnRejectFunc) middleware.RateLimitOnRejectFunc {
		return func(rw http.ResponseWriter, r *http.Request, params middleware.RateLimitParams, next http.Handler, logger log.FieldLogger) {
			a.metrics.IncRejections(p.Name, a.cfg.DryRun)
			onReject(rw, r, params, next, logger)
		}
	}
	return middleware.RateLimitWithOpts(p.Limiter, middleware.RateLimitOpts{
		Message:          p.Config.Message,
		HeadersMode:      a.cfg.HeadersMode,
		DryRun:           a.cfg.DryRun,
		OnReject:         countRejection(middleware.DefaultRateLimitOnReject),
		OnRejectInDryRun: countRejection(middleware.DefaultRateLimitOnRejectInDryRun),
	})
}

// RemoveExpired drops the in-memory state of clients whose window has elapsed and returns how many were dropped.
// Limiters that keep no reclaimable state (e.g. Redis-backed ones) are skipped.
func (a *Admission) RemoveExpired() int {
	var n int
	for _, p := range a.policies() {
		if e, ok := p.Limiter.(expirer); ok {
			n += e.RemoveExpired()
		}
	}
	return n
}

// MustRegisterMetrics registers metrics in Prometheus client and panics if any error occurs.
func (a *Admission) MustRegisterMetrics() {
	a.metrics.MustRegister()
	for _, p := range a.policies() {
		if p.cacheMetrics != nil {
			p.cacheMetrics.MustRegister()
		}
	}
}

// UnregisterMetrics unregisters metrics in Prometheus client.
func (a *Admission) UnregisterMetrics() {
	a.metrics.Unregister()
	for _, p := range a.policies() {
		if p.cacheMetrics != nil {
			p.cacheMetrics.Unregister()
		}
	}
}

// Ping checks the storage shared between replicas. The in-memory storage is always available.
func (a *Admission) Ping(ctx context.Context) error {
	if a.redisClient == nil {
		return nil
	}
	return a.redisClient.Ping(ctx).Err()
}

// Close releases the Redis connection if it was created by New.
func (a *Admission) Close() error {
	if a.ownsRedis && a.redisClient != nil {
		return a.redisClient.Close()
	}
	return nil
}

func (a *Admission) policies() []*Policy {
	res := make([]*Policy, 0, 2)
	for _, p := range []*Policy{a.API, a.Auth} {
		if p != nil {
			res = append(res, p)
		}
	}
	return res
}
