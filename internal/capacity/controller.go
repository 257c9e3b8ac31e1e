// Package capacity implements the Capacity Controller (spec.md §4.B):
// atomic admission control against per-tenant and global concurrency caps
// plus a per-tenant calls-per-minute rate cap, backed by the KV store.
package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"github.com/ClareAI/astra-voice-receptionist/pkg/metrics"
	voiceredis "github.com/ClareAI/astra-voice-receptionist/pkg/redis"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Decision is the outcome of a tryReserve call.
type Decision string

const (
	Admitted                   Decision = "admitted"
	RejectedTenantConcurrency  Decision = "rejected_tenant_concurrency"
	RejectedTenantRate         Decision = "rejected_tenant_rate"
	RejectedGlobal             Decision = "rejected_global"
)

// Controller reserves and releases global/tenant capacity slots.
type Controller struct {
	redis              *voiceredis.RedisService
	ttl                time.Duration
	globalCap          int64
	tenantCapDefault   int64
	tenantRateDefault  int64
}

// New constructs a Controller. globalCap, tenantCapDefault and
// tenantRateDefault come from GLOBAL_CONCURRENCY_CAP,
// TENANT_CONCURRENCY_CAP_DEFAULT and TENANT_CALLS_PER_MIN_CAP_DEFAULT
// (spec.md §6); ttl is CAPACITY_TTL_SECONDS.
func New(redisSvc *voiceredis.RedisService, globalCap, tenantCapDefault, tenantRateDefault int64, ttl time.Duration) *Controller {
	return &Controller{
		redis:             redisSvc,
		ttl:               ttl,
		globalCap:         globalCap,
		tenantCapDefault:  tenantCapDefault,
		tenantRateDefault: tenantRateDefault,
	}
}

// TryReserve attempts to admit one call for tenantID against its published
// caps (spec.md §4.B "Algorithm"). A rejected attempt leaves the tenant and
// global concurrency counters at their pre-attempt values (spec.md §8
// property 2). The rate-window increment is undone only when the rate cap
// itself rejects; a tenant-concurrency or global rejection still counts
// toward the current minute's rate window.
func (c *Controller) TryReserve(ctx context.Context, tenantID string, caps domain.Caps) (decision Decision, err error) {
	defer func() {
		if err == nil {
			metrics.AdmissionDecisionsTotal.WithLabelValues(tenantID, string(decision)).Inc()
		}
	}()
	tenantCap := int64(caps.MaxConcurrentCallsTenant)
	if tenantCap <= 0 {
		tenantCap = c.tenantCapDefault
	}
	tenantRate := int64(caps.MaxCallsPerMinuteTenant)
	if tenantRate <= 0 {
		tenantRate = c.tenantRateDefault
	}
	globalCap := c.globalCap
	if caps.MaxConcurrentCallsGlobal != nil && *caps.MaxConcurrentCallsGlobal > 0 {
		globalCap = int64(*caps.MaxConcurrentCallsGlobal)
	}

	rateKey := c.redis.GenerateKey(voiceredis.RATE_WINDOW, tenantID)
	rateCount, err := c.redis.RateWindowIncr(ctx, rateKey, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("rate window reserve failed: %w", err)
	}
	if rateCount > tenantRate {
		// Unconditional decrement: the window counter already self-expires,
		// but decrementing keeps it accurate for the remainder of the minute.
		c.redis.Decr(ctx, fmt.Sprintf("%s:%d", rateKey, time.Now().UTC().Truncate(time.Minute).Unix()))
		return RejectedTenantRate, nil
	}

	tenantKey := c.redis.GenerateKey(voiceredis.CAPACITY_TENANT, tenantID)
	tenantCount, err := c.redis.Incr(ctx, tenantKey, c.ttl)
	if err != nil {
		return "", fmt.Errorf("tenant concurrency reserve failed: %w", err)
	}
	if tenantCount > tenantCap {
		c.redis.Decr(ctx, tenantKey)
		return RejectedTenantConcurrency, nil
	}

	globalKey := c.redis.GenerateKey(voiceredis.CAPACITY_GLOBAL, "calls")
	globalCount, err := c.redis.Incr(ctx, globalKey, c.ttl)
	if err != nil {
		c.redis.Decr(ctx, tenantKey)
		return "", fmt.Errorf("global concurrency reserve failed: %w", err)
	}
	if globalCount > globalCap {
		c.redis.Decr(ctx, globalKey)
		c.redis.Decr(ctx, tenantKey)
		return RejectedGlobal, nil
	}

	return Admitted, nil
}

// Release decrements the global and tenant concurrency counters for
// tenantID. Callers must gate this behind a session-local "released" flag
// (spec.md §4.B "release is idempotent per session") — Release itself does
// not deduplicate.
//
// A KV failure is retried with bounded backoff; persistent failure is
// logged but never blocks the caller (spec.md §4.B "Failure mode").
func (c *Controller) Release(ctx context.Context, tenantID string) {
	tenantKey := c.redis.GenerateKey(voiceredis.CAPACITY_TENANT, tenantID)
	globalKey := c.redis.GenerateKey(voiceredis.CAPACITY_GLOBAL, "calls")

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	// Each Decr's success is tracked so a retry after a partial failure
	// does not re-issue one that already landed (over-releasing a live
	// call's slot).
	var tenantDone, globalDone bool
	op := func() error {
		if !tenantDone {
			if _, err := c.redis.Decr(ctx, tenantKey); err != nil {
				return err
			}
			tenantDone = true
		}
		if !globalDone {
			if _, err := c.redis.Decr(ctx, globalKey); err != nil {
				return err
			}
			globalDone = true
		}
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		logger.Base().Error("capacity release failed after retries; counters may self-heal via TTL",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// GlobalCount returns the current global concurrent-call counter, used by
// health/metrics reporting.
func (c *Controller) GlobalCount(ctx context.Context) (int64, error) {
	return c.redis.GetCounter(ctx, c.redis.GenerateKey(voiceredis.CAPACITY_GLOBAL, "calls"))
}
