package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard-backend/api/responses"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// RateLimitPolicy defines the throttling parameters for a traffic surface.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int
}

// NewRateLimitPolicy builds a policy with the supplied window and limit.
func NewRateLimitPolicy(name string, window time.Duration, limit int) RateLimitPolicy {
	return RateLimitPolicy{name: name, window: window, limit: limit}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

func (p RateLimitPolicy) key(fingerprint string) string {
	return fmt.Sprintf("rl:key:%s:%s", p.name, fingerprint)
}

// RateLimit enforces a fixed-window counter per authenticated API key. It
// must run after APIKeyAuth so the key fingerprint is on the context.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			fp := KeyFingerprintFrom(ctx)
			if fp == "" {
				next.ServeHTTP(w, r)
				return
			}

			count, err := store.IncrWithTTL(ctx, policy.key(fp), policy.window)
			if err != nil {
				// Redis being down must not take the ingest path with it.
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "rate limit check skipped")
				}
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(policy.limit) {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"policy": policy.name,
						"count":  count,
						"limit":  policy.limit,
					})
					logg.Warn(logCtx, "rate limit exceeded")
				}
				responses.WriteError(ctx, nil, w,
					pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded, slow down"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
