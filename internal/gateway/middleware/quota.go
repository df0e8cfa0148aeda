package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
)

// Quota enforces the authenticated key's daily/monthly/total request
// counts and concurrency limit, per §4.8 step 2. It must run after Auth.
// The concurrency slot it acquires is released via defer before this
// middleware returns control up the chain — i.e. only after the handler
// below has fully written its response, streaming included.
func Quota(keys *apikey.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := KeyFromContext(c)
		if !ok {
			respondError(c, apperrors.NewKind(apperrors.KindAuthRequired, "API key not provided"))
			return
		}
		ctx := c.Request.Context()
		now := time.Now()

		if exceeded, err := windowExceeded(ctx, keys, k.ID, k.Limits.Daily, now.Add(-24*time.Hour)); err != nil {
			respondError(c, apperrors.NewKind(apperrors.KindUpstream, "quota check failed"))
			return
		} else if exceeded {
			respondError(c, apperrors.NewKind(apperrors.KindQuotaExceeded, "daily request quota exceeded"))
			return
		}
		if exceeded, err := windowExceeded(ctx, keys, k.ID, k.Limits.Monthly, now.AddDate(0, 0, -30)); err != nil {
			respondError(c, apperrors.NewKind(apperrors.KindUpstream, "quota check failed"))
			return
		} else if exceeded {
			respondError(c, apperrors.NewKind(apperrors.KindQuotaExceeded, "monthly request quota exceeded"))
			return
		}
		if exceeded, err := windowExceeded(ctx, keys, k.ID, k.Limits.Total, time.Unix(0, 0)); err != nil {
			respondError(c, apperrors.NewKind(apperrors.KindUpstream, "quota check failed"))
			return
		} else if exceeded {
			respondError(c, apperrors.NewKind(apperrors.KindQuotaExceeded, "total request quota exceeded"))
			return
		}

		if !keys.AllowRate(k.ID, k.Limits.RatePerMinute) {
			respondError(c, apperrors.NewKind(apperrors.KindRateLimited, "rate limit exceeded for this API key"))
			return
		}

		release, ok := keys.Acquire(k.ID, k.Limits.Concurrent)
		if !ok {
			respondError(c, apperrors.NewKind(apperrors.KindConcurrency, "concurrency limit reached for this API key"))
			return
		}
		defer release()

		c.Next()
	}
}

// windowExceeded reports whether the key has already used up limit
// requests since since. limit<=0 means unlimited (never exceeded).
func windowExceeded(ctx context.Context, keys *apikey.Manager, keyID string, limit int, since time.Time) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	count, err := keys.CountSince(ctx, keyID, since)
	if err != nil {
		return false, err
	}
	return count >= int64(limit), nil
}
