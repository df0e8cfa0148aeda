package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
)

// ErrRetriesExhausted is returned when the retry budget is spent without
// a successful (<400) response.
var ErrRetriesExhausted = errors.New("retry: retries exhausted")

// ErrCompressionDidNotShrink is returned when a compression pass failed
// to reduce the message count, per §4.7's halt condition.
var ErrCompressionDidNotShrink = errors.New("retry: compression pass did not shrink context")

// Policy controls the retry budget, backoff base, and compression ceiling.
type Policy struct {
	MaxRetries          int
	BackoffBase         time.Duration
	MaxCompressionLevel int
}

// DoFunc issues one upstream attempt with the given (possibly compressed)
// message history and returns the response plus its body (already read,
// so Classify can inspect it; the caller owns closing resp.Body).
type DoFunc func(ctx context.Context, messages []chatmodel.Message) (resp *http.Response, body []byte, err error)

// RefreshFunc forces a credential token refresh (C3's Refresh), used by
// the one free 403 retry.
type RefreshFunc func(ctx context.Context) error

// Sleep is overridable in tests to avoid real waits.
var Sleep = time.Sleep

// Run drives one request through the classify/backoff/compress ladder
// until it succeeds, the retry budget is exhausted, or the compression
// ladder halts (§4.7).
func Run(ctx context.Context, policy Policy, messages []chatmodel.Message, refresh RefreshFunc, do DoFunc) (*http.Response, error) {
	current := messages
	attempt := 0
	usedFreeRefresh := false
	compressionLevel := 0

	for {
		resp, body, err := do(ctx, current)
		if err == nil && resp != nil && resp.StatusCode < 400 {
			return resp, nil
		}

		status := 0
		errType := ""
		if resp != nil {
			status = resp.StatusCode
			errType = resp.Header.Get("x-amzn-errortype")
		}
		class := Classify(status, errType, body)

		switch class {
		case ClassRefreshOnce:
			if usedFreeRefresh || refresh == nil {
				return resp, fmt.Errorf("retry: forbidden after refresh: %w", ErrRetriesExhausted)
			}
			usedFreeRefresh = true
			if rerr := refresh(ctx); rerr != nil {
				return resp, fmt.Errorf("retry: refresh failed: %w", rerr)
			}
			continue // does not consume the retry budget

		case ClassBackoff:
			if attempt >= policy.MaxRetries {
				return resp, ErrRetriesExhausted
			}
			Sleep(Backoff(policy.BackoffBase, attempt))
			attempt++
			continue

		case ClassCompress:
			if attempt >= policy.MaxRetries || compressionLevel >= policy.MaxCompressionLevel {
				return resp, ErrRetriesExhausted
			}
			compressionLevel++
			next := Compress(current, compressionLevel)
			// Level 1 only excerpts middle messages (same count, shorter
			// text); the count-based halt check applies once the ladder
			// starts collapsing the middle run into a single stub at
			// level 2+.
			if compressionLevel >= 2 && len(next) >= len(current) {
				return resp, ErrCompressionDidNotShrink
			}
			current = next
			attempt++
			continue

		default: // ClassFailImmediate
			if err != nil {
				return resp, err
			}
			return resp, fmt.Errorf("retry: upstream status %d", status)
		}
	}
}
