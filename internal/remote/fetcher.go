package remote

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/existflow/taskmirror/internal/logger"
)

// RetryPolicy controls backoff for transient errors. The zero value is not
// usable; call DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts int           // 0 = retry forever
	BaseDelay   time.Duration // first backoff step
	MaxDelay    time.Duration // backoff ceiling
	MaxJitter   time.Duration // random extra delay added to each backoff
}

// DefaultRetryPolicy returns the production retry policy: unbounded retries,
// exponential backoff from 1s capped at 15s with up to 500ms jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 0,
		BaseDelay:   time.Second,
		MaxDelay:    15 * time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

// backoff computes the delay before the next attempt. A server retry hint is
// honored exactly and does not advance the exponential step.
func (p RetryPolicy) backoff(step int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < step; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.MaxJitter)))
	}
	return d
}

// ProgressFunc reports fetch progress after each page: page number and
// cumulative record count. Implementations must be cheap; the fetch loop
// calls them inline.
type ProgressFunc func(page, records int)

// Fetcher pulls complete paginated collections from the workspace API while
// staying under its shared rate limit. Page requests are strictly sequential;
// a proactive limiter spaces them out even before any 429 is seen.
type Fetcher struct {
	client  *Client
	limiter *rate.Limiter
	policy  RetryPolicy

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher over client. pageDelay is the minimum spacing
// between successive page requests.
func NewFetcher(client *Client, pageDelay time.Duration, policy RetryPolicy) *Fetcher {
	if pageDelay <= 0 {
		pageDelay = 350 * time.Millisecond
	}
	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(pageDelay), 1),
		policy:  policy,
		sleep:   sleepCtx,
	}
}

// FetchAll streams every record of a collection to fn, in the order the
// server returns them. Each call re-fetches from the first page. A non-nil
// error from fn aborts the fetch and is returned as-is. onProgress may be
// nil. Returns the number of records streamed.
func (f *Fetcher) FetchAll(ctx context.Context, collectionID string, onProgress ProgressFunc, fn func(RemoteRecord) error) (int, error) {
	page := 0
	total := 0
	cursor := ""

	for {
		res, err := f.queryWithRetry(ctx, collectionID, cursor)
		if err != nil {
			return total, err
		}

		page++
		for _, rec := range res.Results {
			total++
			if err := fn(rec); err != nil {
				return total, err
			}
		}

		if onProgress != nil {
			onProgress(page, total)
		}

		if !res.HasMore {
			logger.Debug("Fetch complete",
				logger.F("collection", collectionID),
				logger.F("pages", page),
				logger.F("records", total))
			return total, nil
		}
		cursor = res.NextCursor
	}
}

// queryWithRetry fetches one page, retrying transient failures. Fatal errors
// and context cancellation propagate immediately.
func (f *Fetcher) queryWithRetry(ctx context.Context, collectionID, cursor string) (*QueryResponse, error) {
	attempt := 0
	backoffStep := 0

	for {
		// Proactive throttle applies to retries as well as fresh pages.
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := f.client.QueryCollection(ctx, collectionID, cursor, maxPageSize)
		if err == nil {
			return res, nil
		}
		if !Retryable(err) {
			return nil, err
		}

		attempt++
		if f.policy.MaxAttempts > 0 && attempt >= f.policy.MaxAttempts {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		var delay time.Duration
		if hint := retryHint(err); hint > 0 {
			delay = hint
		} else {
			backoffStep++
			delay = f.policy.backoff(backoffStep)
		}

		logger.Warn("Transient fetch error, backing off",
			logger.F("collection", collectionID),
			logger.F("attempt", attempt),
			logger.F("delay", delay.String()),
			logger.F("error", err))

		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
