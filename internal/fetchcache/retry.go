package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/core"
	"go.uber.org/zap"
)

// classify maps a fetch failure to a retry decision. Collectors implementing
// collector.ErrorClassifier decide for themselves; otherwise only RATE_LIMITED
// is retried, after the error's hint or the configured cooldown.
func (c *Cache) classify(err error) collector.Decision {
	var d collector.Decision
	if ec, ok := c.collector.(collector.ErrorClassifier); ok {
		d = ec.Classify(err)
	} else if errors.Is(err, core.ErrRateLimited) {
		d = collector.Decision{Retry: true}
		if hint, ok := core.RetryAfterHint(err); ok {
			d.After = hint
		}
	}
	if d.Retry && d.After <= 0 {
		d.After = c.settings.Cooldown
	}
	return d
}

// fetch issues iv to the collector, honouring the minimum request spacing and
// re-issuing the same window after a cooldown while the failure is retryable
// and the retry budget lasts.
func (c *Cache) fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error) {
	name := c.collector.Name()
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for request slot: %w", err)
		}

		started := time.Now()
		rows, err := c.collector.Fetch(ctx, iv, keyword)
		elapsed := time.Since(started).Seconds()
		if err == nil {
			c.metrics.RecordFetch(name, "ok", elapsed)
			return rows, nil
		}
		c.metrics.RecordFetch(name, "error", elapsed)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		d := c.classify(err)
		if !d.Retry {
			return nil, err
		}
		if attempt >= c.settings.MaxRetries {
			return nil, core.WrapError(core.ErrRetriesExhausted,
				fmt.Errorf("%d retries of %s: %w", attempt, iv, err))
		}

		c.metrics.RecordRetry(name)
		c.logger.Warn("fetch failed, cooling down before retry",
			zap.String("keyword", keyword),
			zap.Time("start", iv.Start),
			zap.Time("end", iv.End),
			zap.Duration("cooldown", d.After),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := c.clock.Sleep(ctx, d.After); err != nil {
			return nil, err
		}
	}
}
