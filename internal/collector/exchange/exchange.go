// Package exchange serves trading-pair candles for a keyword, trying each
// configured provider in order.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/collector/exchange/binance"
	"github.com/newthinker/keywatch/internal/collector/exchange/okx"
	"github.com/newthinker/keywatch/internal/collector/exchange/symbol"
	"github.com/newthinker/keywatch/internal/core"
	"go.uber.org/zap"
)

// Name is the collector name.
const Name = "exchange"

// Provider defines the interface for candle sources
type Provider interface {
	// Name returns the provider identifier (e.g., "binance", "okx")
	Name() string

	// FetchCandles returns candles of a normalized symbol (e.g., "ETHBTC")
	// opening inside iv, one row per candle with Value set to the close.
	FetchCandles(ctx context.Context, symbol string, iv core.TimeInterval, resolution time.Duration) ([]core.SampleRow, error)
}

// Collector implements collector.Collector over exchange candles
type Collector struct {
	providers  []Provider
	quote      string
	resolution time.Duration
	logger     *zap.Logger
}

// New creates a collector with default providers: OKX first, then Binance.
// Extra keys: "quote" (default BTC), "resolution" (default 1h), "providers".
func New(cfg collector.Config, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	resolution, err := symbol.ParseResolution(cfg.ExtraString("resolution", "1h"))
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}

	c := &Collector{
		providers:  []Provider{okx.New(), binance.New()},
		quote:      cfg.ExtraString("quote", "BTC"),
		resolution: resolution,
		logger:     logger,
	}

	if names := cfg.ExtraStrings("providers"); len(names) > 0 {
		providers := make([]Provider, 0, len(names))
		for _, name := range names {
			switch name {
			case "binance":
				providers = append(providers, binance.New())
			case "okx":
				providers = append(providers, okx.New())
			default:
				return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown exchange provider %q", name))
			}
		}
		c.providers = providers
	}

	return c, nil
}

// NewWithProviders creates a collector with custom providers
func NewWithProviders(providers []Provider, quote string, resolution time.Duration) *Collector {
	if quote == "" {
		quote = "BTC"
	}
	if resolution <= 0 {
		resolution = time.Hour
	}
	return &Collector{
		providers:  providers,
		quote:      quote,
		resolution: resolution,
		logger:     zap.NewNop(),
	}
}

func (c *Collector) Name() string {
	return Name
}

// Fetch returns candles for KEYWORD/quote with automatic fallback. An empty
// success from every provider is an empty window, not an error.
func (c *Collector) Fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error) {
	if err := symbol.Validate(keyword); err != nil {
		return nil, core.WrapError(core.ErrSourcePermanent, err)
	}
	pair := symbol.Normalize(keyword, c.quote)

	var lastErr error
	succeeded := false
	for _, p := range c.providers {
		rows, err := p.FetchCandles(ctx, pair, iv, c.resolution)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Debug("provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.String("pair", symbol.Display(pair)),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		succeeded = true
		if len(rows) > 0 {
			for i := range rows {
				rows[i].Keyword = keyword
				if rows[i].Fields == nil {
					rows[i].Fields = map[string]any{}
				}
				rows[i].Fields["provider"] = p.Name()
			}
			return rows, nil
		}
	}

	if succeeded || lastErr == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", symbol.Display(pair), lastErr)
}

// Classify retries throttling and transient failures; unknown pairs and
// other permanent errors abort.
func (c *Collector) Classify(err error) collector.Decision {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		d := collector.Decision{Retry: true}
		if hint, ok := core.RetryAfterHint(err); ok {
			d.After = hint
		}
		return d
	case errors.Is(err, core.ErrSourceTransient):
		return collector.Decision{Retry: true}
	default:
		return collector.Decision{}
	}
}
