package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/core"
)

const (
	baseURL = "https://api.binance.com"
	// maximum klines per request
	pageLimit = 1000
	// Binance error code for an unknown trading pair
	codeInvalidSymbol = -1121
)

// Binance implements the exchange Provider interface for Binance klines
type Binance struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// New creates a new Binance provider
func New() *Binance {
	return &Binance{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// NewWithBaseURL creates a Binance provider with custom base URL (for testing)
func NewWithBaseURL(url string) *Binance {
	b := New()
	b.baseURL = url
	return b
}

func (b *Binance) Name() string {
	return "binance"
}

// FetchCandles pages through klines of symbol (e.g. "ETHBTC") opening inside
// iv. Value is the close; a candle still open at request time is Partial.
func (b *Binance) FetchCandles(ctx context.Context, symbol string, iv core.TimeInterval, resolution time.Duration) ([]core.SampleRow, error) {
	interval, err := toInterval(resolution)
	if err != nil {
		return nil, core.WrapError(core.ErrSourcePermanent, err)
	}

	var rows []core.SampleRow
	start := iv.Start
	for start.Before(iv.End) {
		klines, err := b.klines(ctx, symbol, interval, start, iv.End)
		if err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}

		var last time.Time
		for _, k := range klines {
			row, ok := b.toRow(k)
			if !ok {
				continue
			}
			last = row.Time
			if iv.Contains(row.Time) {
				rows = append(rows, row)
			}
		}
		if len(klines) < pageLimit || last.IsZero() {
			break
		}
		start = last.Add(resolution)
	}

	return rows, nil
}

func (b *Binance) klines(ctx context.Context, symbol, interval string, start, end time.Time) ([][]any, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	// endTime is inclusive
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("fetching klines: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code == codeInvalidSymbol {
			return nil, core.WrapError(core.ErrSourcePermanent,
				fmt.Errorf("binance: unknown symbol %s: %s", symbol, apiErr.Msg))
		}
		return nil, collector.StatusError("binance", resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	var klines [][]any
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("decoding response: %w", err))
	}
	return klines, nil
}

func (b *Binance) toRow(k []any) (core.SampleRow, bool) {
	if len(k) < 7 {
		return core.SampleRow{}, false
	}

	openTime, _ := k[0].(float64)
	openStr, _ := k[1].(string)
	highStr, _ := k[2].(string)
	lowStr, _ := k[3].(string)
	closeStr, _ := k[4].(string)
	volumeStr, _ := k[5].(string)
	closeTime, _ := k[6].(float64)

	open, _ := strconv.ParseFloat(openStr, 64)
	high, _ := strconv.ParseFloat(highStr, 64)
	low, _ := strconv.ParseFloat(lowStr, 64)
	closePrice, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return core.SampleRow{}, false
	}
	volume, _ := strconv.ParseFloat(volumeStr, 64)

	return core.SampleRow{
		Time:    time.UnixMilli(int64(openTime)).UTC(),
		Value:   closePrice,
		Partial: !time.UnixMilli(int64(closeTime)).Before(b.now()),
		Fields: map[string]any{
			"open":   open,
			"high":   high,
			"low":    low,
			"volume": volume,
		},
	}, true
}

func toInterval(resolution time.Duration) (string, error) {
	switch resolution {
	case time.Minute:
		return "1m", nil
	case 3 * time.Minute:
		return "3m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "1h", nil
	case 2 * time.Hour:
		return "2h", nil
	case 4 * time.Hour:
		return "4h", nil
	case 6 * time.Hour:
		return "6h", nil
	case 12 * time.Hour:
		return "12h", nil
	case 24 * time.Hour:
		return "1d", nil
	case 7 * 24 * time.Hour:
		return "1w", nil
	default:
		return "", fmt.Errorf("binance: unsupported resolution %s", resolution)
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
