package okx

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
	"github.com/newthinker/keywatch/internal/collector/exchange/symbol"
	"github.com/newthinker/keywatch/internal/core"
)

const (
	baseURL = "https://www.okx.com"
	// maximum candles per history request
	pageLimit = 100

	codeOK                = "0"
	codeRateLimited       = "50011"
	codeUnknownInstrument = "51001"
)

// OKX implements the exchange Provider interface for OKX history candles
type OKX struct {
	client  *http.Client
	baseURL string
}

// New creates a new OKX provider
func New() *OKX {
	return &OKX{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
	}
}

// NewWithBaseURL creates an OKX provider with custom base URL (for testing)
func NewWithBaseURL(url string) *OKX {
	o := New()
	o.baseURL = url
	return o
}

func (o *OKX) Name() string {
	return "okx"
}

// toInstID converts normalized symbol to OKX instrument ID
// ETHBTC -> ETH-BTC
func toInstID(sym string) string {
	base, quote := symbol.Parse(sym)
	return base + "-" + quote
}

// FetchCandles walks history candles backwards from iv.End until iv.Start.
// OKX returns newest first; the result is in chronological order and
// unconfirmed candles are Partial.
func (o *OKX) FetchCandles(ctx context.Context, sym string, iv core.TimeInterval, resolution time.Duration) ([]core.SampleRow, error) {
	bar, err := toBar(resolution)
	if err != nil {
		return nil, core.WrapError(core.ErrSourcePermanent, err)
	}
	instID := toInstID(sym)

	var newestFirst []core.SampleRow
	cursor := iv.End
	for cursor.After(iv.Start) {
		candles, err := o.candles(ctx, instID, bar, iv.Start, cursor)
		if err != nil {
			return nil, err
		}
		if len(candles) == 0 {
			break
		}

		oldest := cursor
		for _, c := range candles {
			row, ok := toRow(c)
			if !ok {
				continue
			}
			if row.Time.Before(oldest) {
				oldest = row.Time
			}
			if iv.Contains(row.Time) {
				newestFirst = append(newestFirst, row)
			}
		}
		if len(candles) < pageLimit || !oldest.Before(cursor) {
			break
		}
		cursor = oldest
	}

	rows := make([]core.SampleRow, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		rows = append(rows, newestFirst[i])
	}
	return rows, nil
}

// candles returns candles with start <= ts < cursor.
func (o *OKX) candles(ctx context.Context, instID, bar string, start, cursor time.Time) ([][]string, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("bar", bar)
	// after: older than; before: newer than (both exclusive)
	q.Set("after", strconv.FormatInt(cursor.UnixMilli(), 10))
	q.Set("before", strconv.FormatInt(start.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/v5/market/history-candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("fetching candles: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, collector.StatusError("okx", resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	var result okxCandleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("decoding response: %w", err))
	}

	switch result.Code {
	case codeOK:
		return result.Data, nil
	case codeRateLimited:
		return nil, core.RateLimited(0, fmt.Errorf("okx: %s", result.Msg))
	case codeUnknownInstrument:
		return nil, core.WrapError(core.ErrSourcePermanent, fmt.Errorf("okx: unknown instrument %s: %s", instID, result.Msg))
	default:
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("okx error %s: %s", result.Code, result.Msg))
	}
}

func toRow(candle []string) (core.SampleRow, bool) {
	if len(candle) < 6 {
		return core.SampleRow{}, false
	}

	ts, err := strconv.ParseInt(candle[0], 10, 64)
	if err != nil {
		return core.SampleRow{}, false
	}
	openPrice, _ := strconv.ParseFloat(candle[1], 64)
	high, _ := strconv.ParseFloat(candle[2], 64)
	low, _ := strconv.ParseFloat(candle[3], 64)
	closePrice, err := strconv.ParseFloat(candle[4], 64)
	if err != nil {
		return core.SampleRow{}, false
	}
	volume, _ := strconv.ParseFloat(candle[5], 64)

	// confirm: "0" while the candle is still forming
	partial := len(candle) > 8 && candle[8] == "0"

	return core.SampleRow{
		Time:    time.UnixMilli(ts).UTC(),
		Value:   closePrice,
		Partial: partial,
		Fields: map[string]any{
			"open":   openPrice,
			"high":   high,
			"low":    low,
			"volume": volume,
		},
	}, true
}

// toBar maps a resolution to an OKX bar, using UTC-aligned bars from 6h up.
func toBar(resolution time.Duration) (string, error) {
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
		return "1H", nil
	case 2 * time.Hour:
		return "2H", nil
	case 4 * time.Hour:
		return "4H", nil
	case 6 * time.Hour:
		return "6Hutc", nil
	case 12 * time.Hour:
		return "12Hutc", nil
	case 24 * time.Hour:
		return "1Dutc", nil
	case 7 * 24 * time.Hour:
		return "1Wutc", nil
	default:
		return "", fmt.Errorf("okx: unsupported resolution %s", resolution)
	}
}

// OKX API response types
type okxCandleResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}
