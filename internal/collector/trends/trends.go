// Package trends collects the search-interest index of a keyword from a
// Google Trends compatible endpoint.
//
// The index is normalised per request (the peak of each window is 100), so
// successive windows must be stitched with an overlap margin.
package trends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/core"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// Name is the collector name.
	Name = "trends"

	defaultBaseURL = "https://trends.google.com"
	timeframeFmt   = "2006-01-02T15"

	// MaxWindow is the longest request that still returns hourly points.
	MaxWindow = 7 * 24 * time.Hour
)

// Collector implements collector.Collector for search trends
type Collector struct {
	client   *resty.Client
	category int
	geo      string
	language string
	logger   *zap.Logger
}

// New creates a trends collector. Extra keys: "category" (numeric, default 0),
// "geo" (default worldwide), "language" (default en-US).
func New(cfg collector.Config, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	category := 0
	if raw := cfg.ExtraString("category", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("trends category must be a non-negative number, got %q", raw))
		}
		category = n
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "keywatch/1.0").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= 500
		})

	return &Collector{
		client:   client,
		category: category,
		geo:      cfg.ExtraString("geo", ""),
		language: cfg.ExtraString("language", "en-US"),
		logger:   logger,
	}, nil
}

func (c *Collector) Name() string {
	return Name
}

// ValidateWindow rejects grids whose requests would exceed MaxWindow.
func ValidateWindow(sample, overlap time.Duration) error {
	if sample+overlap > MaxWindow {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("trends sample_interval + overlap_interval must not exceed %s, got %s", MaxWindow, sample+overlap))
	}
	return nil
}

// Fetch returns one row per hourly point in iv. Points of a bucket that has
// not yet elapsed come back with Partial set.
func (c *Collector) Fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error) {
	token, request, err := c.explore(ctx, iv, keyword)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"hl":    c.language,
			"tz":    "0",
			"req":   request,
			"token": token,
		}).
		Get("/trends/api/widgetdata/multiline")
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode() != 200 {
		return nil, collector.StatusError(Name, resp.StatusCode(), resp.Header().Get("Retry-After"), resp.String())
	}

	body := stripXSSI(resp.Body())
	if !gjson.ValidBytes(body) {
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("trends: malformed timeline response"))
	}

	var rows []core.SampleRow
	gjson.GetBytes(body, "default.timelineData").ForEach(func(_, point gjson.Result) bool {
		ts := time.Unix(point.Get("time").Int(), 0).UTC()
		rows = append(rows, core.SampleRow{
			Keyword: keyword,
			Time:    ts,
			Value:   point.Get("value.0").Float(),
			Partial: point.Get("isPartial").Bool(),
		})
		return true
	})

	c.logger.Debug("fetched trend timeline",
		zap.String("keyword", keyword),
		zap.Stringer("window", iv),
		zap.Int("points", len(rows)),
	)
	return rows, nil
}

type comparisonItem struct {
	Keyword string `json:"keyword"`
	Geo     string `json:"geo"`
	Time    string `json:"time"`
}

type exploreRequest struct {
	ComparisonItem []comparisonItem `json:"comparisonItem"`
	Category       int              `json:"category"`
	Property       string           `json:"property"`
}

// explore asks for the widget set of iv and returns the token and request
// payload of the time-series widget.
func (c *Collector) explore(ctx context.Context, iv core.TimeInterval, keyword string) (string, string, error) {
	payload, err := json.Marshal(exploreRequest{
		ComparisonItem: []comparisonItem{{
			Keyword: keyword,
			Geo:     c.geo,
			Time:    Timeframe(iv),
		}},
		Category: c.category,
	})
	if err != nil {
		return "", "", core.WrapError(core.ErrSourcePermanent, fmt.Errorf("encoding explore request: %w", err))
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"hl":  c.language,
			"tz":  "0",
			"req": string(payload),
		}).
		Get("/trends/api/explore")
	if err != nil {
		return "", "", transportError(ctx, err)
	}
	if resp.StatusCode() != 200 {
		return "", "", collector.StatusError(Name, resp.StatusCode(), resp.Header().Get("Retry-After"), resp.String())
	}

	widget := gjson.GetBytes(stripXSSI(resp.Body()), `widgets.#(id=="TIMESERIES")`)
	token := widget.Get("token").String()
	request := widget.Get("request").Raw
	if !widget.Exists() || token == "" || request == "" {
		return "", "", core.WrapError(core.ErrSourceTransient, fmt.Errorf("trends: no time-series widget for %q", keyword))
	}
	return token, request, nil
}

// Timeframe renders iv in the hourly "start end" form the endpoint expects.
func Timeframe(iv core.TimeInterval) string {
	return iv.Start.UTC().Format(timeframeFmt) + " " + iv.End.UTC().Format(timeframeFmt)
}

// stripXSSI removes the ")]}'" guard prefixed to every response body.
func stripXSSI(body []byte) []byte {
	body = bytes.TrimPrefix(bytes.TrimSpace(body), []byte(")]}'"))
	return bytes.TrimLeft(body, ", \r\n")
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return core.WrapError(core.ErrSourceTransient, fmt.Errorf("trends request: %w", err))
}
