// Package comments collects forum comments mentioning a keyword from a
// Pushshift compatible search endpoint.
package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/core"
	"go.uber.org/zap"
)

const (
	// Name is the collector name.
	Name = "comments"

	defaultBaseURL   = "https://api.pushshift.io"
	defaultSubreddit = "cryptocurrency"
	defaultPageSize  = 100
	maxPages         = 1000
)

type searchResponse struct {
	Data []comment `json:"data"`
}

type comment struct {
	ID        string  `json:"id"`
	Subreddit string  `json:"subreddit"`
	Author    string  `json:"author"`
	Created   float64 `json:"created_utc"`
	Body      string  `json:"body"`
}

// Collector implements collector.Collector for forum comments
type Collector struct {
	client    *resty.Client
	subreddit string
	pageSize  int
	logger    *zap.Logger
}

// New creates a comments collector. Extra keys: "subreddit" (default
// cryptocurrency) and "page_size" (default 100).
func New(cfg collector.Config, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pageSize := defaultPageSize
	if raw := cfg.ExtraString("page_size", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("comments page_size must be positive, got %q", raw))
		}
		pageSize = n
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
		SetHeader("User-Agent", "keywatch/1.0")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Collector{
		client:    client,
		subreddit: cfg.ExtraString("subreddit", defaultSubreddit),
		pageSize:  pageSize,
		logger:    logger,
	}, nil
}

func (c *Collector) Name() string {
	return Name
}

// Fetch returns every comment created inside iv, oldest first. Each row counts
// one comment: Value is 1 and ID is the comment id.
func (c *Collector) Fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error) {
	var rows []core.SampleRow
	seen := make(map[string]bool)

	// after/before are exclusive whole seconds.
	after := iv.Start.Unix() - 1
	before := iv.End.Unix()
	if iv.End.Nanosecond() > 0 {
		before++
	}

	// The cursor restarts one second before the newest comment of each page,
	// so comments sharing that second with the page end are requested again
	// and seen drops the repeats. Only a second holding more than a full page
	// is skipped past.
	for page := 0; page < maxPages; page++ {
		batch, err := c.search(ctx, keyword, after, before)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		newest := after
		for _, cm := range batch {
			if created := int64(cm.Created); created > newest {
				newest = created
			}
			if cm.ID == "" || seen[cm.ID] {
				continue
			}
			seen[cm.ID] = true

			ts := time.Unix(int64(cm.Created), 0).UTC()
			if !iv.Contains(ts) {
				continue
			}
			rows = append(rows, core.SampleRow{
				Keyword: keyword,
				Time:    ts,
				Value:   1,
				ID:      cm.ID,
				Fields: map[string]any{
					"author":    cm.Author,
					"subreddit": cm.Subreddit,
					"text":      cm.Body,
					"mentions":  Mentions(cm.Body, keyword),
				},
			})
		}

		if len(batch) < c.pageSize {
			break
		}
		if next := newest - 1; next > after {
			after = next
			continue
		}
		c.logger.Warn("second holds a full page of comments, moving past it",
			zap.String("keyword", keyword),
			zap.Time("second", time.Unix(newest, 0).UTC()),
			zap.Int("page_size", c.pageSize),
		)
		after = newest
	}

	c.logger.Debug("fetched comments",
		zap.String("keyword", keyword),
		zap.String("subreddit", c.subreddit),
		zap.Stringer("window", iv),
		zap.Int("comments", len(rows)),
	)
	return rows, nil
}

func (c *Collector) search(ctx context.Context, keyword string, after, before int64) ([]comment, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":         keyword,
			"subreddit": c.subreddit,
			"after":     strconv.FormatInt(after, 10),
			"before":    strconv.FormatInt(before, 10),
			"size":      strconv.Itoa(c.pageSize),
			"sort":      "asc",
			"sort_type": "created_utc",
			"fields":    "id,subreddit,author,created_utc,body",
		}).
		Get("/reddit/search/comment")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("comment search: %w", err))
	}
	if resp.StatusCode() != 200 {
		return nil, collector.StatusError(Name, resp.StatusCode(), resp.Header().Get("Retry-After"), resp.String())
	}

	var searchResp searchResponse
	if err := json.Unmarshal(resp.Body(), &searchResp); err != nil {
		return nil, core.WrapError(core.ErrSourceTransient, fmt.Errorf("decoding comment search: %w", err))
	}
	return searchResp.Data, nil
}

// Classify retries rate limits and transient failures.
func (c *Collector) Classify(err error) collector.Decision {
	if hint, ok := core.RetryAfterHint(err); ok {
		return collector.Decision{Retry: true, After: hint}
	}
	if errors.Is(err, core.ErrRateLimited) || errors.Is(err, core.ErrSourceTransient) {
		return collector.Decision{Retry: true}
	}
	return collector.Decision{}
}

// Mentions counts case-insensitive occurrences of keyword in text.
func Mentions(text, keyword string) int {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return 0
	}
	return strings.Count(strings.ToLower(text), keyword)
}
