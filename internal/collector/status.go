package collector

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

// StatusError maps a non-2xx HTTP response to a coded error: 429 and 418 are
// RATE_LIMITED (honouring Retry-After), 5xx and 408 are SOURCE_TRANSIENT, and
// everything else is SOURCE_PERMANENT.
func StatusError(source string, status int, retryAfter, body string) error {
	cause := fmt.Errorf("%s: unexpected status %d", source, status)
	if detail := strings.TrimSpace(body); detail != "" {
		if len(detail) > 200 {
			detail = detail[:200]
		}
		cause = fmt.Errorf("%s: unexpected status %d: %s", source, status, detail)
	}

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return core.RateLimited(ParseRetryAfter(retryAfter, time.Now()), cause)
	case status >= 500 || status == http.StatusRequestTimeout:
		return core.WrapError(core.ErrSourceTransient, cause)
	default:
		return core.WrapError(core.ErrSourcePermanent, cause)
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Zero means no usable hint.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
