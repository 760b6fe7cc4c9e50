// Package symbol normalises keyword trading pairs and candle resolutions
// shared by the exchange providers.
package symbol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common quote currencies in order of priority for detection
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB"}

var validPair = regexp.MustCompile(`^[A-Za-z0-9]{2,20}$`)

// Normalize converts various input formats to standard format (e.g., ETHBTC)
// Input formats: "ETH", "eth", "ETH-BTC", "ETH/BTC", "ethbtc"
func Normalize(input string, defaultQuote string) string {
	if input == "" {
		return ""
	}

	s := strip(strings.ToUpper(input))

	// Ensure there's a base currency left (symbol must be longer than quote)
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s
		}
	}

	return s + strings.ToUpper(defaultQuote)
}

// Parse extracts base and quote from a normalized symbol
// "ETHBTC" -> ("ETH", "BTC")
func Parse(symbol string) (base, quote string) {
	s := strings.ToUpper(symbol)

	for _, q := range quoteCurrencies {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q
		}
	}

	// Fallback: assume last 4 chars are quote (USDT, BUSD, etc.)
	if len(s) > 4 {
		return s[:len(s)-4], s[len(s)-4:]
	}

	return s, ""
}

// Display converts internal format to display format
// "ETHBTC" -> "ETH/BTC"
func Display(symbol string) string {
	base, quote := Parse(symbol)
	if quote == "" {
		return base
	}
	return base + "/" + quote
}

// Validate checks if a keyword can name a trading pair.
func Validate(keyword string) error {
	if keyword == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(keyword) > 30 {
		return fmt.Errorf("symbol too long: %s", keyword)
	}
	if !validPair.MatchString(strip(keyword)) {
		return fmt.Errorf("invalid symbol format: %s", keyword)
	}
	return nil
}

func strip(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "_", "")
}

// ParseResolution reads a candle width such as "15m", "1h", "1d" or "1w".
func ParseResolution(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	return time.Duration(n) * unit, nil
}
