// Package notifier delivers refresh failure alerts to external channels.
package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Failure is one keyword that could not be refreshed.
type Failure struct {
	Collector string `json:"collector"`
	Keyword   string `json:"keyword"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewFailure describes err, using its code when it carries one.
func NewFailure(collector, keyword string, err error) Failure {
	f := Failure{Collector: collector, Keyword: keyword, Code: "INTERNAL_ERROR", Message: err.Error()}
	var coded *core.Error
	if errors.As(err, &coded) {
		f.Code = coded.Code
	}
	return f
}

// Event is the outcome of one refresh run that had failures.
type Event struct {
	Window   core.TimeInterval
	At       time.Time
	Failures []Failure
}

// Notifier defines the interface for failure notification
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send delivers one event
	Send(ctx context.Context, ev Event) error
}
