package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/keywatch/internal/notifier"
	"github.com/tidwall/gjson"
)

const defaultAPIURL = "https://api.telegram.org"

// maxListed caps how many failures one message spells out.
const maxListed = 20

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	client   *resty.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		client:   resty.New().SetBaseURL(defaultAPIURL).SetTimeout(30 * time.Second),
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token, ok := cfg.Params["bot_token"].(string); ok {
		t.botToken = token
	}
	if chatID, ok := cfg.Params["chat_id"].(string); ok {
		t.chatID = chatID
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}

	if t.client == nil {
		t.client = resty.New().SetTimeout(30 * time.Second)
	}
	apiURL := defaultAPIURL
	if u, ok := cfg.Params["api_url"].(string); ok && u != "" {
		apiURL = u
	}
	t.client.SetBaseURL(apiURL)

	return nil
}

func (t *Telegram) Send(ctx context.Context, ev notifier.Event) error {
	if len(ev.Failures) == 0 {
		return nil
	}
	return t.sendMessage(ctx, formatEvent(ev))
}

func formatEvent(ev notifier.Event) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "⚠️ *%d refresh failures*\n", len(ev.Failures))
	fmt.Fprintf(&sb, "Window: %s to %s\n\n",
		ev.Window.Start.Format("2006-01-02 15:04"), ev.Window.End.Format("2006-01-02 15:04"))

	for i, f := range ev.Failures {
		if i == maxListed {
			fmt.Fprintf(&sb, "...and %d more\n", len(ev.Failures)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "• %s/%s: %s\n", f.Collector, f.Keyword, f.Code)
	}

	fmt.Fprintf(&sb, "⏰ %s", ev.At.Format("2006-01-02 15:04:05"))
	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post("/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}

	if resp.StatusCode() != 200 || !gjson.GetBytes(resp.Body(), "ok").Bool() {
		return fmt.Errorf("telegram: API error (status %d): %s",
			resp.StatusCode(), gjson.GetBytes(resp.Body(), "description").String())
	}

	return nil
}
