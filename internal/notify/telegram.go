package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/httpx"
)

// Sink delivers a text report to an external channel. Best effort: callers
// log delivery failures instead of propagating them.
type Sink interface {
	Send(ctx context.Context, text string) error
}

const defaultAPIBase = "https://api.telegram.org"

// Telegram sends reports through the Telegram Bot API.
type Telegram struct {
	http      *httpx.Client
	apiBase   string
	botToken  string
	channelID string
}

func NewTelegram(httpClient *httpx.Client, botToken, channelID string) *Telegram {
	return &Telegram{
		http:      httpClient,
		apiBase:   defaultAPIBase,
		botToken:  botToken,
		channelID: channelID,
	}
}

type sendResp struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	payload := map[string]string{
		"chat_id":    t.channelID,
		"text":       text,
		"parse_mode": "HTML",
	}
	var resp sendResp
	if _, err := t.http.PostJSON(ctx, url, payload, &resp); err != nil {
		return cerr.Wrap(cerr.CodeUnavailable, "send telegram message", err)
	}
	if !resp.OK {
		return cerr.New(cerr.CodeUnavailable, fmt.Sprintf("telegram API error: %s", resp.Description))
	}
	return nil
}

// SendWithRetry retries delivery with exponential backoff, up to maxRetries
// additional attempts.
func (t *Telegram) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := t.Send(ctx, text); err != nil {
			lastErr = err
			backoff := time.Duration(1<<uint(i)) * time.Second
			log.Printf("[WARN] telegram send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("all %d attempts exhausted: %w", maxRetries+1, lastErr)
}

// LogSink writes reports to the process log, for running without a Telegram
// channel configured.
type LogSink struct{}

func (LogSink) Send(_ context.Context, text string) error {
	log.Printf("[REPORT]\n%s", text)
	return nil
}
