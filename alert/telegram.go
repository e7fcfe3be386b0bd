package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veyra/listwatch/errors"
)

// TelegramChannel delivers payloads through the Telegram Bot API. The
// target is the user's chat ID.
type TelegramChannel struct {
	token  string
	client *http.Client
}

// NewTelegramChannel creates a channel for the given bot token.
func NewTelegramChannel(token string) *TelegramChannel {
	return &TelegramChannel{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel for target lookup.
func (c *TelegramChannel) Name() string { return "telegram" }

// Send posts one message to the chat.
func (c *TelegramChannel) Send(ctx context.Context, target string, payload Payload) error {
	text := payload.Subject
	if payload.Body != "" {
		text += "\n" + payload.Body
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": target,
		"text":    text,
	})
	if err != nil {
		return errors.Wrap(err, "marshal telegram message")
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send telegram message")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("telegram API returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
