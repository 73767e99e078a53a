package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
)

// TelegramChannel posts a violation to a chat via the Telegram Bot API
// sendMessage method, following the same plain net/http POST shape as
// SlackChannel.
type TelegramChannel struct {
	name   string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramChannel builds a Telegram channel from its config
// options.
func NewTelegramChannel(name string, opts map[string]interface{}) *TelegramChannel {
	token, _ := opts["bot_token"].(string)
	chatID, _ := opts["chat_id"].(string)
	return &TelegramChannel{
		name:   name,
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramChannel) Name() string { return t.name }

func (t *TelegramChannel) Send(ctx context.Context, v *sentinel.Violation) error {
	text := fmt.Sprintf("*[%s] %s*\n%s\n\nDatasource: `%s`\nMetric: `%s`\nValue: %g (%s %g)",
		v.Severity, v.AlertName, v.Message, v.DatasourceName, v.MetricName,
		v.CurrentValue, v.Operator, v.ThresholdValue)

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return serrors.NewChannelError(t.name, err)
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", url.PathEscape(config.ExpandEnv(t.token)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return serrors.NewChannelError(t.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return serrors.NewChannelError(t.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return serrors.NewChannelError(t.name, fmt.Errorf("telegram api returned status %d", resp.StatusCode))
	}
	return nil
}
