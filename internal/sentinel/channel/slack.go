package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
)

// SlackChannel posts a violation as a Slack incoming-webhook
// attachment, grounded on the teacher's SlackClient/ChatOpsClient
// payload shape.
type SlackChannel struct {
	name       string
	webhookURL string
	client     *http.Client
}

// NewSlackChannel builds a Slack channel from its config options.
func NewSlackChannel(name string, opts map[string]interface{}) *SlackChannel {
	webhookURL, _ := opts["webhook_url"].(string)
	return &SlackChannel{
		name:       name,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return s.name }

func severityColor(sev sentinel.Severity) string {
	switch sev {
	case sentinel.SeverityCritical:
		return "#D32F2F"
	case sentinel.SeverityWarning:
		return "#F9A825"
	default:
		return "#1976D2"
	}
}

func (s *SlackChannel) Send(ctx context.Context, v *sentinel.Violation) error {
	attachment := map[string]interface{}{
		"title": fmt.Sprintf("[%s] %s", v.Severity, v.AlertName),
		"text":  v.Message,
		"color": severityColor(v.Severity),
		"fields": []map[string]interface{}{
			{"title": "Datasource", "value": v.DatasourceName, "short": true},
			{"title": "Metric", "value": v.MetricName, "short": true},
			{"title": "Value", "value": fmt.Sprintf("%.4g", v.CurrentValue), "short": true},
			{"title": "Threshold", "value": fmt.Sprintf("%s %.4g", v.Operator, v.ThresholdValue), "short": true},
		},
		"footer": "pysentinel",
		"ts":     v.Timestamp.Unix(),
	}
	payload := map[string]interface{}{"attachments": []interface{}{attachment}}

	body, err := json.Marshal(payload)
	if err != nil {
		return serrors.NewChannelError(s.name, err)
	}

	url := config.ExpandEnv(s.webhookURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return serrors.NewChannelError(s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return serrors.NewChannelError(s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return serrors.NewChannelError(s.name, fmt.Errorf("slack webhook returned status %d", resp.StatusCode))
	}
	return nil
}
