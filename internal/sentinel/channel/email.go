package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
)

// EmailChannel delivers a violation as a plain-text email over SMTP.
// No third-party mail client is grounded anywhere in the retrieved
// corpus, so this variant uses net/smtp directly.
type EmailChannel struct {
	name     string
	host     string
	port     string
	username string
	password string
	from     string
	to       []string
}

// NewEmailChannel builds an email channel from its config options.
func NewEmailChannel(name string, opts map[string]interface{}) *EmailChannel {
	ch := &EmailChannel{name: name, port: "587"}
	if v, ok := opts["smtp_host"].(string); ok {
		ch.host = v
	}
	if v, ok := opts["smtp_port"].(string); ok {
		ch.port = v
	}
	if v, ok := opts["username"].(string); ok {
		ch.username = v
	}
	if v, ok := opts["password"].(string); ok {
		ch.password = v
	}
	if v, ok := opts["from"].(string); ok {
		ch.from = v
	}
	if v, ok := opts["to"].(string); ok {
		ch.to = strings.Split(v, ",")
		for i := range ch.to {
			ch.to[i] = strings.TrimSpace(ch.to[i])
		}
	}
	return ch
}

func (e *EmailChannel) Name() string { return e.name }

func (e *EmailChannel) Send(ctx context.Context, v *sentinel.Violation) error {
	subject := fmt.Sprintf("[%s] %s", v.Severity, v.AlertName)
	body := fmt.Sprintf(
		"%s\n\nDatasource: %s\nMetric: %s\nCurrent value: %g\nThreshold: %s %g\nAlert group: %s\nTimestamp: %s\nViolation ID: %s\n",
		v.Message, v.DatasourceName, v.MetricName, v.CurrentValue, v.Operator, v.ThresholdValue,
		v.AlertGroup, v.Timestamp.Format("2006-01-02T15:04:05Z07:00"), v.ViolationID,
	)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.from, strings.Join(e.to, ", "), subject, body)

	addr := fmt.Sprintf("%s:%s", config.ExpandEnv(e.host), e.port)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", config.ExpandEnv(e.username), config.ExpandEnv(e.password), config.ExpandEnv(e.host))
	}

	if err := smtp.SendMail(addr, auth, e.from, e.to, []byte(msg)); err != nil {
		return serrors.NewChannelError(e.name, err)
	}
	return nil
}
