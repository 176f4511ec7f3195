package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vigilhq/vigil/internal/domain/alert"
)

type SlackConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Slack delivers notices to a Slack incoming webhook as a single colored
// attachment.
type Slack struct {
	url string
	c   *http.Client
	log *zap.Logger
}

var _ alert.Notifier = (*Slack)(nil)

func NewSlack(cfg SlackConfig, l *zap.Logger) *Slack {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Slack{
		url: cfg.WebhookURL,
		c:   &http.Client{Timeout: timeout},
		log: l.With(zap.String("component", "notify.slack")),
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Ts     int64        `json:"ts"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) Notify(ctx context.Context, n alert.Notice) error {
	body, err := json.Marshal(slackMessage{
		Attachments: []slackAttachment{{
			Color: slackColor(n),
			Title: slackTitle(n),
			Fields: []slackField{
				{Title: "Severity", Value: string(n.Severity), Short: true},
				{Title: "Type", Value: string(n.Type), Short: true},
				{Title: "Message", Value: n.Message, Short: false},
			},
			Ts: n.At.Unix(),
		}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.c.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}
	s.log.Debug("slack notice delivered",
		zap.String("endpoint", n.Endpoint),
		zap.String("type", string(n.Type)),
	)
	return nil
}

func slackColor(n alert.Notice) string {
	if n.IsResolution {
		return "#00ff00"
	}
	switch n.Type {
	case alert.TypeDowntime:
		return "#ff0000"
	case alert.TypeSlowResponse:
		return "#ffaa00"
	case alert.TypeSSLExpiring, alert.TypeSSLInvalid:
		return "#ff00ff"
	default:
		return "#000000"
	}
}

func slackTitle(n alert.Notice) string {
	if n.IsResolution {
		return fmt.Sprintf("%s has RECOVERED", n.Endpoint)
	}
	switch n.Type {
	case alert.TypeDowntime:
		return fmt.Sprintf("%s is DOWN", n.Endpoint)
	case alert.TypeSlowResponse:
		return fmt.Sprintf("%s is SLOW", n.Endpoint)
	case alert.TypeSSLExpiring:
		return fmt.Sprintf("%s SSL expires soon", n.Endpoint)
	case alert.TypeSSLInvalid:
		return fmt.Sprintf("%s SSL certificate invalid", n.Endpoint)
	default:
		return fmt.Sprintf("Alert for %s", n.Endpoint)
	}
}
