package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vigilhq/vigil/internal/domain/alert"
)

type SMTPConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	From       string        `mapstructure:"from"`
	To         []string      `mapstructure:"to"`
	SubjPrefix string        `mapstructure:"subject_prefix"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Mailer sends alert notices over SMTP. The configured timeout bounds the
// whole conversation, dial included; a hung server cannot pin a delivery
// attempt.
type Mailer struct {
	addr       string
	auth       smtp.Auth
	from       string
	to         []string
	subjPrefix string
	timeout    time.Duration
	log        *zap.Logger
}

var _ alert.Notifier = (*Mailer)(nil)

func NewMailer(cfg SMTPConfig, l *zap.Logger) *Mailer {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, smtpHost(cfg.Addr))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mailer{
		addr:       cfg.Addr,
		auth:       auth,
		from:       cfg.From,
		to:         cfg.To,
		subjPrefix: cfg.SubjPrefix,
		timeout:    timeout,
		log:        l.With(zap.String("component", "notify.mailer")),
	}
}

func (m *Mailer) Notify(ctx context.Context, n alert.Notice) error {
	subject := strings.TrimSpace(fmt.Sprintf("%s %s %s (%s)", m.subjPrefix, n.Endpoint, n.Type, n.Severity))
	if n.IsResolution {
		subject = strings.TrimSpace(fmt.Sprintf("%s %s %s resolved", m.subjPrefix, n.Endpoint, n.Type))
	}
	body := fmt.Sprintf("%s\n\nEndpoint: %s\nType: %s\nSeverity: %s\nAt: %s\n",
		n.Message, n.Endpoint, n.Type, n.Severity, n.At.UTC().Format(time.RFC3339))

	msg := []byte(
		"From: " + m.from + "\r\n" +
			"To: " + strings.Join(m.to, ", ") + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + body + "\r\n")

	start := time.Now()
	if err := m.send(ctx, msg); err != nil {
		m.log.Error("sendmail failed", zap.String("smtp_addr", m.addr), zap.Error(err))
		return err
	}
	m.log.Info("email sent",
		zap.String("endpoint", n.Endpoint),
		zap.String("type", string(n.Type)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (m *Mailer) send(ctx context.Context, msg []byte) error {
	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	// One deadline for the whole exchange, greeting through QUIT.
	_ = conn.SetDeadline(time.Now().Add(m.timeout))

	c, err := smtp.NewClient(conn, smtpHost(m.addr))
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer func() { _ = c.Close() }()

	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range m.to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO: %w", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

func smtpHost(addr string) string {
	if i := strings.Index(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
