package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
)

// Prober executes one health check per call. Expected failures (timeouts,
// refused connections, TLS trouble, bad status) become Result outcomes,
// never errors.
type Prober struct {
	client    *http.Client
	userAgent string
	clock     alert.Clock
	log       *zap.Logger
}

func New(cfg ClientConfig, clock alert.Clock, l *zap.Logger) *Prober {
	return &Prober{
		client:    NewHTTPClient(cfg),
		userAgent: cfg.UserAgent,
		clock:     clock,
		log:       l.With(zap.String("component", "prober")),
	}
}

func (p *Prober) Run(ctx context.Context, ep endpoint.Endpoint) probe.Result {
	res := probe.Result{
		Endpoint:  ep.Name,
		URL:       ep.URL,
		Timestamp: p.clock.Now(),
	}

	rctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		res.Outcome = probe.OutcomeConnError
		res.Err = err.Error()
		return res
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	res.ResponseTime = time.Since(start)

	switch {
	case err != nil:
		res.Outcome = classifyErr(err)
		res.Err = err.Error()
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		res.StatusCode = resp.StatusCode
		if ep.ExpectsStatus(resp.StatusCode) {
			res.Outcome = probe.OutcomeSuccess
		} else {
			res.Outcome = probe.OutcomeHTTPError
			res.Err = fmt.Sprintf("unexpected status: got %d", resp.StatusCode)
		}
	}

	// Certificate state is inspected independently of the HTTP outcome: an
	// endpoint can answer fine on a certificate that is about to expire.
	if ep.CheckSSL && isHTTPS(ep.URL) {
		p.inspectSSL(ctx, ep, &res)
	}

	p.log.Debug("probe finished",
		zap.String("endpoint", ep.Name),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("code", res.StatusCode),
		zap.Duration("elapsed", res.ResponseTime),
	)
	return res
}

func (p *Prober) inspectSSL(ctx context.Context, ep endpoint.Endpoint, res *probe.Result) {
	host, port := hostPort(ep.URL)
	if host == "" {
		return
	}
	valid, expiry, err := inspectCertificate(ctx, net.JoinHostPort(host, port), host, ep.Timeout)
	res.SSLChecked = true
	res.SSLValid = valid
	res.SSLExpiry = expiry
	if err != nil {
		p.log.Warn("ssl inspection failed",
			zap.String("endpoint", ep.Name),
			zap.String("host", host),
			zap.Error(err),
		)
	}
}

func classifyErr(err error) probe.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return probe.OutcomeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return probe.OutcomeTimeout
	}
	return probe.OutcomeConnError
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https"
}

func hostPort(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}
	return u.Hostname(), port
}
