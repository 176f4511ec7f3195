package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/obs"
	pginfra "github.com/vigilhq/vigil/internal/repository/postgres"
	"github.com/vigilhq/vigil/internal/services/notify"
	"github.com/vigilhq/vigil/internal/services/prober"
	"github.com/vigilhq/vigil/internal/services/recorder"
)

type MonitorCfg struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	UptimeWindow     int           `mapstructure:"uptime_window"`
	SSLWarnWindow    time.Duration `mapstructure:"ssl_warn_window"`
	MaxInFlight      int64         `mapstructure:"max_in_flight"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
}

type KafkaCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NotifyCfg struct {
	RenotifyInterval time.Duration      `mapstructure:"renotify_interval"`
	Attempts         int                `mapstructure:"attempts"`
	Slack            notify.SlackConfig `mapstructure:"slack"`
	SMTP             notify.SMTPConfig  `mapstructure:"smtp"`
}

type LogCfg struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (l LogCfg) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{Level: l.Level, Pretty: l.Pretty, App: "vigil", Ver: "dev"}
}

type OTELCfg struct {
	Enable      bool    `mapstructure:"enable"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func (o OTELCfg) AsOTELConfig() obs.OTELConfig {
	return obs.OTELConfig{
		Enable:      o.Enable,
		Endpoint:    o.Endpoint,
		ServiceName: o.ServiceName,
		SampleRatio: o.SampleRatio,
	}
}

type Config struct {
	Endpoints []endpoint.Endpoint      `mapstructure:"endpoints"`
	Monitor   MonitorCfg               `mapstructure:"monitor"`
	Recorder  recorder.RecorderConfig  `mapstructure:"recorder"`
	HTTP      prober.ClientConfig      `mapstructure:"http"`
	DB        pginfra.Config           `mapstructure:"db"`
	Kafka     KafkaCfg                 `mapstructure:"kafka"`
	Notify    NotifyCfg                `mapstructure:"notify"`
	OTEL      OTELCfg                  `mapstructure:"otel"`
	Log       LogCfg                   `mapstructure:"log"`
}

// Validate rejects malformed endpoint entries before any scheduling begins.
// Configuration problems are the only errors allowed to halt the process.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}
	seen := make(map[string]struct{}, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Name == "" {
			return fmt.Errorf("endpoint %d: name is required", i)
		}
		if _, dup := seen[ep.Name]; dup {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		seen[ep.Name] = struct{}{}

		u, err := url.Parse(ep.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("endpoint %q: invalid url %q", ep.Name, ep.URL)
		}
		if ep.Interval <= 0 {
			ep.Interval = 30 * time.Second
		}
		if ep.Timeout <= 0 {
			ep.Timeout = 10 * time.Second
		}
		if ep.Timeout > ep.Interval {
			return fmt.Errorf("endpoint %q: timeout %s exceeds interval %s", ep.Name, ep.Timeout, ep.Interval)
		}
	}
	return nil
}
