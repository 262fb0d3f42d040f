package clickhouse

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

const (
	nativePort = 9000
	httpPort   = 8123
)

// ClientConfig describes the pool behind Client. Port 0 picks the protocol's
// standard port.
type ClientConfig struct {
	Host     string `validate:"required,hostname_rfc1123|ip"`
	Port     int    `validate:"min=0,max=65535"`
	Database string `default:"calibra" validate:"required"`
	User     string `default:"default"`
	Password string
	UseHTTP  bool

	MaxOpenConns    int           `default:"10" validate:"min=1"`
	MaxIdleConns    int           `default:"5" validate:"min=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `default:"5m"`
	DialTimeout     time.Duration `default:"5s"`
	ReadTimeout     time.Duration `default:"10s"`
	MaxExecTime     time.Duration

	// Outcome rows arrive one at a time, so async inserts let the server
	// do the batching.
	AsyncInsert  bool
	WaitForAsync bool
}

type ClientOption func(*ClientConfig)

func WithHost(host string) ClientOption {
	return func(c *ClientConfig) { c.Host = host }
}

// WithPort overrides the protocol port; 0 keeps the standard one.
func WithPort(port int) ClientOption {
	return func(c *ClientConfig) { c.Port = port }
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) {
		if database != "" {
			c.Database = database
		}
	}
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) { c.User, c.Password = user, password }
}

func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) { c.MaxOpenConns, c.MaxIdleConns = maxOpen, maxIdle }
}

// WithTimeouts sets dial and read timeouts; zero keeps the default.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithHTTP talks to the HTTP interface instead of the native protocol.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) { c.AsyncInsert, c.WaitForAsync = enabled, wait }
}

// WithMaxExecutionTime caps each query server side, in whole seconds.
func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}

func newClientConfig(opts ...ClientOption) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("clickhouse defaults: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Port == 0 {
		cfg.Port = nativePort
		if cfg.UseHTTP {
			cfg.Port = httpPort
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("clickhouse config: %w", err)
	}
	return cfg, nil
}
