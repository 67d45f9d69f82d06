package moecache

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 3 * time.Second
	// DefaultMaxItemSize matches the memcached default item size limit.
	DefaultMaxItemSize = 1 << 20
)

// ConnectionTarget is one cache server.
type ConnectionTarget struct {
	Address string
	Port    int
}

// ParseTarget parses "host:port".
func ParseTarget(s string) (ConnectionTarget, error) {
	host, portString, err := net.SplitHostPort(s)
	if err != nil {
		return ConnectionTarget{}, fmt.Errorf("invalid server %q: %w", s, err)
	}
	port, err := strconv.Atoi(portString)
	if err != nil || port <= 0 || port > 65535 {
		return ConnectionTarget{}, fmt.Errorf("invalid port in server %q", s)
	}
	return ConnectionTarget{Address: host, Port: port}, nil
}

type options struct {
	timeout        time.Duration
	connectTimeout time.Duration
	logger         logrus.FieldLogger
	metrics        Metrics
	serializer     Serializer
	maxItemSize    int
	jump           bool
}

type Option func(*options)

// WithTimeout bounds every read and write on an established connection.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithConnectTimeout bounds connection setup. It defaults to the operation
// timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSerializer replaces the msgpack serializer used by SetObject and
// GetObject.
func WithSerializer(s Serializer) Option {
	return func(o *options) { o.serializer = s }
}

// WithMaxItemSize sets the largest value length accepted in a get response.
// Larger lengths are treated as a malformed response.
func WithMaxItemSize(n int) Option {
	return func(o *options) { o.maxItemSize = n }
}

// WithJumpRouting distributes keys with jump consistent hashing instead of
// the replica point ring. Keys land on different servers than with the
// ring, so never mix both against the same servers.
func WithJumpRouting() Option {
	return func(o *options) { o.jump = true }
}

func defaultOptions() options {
	return options{
		timeout:     DefaultTimeout,
		logger:      logrus.StandardLogger(),
		metrics:     NopMetrics(),
		serializer:  MsgpackSerializer{},
		maxItemSize: DefaultMaxItemSize,
	}
}

// Config is the file/env representation of the client settings.
type Config struct {
	Servers        []string      `mapstructure:"servers"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Routing        string        `mapstructure:"routing"`
	MaxItemSize    int           `mapstructure:"max_item_size"`
}

func (c Config) Targets() ([]ConnectionTarget, error) {
	targets := make([]ConnectionTarget, 0, len(c.Servers))
	for _, s := range c.Servers {
		t, err := ParseTarget(s)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (c Config) Options() ([]Option, error) {
	var opts []Option
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	if c.ConnectTimeout > 0 {
		opts = append(opts, WithConnectTimeout(c.ConnectTimeout))
	}
	if c.MaxItemSize > 0 {
		opts = append(opts, WithMaxItemSize(c.MaxItemSize))
	}
	switch c.Routing {
	case "", "ring":
	case "jump":
		opts = append(opts, WithJumpRouting())
	default:
		return nil, fmt.Errorf("unknown routing %q", c.Routing)
	}
	return opts, nil
}
