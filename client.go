// Package moecache is a client for memcached compatible servers. Keys are
// sharded over a fixed list of servers with a replica point ring, and every
// stored value is tagged so items written by other clients are rejected
// instead of being misread.
package moecache

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jsp-lqk/moecache/internal"
)

const MaxKeyLength = 250

var (
	crlf         = []byte("\r\n")
	endLine      = []byte("END\r\n")
	storedLine   = []byte("STORED\r\n")
	deletedLine  = []byte("DELETED\r\n")
	notFoundLine = []byte("NOT_FOUND\r\n")
)

type MutationResult int

const (
	Success MutationResult = iota
	Error
	NotFound
)

func (r MutationResult) String() string {
	switch r {
	case Success:
		return "success"
	case Error:
		return "error"
	case NotFound:
		return "not found"
	}
	return "unknown"
}

// Client talks to a static set of servers. It keeps one connection per
// server and serializes requests on each of them, so a Client may be
// shared between goroutines.
type Client struct {
	targets     []ConnectionTarget
	router      internal.Router
	log         logrus.FieldLogger
	metrics     Metrics
	serializer  Serializer
	maxItemSize int
}

func New(targets []ConnectionTarget, opts ...Option) (*Client, error) {
	if len(targets) == 0 {
		return nil, errors.New("no servers configured")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg := internal.NodeConfig{
		Timeout:        o.timeout,
		ConnectTimeout: o.connectTimeout,
		Logger:         o.logger,
		OnConnect: func(ep internal.Endpoint) {
			o.metrics.Connected(ep.String())
		},
	}
	nodes := make([]*internal.Node, 0, len(targets))
	for _, t := range targets {
		if t.Address == "" || t.Port <= 0 {
			return nil, fmt.Errorf("invalid server %s:%d", t.Address, t.Port)
		}
		nodes = append(nodes, internal.NewNode(internal.Endpoint{Host: t.Address, Port: t.Port}, cfg))
	}
	var router internal.Router
	if o.jump {
		router = internal.NewJumpRouter(nodes)
	} else {
		router = internal.NewRing(nodes, internal.SeededHash, internal.ZeroSeededHash)
	}
	return &Client{
		targets:     append([]ConnectionTarget(nil), targets...),
		router:      router,
		log:         o.logger,
		metrics:     o.metrics,
		serializer:  o.serializer,
		maxItemSize: o.maxItemSize,
	}, nil
}

// DefaultClient builds a client from "host:port" strings with default
// options.
func DefaultClient(servers ...string) (*Client, error) {
	targets := make([]ConnectionTarget, 0, len(servers))
	for _, s := range servers {
		t, err := ParseTarget(s)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return New(targets)
}

// Endpoints returns the configured servers in order.
func (c *Client) Endpoints() []ConnectionTarget {
	return append([]ConnectionTarget(nil), c.targets...)
}

func validateKey(key string) error {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return &ValidationError{Err: ErrInvalidKey, Detail: fmt.Sprintf("length %d not in 1..%d", len(key), MaxKeyLength)}
	}
	return validateToken(ErrInvalidKey, key)
}

// validateToken checks that s is a single protocol token: printable ASCII
// without spaces or control characters.
func validateToken(kind error, s string) error {
	if len(s) == 0 {
		return &ValidationError{Err: kind, Detail: "empty"}
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return &ValidationError{Err: kind, Detail: fmt.Sprintf("byte 0x%02x at offset %d", s[i], i)}
		}
	}
	return nil
}

// Get returns the value stored under key. found is false when the key is
// absent. The whole response is always read before an error is returned.
func (c *Client) Get(key string) (value Value, found bool, err error) {
	if err := validateKey(key); err != nil {
		return Value{}, false, err
	}
	defer c.metrics.OperationDuration("get").ObserveDuration()

	node := c.router.Route(key)
	var rejected error
	err = node.Exchange([]byte("get "+key+"\r\n"), func(line []byte) error {
		for !bytes.Equal(line, endLine) {
			fields := strings.Fields(string(line))
			if len(fields) != 4 || fields[0] != "VALUE" {
				return clientError(ErrMalformedResponse, line)
			}
			flags, ferr := strconv.ParseUint(fields[2], 10, 32)
			size, serr := strconv.Atoi(fields[3])
			if ferr != nil || serr != nil || size < 0 || size > c.maxItemSize {
				return clientError(ErrMalformedResponse, line)
			}
			payload, err := node.Read(size + 2)
			if err != nil {
				return err
			}
			if !bytes.HasSuffix(payload, crlf) {
				return clientError(ErrMalformedResponse, payload)
			}
			switch {
			case fields[1] != key:
				if rejected == nil {
					rejected = clientError(ErrUnwantedResponse, line)
				}
			case !found:
				v, err := decodeValue(uint32(flags), payload[:size])
				if err != nil {
					if rejected == nil {
						rejected = clientError(err, line)
					}
				} else {
					value, found = v, true
				}
			}
			if line, err = node.ReadLine(); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && rejected != nil {
		err = rejected
	}
	switch {
	case err != nil:
		c.log.WithError(err).WithField("key", key).Debug("get failed")
		c.metrics.OperationResult("get", "error")
		return Value{}, false, err
	case found:
		c.metrics.OperationResult("get", "hit")
	default:
		c.metrics.OperationResult("get", "miss")
	}
	return value, found, nil
}

// GetText is Get for values stored with SetText.
func (c *Client) GetText(key string) (string, bool, error) {
	v, found, err := c.Get(key)
	if err != nil || !found {
		return "", false, err
	}
	s, ok := v.Text()
	if !ok {
		return "", false, clientError(fmt.Errorf("%w: want text, got %s", ErrUnsupportedType, v.Kind()), nil)
	}
	return s, true, nil
}

// GetObject decodes a value stored with SetObject into out.
func (c *Client) GetObject(key string, out any) (bool, error) {
	v, found, err := c.Get(key)
	if err != nil || !found {
		return false, err
	}
	if v.Kind() != KindGeneric {
		return false, clientError(fmt.Errorf("%w: want generic, got %s", ErrUnsupportedType, v.Kind()), nil)
	}
	if err := c.serializer.Unmarshal(v.Bytes(), out); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key on the server the key routes to. exptime is in
// seconds, 0 means no expiration.
func (c *Client) Set(key string, v Value, exptime int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if exptime < 0 {
		return &ValidationError{Err: ErrInvalidExptime, Detail: strconv.Itoa(exptime)}
	}
	defer c.metrics.OperationDuration("set").ObserveDuration()

	command := fmt.Appendf(nil, "set %s %d %d %d\r\n", key, v.flags(), exptime, len(v.data))
	command = append(append(command, v.data...), crlf...)
	err := c.router.Route(key).Exchange(command, func(line []byte) error {
		if !bytes.Equal(line, storedLine) {
			return clientError(ErrUnexpectedResponse, line)
		}
		return nil
	})
	c.result("set", err)
	return err
}

func (c *Client) SetText(key, s string, exptime int) error {
	return c.Set(key, Text(s), exptime)
}

// SetObject serializes obj with the client serializer and stores it.
func (c *Client) SetObject(key string, obj any, exptime int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b, err := c.serializer.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return c.Set(key, Generic(b), exptime)
}

// Delete removes key. A key that was already absent is not an error, the
// result tells both cases apart.
func (c *Client) Delete(key string) (MutationResult, error) {
	if err := validateKey(key); err != nil {
		return Error, err
	}
	defer c.metrics.OperationDuration("delete").ObserveDuration()

	var r MutationResult
	err := c.router.Route(key).Exchange([]byte("delete "+key+"\r\n"), func(line []byte) error {
		switch {
		case bytes.Equal(line, deletedLine):
			r = Success
		case bytes.Equal(line, notFoundLine):
			r = NotFound
		default:
			return clientError(ErrUnexpectedResponse, line)
		}
		return nil
	})
	c.result("delete", err)
	if err != nil {
		return Error, err
	}
	return r, nil
}

// Stats asks every server for its statistics and returns one map per
// server, in configuration order.
func (c *Client) Stats(args ...string) ([]map[string]string, error) {
	for _, arg := range args {
		if err := validateToken(ErrInvalidArgument, arg); err != nil {
			return nil, err
		}
	}
	defer c.metrics.OperationDuration("stats").ObserveDuration()

	command := "stats"
	if len(args) > 0 {
		command += " " + strings.Join(args, " ")
	}
	command += "\r\n"

	nodes := c.router.Nodes()
	results := make([]map[string]string, 0, len(nodes))
	for _, node := range nodes {
		stats := make(map[string]string)
		err := node.Exchange([]byte(command), func(line []byte) error {
			for !bytes.Equal(line, endLine) {
				fields := strings.SplitN(strings.TrimSuffix(string(line), "\r\n"), " ", 3)
				if len(fields) != 3 || fields[0] != "STAT" {
					return clientError(ErrUnexpectedResponse, line)
				}
				stats[fields[1]] = fields[2]
				var err error
				if line, err = node.ReadLine(); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			c.result("stats", err)
			return nil, err
		}
		results = append(results, stats)
	}
	c.result("stats", nil)
	return results, nil
}

// Close releases every connection. Operations after Close reconnect.
func (c *Client) Close() error {
	return c.router.Close()
}

func (c *Client) result(op string, err error) {
	if err != nil {
		c.log.WithError(err).WithField("op", op).Debug("operation failed")
		c.metrics.OperationResult(op, "error")
		return
	}
	c.metrics.OperationResult(op, "ok")
}
