package internal

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const chunkSize = 4096

var (
	ErrUnexpectedSocketClose = errors.New("unexpected socket close")
	ErrNotConnected          = errors.New("node is not connected")
	ErrInvalidLength         = errors.New("invalid read length")
)

// Endpoint identifies one cache server.
type Endpoint struct {
	Host string
	Port int
}

// String is the identity used for replica point hashing. It must stay
// "host:port" without IPv6 brackets so ring positions do not move.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

type NodeConfig struct {
	// Timeout bounds every read and write once connected. Zero disables it.
	Timeout time.Duration
	// ConnectTimeout bounds the dial. Zero falls back to Timeout.
	ConnectTimeout time.Duration
	Logger         logrus.FieldLogger
	// OnConnect is called after every successful dial.
	OnConnect func(Endpoint)
}

// Node owns the single connection to one cache server. It connects lazily
// and reconnects on the next Send after the connection went stale.
//
// Send, Read and ReadLine are not safe for concurrent use; Exchange
// serializes a whole round trip.
type Node struct {
	Endpoint
	timeout        time.Duration
	connectTimeout time.Duration
	log            logrus.FieldLogger
	onConnect      func(Endpoint)

	mu   sync.Mutex
	conn net.Conn
	buf  *chunkBuffer
}

func NewNode(ep Endpoint, cfg NodeConfig) *Node {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = cfg.Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Node{
		Endpoint:       ep,
		timeout:        cfg.Timeout,
		connectTimeout: connectTimeout,
		log:            logger.WithField("endpoint", ep.String()),
		onConnect:      cfg.OnConnect,
		buf:            newChunkBuffer(),
	}
}

// Connected reports whether the node currently holds a socket.
func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil
}

func (n *Node) Connect() error {
	n.closeConn()
	d := net.Dialer{Timeout: n.connectTimeout}
	conn, err := d.Dial("tcp", n.address())
	if err != nil {
		return err
	}
	n.conn = conn
	n.buf.reset()
	n.log.Debug("connected")
	if n.onConnect != nil {
		n.onConnect(n.Endpoint)
	}
	return nil
}

// Send writes cmd, reconnecting first if the current connection is stale,
// and returns the first response line including its terminator.
func (n *Node) Send(cmd []byte) ([]byte, error) {
	if n.conn != nil && !n.healthy() {
		n.log.Debug("connection is stale, reconnecting")
		n.closeConn()
	}
	if n.conn == nil {
		if err := n.Connect(); err != nil {
			return nil, err
		}
	}
	if err := n.write(cmd); err != nil {
		return nil, err
	}
	return n.ReadLine()
}

// Exchange sends cmd and hands the first response line to fn while holding
// the node for the whole round trip. fn may call Read and ReadLine.
func (n *Node) Exchange(cmd []byte, fn func(line []byte) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	line, err := n.Send(cmd)
	if err != nil {
		return err
	}
	return fn(line)
}

func (n *Node) write(b []byte) error {
	if n.timeout > 0 {
		if err := n.conn.SetWriteDeadline(time.Now().Add(n.timeout)); err != nil {
			n.closeConn()
			return err
		}
	}
	for len(b) > 0 {
		w, err := n.conn.Write(b)
		if err != nil {
			n.closeConn()
			return err
		}
		b = b[w:]
	}
	return nil
}

// Read blocks until length bytes are buffered and removes them.
func (n *Node) Read(length int) ([]byte, error) {
	if length < 0 {
		return nil, ErrInvalidLength
	}
	for n.buf.Len() < length {
		if err := n.fill(); err != nil {
			return nil, err
		}
	}
	return n.buf.take(length), nil
}

// ReadLine blocks until a \r\n terminated line is buffered and removes it,
// terminator included.
func (n *Node) ReadLine() ([]byte, error) {
	for {
		if line, ok := n.buf.line(); ok {
			return line, nil
		}
		if err := n.fill(); err != nil {
			return nil, err
		}
	}
}

func (n *Node) fill() error {
	if n.conn == nil {
		return ErrNotConnected
	}
	if n.timeout > 0 {
		if err := n.conn.SetReadDeadline(time.Now().Add(n.timeout)); err != nil {
			n.closeConn()
			return err
		}
	}
	chunk := make([]byte, chunkSize)
	c, err := n.conn.Read(chunk)
	if c > 0 {
		n.buf.push(chunk[:c])
		return nil
	}
	n.closeConn()
	if err == nil || errors.Is(err, io.EOF) {
		n.log.Warn("server closed the connection")
		return ErrUnexpectedSocketClose
	}
	return err
}

// healthy reports whether an idle connection can be reused. Leftover
// buffered bytes or anything but would-block on a peek means it cannot.
func (n *Node) healthy() bool {
	if n.buf.Len() > 0 {
		return false
	}
	return peekIdle(n.conn)
}

// Close releases the socket. It is safe to call more than once.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closeConn()
}

func (n *Node) closeConn() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	n.buf.reset()
	return err
}
