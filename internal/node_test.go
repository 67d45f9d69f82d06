package internal

import (
	"bufio"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineServer accepts connections and calls handle for every request line.
type lineServer struct {
	ln      net.Listener
	accepts atomic.Int32
}

func newLineServer(t *testing.T, handle func(conn net.Conn, line string)) *lineServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &lineServer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepts.Add(1)
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					handle(conn, line)
				}
			}()
		}
	}()
	return s
}

func (s *lineServer) endpoint() Endpoint {
	return Endpoint{Host: "127.0.0.1", Port: s.ln.Addr().(*net.TCPAddr).Port}
}

func TestNodeSendAndRead(t *testing.T) {
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Write([]byte("VALUE\r\nabc"))
		time.Sleep(20 * time.Millisecond)
		conn.Write([]byte("defg\r\nEND\r\n"))
	})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: time.Second})
	defer n.Close()

	assert.False(t, n.Connected(), "nodes connect lazily")
	line, err := n.Send([]byte("get x\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("VALUE\r\n"), line)
	assert.True(t, n.Connected())

	data, err := n.Read(9)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefg\r\n"), data)

	line, err = n.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, []byte("END\r\n"), line)
}

func TestNodeExchange(t *testing.T) {
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Write([]byte("STAT a 1\r\nEND\r\n"))
	})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: time.Second})
	defer n.Close()

	var lines []string
	err := n.Exchange([]byte("stats\r\n"), func(line []byte) error {
		lines = append(lines, string(line))
		next, err := n.ReadLine()
		lines = append(lines, string(next))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"STAT a 1\r\n", "END\r\n"}, lines)
}

func TestNodeUnexpectedClose(t *testing.T) {
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Close()
	})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: time.Second})
	defer n.Close()

	_, err := n.Send([]byte("get x\r\n"))
	assert.ErrorIs(t, err, ErrUnexpectedSocketClose)
	assert.False(t, n.Connected())
}

func TestNodeReconnectsWhenServerClosedIdleConnection(t *testing.T) {
	if !peekSupported {
		t.Skip("no non-blocking peek on this platform")
	}
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Write([]byte("OK\r\n"))
		conn.Close()
	})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: time.Second})
	defer n.Close()

	line, err := n.Send([]byte("one\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("OK\r\n"), line)

	require.Eventually(t, func() bool { return !n.healthy() }, time.Second, 5*time.Millisecond)

	line, err = n.Send([]byte("two\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("OK\r\n"), line)
	assert.EqualValues(t, 2, s.accepts.Load())
}

func TestNodeReconnectsOnUnreadData(t *testing.T) {
	if !peekSupported {
		t.Skip("no non-blocking peek on this platform")
	}
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Write([]byte("OK\r\nSURPRISE\r\n"))
	})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: time.Second})
	defer n.Close()

	_, err := n.Send([]byte("one\r\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !n.healthy() }, time.Second, 5*time.Millisecond)

	line, err := n.Send([]byte("two\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("OK\r\n"), line, "stale bytes must not leak into the next response")
	assert.EqualValues(t, 2, s.accepts.Load())
}

func TestNodeKeepsHealthyConnection(t *testing.T) {
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Write([]byte("OK\r\n"))
	})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: time.Second})
	defer n.Close()

	for i := 0; i < 5; i++ {
		_, err := n.Send([]byte("ping\r\n"))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, s.accepts.Load())
}

func TestNodeTimeout(t *testing.T) {
	s := newLineServer(t, func(conn net.Conn, line string) {})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: 50 * time.Millisecond})
	defer n.Close()

	_, err := n.Send([]byte("get x\r\n"))
	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
	assert.False(t, n.Connected())
}

func TestNodeConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	var connects int
	n := NewNode(Endpoint{Host: "127.0.0.1", Port: port}, NodeConfig{
		Timeout:   time.Second,
		OnConnect: func(Endpoint) { connects++ },
	})
	_, err = n.Send([]byte("get x\r\n"))
	require.Error(t, err)
	assert.False(t, n.Connected())
	assert.Zero(t, connects)
}

func TestNodeCloseIsIdempotent(t *testing.T) {
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Write([]byte("OK\r\n"))
	})
	var connects int
	n := NewNode(s.endpoint(), NodeConfig{
		Timeout:   time.Second,
		OnConnect: func(Endpoint) { connects++ },
	})
	assert.NoError(t, n.Close())

	_, err := n.Send([]byte("ping\r\n"))
	require.NoError(t, err)
	assert.NoError(t, n.Close())
	assert.NoError(t, n.Close())
	assert.False(t, n.Connected())

	_, err = n.Send([]byte("ping\r\n"))
	require.NoError(t, err, "a closed node reconnects on use")
	assert.Equal(t, 2, connects)
}

func TestNodeConnectTimeoutDefaultsToTimeout(t *testing.T) {
	n := NewNode(Endpoint{Host: "localhost", Port: 1}, NodeConfig{Timeout: time.Second})
	assert.Equal(t, time.Second, n.connectTimeout)
	n = NewNode(Endpoint{Host: "localhost", Port: 1}, NodeConfig{Timeout: time.Second, ConnectTimeout: time.Minute})
	assert.Equal(t, time.Minute, n.connectTimeout)
}

func TestEndpointString(t *testing.T) {
	assert.Equal(t, "10.0.0.1:11211", Endpoint{Host: "10.0.0.1", Port: 11211}.String())
	assert.Equal(t, "::1:11211", Endpoint{Host: "::1", Port: 11211}.String())
	assert.Equal(t, "[::1]:11211", Endpoint{Host: "::1", Port: 11211}.address())
}

func TestNodeReadRejectsNegativeLength(t *testing.T) {
	n := NewNode(Endpoint{Host: "127.0.0.1", Port: 1}, NodeConfig{})
	_, err := n.Read(-1)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestNodeConnectedDuringConcurrentUse(t *testing.T) {
	s := newLineServer(t, func(conn net.Conn, line string) {
		conn.Write([]byte("OK\r\n"))
	})
	n := NewNode(s.endpoint(), NodeConfig{Timeout: time.Second})
	defer n.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			n.Exchange([]byte("ping\r\n"), func([]byte) error { return nil })
			if i%10 == 0 {
				n.Close()
			}
		}
	}()
	for {
		select {
		case <-done:
			return
		default:
			n.Connected()
		}
	}
}
