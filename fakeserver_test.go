package moecache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	flags uint32
	data  []byte
}

// fakeServer speaks enough of the memcached text protocol for client tests.
type fakeServer struct {
	ln       net.Listener
	accepts  atomic.Int32
	received atomic.Int64

	mu    sync.Mutex
	items map[string]fakeItem
	// hook may answer a request line instead of the default handling.
	hook func(line string) (string, bool)
}

func newFakeServer(t *testing.T) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln, items: map[string]fakeItem{}}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) target() ConnectionTarget {
	return ConnectionTarget{Address: "127.0.0.1", Port: s.ln.Addr().(*net.TCPAddr).Port}
}

func (s *fakeServer) put(key string, flags uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = fakeItem{flags: flags, data: data}
}

func (s *fakeServer) item(key string) (fakeItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	return it, ok
}

func (s *fakeServer) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *fakeServer) setHook(h func(line string) (string, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepts.Add(1)
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(countingReader{r: conn, n: &s.received})
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			conn.Write([]byte("ERROR\r\n"))
			continue
		}
		var payload []byte
		if fields[0] == "set" && len(fields) == 5 {
			size, _ := strconv.Atoi(fields[4])
			payload = make([]byte, size+2)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
			payload = payload[:size]
		}

		s.mu.Lock()
		hook := s.hook
		s.mu.Unlock()
		if hook != nil {
			if resp, ok := hook(line); ok {
				conn.Write([]byte(resp))
				continue
			}
		}

		var out bytes.Buffer
		switch fields[0] {
		case "get":
			if it, ok := s.item(fields[1]); ok {
				fmt.Fprintf(&out, "VALUE %s %d %d\r\n", fields[1], it.flags, len(it.data))
				out.Write(it.data)
				out.WriteString("\r\n")
			}
			out.WriteString("END\r\n")
		case "set":
			flags, _ := strconv.ParseUint(fields[2], 10, 32)
			s.put(fields[1], uint32(flags), payload)
			out.WriteString("STORED\r\n")
		case "delete":
			s.mu.Lock()
			_, ok := s.items[fields[1]]
			delete(s.items, fields[1])
			s.mu.Unlock()
			if ok {
				out.WriteString("DELETED\r\n")
			} else {
				out.WriteString("NOT_FOUND\r\n")
			}
		case "stats":
			fmt.Fprintf(&out, "STAT pid 42\r\n")
			fmt.Fprintf(&out, "STAT port %d\r\n", s.ln.Addr().(*net.TCPAddr).Port)
			fmt.Fprintf(&out, "STAT version 1.6.21 fake\r\n")
			fmt.Fprintf(&out, "STAT curr_items %d\r\n", s.len())
			if len(fields) > 1 {
				fmt.Fprintf(&out, "STAT args %s\r\n", strings.Join(fields[1:], " "))
			}
			out.WriteString("END\r\n")
		default:
			out.WriteString("ERROR\r\n")
		}
		conn.Write(out.Bytes())
	}
}
