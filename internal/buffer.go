package internal

import (
	"bytes"

	"github.com/edwingeng/deque/v2"
)

var crlf = []byte("\r\n")

// chunkBuffer holds bytes received from a socket as a queue of chunks.
// Chunks are appended at the back and consumed from the front. Line
// terminators are located once, when a chunk is pushed, and tracked as
// stream offsets so finding a line never rescans buffered data.
type chunkBuffer struct {
	chunks *deque.Deque[[]byte]
	size   int
	// head is the stream offset of the first buffered byte.
	head int64
	// ends holds the stream offset just past every buffered \r\n.
	ends   []int64
	lastCR bool
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{chunks: deque.NewDeque[[]byte]()}
}

func (b *chunkBuffer) Len() int {
	return b.size
}

func (b *chunkBuffer) reset() {
	b.chunks = deque.NewDeque[[]byte]()
	b.size = 0
	b.head = 0
	b.ends = nil
	b.lastCR = false
}

func (b *chunkBuffer) push(p []byte) {
	if len(p) == 0 {
		return
	}
	start := b.head + int64(b.size)
	if b.lastCR && p[0] == '\n' {
		b.ends = append(b.ends, start+1)
	}
	for off := 0; ; {
		i := bytes.Index(p[off:], crlf)
		if i < 0 {
			break
		}
		off += i + len(crlf)
		b.ends = append(b.ends, start+int64(off))
	}
	b.lastCR = p[len(p)-1] == '\r'
	b.chunks.PushBack(p)
	b.size += len(p)
}

// take removes exactly n bytes from the front. The caller guarantees that
// at least n bytes are buffered.
func (b *chunkBuffer) take(n int) []byte {
	b.head += int64(n)
	if b.chunks.Len() > 0 {
		front := b.chunks.PopFront()
		if len(front) >= n {
			if len(front) > n {
				b.chunks.PushFront(front[n:])
			}
			b.size -= n
			return front[:n:n]
		}
		b.chunks.PushFront(front)
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		front := b.chunks.PopFront()
		need := n - len(out)
		if len(front) > need {
			b.chunks.PushFront(front[need:])
			front = front[:need]
		}
		out = append(out, front...)
	}
	b.size -= n
	return out
}

// line removes and returns the first line including its \r\n terminator.
// ok is false when no complete line is buffered yet.
func (b *chunkBuffer) line() (line []byte, ok bool) {
	// drop terminators whose \r was already consumed by take
	for len(b.ends) > 0 && b.ends[0]-int64(len(crlf)) < b.head {
		b.ends = b.ends[1:]
	}
	if len(b.ends) == 0 {
		return nil, false
	}
	end := b.ends[0]
	b.ends = b.ends[1:]
	return b.take(int(end - b.head)), true
}
