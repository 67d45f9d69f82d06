//go:build !unix

package internal

import "net"

const peekSupported = false

// peekIdle cannot peek without blocking here; stale connections surface
// on the next read instead.
func peekIdle(net.Conn) bool {
	return true
}
