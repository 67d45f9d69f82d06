//go:build unix

package internal

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

const peekSupported = true

// peekIdle does a non-blocking one byte MSG_PEEK. Only would-block means
// the connection is idle and usable; data, EOF or any error means stale.
func peekIdle(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return true
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}
	idle := false
	err = raw.Read(func(fd uintptr) bool {
		var b [1]byte
		_, _, rerr := unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		idle = errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK)
		return true
	})
	return err == nil && idle
}
