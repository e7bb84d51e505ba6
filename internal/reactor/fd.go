//go:build linux

package reactor

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// dupFD extracts the raw file descriptor backing sc and duplicates it, so
// the reactor's epoll instance and the net package's own runtime poller
// can each hold an independent reference to the same socket.
func dupFD(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("syscall conn: %w", err)
	}

	var dupfd int
	var dupErr error
	if err := rc.Control(func(fd uintptr) {
		dupfd, dupErr = unix.Dup(int(fd))
	}); err != nil {
		return -1, fmt.Errorf("control: %w", err)
	}
	if dupErr != nil {
		return -1, fmt.Errorf("dup: %w", dupErr)
	}
	return dupfd, nil
}

// sockaddrToAddr converts an accepted socket's peer address into a net.Addr
// suitable for matching against a registered datagram endpoint's IP
// (§4.7 Phase 2 rendezvous).
func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}
