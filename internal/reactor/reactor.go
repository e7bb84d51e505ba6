//go:build linux

// Package reactor implements the session server's single-threaded
// readiness loop: one epoll instance multiplexing the listening socket and
// every accepted session socket, translating
// original_source/WQServer.java's Selector/SelectionKey loop into raw-fd
// epoll via golang.org/x/sys/unix.
package reactor

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// readBufferSize bounds a single readiness event's read; the codec
// contract assumes one framed request fits in a readiness event (§4.3).
const readBufferSize = 4096

// Connection is a session socket tracked by the reactor between readiness
// events. FD is only valid while the reactor owns the connection; callers
// outside the reactor goroutine must go through WriteReply/Rearm/Close.
type Connection struct {
	FD     int
	Remote net.Addr
}

// RequestFunc is invoked once per framed request, off the reactor
// goroutine's critical path — the caller is expected to hand it to a
// WorkerPool rather than block here (§4.5).
type RequestFunc func(conn *Connection, line string)

// CrashFunc is invoked when a connection's peer disappears (EOF or read
// error) instead of sending a well-formed request, i.e. a brutal logout
// (§4.6).
type CrashFunc func(conn *Connection)

// Reactor is a single-threaded epoll readiness loop over a listening
// socket and all accepted session sockets.
type Reactor struct {
	epfd     int
	wakeFD   int
	listenFD int

	mu    sync.Mutex
	conns map[int]*Connection

	onRequest RequestFunc
	onCrash   CrashFunc
	log       *zap.SugaredLogger
}

// New builds a Reactor over listener's socket. listener stays owned by the
// caller (for Addr()/Close()); the reactor only dup()s its file
// descriptor.
func New(listener *net.TCPListener, onRequest RequestFunc, onCrash CrashFunc, log *zap.SugaredLogger) (*Reactor, error) {
	listenFD, err := dupFD(listener)
	if err != nil {
		return nil, fmt.Errorf("reactor: dup listener fd: %w", err)
	}
	if err := unix.SetNonblock(listenFD, true); err != nil {
		return nil, fmt.Errorf("reactor: set listener nonblocking: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}

	r := &Reactor{
		epfd:      epfd,
		wakeFD:    wakeFD,
		listenFD:  listenFD,
		conns:     make(map[int]*Connection),
		onRequest: onRequest,
		onCrash:   onCrash,
		log:       log,
	}

	if err := r.addInterest(listenFD); err != nil {
		return nil, err
	}
	if err := r.addInterest(wakeFD); err != nil {
		return nil, err
	}
	return r, nil
}

// Run blocks, servicing readiness events until Stop is called (observed as
// a closed epoll instance).
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if errors.Is(err, unix.EBADF) {
				return nil // epoll instance closed by Stop.
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case r.wakeFD:
				r.drainWake()
			case r.listenFD:
				r.acceptAll()
			default:
				r.handleReadable(fd)
			}
		}
	}
}

// Stop tears down the epoll instance and every tracked connection.
func (r *Reactor) Stop() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.Close(c)
	}
	unix.Close(r.wakeFD)
	unix.Close(r.listenFD)
	unix.Close(r.epfd)
}

func (r *Reactor) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(r.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			r.log.Warnw("reactor: accept failed", "error", err)
			return
		}

		conn := &Connection{FD: fd, Remote: sockaddrToAddr(sa)}
		r.mu.Lock()
		r.conns[fd] = conn
		r.mu.Unlock()

		if err := r.addInterest(fd); err != nil {
			r.log.Warnw("reactor: failed to register accepted socket", "error", err)
			r.Close(conn)
		}
	}
}

// handleReadable is the zero-then-restore serialization boundary (§4.4):
// interest is cleared before any bytes are read, so the same fd cannot
// re-fire until a handler explicitly calls Rearm.
func (r *Reactor) handleReadable(fd int) {
	r.mu.Lock()
	conn, ok := r.conns[fd]
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.delInterest(fd); err != nil {
		r.log.Warnw("reactor: failed to clear interest", "fd", fd, "error", err)
	}

	buf := make([]byte, readBufferSize)
	var accumulated []byte
	for {
		n, err := unix.Read(fd, buf)
		switch {
		case n > 0:
			accumulated = append(accumulated, buf[:n]...)
			if n < len(buf) {
				goto frameComplete
			}
		case err == unix.EAGAIN:
			goto frameComplete
		case err != nil:
			r.crash(conn)
			return
		default: // n == 0: EOF, peer closed.
			r.crash(conn)
			return
		}
	}

frameComplete:
	line := strings.TrimRight(string(accumulated), "\r\n")
	if line == "" {
		r.Rearm(conn)
		return
	}
	r.onRequest(conn, line)
}

func (r *Reactor) crash(conn *Connection) {
	r.onCrash(conn)
	r.Close(conn)
}

// WriteReply writes a framed reply directly to conn's file descriptor.
func (r *Reactor) WriteReply(conn *Connection, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(conn.FD, data)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: write fd=%d: %w", conn.FD, err)
		}
		data = data[n:]
	}
	return nil
}

// Rearm restores read interest on conn after a handler has finished with
// it, and wakes the reactor loop so the change is observed immediately —
// the Go analogue of Selector.wakeup() in the original's NIO loop.
func (r *Reactor) Rearm(conn *Connection) {
	if err := r.addInterest(conn.FD); err != nil {
		r.log.Warnw("reactor: failed to rearm interest", "fd", conn.FD, "error", err)
	}
	r.wake()
}

// Close removes conn from the epoll instance and closes its fd.
func (r *Reactor) Close(conn *Connection) {
	_ = r.delInterest(conn.FD)
	unix.Close(conn.FD)

	r.mu.Lock()
	delete(r.conns, conn.FD)
	r.mu.Unlock()
}

func (r *Reactor) addInterest(fd int) error {
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (r *Reactor) delInterest(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("reactor: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (r *Reactor) wake() {
	buf := make([]byte, 8)
	buf[0] = 1
	_, _ = unix.Write(r.wakeFD, buf)
}

func (r *Reactor) drainWake() {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(r.wakeFD, buf)
		if err != nil {
			return
		}
	}
}
