// Package sock implements the local stream socket primitive (spec §4.1):
// scoped acquisition of a unix-domain stream socket with async
// send/receive/accept and path-bound cleanup. Grounded on the teacher's
// internal/vmm/channel.go (newline-framed reads over a net.Conn) and
// internal/vmm/cloudhv.go's chClient (custom unix-socket dialing); built
// directly on net.UnixListener/net.UnixConn, which already give
// netpoller-backed non-blocking accept/read/write — the primitive the spec
// asks for, not a re-implementation of it.
package sock

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/aegisorg/vm/internal/vmerrors"
)

// maxUnixPath is the typical platform limit on sizeof(sockaddr_un.sun_path).
const maxUnixPath = 104

const defaultBacklog = 5

// Listener wraps a bound, listening unix socket with path-bound cleanup.
type Listener struct {
	path string
	ln   *net.UnixListener

	mu     sync.Mutex
	closed bool
}

// Bind removes any existing filesystem entry at path, then binds and
// listens via net.ListenUnix, which uses the system's default backlog;
// defaultBacklog is not applied.
func Bind(path string) (*Listener, error) {
	if len(path) > maxUnixPath {
		return nil, vmerrors.NewSocketError(vmerrors.AddressTooLong, path)
	}
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, vmerrors.NewSystemError(err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, vmerrors.NewSystemError(err)
	}
	return &Listener{path: path, ln: ln}, nil
}

// Accept suspends until an inbound connection is ready.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.AcceptUnix()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, vmerrors.NewSocketError(vmerrors.Disconnected, "listener closed")
		}
		return nil, vmerrors.NewSystemError(err)
	}
	return &Conn{c: c}, nil
}

// Close is idempotent and unlinks the bound path.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.ln.Close()
	_ = os.Remove(l.path)
	return err
}

// Path returns the bound filesystem path.
func (l *Listener) Path() string { return l.path }

// Conn wraps a connected unix-domain socket.
type Conn struct {
	c      *net.UnixConn
	mu     sync.Mutex
	closed bool
}

// Connect suspends until connected to path, failing with SystemError if the
// peer is absent.
func Connect(path string) (*Conn, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, vmerrors.NewSystemError(err)
	}
	c, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, vmerrors.NewSystemError(err)
	}
	return &Conn{c: c}, nil
}

// Send writes the complete buffer, retrying on EAGAIN/EWOULDBLOCK (handled
// transparently by net.Conn's netpoller-backed Write); a zero-length write
// with no error is treated as Disconnected.
func (c *Conn) Send(b []byte) error {
	n, err := c.c.Write(b)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
			return vmerrors.NewSocketError(vmerrors.Disconnected, err.Error())
		}
		return vmerrors.NewSystemError(err)
	}
	if n == 0 && len(b) > 0 {
		return vmerrors.NewSocketError(vmerrors.Disconnected, "zero-length write")
	}
	return nil
}

// Receive returns up to max bytes; an empty, nil-error result means the
// peer closed the connection.
func (c *Conn) Receive(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := c.c.Read(buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, vmerrors.NewSystemError(err)
	}
	return buf[:n], nil
}

// ReceiveStream produces a lazy, finite, non-restartable sequence of
// non-empty chunks over ch, closing ch on graceful close or error.
func (c *Conn) ReceiveStream(chunkSize int) <-chan []byte {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for {
			buf := make([]byte, chunkSize)
			n, err := c.c.Read(buf)
			if n > 0 {
				ch <- buf[:n]
			}
			if err != nil {
				return
			}
			if n == 0 {
				return
			}
		}
	}()
	return ch
}

// Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.c.Close()
}

// Raw exposes the underlying net.Conn for components (console multiplexer,
// console client) that want bufio framing or deadlines directly.
func (c *Conn) Raw() net.Conn { return c.c }
