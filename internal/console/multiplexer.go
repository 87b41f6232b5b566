// Package console implements the console multiplexer (spec §4.5): a
// one-to-many fan-out of VM serial output, many-to-one fan-in of client
// input, with a late-join replay buffer. Grounded on the teacher's
// internal/tether ring-buffer broadcast pattern and internal/lifecycle's
// persistent-goroutine dispatch shape.
package console

import (
	"io"
	"sync"

	"github.com/aegisorg/vm/internal/sock"
	"github.com/aegisorg/vm/internal/vmerrors"
)

// ReplayCap is the byte cap on the stored (ANSI-stripped) replay buffer.
const ReplayCap = 8192

const clientReadChunk = 4096

// Multiplexer fans a VM's serial output across N attached clients and fans
// client input back to the VM's serial input.
type Multiplexer struct {
	mu       sync.Mutex
	running  bool
	ln       *sock.Listener
	replay   *replayBuffer
	clients  map[*client]struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type client struct {
	conn *sock.Conn
}

// New returns an idle multiplexer.
func New() *Multiplexer {
	return &Multiplexer{
		replay:  newReplayBuffer(ReplayCap),
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Start binds socketPath (unlinking any previous socket there first) and
// begins fanning vmOut to clients and client input to vmIn. Start is not
// idempotent: calling it twice on a running multiplexer returns
// ConsoleListenerError.
func (m *Multiplexer) Start(socketPath string, vmIn io.Writer, vmOut io.Reader) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return &vmerrors.ConsoleListenerError{AlreadyRunning: true}
	}
	ln, err := sock.Bind(socketPath)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.ln = ln
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.readVMOutput(vmOut, vmIn)
	go m.acceptLoop(vmIn)
	return nil
}

// readVMOutput appends every chunk read from vmOut to the replay buffer
// before broadcasting it, preserving the happens-before ordering the spec
// requires.
func (m *Multiplexer) readVMOutput(vmOut io.Reader, vmIn io.Writer) {
	buf := make([]byte, clientReadChunk)
	for {
		n, err := vmOut.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			m.mu.Lock()
			m.replay.append(chunk)
			clients := make([]*client, 0, len(m.clients))
			for c := range m.clients {
				clients = append(clients, c)
			}
			m.mu.Unlock()

			for _, c := range clients {
				m.sendToClient(c, chunk)
			}
		}
		if err != nil {
			return
		}
		select {
		case <-m.done:
			return
		default:
		}
	}
}

// sendToClient writes chunk to c; a failure marks c for removal without
// affecting any other client (broadcast isolation).
func (m *Multiplexer) sendToClient(c *client, chunk []byte) {
	if err := c.conn.Send(chunk); err != nil {
		m.removeClient(c)
	}
}

func (m *Multiplexer) acceptLoop(vmIn io.Writer) {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		c := &client{conn: conn}

		m.mu.Lock()
		snapshot := m.replay.snapshot()
		m.mu.Unlock()

		if len(snapshot) > 0 {
			if err := conn.Send(snapshot); err != nil {
				conn.Close()
				continue
			}
		}

		m.mu.Lock()
		m.clients[c] = struct{}{}
		m.mu.Unlock()

		go m.readClient(c, vmIn)
	}
}

// readClient forwards every chunk received from c to vmIn until EOF/error,
// then deregisters and closes c.
func (m *Multiplexer) readClient(c *client, vmIn io.Writer) {
	defer m.removeClient(c)
	buf := make([]byte, clientReadChunk)
	for {
		n, err := c.conn.Raw().Read(buf)
		if n > 0 {
			if _, werr := vmIn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (m *Multiplexer) removeClient(c *client) {
	m.mu.Lock()
	_, ok := m.clients[c]
	delete(m.clients, c)
	m.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Stop is idempotent: it closes every client, closes the listener
// (unlinking its path), and causes the vmOut reader to observe closure.
func (m *Multiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		running := m.running
		m.running = false
		clients := make([]*client, 0, len(m.clients))
		for c := range m.clients {
			clients = append(clients, c)
		}
		m.clients = make(map[*client]struct{})
		ln := m.ln
		close(m.done)
		m.mu.Unlock()

		if !running {
			return
		}
		for _, c := range clients {
			c.conn.Close()
		}
		if ln != nil {
			ln.Close()
		}
	})
}

// ClientCount reports the number of currently attached clients.
func (m *Multiplexer) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
