// Package consoleclient implements the console client (spec §4.6): attaches
// stdin/stdout to a VM's console socket, toggling raw mode and recognizing
// the Ctrl-] detach key. Grounded on the teacher's interactive attach/exec
// path in cmd/aegis/main.go (stdin scanning for a sentinel byte) and
// internal/terminal for raw-mode handling.
package consoleclient

import (
	"io"
	"os"
	"sync"

	"github.com/aegisorg/vm/internal/sock"
	"github.com/aegisorg/vm/internal/terminal"
	"github.com/aegisorg/vm/internal/vmerrors"
)

// detachByte is Ctrl-] (0x1D), the client-local detach signal. It is never
// forwarded to the socket.
const detachByte = 0x1D

const readChunk = 4096

// Callback receives the two user-visible detach messages.
type Callback func(msg string)

// Client runs one interactive console session.
type Client struct {
	SocketPath string
	Stdin      io.Reader
	Stdout     io.Writer
	StdinFd    int
	OnMessage  Callback
}

// Run connects to SocketPath and runs the session to completion, returning
// when the user detaches or the VM disconnects. Requires a terminal on
// StdinFd.
func (c *Client) Run() error {
	term := terminal.New(c.StdinFd)
	if !term.IsTerminal() {
		return &vmerrors.ConsoleConnectionError{Kind: vmerrors.NotATerminal}
	}

	conn, err := sock.Connect(c.SocketPath)
	if err != nil {
		return &vmerrors.ConsoleConnectionError{Kind: vmerrors.ConnectionFailed, Err: err}
	}

	if err := term.EnableRawMode(); err != nil {
		conn.Close()
		return err
	}

	var once sync.Once
	detach := make(chan struct{})
	signalDetach := func() { once.Do(func() { close(detach) }) }

	go c.readStdin(conn, signalDetach)
	go c.readSocket(conn, signalDetach)

	<-detach

	// Cleanup ordering is mandatory: socket closes before raw-mode
	// restoration so the multiplexer observes disconnection promptly;
	// raw-mode restoration happens before any user-visible message so the
	// terminal is in cooked mode when it's printed.
	conn.Close()
	_ = term.DisableRawMode()

	if c.OnMessage != nil {
		c.OnMessage("Detached from VM console")
		c.OnMessage("VM continues running…")
	}
	return nil
}

func (c *Client) readStdin(conn *sock.Conn, signalDetach func()) {
	buf := make([]byte, readChunk)
	for {
		n, err := c.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if idx := indexByte(chunk, detachByte); idx >= 0 {
				if idx > 0 {
					_ = conn.Send(chunk[:idx])
				}
				signalDetach()
				return
			}
			if werr := conn.Send(chunk); werr != nil {
				signalDetach()
				return
			}
		}
		if err != nil {
			signalDetach()
			return
		}
		if n == 0 {
			signalDetach()
			return
		}
	}
}

func (c *Client) readSocket(conn *sock.Conn, signalDetach func()) {
	buf := make([]byte, readChunk)
	for {
		n, err := conn.Raw().Read(buf)
		if n > 0 {
			if _, werr := c.Stdout.Write(buf[:n]); werr != nil {
				signalDetach()
				return
			}
		}
		if err != nil {
			signalDetach()
			return
		}
	}
}

func indexByte(b []byte, target byte) int {
	for i, c := range b {
		if c == target {
			return i
		}
	}
	return -1
}

// DefaultStdioClient builds a Client wired to os.Stdin/os.Stdout.
func DefaultStdioClient(socketPath string, onMessage Callback) *Client {
	return &Client{
		SocketPath: socketPath,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		StdinFd:    int(os.Stdin.Fd()),
		OnMessage:  onMessage,
	}
}
