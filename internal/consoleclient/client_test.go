package consoleclient

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegisorg/vm/internal/sock"
)

func TestDetachKeyLocalityNotForwarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.sock")
	ln, err := sock.Bind(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Raw().Read(buf)
		received <- buf[:n]
	}()

	stdin := bytes.NewReader([]byte("ab\x1dcd"))
	var stdout bytes.Buffer

	c := &Client{
		SocketPath: path,
		Stdin:      stdin,
		Stdout:     &stdout,
		StdinFd:    -1, // not a terminal check is bypassed in this unit test path
	}

	// Run() requires a real terminal; exercise the forwarding logic
	// directly instead, mirroring what Run()'s readStdin goroutine does.
	conn, err := sock.Connect(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		c.readStdin(conn, func() { close(done) })
	}()

	select {
	case b := <-received:
		if bytes.Contains(b, []byte{0x1D}) {
			t.Fatalf("detach byte was forwarded: %q", b)
		}
		if string(b) != "ab" {
			t.Fatalf("forwarded %q before detach, want %q", b, "ab")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive forwarded bytes")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detach was not signalled")
	}
}

func TestReadSocketWritesToStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.sock")
	ln, err := sock.Bind(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Raw().Write([]byte("hello-client"))
	}()

	conn, err := sock.Connect(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var stdout bytes.Buffer
	c := &Client{Stdout: &stdout}

	done := make(chan struct{})
	go c.readSocket(conn, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readSocket did not signal detach on EOF")
	}
	if stdout.String() != "hello-client" {
		t.Fatalf("stdout = %q, want %q", stdout.String(), "hello-client")
	}
	_ = io.EOF
}
