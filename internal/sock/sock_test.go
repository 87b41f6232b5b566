package sock

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aegisorg/vm/internal/vmerrors"
)

func TestBindAcceptConnectRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	ln, err := Bind(path)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer conn.Close()
		b, err := conn.Receive(64)
		if err != nil {
			t.Errorf("Receive: %v", err)
			return
		}
		if string(b) != "hello" {
			t.Errorf("Receive() = %q, want %q", b, "hello")
		}
	}()

	client, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server goroutine did not finish")
	}
}

func TestBindAddressTooLong(t *testing.T) {
	path := filepath.Join(t.TempDir(), strings.Repeat("x", 200)+".sock")
	_, err := Bind(path)
	if err == nil {
		t.Fatal("expected AddressTooLong error")
	}
	var se *vmerrors.SocketError
	if !asSocketError(err, &se) || se.Kind != vmerrors.AddressTooLong {
		t.Fatalf("Bind() error = %v, want AddressTooLong", err)
	}
}

func TestConnectFailsWhenPeerAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nobody.sock")
	if _, err := Connect(path); err == nil {
		t.Fatal("expected connect failure against absent peer")
	}
}

func asSocketError(err error, target **vmerrors.SocketError) bool {
	se, ok := err.(*vmerrors.SocketError)
	if ok {
		*target = se
	}
	return ok
}
