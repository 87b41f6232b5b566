package console

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aegisorg/vm/internal/sock"
)

func TestStripANSIRemovesCSI(t *testing.T) {
	in := []byte("hello\x1b[31mworld\x1b[0m!")
	out := stripANSI(in)
	if bytes.Contains(out, []byte{0x1B}) {
		t.Fatalf("stripANSI left an ESC byte: %q", out)
	}
	if string(out) != "helloworld!" {
		t.Fatalf("stripANSI() = %q, want %q", out, "helloworld!")
	}
}

func TestStripANSIOtherEscape(t *testing.T) {
	in := []byte("a\x1bXb")
	out := stripANSI(in)
	if string(out) != "ab" {
		t.Fatalf("stripANSI() = %q, want %q", out, "ab")
	}
}

func TestReplayBufferCap(t *testing.T) {
	rb := newReplayBuffer(ReplayCap)
	for i := 0; i < 100; i++ {
		rb.append(bytes.Repeat([]byte{'a'}, 500))
	}
	if len(rb.snapshot()) > ReplayCap {
		t.Fatalf("replay buffer grew past cap: %d > %d", len(rb.snapshot()), ReplayCap)
	}
}

func TestReplayBufferSuffixPreserving(t *testing.T) {
	rb := newReplayBuffer(8)
	rb.append([]byte("abcdefgh"))
	rb.append([]byte("ij"))
	if got := string(rb.snapshot()); got != "cdefghij" {
		t.Fatalf("snapshot() = %q, want suffix-preserving %q", got, "cdefghij")
	}
}

func TestMultiplexerLateJoinReplayAndBroadcastIsolation(t *testing.T) {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	_ = inR

	mux := New()
	socketPath := filepath.Join(t.TempDir(), "console.sock")
	if err := mux.Start(socketPath, inW, outR); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mux.Stop()

	// Emit some output before any client joins; it should land in the
	// replay buffer and be the first thing a late-joining client sees.
	go func() {
		_, _ = outW.Write([]byte("before-join\x1b[31m-colored\x1b[0m"))
	}()
	time.Sleep(50 * time.Millisecond)

	conn1, err := sock.Connect(socketPath)
	if err != nil {
		t.Fatalf("connect client 1: %v", err)
	}
	defer conn1.Close()

	first, err := conn1.Receive(4096)
	if err != nil {
		t.Fatalf("receive replay: %v", err)
	}
	if !strings.Contains(string(first), "before-join-colored") {
		t.Fatalf("client did not see replayed, stripped output: %q", first)
	}

	// A second client joins later; a broadcast failure on client 1 (forced
	// by closing it) must not affect client 2.
	conn2, err := sock.Connect(socketPath)
	if err != nil {
		t.Fatalf("connect client 2: %v", err)
	}
	defer conn2.Close()
	if _, err := conn2.Receive(4096); err != nil {
		t.Fatalf("receive replay on client 2: %v", err)
	}

	conn1.Close()
	time.Sleep(50 * time.Millisecond)

	go func() {
		_, _ = outW.Write([]byte("live-output"))
	}()

	live, err := conn2.Receive(4096)
	if err != nil {
		t.Fatalf("client 2 receive live output: %v", err)
	}
	if string(live) != "live-output" {
		t.Fatalf("client 2 got %q, want %q", live, "live-output")
	}
}
