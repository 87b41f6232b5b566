package guestagent

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// memConn adapts a net.Conn (from net.Pipe) to the Conn interface.
type memConn struct {
	net.Conn
}

func newPairedChannel(t *testing.T, handler func(req request) response) *Channel {
	t.Helper()
	client, server := net.Pipe()

	go func() {
		rd := bufio.NewReader(server)
		for {
			line, err := rd.ReadBytes('\n')
			if err != nil {
				return
			}
			var req request
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			resp := handler(req)
			b, _ := json.Marshal(resp)
			b = append(b, '\n')
			if _, err := server.Write(b); err != nil {
				return
			}
		}
	}()

	dial := func(cid, port uint32) (Conn, error) {
		return memConn{client}, nil
	}
	return New(3, GuestPort, dial)
}

func TestPingSuccess(t *testing.T) {
	ch := newPairedChannel(t, func(req request) response {
		return response{Return: json.RawMessage(`{}`)}
	})
	defer ch.Close()

	if !ch.Ping(context.Background(), time.Second) {
		t.Fatal("expected Ping to succeed")
	}
}

func TestPingFailsOnAgentError(t *testing.T) {
	ch := newPairedChannel(t, func(req request) response {
		return response{Error: &wireError{Class: "X", Desc: "boom"}}
	})
	defer ch.Close()

	if ch.Ping(context.Background(), time.Second) {
		t.Fatal("expected Ping to report false on agent error")
	}
}

func TestGetNetworkInterfacesAgentError(t *testing.T) {
	ch := newPairedChannel(t, func(req request) response {
		return response{Error: &wireError{Class: "X", Desc: "boom"}}
	})
	defer ch.Close()

	_, err := ch.GetNetworkInterfaces(context.Background(), time.Second)
	if err == nil {
		t.Fatal("expected AgentError")
	}
	if err.Error() != "agent_error: boom" {
		t.Fatalf("GetNetworkInterfaces() error = %v, want agent_error: boom", err)
	}
}

func TestGetNetworkInterfacesSuccess(t *testing.T) {
	ch := newPairedChannel(t, func(req request) response {
		ifaces := []NetworkInterface{
			{Name: "eth0", HWAddr: "02:00:00:00:00:01", IPAddrs: []IPAddress{{Type: "ipv4", Addr: "192.168.1.5", Prefix: 24}}},
		}
		b, _ := json.Marshal(ifaces)
		return response{Return: b}
	})
	defer ch.Close()

	ifaces, err := ch.GetNetworkInterfaces(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("GetNetworkInterfaces: %v", err)
	}
	if len(ifaces) != 1 || ifaces[0].Name != "eth0" {
		t.Fatalf("GetNetworkInterfaces() = %+v", ifaces)
	}
}

func TestSendCommandTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	dial := func(cid, port uint32) (Conn, error) {
		return memConn{client}, nil
	}
	ch := New(3, GuestPort, dial)
	defer ch.Close()

	_, err := ch.SendCommand(context.Background(), "guest-ping", nil, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
