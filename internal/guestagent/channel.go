// Package guestagent implements the guest-agent channel (spec §4.7): a
// line-delimited request/response client over the hypervisor's vsock,
// connecting to port 9001 on the guest CID 3. Grounded directly on the
// teacher's internal/vmm/channel.go (NetControlChannel: bufio.Scanner over
// a net.Conn, context-deadline-aware Send/Recv), generalized from JSON-RPC
// 2.0 framing to this spec's simpler {"execute":...}/{"return":...} wire
// format, and dialed with github.com/mdlayher/vsock instead of a unix
// socket.
package guestagent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/aegisorg/vm/internal/vmerrors"
)

// GuestPort is the fixed vsock port the in-guest agent listens on.
const GuestPort = 9001

// GuestCID is the well-known CID of the guest from the host's perspective
// for a single-VM vsock connection (Cloud Hypervisor assigns CID 3 to the
// guest side of a VM's vsock device).
const GuestCID = 3

// request is the wire request envelope.
type request struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
}

// response is the wire response envelope.
type response struct {
	Return json.RawMessage `json:"return,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

// Dialer opens vsock connections to a VM's guest agent. Abstracted so tests
// can substitute an in-memory transport.
type Dialer func(cid, port uint32) (Conn, error)

// Conn is the minimal connection surface the channel needs.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// VsockDialer dials a real AF_VSOCK connection via mdlayher/vsock.
func VsockDialer(cid, port uint32) (Conn, error) {
	c, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Channel is an idempotently-connecting client over one vsock endpoint.
type Channel struct {
	cid, port uint32
	dial      Dialer

	mu   sync.Mutex
	conn Conn
	rd   *bufio.Reader
}

// New returns a channel that dials cid:port on demand via dial (use
// VsockDialer for production).
func New(cid, port uint32, dial Dialer) *Channel {
	return &Channel{cid: cid, port: port, dial: dial}
}

// connect is idempotent: a channel already holding a live connection is a
// no-op.
func (c *Channel) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := c.dial(c.cid, c.port)
	if err != nil {
		return &vmerrors.GuestAgentError{Kind: vmerrors.NotConnected, Err: err}
	}
	c.conn = conn
	c.rd = bufio.NewReader(conn)
	return nil
}

// Close tears down the underlying connection, if any.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rd = nil
	return err
}

// SendCommand runs one request/response round trip, racing it against a
// timer; the first to complete wins and the other is abandoned.
func (c *Channel) SendCommand(ctx context.Context, verb string, args interface{}, timeout time.Duration) (json.RawMessage, error) {
	if err := c.connect(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp response
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := c.roundTrip(verb, args, timeout)
		resultCh <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &vmerrors.GuestAgentError{Kind: vmerrors.AgentTimeout, Msg: fmt.Sprintf("%s timed out after %s", verb, timeout)}
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp.Error != nil {
			return nil, vmerrors.NewAgentError(r.resp.Error.Desc)
		}
		return r.resp.Return, nil
	}
}

func (c *Channel) roundTrip(verb string, args interface{}, timeout time.Duration) (response, error) {
	c.mu.Lock()
	conn := c.conn
	rd := c.rd
	c.mu.Unlock()
	if conn == nil {
		return response{}, &vmerrors.GuestAgentError{Kind: vmerrors.NotConnected}
	}

	req := request{Execute: verb, Arguments: args}
	line, err := json.Marshal(req)
	if err != nil {
		return response{}, &vmerrors.GuestAgentError{Kind: vmerrors.EncodingError, Err: err}
	}
	line = append(line, '\n')

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(line); err != nil {
		return response{}, &vmerrors.GuestAgentError{Kind: vmerrors.NotConnected, Err: err}
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	respLine, err := rd.ReadBytes('\n')
	if err != nil && len(respLine) == 0 {
		return response{}, &vmerrors.GuestAgentError{Kind: vmerrors.NotConnected, Err: err}
	}

	var resp response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return response{}, &vmerrors.GuestAgentError{Kind: vmerrors.DecodingError, Err: err}
	}
	return resp, nil
}

// Ping issues guest-ping, returning true on success and false on any
// GuestAgentError (per scenario 6: an error response makes Ping report
// false rather than propagating).
func (c *Channel) Ping(ctx context.Context, timeout time.Duration) bool {
	_, err := c.SendCommand(ctx, "guest-ping", nil, timeout)
	return err == nil
}

// IPAddress mirrors vmstore.IPAddress for the wire response shape.
type IPAddress struct {
	Type   string `json:"ip-address-type,omitempty"`
	Addr   string `json:"ip-address"`
	Prefix int    `json:"prefix,omitempty"`
}

// NetworkInterface mirrors vmstore.NetworkInterface for the wire response
// shape.
type NetworkInterface struct {
	Name    string      `json:"name"`
	HWAddr  string      `json:"hardware-address,omitempty"`
	IPAddrs []IPAddress `json:"ip-addresses,omitempty"`
}

// GetNetworkInterfaces issues guest-network-get-interfaces.
func (c *Channel) GetNetworkInterfaces(ctx context.Context, timeout time.Duration) ([]NetworkInterface, error) {
	raw, err := c.SendCommand(ctx, "guest-network-get-interfaces", nil, timeout)
	if err != nil {
		return nil, err
	}
	var ifaces []NetworkInterface
	if err := json.Unmarshal(raw, &ifaces); err != nil {
		return nil, &vmerrors.GuestAgentError{Kind: vmerrors.InvalidResponse, Err: err}
	}
	return ifaces, nil
}
