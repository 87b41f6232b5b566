// Package vmengine implements the VM engine interface (spec §4.4): an
// opaque handle wrapping the host hypervisor. This repo's sole concrete
// backend drives Cloud Hypervisor over its REST API on a unix control
// socket, grounded directly on the teacher's internal/vmm/vmm.go (interface
// shape) and internal/vmm/cloudhv.go (process spawn, REST calls, tap/NAT
// setup). Unlike the teacher's CloudHypervisorVMM, which is a multi-tenant
// registry keyed by instance ID, one Engine here owns exactly one VM for
// the lifetime of a single run-daemon process.
package vmengine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aegisorg/vm/internal/vmerrors"
	"github.com/aegisorg/vm/internal/vmstore"
)

// State is the engine's observable lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateError    State = "error"
)

// StartOptions are the ephemeral VM start options (spec §3).
type StartOptions struct {
	AttachISO              bool
	SecondaryDisk          string // optional path
	EnableGuestAgent       bool
	EnableDirectorySharing bool
}

// RescueOptions returns the preset for booting the reserved rescue VM
// against targetDisk.
func RescueOptions(targetDisk string) StartOptions {
	return StartOptions{
		AttachISO:              false,
		SecondaryDisk:          targetDisk,
		EnableGuestAgent:       false,
		EnableDirectorySharing: false,
	}
}

// Event is delivered to the daemon's delegate on a state transition that
// originates from the hypervisor rather than from a caller's Stop/Pause
// call (spec §4.4's did_stop/guest_did_stop, spec §9's note that these
// callbacks arrive on an engine-owned thread and must be translated into
// messages rather than used to mutate shared state directly).
type Event struct {
	Kind        EventKind
	Err         error
}

type EventKind int

const (
	EventDidStop EventKind = iota
	EventGuestDidStop
)

// Engine wraps one Cloud Hypervisor child process for one VM.
type Engine struct {
	cfg    *vmstore.VMConfiguration
	opts   StartOptions
	paths  Paths
	serialIn  io.Reader
	serialOut io.Writer

	net Network

	mu     sync.Mutex
	state  State
	proc   *chProcess

	events chan Event
}

// Paths are the filesystem locations the engine needs, resolved by the
// caller from vmstore.
type Paths struct {
	DiskImage    string
	SecondaryDisk string
	ISOPath      string
	CloudInitISO string
	NVRAM        string
	ControlSocket string // Cloud Hypervisor's own API socket, not console.sock
	VsockSocket  string
	// CloudHypervisorBin overrides the "cloud-hypervisor" binary resolved
	// from PATH, typically Config.CloudHypervisorBin from internal/config's
	// FindBinary search.
	CloudHypervisorBin string
}

// Build composes the engine configuration: CPU, memory, EFI firmware (new
// NVRAM on first boot else load existing), block devices in order
// [main, secondary?, iso?, cloud_init?], one NAT network device, one
// virtio-console serial port bound to serialIn/serialOut, entropy device,
// memory balloon, optional vsock device. No keyboard, pointing device or
// directory share is configured. validate() is implied by the constructor
// checks below; Build never talks to the hypervisor.
func Build(cfg *vmstore.VMConfiguration, opts StartOptions, paths Paths, serialIn io.Reader, serialOut io.Writer, net Network) (*Engine, error) {
	if cfg.CPUCount < 1 {
		return nil, vmerrors.NewRunnerError(vmerrors.RunnerConfigurationError, "cpu_count must be >= 1")
	}
	if cfg.MemorySize <= 0 {
		return nil, vmerrors.NewRunnerError(vmerrors.RunnerConfigurationError, "memory_size must be > 0")
	}
	if !vmstore.ValidMACAddress(cfg.MACAddress) {
		mac, err := vmstore.GenerateMACAddress()
		if err != nil {
			return nil, vmerrors.NewRunnerError(vmerrors.RunnerConfigurationError, "mac address invalid and regeneration failed: "+err.Error())
		}
		cfg.MACAddress = mac
	}
	return &Engine{
		cfg:       cfg,
		opts:      opts,
		paths:     paths,
		serialIn:  serialIn,
		serialOut: serialOut,
		net:       net,
		state:     StateStopped,
		events:    make(chan Event, 8),
	}, nil
}

// Events returns the channel of hypervisor-originated lifecycle events.
func (e *Engine) Events() <-chan Event { return e.events }

// State returns the current observable state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Start launches the Cloud Hypervisor process and issues vm.create/vm.boot
// over its REST API.
func (e *Engine) Start(ctx context.Context) error {
	e.setState(StateStarting)

	proc, err := startCloudHypervisor(ctx, e.cfg, e.opts, e.paths, e.serialIn, e.serialOut, e.net)
	if err != nil {
		e.setState(StateError)
		return vmerrors.NewRunnerError(vmerrors.RunnerBootError, err.Error())
	}

	e.mu.Lock()
	e.proc = proc
	e.mu.Unlock()

	go e.watchProcess(proc)

	e.setState(StateRunning)
	return nil
}

// watchProcess waits for the child process to exit, sets the state to
// StateStopped (unless the engine is paused), and then sends a did_stop
// event.
func (e *Engine) watchProcess(proc *chProcess) {
	err := proc.wait()
	if e.State() != StatePaused {
		e.setState(StateStopped)
	}
	e.events <- Event{Kind: EventDidStop, Err: err}
}

// Stop requests a graceful shutdown and polls for up to 60s at 500ms ticks
// before forcing, per spec §4.4.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil {
		return nil
	}

	if err := proc.requestShutdown(ctx); err != nil {
		return e.ForceStop(ctx)
	}

	deadline := time.Now().Add(60 * time.Second)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if e.State() == StateStopped {
			return nil
		}
		select {
		case <-ctx.Done():
			return e.ForceStop(context.Background())
		case <-ticker.C:
		}
	}
	return e.ForceStop(ctx)
}

// ForceStop kills the Cloud Hypervisor process immediately.
func (e *Engine) ForceStop(ctx context.Context) error {
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil {
		return nil
	}
	err := proc.kill()
	e.setState(StateStopped)
	return err
}

// Pause suspends the VM via the REST API.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("pause: engine not started")
	}
	if err := proc.pause(ctx); err != nil {
		return err
	}
	e.setState(StatePaused)
	return nil
}

// Resume resumes a paused VM.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("resume: engine not started")
	}
	if err := proc.resume(ctx); err != nil {
		return err
	}
	e.setState(StateRunning)
	return nil
}

// WaitUntilStopped blocks until the engine reaches StateStopped or
// StateError, or ctx is cancelled.
func (e *Engine) WaitUntilStopped(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch e.State() {
		case StateStopped, StateError:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GuestAgentEndpoint returns the vsock CID/port pair for the guest agent if
// one was configured, or ok=false otherwise.
func (e *Engine) GuestAgentEndpoint() (cid, port uint32, ok bool) {
	if !e.opts.EnableGuestAgent {
		return 0, 0, false
	}
	return 3, 9001, true
}
