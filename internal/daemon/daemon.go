// Package daemon implements the daemon loop (spec §4.8): the heart of the
// runtime, orchestrating vmstore, vmengine, the console multiplexer, and
// the guest-agent poller inside one OS process per running VM. Grounded on
// the teacher's cmd/aegisd/main.go startup/shutdown ordering (resolve
// config, open dependent stores, install signal handlers, run until
// signalled, scoped teardown) and internal/lifecycle/manager.go's
// state-change delegate shape, generalized from one process managing many
// instances to one process managing exactly one VM.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aegisorg/vm/internal/console"
	"github.com/aegisorg/vm/internal/eventlog"
	"github.com/aegisorg/vm/internal/guestagent"
	"github.com/aegisorg/vm/internal/vmengine"
	"github.com/aegisorg/vm/internal/vmerrors"
	"github.com/aegisorg/vm/internal/vmlog"
	"github.com/aegisorg/vm/internal/vmstore"
)

// Options are the run-daemon flags (spec §4.8's "run-daemon <name> [--iso]
// [--rescue --target-disk <path>]").
type Options struct {
	Name               string
	AttachISO          bool
	Rescue             bool
	TargetDisk         string
	CloudHypervisorBin string // resolved by internal/config.ResolveBinaries; empty falls back to PATH
}

// Run executes the full daemon sequence against store, blocking until the
// VM stops naturally or an exit signal is handled. It returns the error
// that should become the process's exit status, or nil on clean stop.
// events is the supplemental lifecycle audit trail (spec §9); it may be
// nil, in which case no rows are recorded.
func Run(ctx context.Context, store *vmstore.Store, network vmengine.Network, opts Options, events *eventlog.DB) error {
	if opts.Rescue {
		if opts.Name != vmstore.RescueName || opts.TargetDisk == "" {
			return fmt.Errorf("rescue mode requires the reserved rescue name and --target-disk")
		}
	} else if opts.TargetDisk != "" {
		return fmt.Errorf("--target-disk is only valid with --rescue")
	}

	// A previous run-daemon's vm.log is rotated aside before this run opens
	// its own, so restarts and repeated rescue sessions don't append to (or
	// silently inherit) the prior boot's log.
	if err := vmlog.Rotate(store.LogPath(opts.Name)); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}

	log, err := vmlog.Get(store.LogPath(opts.Name))
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer vmlog.CloseAll()

	cfg, err := store.LoadConfiguration(opts.Name)
	if err != nil {
		return err
	}

	if err := validateDiskPresence(store, cfg, opts); err != nil {
		return err
	}

	serialInRead, serialInWrite := io.Pipe()
	serialOutRead, serialOutWrite := io.Pipe()

	var startOpts vmengine.StartOptions
	if opts.Rescue {
		startOpts = vmengine.RescueOptions(opts.TargetDisk)
	} else {
		startOpts = vmengine.StartOptions{AttachISO: opts.AttachISO, EnableGuestAgent: true}
	}

	paths := vmengine.Paths{
		DiskImage:     store.DiskPath(opts.Name, cfg.DiskImagePath),
		ISOPath:       cfg.ISOPath,
		CloudInitISO:  store.CloudInitISOPath(opts.Name),
		NVRAM:         store.NVRAMPath(opts.Name),
		ControlSocket: store.DiskPath(opts.Name, "ch-api.sock"),
		VsockSocket:   store.DiskPath(opts.Name, "guest-agent.sock"),
		CloudHypervisorBin: opts.CloudHypervisorBin,
	}
	if startOpts.SecondaryDisk != "" {
		paths.SecondaryDisk = startOpts.SecondaryDisk
	}

	engine, err := vmengine.Build(cfg, startOpts, paths, serialInRead, serialOutWrite, network)
	if err != nil {
		return err
	}

	if err := store.SaveRuntimeInfo(opts.Name, &vmstore.VMRuntimeInfo{
		PID:       int32(os.Getpid()),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("write vm.pid: %w", err)
	}
	defer cleanup(store, opts)

	log.Info("starting engine", "vm", opts.Name, "rescue", opts.Rescue)
	if err := engine.Start(ctx); err != nil {
		log.Error("engine start failed", "error", err)
		recordEvent(events, opts.Name, "start", err.Error(), false)
		return err
	}
	recordEvent(events, opts.Name, "start", "", true)

	mux := console.New()
	if err := mux.Start(store.ConsoleSockPath(opts.Name), serialInWrite, serialOutRead); err != nil {
		log.Error("console multiplexer failed to start", "error", err)
		_ = engine.ForceStop(ctx)
		return err
	}
	defer mux.Stop()

	var pollerCancel context.CancelFunc
	if !opts.Rescue {
		if cid, port, ok := engine.GuestAgentEndpoint(); ok {
			pollCtx, cancel := context.WithCancel(ctx)
			pollerCancel = cancel
			ch := guestagent.New(cid, port, guestagent.VsockDialer)
			poller := guestagent.NewPoller(ch, &storeSink{store: store, name: opts.Name}, log)
			go poller.Run(pollCtx)
		}
	}
	if pollerCancel != nil {
		defer pollerCancel()
	}

	exitFlag := int32(0)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		atomic.StoreInt32(&exitFlag, 1)
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			atomic.StoreInt32(&exitFlag, 1)
		}

		switch engine.State() {
		case vmengine.StateStopped:
			log.Info("engine stopped", "vm", opts.Name)
			recordEvent(events, opts.Name, "stop", "", true)
			return nil
		case vmengine.StateError:
			log.Info("engine stopped with error", "vm", opts.Name)
			recordEvent(events, opts.Name, "crashed", "", false)
			return nil
		}

		if atomic.LoadInt32(&exitFlag) == 1 {
			log.Info("exit signal received, stopping engine", "vm", opts.Name)
			err := engine.Stop(context.Background())
			recordEvent(events, opts.Name, "stop", "", err == nil)
			return err
		}
	}
}

// recordEvent is a best-effort audit write; events may be nil when the
// event log is unavailable (spec §9: "diagnostic, never authoritative").
func recordEvent(events *eventlog.DB, vmName, action, detail string, succeeded bool) {
	if events == nil {
		return
	}
	_ = events.Record(vmName, action, detail, succeeded)
}

// validateDiskPresence implements spec §4.8 step 4.
func validateDiskPresence(store *vmstore.Store, cfg *vmstore.VMConfiguration, opts Options) error {
	diskPath := store.DiskPath(opts.Name, cfg.DiskImagePath)
	if _, err := os.Stat(diskPath); err != nil {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError, fmt.Sprintf("disk image not found: %s", diskPath))
	}
	if opts.AttachISO {
		if cfg.ISOPath == "" {
			return vmerrors.NewManagerError(vmerrors.ConfigurationError, "--iso given but no iso_path is configured")
		}
		if _, err := os.Stat(cfg.ISOPath); err != nil {
			return vmerrors.NewManagerError(vmerrors.ConfigurationError, fmt.Sprintf("iso_path not found: %s", cfg.ISOPath))
		}
	}
	return nil
}

// cleanup is the scoped cleanup of spec §4.8 step 7: vm.pid always, plus
// network-info.json for normal VMs. In rescue mode only vm.pid is removed;
// no rescue-target marker is kept or cleared.
func cleanup(store *vmstore.Store, opts Options) {
	_ = store.ClearRuntimeInfo(opts.Name)
	if !opts.Rescue {
		_ = store.ClearNetworkInfo(opts.Name)
	}
}

// storeSink adapts vmstore.Store to guestagent.Sink.
type storeSink struct {
	store *vmstore.Store
	name  string
}

func (s *storeSink) SaveNetworkInfo(ifaces []guestagent.NetworkInterface, queriedAt time.Time) error {
	converted := make([]vmstore.NetworkInterface, len(ifaces))
	for i, iface := range ifaces {
		addrs := make([]vmstore.IPAddress, len(iface.IPAddrs))
		for j, a := range iface.IPAddrs {
			addrs[j] = vmstore.IPAddress{Type: a.Type, Addr: a.Addr, Prefix: a.Prefix}
		}
		converted[i] = vmstore.NetworkInterface{Name: iface.Name, HWAddr: iface.HWAddr, IPAddrs: addrs}
	}
	return s.store.SaveNetworkInfo(s.name, &vmstore.NetworkInfo{
		Interfaces: converted,
		QueriedAt:  queriedAt.Format(time.RFC3339),
	})
}
