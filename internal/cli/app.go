// Package cli implements the command surface (spec §6): argument parsing,
// dispatch, and human-readable table rendering for every top-level verb.
// Grounded on the teacher's cmd/aegis/main.go: a manual os.Args switch with
// one cmdXxx function per verb, no cobra/pflag, and the same ANSI
// color-constant idiom for table/field rendering.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aegisorg/vm/internal/config"
	"github.com/aegisorg/vm/internal/eventlog"
	"github.com/aegisorg/vm/internal/vmengine"
	"github.com/aegisorg/vm/internal/vmlog"
	"github.com/aegisorg/vm/internal/vmstore"
)

// App bundles the dependencies every command needs: resolved config, the
// VM store, the best-effort event log, and a stderr logger. One App is
// built per process invocation.
type App struct {
	Config  *config.Config
	Store   *vmstore.Store
	Events  *eventlog.DB // nil if unavailable; never blocks a command
	Log     *slog.Logger
}

// NewApp resolves the default configuration, ensures its directories
// exist, and opens the store and (best-effort) event log.
func NewApp() (*App, error) {
	cfg, err := config.DefaultConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	// Optional: commands that never touch the hypervisor (list, info,
	// edit, delete on a stopped VM, ...) must keep working on a host
	// without cloud-hypervisor installed, so a resolution failure here is
	// logged, not fatal.
	binErr := cfg.ResolveBinaries()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: vmlog.ParseLevel(os.Getenv("VM_LOG_LEVEL")),
	}))
	if binErr != nil {
		log.Debug("host binaries not resolved", "error", binErr)
	}

	app := &App{
		Config: cfg,
		Store:  vmstore.New(cfg.HomeDir),
		Log:    log,
	}

	if db, err := eventlog.Open(filepath.Join(cfg.HomeDir, ".cache", "events.db")); err == nil {
		app.Events = db
	} else {
		log.Debug("event log unavailable, continuing without audit trail", "error", err)
	}

	return app, nil
}

// Close releases app-level resources. Safe to call on a nil Events.
func (a *App) Close() {
	if a.Events != nil {
		_ = a.Events.Close()
	}
}

// record appends a best-effort audit row; failures are logged, never
// surfaced, per spec §9's "diagnostic, never authoritative" rule.
func (a *App) record(vmName, action, detail string, succeeded bool) {
	if a.Events == nil {
		return
	}
	if err := a.Events.Record(vmName, action, detail, succeeded); err != nil {
		a.Log.Debug("event log write failed", "error", err)
	}
}

// network builds the Network backend this host should use, auto-detected
// from privilege unless overridden.
func (a *App) network() vmengine.Network {
	a.Config.ResolveNetworkBackend()
	if a.Config.NetworkBackend == "tap" {
		return vmengine.NewTapNetwork()
	}
	return vmengine.NewGvproxyNetwork()
}

// exePath returns the path to the currently running binary, used to
// re-exec ourselves into `run-daemon` (spec §4.9).
func exePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	return exe, nil
}
