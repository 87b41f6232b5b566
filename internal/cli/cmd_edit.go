package cli

import (
	"fmt"

	"github.com/aegisorg/vm/internal/diskutil"
	"github.com/aegisorg/vm/internal/sizeutil"
	"github.com/aegisorg/vm/internal/spawner"
	"github.com/aegisorg/vm/internal/vmerrors"
	"github.com/aegisorg/vm/internal/vmstore"
)

// cmdEdit implements `vm edit <name> [--cpus N] [--memory S]`: refuses to
// touch a running VM's configuration, since the engine is only built once
// at start (spec §4.4 "Build ... validate() is called before return").
func (a *App) cmdEdit(args []string) error {
	s, err := scanArgs(args, map[string]bool{"cpus": true, "memory": true})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm edit <name> [--cpus N] [--memory SIZE]")
	}
	name := pos[0]

	if running, _ := a.Store.IsRunning(name); running {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError, fmt.Sprintf("%s is currently running; stop it before editing", name))
	}

	cfg, err := a.Store.LoadConfiguration(name)
	if err != nil {
		return err
	}

	if cpus, err := s.Int("cpus", cfg.CPUCount); err != nil {
		return err
	} else {
		cfg.CPUCount = cpus
	}
	if memStr := s.String("memory", ""); memStr != "" {
		mem, err := sizeutil.Parse(memStr)
		if err != nil {
			return fmt.Errorf("--memory: %w", err)
		}
		cfg.MemorySize = mem
	}

	if err := vmstore.ValidateConfiguration(cfg, vmstore.HostMemoryBytes()); err != nil {
		return err
	}
	if err := a.Store.SaveConfiguration(cfg); err != nil {
		return err
	}
	a.record(name, "edit", "", true)
	fmt.Printf("Updated VM %q\n", name)
	return nil
}

// cmdResize implements `vm resize <name> --size S` (spec §6/§8 scenario 5):
// grows the disk image and persists the new disk_size; shrinking fails
// DiskError::ResizeFailed.
func (a *App) cmdResize(args []string) error {
	s, err := scanArgs(args, map[string]bool{"size": true})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm resize <name> --size SIZE")
	}
	name := pos[0]

	sizeStr := s.String("size", "")
	if sizeStr == "" {
		return fmt.Errorf("--size is required")
	}
	newSize, err := sizeutil.Parse(sizeStr)
	if err != nil {
		return fmt.Errorf("--size: %w", err)
	}

	if running, _ := a.Store.IsRunning(name); running {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError, fmt.Sprintf("%s is currently running; stop it before resizing", name))
	}

	cfg, err := a.Store.LoadConfiguration(name)
	if err != nil {
		return err
	}

	diskPath := a.Store.DiskPath(name, cfg.DiskImagePath)
	if err := diskutil.ResizeGrow(diskPath, cfg.DiskSize, newSize); err != nil {
		a.record(name, "resize", err.Error(), false)
		return err
	}

	cfg.DiskSize = newSize
	if err := a.Store.SaveConfiguration(cfg); err != nil {
		return err
	}
	a.record(name, "resize", sizeutil.Format(newSize), true)
	fmt.Printf("Resized %q to %s\n", name, sizeutil.Format(newSize))
	return nil
}

// cmdDelete implements `vm delete <name> [-f|--force]` (spec §8 scenario
// 4): refuses while running unless -f/--force, in which case it stops the
// VM first.
func (a *App) cmdDelete(args []string) error {
	s, err := scanArgs(args, map[string]bool{})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm delete <name> [-f|--force]")
	}
	name := pos[0]

	if name == vmstore.RescueName {
		return vmerrors.NewManagerError(vmerrors.InvalidVmName, "the rescue VM cannot be deleted directly")
	}

	if pid, running, _ := a.Store.GetRunningPID(name); running {
		if !s.Bool("f") && !s.Bool("force") {
			return vmerrors.NewManagerError(vmerrors.ConfigurationError, fmt.Sprintf("%s is currently running; stop it first or pass --force", name))
		}
		if err := spawner.StopDaemon(pid, stopSigtermGrace); err != nil {
			return err
		}
	}

	if err := a.Store.DeleteVM(name); err != nil {
		a.record(name, "delete", err.Error(), false)
		return err
	}
	a.record(name, "delete", "", true)
	fmt.Printf("Deleted VM %q\n", name)
	return nil
}
