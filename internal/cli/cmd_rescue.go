package cli

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/aegisorg/vm/internal/diskutil"
	"github.com/aegisorg/vm/internal/rescue"
	"github.com/aegisorg/vm/internal/spawner"
	"github.com/aegisorg/vm/internal/vmerrors"
	"github.com/aegisorg/vm/internal/vmstore"
)

// cmdRescue implements `vm rescue <name> [--force-download] [--offline]`
// (spec §1 glossary "Rescue VM"): pulls/caches the rescue disk image,
// (re)points the reserved rescue VM's config at it, boots the rescue VM
// with <name>'s disk attached as a secondary device, and attaches an
// interactive console.
func (a *App) cmdRescue(args []string) error {
	s, err := scanArgs(args, map[string]bool{})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm rescue <name> [--force-download] [--offline]")
	}
	targetName := pos[0]

	targetCfg, err := a.Store.LoadConfiguration(targetName)
	if err != nil {
		return err
	}
	if running, _ := a.Store.IsRunning(targetName); running {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError, fmt.Sprintf("%s is currently running; stop it before rescuing", targetName))
	}
	if running, _ := a.Store.IsRunning(vmstore.RescueName); running {
		return vmerrors.NewRunnerError(vmerrors.RunnerAlreadyRunning, vmstore.RescueName)
	}

	targetDisk := a.Store.DiskPath(targetName, targetCfg.DiskImagePath)

	cache := rescue.NewCache(filepath.Join(a.Config.HomeDir, ".cache", "rescue"), a.Log)
	rescueDiskPath, err := cache.GetOrPull(context.Background(), rescue.DefaultRef, s.Bool("offline"), s.Bool("force-download"))
	if err != nil {
		a.record(targetName, "rescue", err.Error(), false)
		return err
	}

	if err := a.ensureRescueVM(rescueDiskPath); err != nil {
		return err
	}

	exe, err := exePath()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, "run-daemon", vmstore.RescueName, "--rescue", "--target-disk", targetDisk)

	result, err := spawner.SpawnAndWaitForSocket(cmd, a.Store, vmstore.RescueName, rescueSocketWait, true)
	if err != nil {
		a.record(targetName, "rescue", err.Error(), false)
		return err
	}
	a.record(targetName, "rescue", "", true)
	fmt.Printf("Rescue VM attached to %q's disk (pid %d)\n", targetName, result.PID)
	return attachSession(result.SocketPath)
}

// ensureRescueVM creates or updates the reserved rescue VM's config to
// point disk_image_path at diskPath, the cached rescue image.
func (a *App) ensureRescueVM(diskPath string) error {
	size, err := diskutil.Size(diskPath)
	if err != nil {
		return err
	}

	mac, err := vmstore.GenerateMACAddress()
	if err != nil {
		return err
	}

	cfg, err := a.Store.LoadConfiguration(vmstore.RescueName)
	if err != nil {
		cfg = &vmstore.VMConfiguration{
			Name:          vmstore.RescueName,
			CPUCount:      1,
			MemorySize:    1 << 30,
			DiskImagePath: diskPath,
			DiskSize:      size,
			MACAddress:    mac,
		}
		return a.Store.CreateVM(cfg)
	}
	cfg.DiskImagePath = diskPath
	cfg.DiskSize = size
	return a.Store.SaveConfiguration(cfg)
}
