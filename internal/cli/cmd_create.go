package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/aegisorg/vm/internal/cloudinit"
	"github.com/aegisorg/vm/internal/diskutil"
	"github.com/aegisorg/vm/internal/sizeutil"
	"github.com/aegisorg/vm/internal/vmerrors"
	"github.com/aegisorg/vm/internal/vmstore"
)

var createValueFlags = map[string]bool{
	"iso": true, "disk-size": true, "cpus": true, "memory": true,
}

// cmdCreate implements `vm create <name> [--iso P] [--disk-size S]
// [--cpus N] [--memory S] [--interactive]` (spec §6): allocates a fresh
// sparse disk image, a cloud-init seed ISO, and an ssh_config stub, then
// writes config.json. With --interactive, it starts the VM immediately
// after creation.
func (a *App) cmdCreate(args []string) error {
	s, err := scanArgs(args, createValueFlags)
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm create <name> [--iso PATH] [--disk-size SIZE] [--cpus N] [--memory SIZE] [--interactive]")
	}
	name := pos[0]

	cpus, err := s.Int("cpus", a.Config.DefaultVCPUs)
	if err != nil {
		return err
	}
	memStr := s.String("memory", sizeutil.Format(int64(a.Config.DefaultMemoryMB)<<20))
	memBytes, err := sizeutil.Parse(memStr)
	if err != nil {
		return fmt.Errorf("--memory: %w", err)
	}
	diskStr := s.String("disk-size", sizeutil.Format(int64(a.Config.DefaultDiskSizeGB)<<30))
	diskBytes, err := sizeutil.Parse(diskStr)
	if err != nil {
		return fmt.Errorf("--disk-size: %w", err)
	}
	isoPath := s.String("iso", "")

	mac, err := vmstore.GenerateMACAddress()
	if err != nil {
		return fmt.Errorf("generate mac address: %w", err)
	}

	cfg := &vmstore.VMConfiguration{
		Name:          name,
		CPUCount:      cpus,
		MemorySize:    memBytes,
		DiskImagePath: "disk.img",
		DiskSize:      diskBytes,
		ISOPath:       isoPath,
		MACAddress:    mac,
	}
	if err := vmstore.ValidateConfiguration(cfg, vmstore.HostMemoryBytes()); err != nil {
		return err
	}

	if err := a.Store.CreateVM(cfg); err != nil {
		a.record(name, "create", err.Error(), false)
		return err
	}

	diskPath := a.Store.DiskPath(name, cfg.DiskImagePath)
	if err := diskutil.CreateSparse(diskPath, diskBytes); err != nil {
		_ = a.Store.DeleteVM(name)
		a.record(name, "create", err.Error(), false)
		return err
	}

	if err := cloudinit.Build(cloudinit.Config{
		Hostname:          name,
		Username:          "vm",
		GuestAgentInstall: guestAgentInstallSnippet,
	}, a.Store.CloudInitISOPath(name)); err != nil {
		a.Log.Warn("cloud-init ISO build failed, VM will boot without a seed", "error", err)
	}

	if err := writeSSHConfigStub(a.Store.SSHConfigPath(name), name); err != nil {
		a.Log.Debug("ssh_config stub write failed", "error", err)
	}

	a.record(name, "create", "", true)
	fmt.Printf("Created VM %q\n", name)

	if s.Bool("interactive") {
		return a.startAndAttach(name, false)
	}
	return nil
}

var importValueFlags = map[string]bool{
	"disk": true, "cpus": true, "memory": true, "size": true,
}

// cmdImport implements `vm import <name> --disk P [--copy] [--cpus N]
// [--memory S] [--size S]`: registers an externally supplied disk image,
// either in place (a symlink) or copied, as a new VM.
func (a *App) cmdImport(args []string) error {
	s, err := scanArgs(args, importValueFlags)
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm import <name> --disk PATH [--copy] [--cpus N] [--memory SIZE] [--size SIZE]")
	}
	name := pos[0]

	srcDisk := s.String("disk", "")
	if srcDisk == "" {
		return fmt.Errorf("--disk is required")
	}
	srcInfo, err := os.Stat(srcDisk)
	if err != nil {
		return vmerrors.NewDiskError(vmerrors.DiskFileNotFound, srcDisk)
	}

	cpus, err := s.Int("cpus", a.Config.DefaultVCPUs)
	if err != nil {
		return err
	}
	memStr := s.String("memory", sizeutil.Format(int64(a.Config.DefaultMemoryMB)<<20))
	memBytes, err := sizeutil.Parse(memStr)
	if err != nil {
		return fmt.Errorf("--memory: %w", err)
	}

	diskSize := srcInfo.Size()
	if sizeFlag := s.String("size", ""); sizeFlag != "" {
		parsed, err := sizeutil.Parse(sizeFlag)
		if err != nil {
			return fmt.Errorf("--size: %w", err)
		}
		diskSize = parsed
	}

	mac, err := vmstore.GenerateMACAddress()
	if err != nil {
		return fmt.Errorf("generate mac address: %w", err)
	}

	cfg := &vmstore.VMConfiguration{
		Name:          name,
		CPUCount:      cpus,
		MemorySize:    memBytes,
		DiskImagePath: "disk.img",
		DiskSize:      diskSize,
		MACAddress:    mac,
	}
	if err := vmstore.ValidateConfiguration(cfg, vmstore.HostMemoryBytes()); err != nil {
		return err
	}

	if err := a.Store.CreateVM(cfg); err != nil {
		a.record(name, "create", err.Error(), false)
		return err
	}

	diskDst := a.Store.DiskPath(name, cfg.DiskImagePath)
	if s.Bool("copy") {
		err = diskutil.CopyFile(srcDisk, diskDst)
	} else {
		err = diskutil.Symlink(srcDisk, diskDst)
	}
	if err != nil {
		_ = a.Store.DeleteVM(name)
		a.record(name, "create", err.Error(), false)
		return err
	}

	if s.Bool("copy") && diskSize > srcInfo.Size() {
		if err := diskutil.ResizeGrow(diskDst, srcInfo.Size(), diskSize); err != nil {
			a.Log.Warn("grow imported disk to requested size failed", "error", err)
		}
	}

	a.record(name, "create", "imported", true)
	fmt.Printf("Imported %q as VM %q\n", srcDisk, name)
	return nil
}

const guestAgentInstallSnippet = `install -m 0755 /dev/null /usr/local/bin/vm-guest-agent
systemctl enable --now vm-guest-agent.service || true`

func writeSSHConfigStub(path, name string) error {
	content := fmt.Sprintf("# ssh_config for VM %q, generated %s\n# The guest's IP is not recorded here; `vm ip %s` prints it.\nHost %s\n  User vm\n  StrictHostKeyChecking no\n  UserKnownHostsFile /dev/null\n",
		name, time.Now().UTC().Format(time.RFC3339), name, name)
	return os.WriteFile(path, []byte(content), 0o600)
}
