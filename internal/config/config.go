// Package config resolves the manager's data directory layout and locates
// the host binaries (Cloud Hypervisor, virtiofsd, genisoimage) it shells out
// to. Adapted from the teacher's internal/config package: same
// FindBinary/EnsureDirs shape, generalized from a single central data
// directory shared by a multi-tenant daemon into the per-VM layout rooted at
// $HOME/.vm that this spec requires.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Config holds resolved host paths and defaults.
type Config struct {
	HomeDir            string // $HOME/.vm
	RescueCacheDir      string // $HOME/.vm/.cache/rescue
	DefaultMemoryMB     int
	DefaultVCPUs        int
	DefaultDiskSizeGB   int
	CloudHypervisorBin  string
	VirtiofsdBin        string
	GenisoimageBin      string
	NetworkBackend      string // "tap" or "gvproxy"
}

// DefaultConfig returns the default configuration before binary resolution.
func DefaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	base := filepath.Join(home, ".vm")
	return &Config{
		HomeDir:           base,
		RescueCacheDir:    filepath.Join(base, ".cache", "rescue"),
		DefaultMemoryMB:   2048,
		DefaultVCPUs:      2,
		DefaultDiskSizeGB: 20,
	}, nil
}

// EnsureDirs creates the directories this config needs, 0700.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.HomeDir, c.RescueCacheDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// VMDir returns the per-VM directory for the given validated name.
func (c *Config) VMDir(name string) string {
	return filepath.Join(c.HomeDir, name)
}

// ResolveBinaries locates the external tools the engine and cloud-init
// collaborator shell out to. Missing optional binaries (virtiofsd) are left
// empty rather than erroring; missing required ones fail.
func (c *Config) ResolveBinaries() error {
	bin, err := FindBinary("cloud-hypervisor")
	if err != nil {
		return fmt.Errorf("locate cloud-hypervisor: %w", err)
	}
	c.CloudHypervisorBin = bin

	if bin, err := FindBinary("virtiofsd"); err == nil {
		c.VirtiofsdBin = bin
	}
	if bin, err := FindBinary("genisoimage"); err == nil {
		c.GenisoimageBin = bin
	} else if bin, err := FindBinary("xorriso"); err == nil {
		c.GenisoimageBin = bin
	}
	return nil
}

// FindBinary searches PATH, then the directory containing the running
// executable, then a short list of well-known system paths.
func FindBinary(name string) (string, error) {
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}

	for _, dir := range []string{"/usr/local/bin", "/usr/bin", "/opt/cloud-hypervisor/bin"} {
		candidate := filepath.Join(dir, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("binary %q not found in PATH, alongside executable, or in known system paths", name)
}

// ResolveNetworkBackend picks the unprivileged gvisor-tap-vsock backend
// unless the process is running as root, in which case the privileged
// tap+iptables backend is used. Auto-detection only; callers may override
// directly by setting Config.NetworkBackend before calling this.
func (c *Config) ResolveNetworkBackend() {
	if c.NetworkBackend != "" {
		return
	}
	if os.Geteuid() == 0 {
		c.NetworkBackend = "tap"
		return
	}
	c.NetworkBackend = "gvproxy"
}
