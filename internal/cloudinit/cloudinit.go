// Package cloudinit is an external collaborator (spec §1): it produces
// cloud-init.iso, the NoCloud datasource artifact that provisions the
// default user, packages, and the guest agent on first boot. Grounded on
// the teacher's internal/vmm/cloudhv.go runCmd shell-out idiom — this
// package has no Go-native ISO writer available anywhere in the retrieved
// pack, so it drives the same external-tool-via-exec.Command pattern the
// teacher uses for tap/iptables setup.
package cloudinit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Config describes the contents of a NoCloud seed.
type Config struct {
	Hostname     string
	Username     string
	SSHPublicKey string
	Packages     []string
	// GuestAgentInstall is a shell snippet run at first boot that drops the
	// guest-agent binary into place and enables its unit.
	GuestAgentInstall string
}

var isoTools = []string{"genisoimage", "xorriso", "mkisofs"}

// Build writes user-data/meta-data into a temp seed directory and packs
// them into a NoCloud ISO at isoPath, preferring genisoimage, falling back
// through xorriso and mkisofs the way distributions variously ship one or
// the other.
func Build(cfg Config, isoPath string) error {
	tool, err := findISOTool()
	if err != nil {
		return err
	}

	seedDir, err := os.MkdirTemp("", "cloud-init-seed-")
	if err != nil {
		return fmt.Errorf("create seed dir: %w", err)
	}
	defer os.RemoveAll(seedDir)

	if err := os.WriteFile(filepath.Join(seedDir, "meta-data"), []byte(metaData(cfg)), 0o644); err != nil {
		return fmt.Errorf("write meta-data: %w", err)
	}
	if err := os.WriteFile(filepath.Join(seedDir, "user-data"), []byte(userData(cfg)), 0o644); err != nil {
		return fmt.Errorf("write user-data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(isoPath), 0o700); err != nil {
		return fmt.Errorf("create iso parent dir: %w", err)
	}
	os.Remove(isoPath)

	return runISOTool(tool, isoPath, seedDir)
}

func findISOTool() (string, error) {
	for _, name := range isoTools {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("none of %s found on PATH; install one to create cloud-init.iso", strings.Join(isoTools, ", "))
}

func runISOTool(tool, isoPath, seedDir string) error {
	base := filepath.Base(tool)
	var cmd *exec.Cmd
	switch base {
	case "xorriso":
		cmd = exec.Command(tool, "-as", "genisoimage",
			"-output", isoPath,
			"-volid", "cidata",
			"-joliet", "-rock",
			filepath.Join(seedDir, "meta-data"),
			filepath.Join(seedDir, "user-data"),
		)
	default: // genisoimage, mkisofs share a CLI
		cmd = exec.Command(tool,
			"-output", isoPath,
			"-volid", "cidata",
			"-joliet", "-rock",
			filepath.Join(seedDir, "meta-data"),
			filepath.Join(seedDir, "user-data"),
		)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", base, err, out)
	}
	return nil
}

func metaData(cfg Config) string {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = "vm"
	}
	return fmt.Sprintf("instance-id: %s\nlocal-hostname: %s\n", hostname, hostname)
}

func userData(cfg Config) string {
	var b strings.Builder
	b.WriteString("#cloud-config\n")
	b.WriteString(fmt.Sprintf("hostname: %s\n", cfg.Hostname))
	if cfg.Username != "" {
		b.WriteString("users:\n")
		b.WriteString(fmt.Sprintf("  - name: %s\n", cfg.Username))
		b.WriteString("    sudo: ALL=(ALL) NOPASSWD:ALL\n")
		b.WriteString("    shell: /bin/bash\n")
		if cfg.SSHPublicKey != "" {
			b.WriteString("    ssh_authorized_keys:\n")
			b.WriteString(fmt.Sprintf("      - %s\n", cfg.SSHPublicKey))
		}
	}
	if len(cfg.Packages) > 0 {
		b.WriteString("packages:\n")
		for _, p := range cfg.Packages {
			b.WriteString(fmt.Sprintf("  - %s\n", p))
		}
	}
	if cfg.GuestAgentInstall != "" {
		b.WriteString("runcmd:\n")
		for _, line := range strings.Split(strings.TrimRight(cfg.GuestAgentInstall, "\n"), "\n") {
			b.WriteString(fmt.Sprintf("  - %s\n", line))
		}
	}
	return b.String()
}
