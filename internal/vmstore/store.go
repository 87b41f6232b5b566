// Package vmstore implements the on-disk VM store (spec §3/§4.3): pure
// functions over paths rooted at $HOME/.vm/<name>/. CreateVM, DeleteVM and
// LoadConfiguration reject invalid VM names; SaveConfiguration and the
// runtime-info and network-info functions use the name as given. Grounded on the teacher's
// internal/config directory conventions and internal/registry's
// byte-stable JSON discipline, generalized to a file-based store per the
// spec (no database — list_vms() is a directory scan, by design).
package vmstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/aegisorg/vm/internal/vmerrors"
)

// RescueName is the reserved name for the rescue VM. It satisfies
// ValidateName (it is a legal identifier) but is excluded from user listings
// by name comparison, not grammar.
const RescueName = "_rescue"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateName reports whether s is a legal VM name.
func ValidateName(s string) bool {
	return nameRe.MatchString(s)
}

// Store roots all VM directories under dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (typically Config.HomeDir).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// VMConfiguration is the persistent per-VM configuration (config.json).
type VMConfiguration struct {
	Name          string `json:"name"`
	CPUCount      int    `json:"cpu_count"`
	MemorySize    int64  `json:"memory_size"`
	DiskImagePath string `json:"disk_image_path"`
	DiskSize      int64  `json:"disk_size"`
	ISOPath       string `json:"iso_path,omitempty"`
	MACAddress    string `json:"mac_address"`
	CreatedAt     string `json:"created_at"`
	ModifiedAt    string `json:"modified_at"`
}

// VMRuntimeInfo is the contents of vm.pid.
type VMRuntimeInfo struct {
	PID       int32  `json:"pid"`
	StartedAt string `json:"started_at"`
}

// IPAddress describes one address bound to a NetworkInterface.
type IPAddress struct {
	Type   string `json:"ip-address-type"`
	Addr   string `json:"ip-address"`
	Prefix int    `json:"prefix,omitempty"`
}

// NetworkInterface describes one guest-reported interface.
type NetworkInterface struct {
	Name       string      `json:"name"`
	HWAddr     string      `json:"hardware-address,omitempty"`
	IPAddrs    []IPAddress `json:"ip-addresses,omitempty"`
}

// NetworkInfo is the contents of network-info.json.
type NetworkInfo struct {
	Interfaces []NetworkInterface `json:"interfaces"`
	QueriedAt  string             `json:"queried_at"`
}

// PrimaryIPv4 returns the first non-loopback interface's first IPv4 address.
func (n *NetworkInfo) PrimaryIPv4() (string, bool) {
	for _, iface := range n.Interfaces {
		if iface.Name == "lo" {
			continue
		}
		for _, ip := range iface.IPAddrs {
			if ip.Type == "ipv4" || ip.Type == "" {
				return ip.Addr, true
			}
		}
	}
	return "", false
}

func (s *Store) vmDir(name string) string       { return filepath.Join(s.dir, name) }
func (s *Store) configPath(name string) string  { return filepath.Join(s.vmDir(name), "config.json") }
func (s *Store) pidPath(name string) string     { return filepath.Join(s.vmDir(name), "vm.pid") }
func (s *Store) netInfoPath(name string) string { return filepath.Join(s.vmDir(name), "network-info.json") }
func (s *Store) ConsoleSockPath(name string) string {
	return filepath.Join(s.vmDir(name), "console.sock")
}
func (s *Store) DiskPath(name, relOrAbs string) string {
	if filepath.IsAbs(relOrAbs) {
		return relOrAbs
	}
	return filepath.Join(s.vmDir(name), relOrAbs)
}
func (s *Store) NVRAMPath(name string) string      { return filepath.Join(s.vmDir(name), "nvram.bin") }
func (s *Store) LogPath(name string) string        { return filepath.Join(s.vmDir(name), "vm.log") }
func (s *Store) CloudInitISOPath(name string) string {
	return filepath.Join(s.vmDir(name), "cloud-init.iso")
}
func (s *Store) SSHConfigPath(name string) string { return filepath.Join(s.vmDir(name), "ssh_config") }
func (s *Store) VMDir(name string) string          { return s.vmDir(name) }

// CreateVM requires that the VM directory not already exist, creates it, and
// writes config.json.
func (s *Store) CreateVM(c *VMConfiguration) error {
	if !ValidateName(c.Name) {
		return vmerrors.NewManagerError(vmerrors.InvalidVmName, c.Name)
	}
	dir := s.vmDir(c.Name)
	if _, err := os.Stat(dir); err == nil {
		return vmerrors.NewManagerError(vmerrors.VmAlreadyExists, c.Name)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &vmerrors.ManagerError{Kind: vmerrors.FileSystemError, Msg: err.Error(), Err: err}
	}
	now := nowISO()
	if c.CreatedAt == "" {
		c.CreatedAt = now
	}
	c.ModifiedAt = now
	return s.writeConfig(c)
}

// DeleteVM refuses to delete a running VM and otherwise removes the VM
// directory entirely.
func (s *Store) DeleteVM(name string) error {
	if !ValidateName(name) {
		return vmerrors.NewManagerError(vmerrors.InvalidVmName, name)
	}
	if running, _ := s.IsRunning(name); running {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError,
			fmt.Sprintf("%s is currently running; stop it first", name))
	}
	if err := os.RemoveAll(s.vmDir(name)); err != nil {
		return &vmerrors.ManagerError{Kind: vmerrors.FileSystemError, Msg: err.Error(), Err: err}
	}
	return nil
}

// LoadConfiguration reads config.json, failing VmNotFound if absent.
func (s *Store) LoadConfiguration(name string) (*VMConfiguration, error) {
	if !ValidateName(name) {
		return nil, vmerrors.NewManagerError(vmerrors.InvalidVmName, name)
	}
	b, err := os.ReadFile(s.configPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vmerrors.NewManagerError(vmerrors.VmNotFound, name)
		}
		return nil, &vmerrors.ManagerError{Kind: vmerrors.FileSystemError, Msg: err.Error(), Err: err}
	}
	var c VMConfiguration
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, vmerrors.NewManagerError(vmerrors.ConfigurationError, err.Error())
	}
	return &c, nil
}

// SaveConfiguration updates modified_at and writes config.json with
// byte-stable (sorted-key) encoding.
func (s *Store) SaveConfiguration(c *VMConfiguration) error {
	c.ModifiedAt = nowISO()
	return s.writeConfig(c)
}

func (s *Store) writeConfig(c *VMConfiguration) error {
	b, err := marshalSortedKeys(c)
	if err != nil {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError, err.Error())
	}
	tmp := s.configPath(c.Name) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return &vmerrors.ManagerError{Kind: vmerrors.FileSystemError, Msg: err.Error(), Err: err}
	}
	if err := os.Rename(tmp, s.configPath(c.Name)); err != nil {
		return &vmerrors.ManagerError{Kind: vmerrors.FileSystemError, Msg: err.Error(), Err: err}
	}
	return nil
}

// ListVMs returns the names of subdirectories containing config.json,
// sorted lexicographically. Pure directory scan, no side table.
func (s *Store) ListVMs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &vmerrors.ManagerError{Kind: vmerrors.FileSystemError, Msg: err.Error(), Err: err}
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), "config.json")); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SaveRuntimeInfo writes vm.pid.
func (s *Store) SaveRuntimeInfo(name string, info *VMRuntimeInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(s.pidPath(name), b, 0o600)
}

// ClearRuntimeInfo removes vm.pid if present.
func (s *Store) ClearRuntimeInfo(name string) error {
	err := os.Remove(s.pidPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetRunningPID returns the PID in vm.pid if that process is alive
// (signal 0), per the spec's "Running detection" invariant. If the file
// refers to a dead process, it is deleted and (0, false, nil) is returned.
func (s *Store) GetRunningPID(name string) (int32, bool, error) {
	b, err := os.ReadFile(s.pidPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var info VMRuntimeInfo
	if err := json.Unmarshal(b, &info); err != nil {
		_ = os.Remove(s.pidPath(name))
		return 0, false, nil
	}
	if isProcessAlive(info.PID) {
		return info.PID, true, nil
	}
	_ = os.Remove(s.pidPath(name))
	return 0, false, nil
}

// IsRunning is GetRunningPID's boolean projection.
func (s *Store) IsRunning(name string) (bool, error) {
	_, running, err := s.GetRunningPID(name)
	return running, err
}

// SaveNetworkInfo overwrites network-info.json.
func (s *Store) SaveNetworkInfo(name string, info *NetworkInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(s.netInfoPath(name), b, 0o600)
}

// LoadNetworkInfo reads network-info.json, if present.
func (s *Store) LoadNetworkInfo(name string) (*NetworkInfo, error) {
	b, err := os.ReadFile(s.netInfoPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info NetworkInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ClearNetworkInfo removes network-info.json if present.
func (s *Store) ClearNetworkInfo(name string) error {
	err := os.Remove(s.netInfoPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// marshalSortedKeys produces byte-stable JSON with the top-level object's
// keys in sorted order: v is encoded once, decoded into a map of raw values,
// and re-encoded (encoding/json writes map keys sorted), with HTML escaping
// disabled and fixed indentation. It is the single choke point every config
// write goes through.
func marshalSortedKeys(v interface{}) ([]byte, error) {
	var raw bytes.Buffer
	first := json.NewEncoder(&raw)
	first.SetEscapeHTML(false)
	if err := first.Encode(v); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw.Bytes(), &fields); err != nil {
		return nil, err
	}
	v = fields

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
