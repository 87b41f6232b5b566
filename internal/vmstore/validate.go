package vmstore

import (
	"crypto/rand"
	"fmt"
	"runtime"

	"github.com/aegisorg/vm/internal/vmerrors"
)

const minMemoryBytes = 512 << 20
const minDiskBytes = 1 << 30

// ValidateConfiguration enforces the invariants from spec §3:
// 1 ≤ cpu_count ≤ hostCPUs; 512 MiB ≤ memory_size ≤ hostMemBytes;
// disk_size ≥ 1 GiB; mac_address byte 0 has bit 0x02 set and bit 0x01 clear.
func ValidateConfiguration(c *VMConfiguration, hostMemBytes int64) error {
	hostCPUs := runtime.NumCPU()
	if c.CPUCount < 1 || c.CPUCount > hostCPUs {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError,
			fmt.Sprintf("cpu_count %d out of range [1, %d]", c.CPUCount, hostCPUs))
	}
	if c.MemorySize < minMemoryBytes || (hostMemBytes > 0 && c.MemorySize > hostMemBytes) {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError,
			fmt.Sprintf("memory_size %d out of range [%d, %d]", c.MemorySize, int64(minMemoryBytes), hostMemBytes))
	}
	if c.DiskSize < minDiskBytes {
		return vmerrors.NewDiskError(vmerrors.DiskInvalidSize,
			fmt.Sprintf("disk_size %d below minimum %d", c.DiskSize, int64(minDiskBytes)))
	}
	if !ValidMACAddress(c.MACAddress) {
		return vmerrors.NewManagerError(vmerrors.ConfigurationError,
			fmt.Sprintf("invalid mac_address %q", c.MACAddress))
	}
	return nil
}

// ValidMACAddress reports whether s is a locally-administered, unicast MAC
// in xx:xx:xx:xx:xx:xx form.
func ValidMACAddress(s string) bool {
	var b [6]byte
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	if err != nil || n != 6 {
		return false
	}
	return b[0]&0x03 == 0x02
}

// GenerateMACAddress returns a random locally-administered unicast MAC
// address, satisfying (byte0 & 0x03) == 0x02 (spec §8 "MAC generation").
func GenerateMACAddress() (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	b[0] = (b[0] &^ 0x01) | 0x02 // clear multicast bit, set local-admin bit
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5]), nil
}
