//go:build unix

package vmstore

import "syscall"

// HostMemoryBytes returns the host's total physical memory, used to bound
// memory_size per spec §3 ("512 MiB ≤ memory_size ≤ host_physical_memory").
// Returns 0 (meaning "unbounded") if the syscall fails.
func HostMemoryBytes() int64 {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Totalram) * int64(info.Unit)
}
