//go:build (linux || darwin) && (amd64 || arm64 || riscv64)

package engine

import "golang.org/x/sys/unix"

// reserveAddressSpace maps and immediately unmaps 2^bits bytes of
// inaccessible anonymous memory. PROT_NONE keeps the reservation free:
// nothing is committed, only address space is consumed.
func reserveAddressSpace(bits uint) bool {
	size := 1 << bits
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return false
	}
	_ = unix.Munmap(mem)
	return true
}
