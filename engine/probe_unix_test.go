//go:build (linux || darwin) && (amd64 || arm64 || riscv64)

package engine

import "testing"

func TestReserveAddressSpace(t *testing.T) {
	// A modest reservation must always be grantable.
	if !reserveAddressSpace(20) {
		t.Error("1MB reservation failed")
	}
	// 2^62 bytes exceeds every unix user address space.
	if reserveAddressSpace(62) {
		t.Error("absurd reservation reported success")
	}
}
