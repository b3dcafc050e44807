//go:build !((linux || darwin) && (amd64 || arm64 || riscv64))

package engine

// Platforms without a cheap address-space reservation primitive (or with
// 32-bit address spaces) always take the on-demand strategy.
func reserveAddressSpace(bits uint) bool {
	return false
}
