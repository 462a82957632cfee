package vmm

import "github.com/rv64boot/kernel/kernel/mem/rvpte"

// patchScratchSelfForTest redirects the scratch self-map at a locally
// allocated table so MapTable can run on the build machine, where the fixed
// virtual address -4096 is not mapped. The returned func restores the
// original resolver.
func patchScratchSelfForTest(t *rvpte.Table) func() {
	orig := scratchTableFn
	scratchTableFn = func() *rvpte.Table { return t }
	return func() { scratchTableFn = orig }
}
