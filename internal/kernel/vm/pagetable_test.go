package vm_test

import (
	"testing"

	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/vm"
)

func TestEnsureGroupFirstTouch(tt *testing.T) {
	tt.Parallel()

	pt := vm.NewPageTables()

	root, pid, err := pt.AllocRoot()
	if err != nil {
		tt.Fatalf("alloc root: %v", err)
	}

	_, created, err := pt.EnsureGroup(root, 0x1000)
	if err != nil {
		tt.Fatalf("ensure group: %v", err)
	}

	if !created {
		tt.Fatal("expected first touch to report created=true")
	}

	_, created, err = pt.EnsureGroup(root, 0x1000)
	if err != nil {
		tt.Fatalf("ensure group (second): %v", err)
	}

	if created {
		tt.Fatal("expected second touch of the same subregion to report created=false")
	}

	if pt.Root(pid) != root {
		tt.Fatal("expected Root to return the same table AllocRoot returned")
	}
}

func TestAddressToPTEBeforeAndAfterEnsureGroup(tt *testing.T) {
	tt.Parallel()

	pt := vm.NewPageTables()
	root, _, _ := pt.AllocRoot()

	if pte := pt.AddressToPTE(root, 0x4200); pte != nil {
		tt.Fatal("expected nil PTE before the enclosing group is ever ensured")
	}

	_, _, err := pt.EnsureGroup(root, 0x4200)
	if err != nil {
		tt.Fatalf("ensure group: %v", err)
	}

	pte := pt.AddressToPTE(root, 0x4200)
	if pte == nil {
		tt.Fatal("expected non-nil PTE after EnsureGroup")
	}

	if pte.Type() != vm.PTEInvalid {
		tt.Fatalf("expected freshly ensured group's PTEs to start INVALID, got %s", pte.Type())
	}
}

func TestFreeRootReleasesGroups(tt *testing.T) {
	tt.Parallel()

	pt := vm.NewPageTables()
	root, pid, _ := pt.AllocRoot()

	_, _, err := pt.EnsureGroup(root, 0x0)
	if err != nil {
		tt.Fatalf("ensure group: %v", err)
	}

	pt.FreeRoot(pid)

	// The free list is FIFO: every never-used slot is handed out before the freed one comes back.
	for i := 1; i < config.MaxProcesses; i++ {
		if _, _, err := pt.AllocRoot(); err != nil {
			tt.Fatalf("alloc root %d: %v", i, err)
		}
	}

	root2, pid2, err := pt.AllocRoot()
	if err != nil {
		tt.Fatalf("alloc root after free: %v", err)
	}

	if pid2 != pid {
		tt.Fatalf("expected FIFO reuse of freed root slot %d, got %d", pid, pid2)
	}

	if root2.Groups[0] != 0xFF {
		tt.Fatal("expected freshly reallocated root to start with every group unallocated")
	}
}
