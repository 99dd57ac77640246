package vm

// pagetable.go implements the two-level page table: a per-process top-level table of one-byte
// group selectors, and a shared pool of second-level "PTE groups" -- one MPU subregion's worth of
// sixteen PTEs each -- zone-allocated lazily on first touch of any address in that subregion.

import (
	"fmt"

	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/zone"
)

// PTEGroup is sixteen PTEs: one MPU subregion's worth of mappings.
type PTEGroup struct {
	PTEs [config.GroupSize]PTE
}

// PTEGroupTable is a process's top-level page table: one byte per group, holding either the
// reserved sentinel (group unallocated) or an index into the shared PTEGroup zone.
type PTEGroupTable struct {
	Groups [config.NumGroups]uint8
}

// groupInvalid is the reserved top-level sentinel byte.
const groupInvalid = config.GroupIndexInvalid

// NewPTEGroupTable returns a table with every group marked unallocated.
func NewPTEGroupTable() PTEGroupTable {
	t := PTEGroupTable{}
	for i := range t.Groups {
		t.Groups[i] = groupInvalid
	}

	return t
}

// PageTables owns the shared pool of second-level PTE groups, shared across every process's
// top-level table. A PTE group is reachable from at most one process's table (invariant 4); this
// package does not enforce that by reference counting, only by the fact that EnsureGroup always
// allocates a fresh group rather than aliasing an existing one.
type PageTables struct {
	groups *zone.Zone[PTEGroup]
	roots  *zone.Zone[PTEGroupTable]
}

// NewPageTables builds the shared PTE-group pool and the per-process root pool. The root zone's
// capacity matches the PCB zone's, and boot.Loader.Create always allocates from both zones in the same
// step, which is what keeps invariant 7 -- a root's zone index equals its owning process id --
// true: both zones share the same FIFO free-list discipline and are only ever touched in lockstep.
func NewPageTables() *PageTables {
	return &PageTables{
		groups: zone.New[PTEGroup]("pte-group", config.MaxPTEGroups),
		roots:  zone.New[PTEGroupTable]("pte-group-table", config.MaxProcesses),
	}
}

// AllocRoot allocates a new top-level table, already initialized to all-invalid, and returns it
// with its zone index (the new process's id).
func (pt *PageTables) AllocRoot() (*PTEGroupTable, PID, error) {
	root, idx, err := pt.roots.Alloc()
	if err != nil {
		return nil, 0, fmt.Errorf("pagetable: alloc root: %w", err)
	}

	*root = NewPTEGroupTable()

	return root, PID(idx), nil
}

// FreeRoot releases a process's top-level table, freeing every PTE group it still references.
func (pt *PageTables) FreeRoot(pid PID) {
	root := pt.roots.At(int(pid))

	for _, idx := range root.Groups {
		if idx != groupInvalid {
			pt.groups.Free(int(idx))
		}
	}

	pt.roots.Free(int(pid))
}

// Root returns the top-level table owned by pid.
func (pt *PageTables) Root(pid PID) *PTEGroupTable {
	return pt.roots.At(int(pid))
}

// AddressToPTE walks the page table to find the PTE for addr, returning nil if the enclosing
// group has not yet been allocated for this process.
func (pt *PageTables) AddressToPTE(root *PTEGroupTable, addr Addr) *PTE {
	gi := root.Groups[addr.Group()]
	if gi == groupInvalid {
		return nil
	}

	group := pt.groups.At(int(gi))

	return &group.PTEs[addr.Index()]
}

// EnsureGroup lazily zone-allocates the PTE group covering addr's subregion, if it doesn't
// already exist, filling its sixteen PTEs with PTEInvalid. It returns the group and whether it
// was newly allocated by this call -- the fault handler's read-in phase needs to tell "first
// touch of this subregion" apart from "already mapped" to decide between zeroing memory and
// copying in existing contents.
func (pt *PageTables) EnsureGroup(root *PTEGroupTable, addr Addr) (group *PTEGroup, created bool, err error) {
	g := addr.Group()

	if root.Groups[g] != groupInvalid {
		return pt.groups.At(int(root.Groups[g])), false, nil
	}

	group, idx, allocErr := pt.groups.Alloc()
	if allocErr != nil {
		return nil, false, fmt.Errorf("pagetable: ensure group: %w", allocErr)
	}

	for i := range group.PTEs {
		group.PTEs[i] = PTE(PTEInvalid)
	}

	root.Groups[g] = uint8(idx)

	return group, true, nil
}

// FreeGroup releases the PTE group at the given top-level slot back to the shared pool and marks
// the slot unallocated. FreeRoot does not go through it: it frees a process's groups directly.
func (pt *PageTables) FreeGroup(root *PTEGroupTable, group uint8) {
	idx := root.Groups[group]
	if idx == groupInvalid {
		return
	}

	pt.groups.Free(int(idx))
	root.Groups[group] = groupInvalid
}
