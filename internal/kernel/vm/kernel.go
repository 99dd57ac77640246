package vm

// kernel.go assembles the VM subsystem's handler-only global state: the SRAM window and its
// owner table, the write cache, the shared page tables, the flash swap manager, and the MPU
// driver. Per the design notes, these are process-wide singletons with lifecycle "init at boot,
// mutated only from fault/context-switch handling, never freed"; thread-mode (here: the bytecode
// a process runs) never holds a reference to them directly.

import (
	"github.com/smoynes/elsie/internal/kernel/flash"
	"github.com/smoynes/elsie/internal/kernel/mpu"
	"github.com/smoynes/elsie/internal/log"
)

// Kernel owns every piece of global VM state and implements the fault handler.
type Kernel struct {
	SRAM   *SRAM
	Cache  *Cache
	Tables *PageTables
	Flash  *flash.Manager
	MPU    *mpu.Driver

	log *log.Logger
}

// New assembles a Kernel from its components. The caller is responsible for calling MPU.Init
// before the first fault.
func New(fl *flash.Manager, logger *log.Logger) *Kernel {
	return &Kernel{
		SRAM:   NewSRAM(),
		Cache:  NewCache(),
		Tables: NewPageTables(),
		Flash:  fl,
		MPU:    mpu.New(),
		log:    logger,
	}
}
