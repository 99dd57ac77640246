package proc

// sched.go implements the round-robin scheduler: a ready queue of PCBs threaded by PID (never by
// pointer, so the queue survives being inspected or rebuilt independent of any particular PCB's
// address), and the tick/yield dual-trigger select that decides when to switch.

import (
	"context"

	"github.com/smoynes/elsie/internal/kernel/vm"
	"github.com/smoynes/elsie/internal/kernel/zone"
)

// Scheduler owns the process zone and the ready queue.
type Scheduler struct {
	pcbs *zone.Zone[PCB]

	head, tail vm.PID // ready queue ends, vm.PIDInvalid when empty
	current    vm.PID

	tick  chan struct{}
	yield chan struct{}
}

// New builds an empty scheduler over a fresh process zone sized for the maximum live process
// count.
func New(capacity int) *Scheduler {
	return &Scheduler{
		pcbs:    zone.New[PCB]("pcb", capacity),
		head:    vm.PIDInvalid,
		tail:    vm.PIDInvalid,
		current: vm.PIDInvalid,
		tick:    make(chan struct{}, 1),
		yield:   make(chan struct{}, 1),
	}
}

// AllocPCB zone-allocates a fresh, not-yet-scheduled PCB and returns it with its process id.
// Callers that must preserve the page-table-root-equals-PCB-index invariant call this and
// vm.PageTables.AllocRoot in the same step, from the same external allocation sequence number.
func (s *Scheduler) AllocPCB() (*PCB, vm.PID, error) {
	pcb, idx, err := s.pcbs.Alloc()
	if err != nil {
		return nil, 0, err
	}

	*pcb = PCB{PID: vm.PID(idx), State: StateFree, next: vm.PIDInvalid, prev: vm.PIDInvalid}

	return pcb, vm.PID(idx), nil
}

// FreePCB releases a PCB back to the zone. The caller must have already dequeued it.
func (s *Scheduler) FreePCB(pid vm.PID) {
	s.pcbs.Free(int(pid))
}

// PCB returns the process control block for pid.
func (s *Scheduler) PCB(pid vm.PID) *PCB {
	return s.pcbs.At(int(pid))
}

// Enqueue appends pid to the tail of the ready queue and marks it ready.
func (s *Scheduler) Enqueue(pid vm.PID) {
	pcb := s.PCB(pid)
	pcb.State = StateReady
	pcb.next = vm.PIDInvalid
	pcb.prev = s.tail

	if s.tail != vm.PIDInvalid {
		s.PCB(s.tail).next = pid
	} else {
		s.head = pid
	}

	s.tail = pid
}

// Dequeue removes pid from the ready queue. It is a no-op if pid is not queued.
func (s *Scheduler) Dequeue(pid vm.PID) {
	pcb := s.PCB(pid)

	if pcb.prev != vm.PIDInvalid {
		s.PCB(pcb.prev).next = pcb.next
	} else if s.head == pid {
		s.head = pcb.next
	}

	if pcb.next != vm.PIDInvalid {
		s.PCB(pcb.next).prev = pcb.prev
	} else if s.tail == pid {
		s.tail = pcb.prev
	}

	pcb.next, pcb.prev = vm.PIDInvalid, vm.PIDInvalid
}

// Next rotates the ready queue and returns the next process to run, or vm.PIDInvalid if the queue
// is empty. The outgoing current process, if still ready, is moved to the tail -- the round-robin
// policy.
func (s *Scheduler) Next() vm.PID {
	if s.current != vm.PIDInvalid {
		if pcb := s.PCB(s.current); pcb.State == StateRunning {
			pcb.State = StateReady
			s.Dequeue(s.current)
			s.Enqueue(s.current)
		}
	}

	next := s.head
	if next != vm.PIDInvalid {
		s.PCB(next).State = StateRunning
	}

	s.current = next

	return next
}

// Current returns the currently running process id, or vm.PIDInvalid if none.
func (s *Scheduler) Current() vm.PID { return s.current }

// Tick signals that a timer interrupt has occurred, requesting a round-robin switch. It never
// blocks: a tick that arrives while a prior one is still pending is coalesced, matching the real
// timer's single pending-interrupt semantics.
func (s *Scheduler) Tick() {
	select {
	case s.tick <- struct{}{}:
	default:
	}
}

// Yield signals that the running process has voluntarily given up the remainder of its slice.
func (s *Scheduler) Yield() {
	select {
	case s.yield <- struct{}{}:
	default:
	}
}

// Run blocks until either a tick or a yield signal arrives, or ctx is cancelled, then advances the
// ready queue and returns the newly current process id. Both triggers funnel into the same select
// arm because, from the scheduler's perspective, a tick and a yield request the identical action:
// run the clock-hand-style round-robin Next and resume whichever process comes up.
func (s *Scheduler) Run(ctx context.Context) (vm.PID, error) {
	select {
	case <-ctx.Done():
		return vm.PIDInvalid, ctx.Err()
	case <-s.tick:
		return s.Next(), nil
	case <-s.yield:
		return s.Next(), nil
	}
}
