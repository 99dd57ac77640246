package proc_test

import (
	"context"
	"testing"
	"time"

	"github.com/smoynes/elsie/internal/kernel/proc"
	"github.com/smoynes/elsie/internal/kernel/vm"
)

func TestAllocPCBAssignsPID(tt *testing.T) {
	tt.Parallel()

	s := proc.New(4)

	pcb, pid, err := s.AllocPCB()
	if err != nil {
		tt.Fatalf("alloc: %v", err)
	}

	if pcb.PID != pid {
		tt.Fatalf("expected pcb.PID to equal the returned pid %d, got %d", pid, pcb.PID)
	}

	if pcb.State != proc.StateFree {
		tt.Fatalf("expected freshly allocated pcb to start FREE, got %s", pcb.State)
	}
}

func TestReadyQueueRoundRobin(tt *testing.T) {
	tt.Parallel()

	s := proc.New(4)

	_, a, _ := s.AllocPCB()
	_, b, _ := s.AllocPCB()
	_, c, _ := s.AllocPCB()

	s.Enqueue(a)
	s.Enqueue(b)
	s.Enqueue(c)

	if got := s.Next(); got != a {
		tt.Fatalf("expected a first, got %d", got)
	}

	if got := s.Next(); got != b {
		tt.Fatalf("expected b second (a requeued to tail), got %d", got)
	}

	if got := s.Next(); got != c {
		tt.Fatalf("expected c third, got %d", got)
	}

	if got := s.Next(); got != a {
		tt.Fatalf("expected round-robin to wrap back to a, got %d", got)
	}
}

func TestDequeueRemovesFromReadyQueue(tt *testing.T) {
	tt.Parallel()

	s := proc.New(4)

	_, a, _ := s.AllocPCB()
	_, b, _ := s.AllocPCB()

	s.Enqueue(a)
	s.Enqueue(b)
	s.Dequeue(a)

	if got := s.Next(); got != b {
		tt.Fatalf("expected b after a is dequeued, got %d", got)
	}
}

func TestEmptyReadyQueueIsPIDInvalid(tt *testing.T) {
	tt.Parallel()

	s := proc.New(4)

	if got := s.Next(); got != vm.PIDInvalid {
		tt.Fatalf("expected PIDInvalid from an empty ready queue, got %d", got)
	}
}

func TestRunRespondsToTickAndYield(tt *testing.T) {
	tt.Parallel()

	s := proc.New(4)

	_, a, _ := s.AllocPCB()
	_, b, _ := s.AllocPCB()
	s.Enqueue(a)
	s.Enqueue(b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.Tick()

	got, err := s.Run(ctx)
	if err != nil {
		tt.Fatalf("run: %v", err)
	}

	if got != a {
		tt.Fatalf("expected tick to advance to a, got %d", got)
	}

	s.Yield()

	got, err = s.Run(ctx)
	if err != nil {
		tt.Fatalf("run: %v", err)
	}

	if got != b {
		tt.Fatalf("expected yield to advance to b, got %d", got)
	}
}
