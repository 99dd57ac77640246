package zone_test

import (
	"errors"
	"testing"

	"github.com/smoynes/elsie/internal/kernel/zone"
)

type widget struct {
	Value int
}

func TestAllocFree(tt *testing.T) {
	tt.Parallel()

	z := zone.New[widget]("widget", 3)

	if z.Cap() != 3 {
		tt.Fatalf("cap: want 3, got %d", z.Cap())
	}

	a, ai, err := z.Alloc()
	if err != nil {
		tt.Fatalf("alloc a: %v", err)
	}

	a.Value = 42

	if z.InUse() != 1 {
		tt.Fatalf("in-use: want 1, got %d", z.InUse())
	}

	_, bi, err := z.Alloc()
	if err != nil {
		tt.Fatalf("alloc b: %v", err)
	}

	_, ci, err := z.Alloc()
	if err != nil {
		tt.Fatalf("alloc c: %v", err)
	}

	if ai == bi || bi == ci || ai == ci {
		tt.Fatalf("expected distinct indices, got %d %d %d", ai, bi, ci)
	}

	if _, _, err := z.Alloc(); err == nil {
		tt.Fatal("expected exhausted error, got nil")
	} else {
		var exhausted *zone.ErrExhausted
		if !errors.As(err, &exhausted) {
			tt.Fatalf("expected ErrExhausted, got %T: %v", err, err)
		}
	}

	z.Free(ai)

	if z.InUse() != 2 {
		tt.Fatalf("in-use after free: want 2, got %d", z.InUse())
	}

	d, di, err := z.Alloc()
	if err != nil {
		tt.Fatalf("alloc d: %v", err)
	}

	if di != ai {
		tt.Fatalf("expected FIFO reuse of freed slot %d, got %d", ai, di)
	}

	if d.Value != 0 {
		tt.Fatalf("expected zero-filled element, got %+v", d)
	}
}

func TestZeroCapacity(tt *testing.T) {
	tt.Parallel()

	z := zone.New[widget]("empty", 0)

	if _, _, err := z.Alloc(); err == nil {
		tt.Fatal("expected immediate exhaustion from a zero-capacity zone")
	}
}

func TestAtIgnoresLiveness(tt *testing.T) {
	tt.Parallel()

	z := zone.New[widget]("widget", 2)

	_, i, _ := z.Alloc()
	z.At(i).Value = 7

	if z.At(i).Value != 7 {
		tt.Fatalf("At: want 7, got %d", z.At(i).Value)
	}
}
