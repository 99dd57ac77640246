// Package zone implements the fixed-size pool allocator used for every kernel object that must be
// allocated from fault-handler context: process control blocks, page-table nodes, and page-table
// roots. General dynamic allocation is forbidden there, so a zone is the only allocation backend
// the fault handler, scheduler, and boot sequence may use.
//
// A zone is a contiguous array of elements with a free list threaded through the elements
// themselves via index, never a pointer: every handle into a zone is a small integer, which keeps
// the ownership graph (owner tables, PTEs, PCBs) free of aliasing and testable by equality.
package zone

import "fmt"

// ErrExhausted is returned by Alloc when a zone's free list is empty.
type ErrExhausted struct {
	Zone string
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("zone: %s exhausted", e.Zone)
}

// index is the zero-based slot position of an element within a zone's backing array.
type index uint16

// sentinel marks the end of the free list.
const sentinel = ^index(0)

// Zone is a fixed-capacity pool of T, allocated with a FIFO free list threaded through unused
// slots. Reuse is FIFO, not LIFO: recycling the oldest-freed slot first spreads use over the whole
// pool, which makes use-after-free and aliasing bugs easier to spot under test since a slot's
// content changes less often "by surprise".
type Zone[T any] struct {
	name string

	elems []T
	next  []index // free list, threaded by index; next[i] is the slot after i

	freeHead index
	freeTail index

	inUse int
}

// New builds a zone of the given name and capacity. All slots start on the free list, in order.
func New[T any](name string, capacity int) *Zone[T] {
	z := &Zone[T]{
		name:     name,
		elems:    make([]T, capacity),
		next:     make([]index, capacity),
		freeHead: 0,
		freeTail: index(capacity - 1),
	}

	for i := 0; i < capacity; i++ {
		if i == capacity-1 {
			z.next[i] = sentinel
		} else {
			z.next[i] = index(i + 1)
		}
	}

	if capacity == 0 {
		z.freeHead = sentinel
		z.freeTail = sentinel
	}

	return z
}

// Cap returns the zone's total capacity.
func (z *Zone[T]) Cap() int { return len(z.elems) }

// InUse returns the number of currently allocated elements.
func (z *Zone[T]) InUse() int { return z.inUse }

// Alloc pops the free head, zero-fills it, and returns a pointer to the element along with its
// index within the zone. It never blocks and never allocates memory dynamically: the backing
// array was sized once, at New.
func (z *Zone[T]) Alloc() (*T, int, error) {
	if z.freeHead == sentinel {
		return nil, 0, &ErrExhausted{Zone: z.name}
	}

	i := z.freeHead
	z.freeHead = z.next[i]

	if z.freeHead == sentinel {
		z.freeTail = sentinel
	}

	var zero T
	z.elems[i] = zero
	z.inUse++

	return &z.elems[i], int(i), nil
}

// Free pushes the element at index i back onto the free tail, making it eligible for reuse only
// after every other currently-free slot has been handed out again.
func (z *Zone[T]) Free(i int) {
	idx := index(i)

	if z.freeHead == sentinel {
		z.freeHead = idx
		z.freeTail = idx
		z.next[idx] = sentinel
	} else {
		z.next[z.freeTail] = idx
		z.freeTail = idx
		z.next[idx] = sentinel
	}

	z.inUse--
}

// At returns a pointer to the element at index i, regardless of whether it is currently
// allocated. Callers that track liveness themselves (e.g. via an owner table) use this to resolve
// a handle without a second bounds-checked lookup.
func (z *Zone[T]) At(i int) *T {
	return &z.elems[i]
}
