package namehint

// handle addresses one slot of an arena. A handle stays valid only as long as
// the generation it carries matches the slot; freeing a slot bumps the
// generation, so stale handles resolve to nothing instead of a reused entry.
type handle struct {
	index      uint32
	generation uint32
}

type slot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// arena stores entities of one kind and hands out generation-checked handles.
type arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *arena[T]) insert(value T) handle {
	a.live++

	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]

		s := &a.slots[index]
		s.live = true
		s.value = value
		return handle{index: index, generation: s.generation}
	}

	a.slots = append(a.slots, slot[T]{live: true, value: value})
	return handle{index: uint32(len(a.slots) - 1)}
}

// get returns a pointer into the arena, valid until the next insert.
func (a *arena[T]) get(h handle) (*T, bool) {
	if int(h.index) >= len(a.slots) {
		return nil, false
	}

	s := &a.slots[h.index]
	if !s.live || s.generation != h.generation {
		return nil, false
	}

	return &s.value, true
}

func (a *arena[T]) remove(h handle) bool {
	if _, ok := a.get(h); !ok {
		return false
	}

	s := &a.slots[h.index]
	var zero T
	s.value = zero
	s.live = false
	s.generation++

	a.free = append(a.free, h.index)
	a.live--
	return true
}

func (a *arena[T]) len() int {
	return a.live
}

func (a *arena[T]) reset() {
	a.slots = nil
	a.free = nil
	a.live = 0
}
