package ipc

// SlotTable maps small reusable integer ids to items. Alloc reuses the most
// recently freed id before growing. It is not safe for concurrent use.
type SlotTable[T any] struct {
	items []slot[T]
	freed []int
}

type slot[T any] struct {
	item T
	used bool
}

// NextID returns the id the next Alloc will hand out.
func (t *SlotTable[T]) NextID() int {
	if len(t.freed) == 0 {
		return len(t.items)
	}
	return t.freed[len(t.freed)-1]
}

func (t *SlotTable[T]) Alloc(item T) int {
	var id int
	if len(t.freed) == 0 {
		id = len(t.items)
		t.items = append(t.items, slot[T]{})
	} else {
		id = t.freed[len(t.freed)-1]
		t.freed = t.freed[:len(t.freed)-1]
	}
	t.items[id] = slot[T]{item: item, used: true}
	return id
}

// Free releases id for reuse. Freeing an unknown or already free id does
// nothing.
func (t *SlotTable[T]) Free(id int) {
	if id < 0 || id >= len(t.items) || !t.items[id].used {
		return
	}
	t.items[id] = slot[T]{}
	t.freed = append(t.freed, id)
}

func (t *SlotTable[T]) Get(id int) (T, bool) {
	if id < 0 || id >= len(t.items) || !t.items[id].used {
		var zero T
		return zero, false
	}
	return t.items[id].item, true
}

// Empty reports whether no slot is in use.
func (t *SlotTable[T]) Empty() bool {
	return len(t.freed) == len(t.items)
}

// Len returns the number of slots in use.
func (t *SlotTable[T]) Len() int {
	return len(t.items) - len(t.freed)
}

// All returns the items in use, in ascending id order.
func (t *SlotTable[T]) All() []T {
	out := make([]T, 0, t.Len())
	for _, s := range t.items {
		if s.used {
			out = append(out, s.item)
		}
	}
	return out
}
