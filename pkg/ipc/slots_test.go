package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotTableAllocFree(t *testing.T) {
	var tbl SlotTable[string]

	assert.True(t, tbl.Empty())
	assert.Equal(t, 0, tbl.NextID())

	a := tbl.Alloc("a")
	b := tbl.Alloc("b")
	c := tbl.Alloc("c")
	assert.Equal(t, []int{0, 1, 2}, []int{a, b, c})
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"a", "b", "c"}, tbl.All())

	tbl.Free(b)
	assert.Equal(t, 1, tbl.NextID())
	_, ok := tbl.Get(b)
	assert.False(t, ok)

	tbl.Free(a)
	assert.Equal(t, 0, tbl.NextID())

	// the most recently freed slot is handed out first
	assert.Equal(t, 0, tbl.Alloc("d"))
	assert.Equal(t, 1, tbl.Alloc("e"))
	assert.Equal(t, 3, tbl.Alloc("f"))

	v, ok := tbl.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "e", v)
	assert.Equal(t, []string{"d", "e", "c", "f"}, tbl.All())
}

func TestSlotTableFreeIsIdempotent(t *testing.T) {
	var tbl SlotTable[int]

	id := tbl.Alloc(7)
	tbl.Free(id)
	tbl.Free(id)
	tbl.Free(-1)
	tbl.Free(42)

	assert.True(t, tbl.Empty())
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, id, tbl.Alloc(8))
	assert.Equal(t, 1, tbl.NextID())
}
