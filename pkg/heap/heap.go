// Package heap is the managed object store: index-addressed, null at index
// 0, arrays and instances backed by flat word buffers, slots reused by
// linear scan since classvm never garbage collects.
package heap

import (
	"fmt"

	"github.com/tinbrook/classvm/pkg/class"
	"github.com/tinbrook/classvm/pkg/descriptor"
)

// Null is the reserved heap index for the null reference.
const Null = 0

// ArrayObject is a heap array: a fixed length of elements of a given
// descriptor, backed by a flat word buffer (two words per element when the
// element descriptor is double-width).
type ArrayObject struct {
	Length     int
	Element    descriptor.Field // the element type, before the array wrapper
	TwoWords   bool
	Data       []uint32
}

// NewArrayObject allocates a zero-filled array of length elements of type
// element.
func NewArrayObject(length int, element descriptor.Field) *ArrayObject {
	twoWords := element.WordSize() == 2
	words := length
	if twoWords {
		words *= 2
	}
	return &ArrayObject{Length: length, Element: element, TwoWords: twoWords, Data: make([]uint32, words)}
}

// Descriptor returns the array's own type (the element type with one more
// array dimension).
func (a *ArrayObject) Descriptor() descriptor.Field {
	return a.Element.AddArray()
}

// Get reads a one-word element. It panics if the array holds two-word
// elements; callers must use Get2 instead.
func (a *ArrayObject) Get(i int) uint32 {
	if a.TwoWords {
		panic("heap: Get on two-word array element")
	}
	return a.Data[i]
}

// Set writes a one-word element.
func (a *ArrayObject) Set(i int, v uint32) {
	if a.TwoWords {
		panic("heap: Set on two-word array element")
	}
	a.Data[i] = v
}

// Get2 reads a two-word element as (high, low).
func (a *ArrayObject) Get2(i int) (high, low uint32) {
	if !a.TwoWords {
		panic("heap: Get2 on one-word array element")
	}
	return a.Data[2*i], a.Data[2*i+1]
}

// Set2 writes a two-word element as (high, low).
func (a *ArrayObject) Set2(i int, high, low uint32) {
	if !a.TwoWords {
		panic("heap: Set2 on one-word array element")
	}
	a.Data[2*i] = high
	a.Data[2*i+1] = low
}

// InstanceObject is a heap object instance: a flat word buffer sized by its
// class's instance_size, addressed through field offsets.
type InstanceObject struct {
	ClassName string
	Data      []uint32
}

// NewInstanceObject allocates a zero-filled instance of class c, sized via
// class.InstanceSize.
func NewInstanceObject(l class.Loader, c *class.Class) (*InstanceObject, error) {
	size, err := class.InstanceSize(l, c)
	if err != nil {
		return nil, err
	}
	return &InstanceObject{ClassName: c.Name, Data: make([]uint32, size)}, nil
}

// GetField reads a one-word field at offset.
func (o *InstanceObject) GetField(offset int) uint32 {
	return o.Data[offset]
}

// SetField writes a one-word field at offset.
func (o *InstanceObject) SetField(offset int, v uint32) {
	o.Data[offset] = v
}

// GetField2 reads a two-word field at offset as (high, low).
func (o *InstanceObject) GetField2(offset int) (high, low uint32) {
	return o.Data[offset], o.Data[offset+1]
}

// SetField2 writes a two-word field at offset as (high, low).
func (o *InstanceObject) SetField2(offset int, high, low uint32) {
	o.Data[offset] = high
	o.Data[offset+1] = low
}

// Object is the discriminated heap payload: exactly one of Array or
// Instance is non-nil for any occupied slot.
type Object struct {
	Array    *ArrayObject
	Instance *InstanceObject
}

// Heap is the index-addressed object store. Index 0 is permanently empty and
// encodes the null reference; new allocations scan from index 1, reusing the
// first empty slot or appending.
type Heap struct {
	slots []*Object // slots[0] is always nil (the null reference)
}

// New returns an empty heap with the null slot reserved.
func New() *Heap {
	return &Heap{slots: []*Object{nil}}
}

// alloc finds a slot for obj: the first empty slot at index >= 1, or a newly
// appended one, and returns its index.
func (h *Heap) alloc(obj *Object) int {
	for i := 1; i < len(h.slots); i++ {
		if h.slots[i] == nil {
			h.slots[i] = obj
			return i
		}
	}
	h.slots = append(h.slots, obj)
	return len(h.slots) - 1
}

// NewArray allocates a new array of length elements of type element and
// returns its heap index.
func (h *Heap) NewArray(length int, element descriptor.Field) int {
	return h.alloc(&Object{Array: NewArrayObject(length, element)})
}

// NewInstance allocates a new instance of class c and returns its heap
// index.
func (h *Heap) NewInstance(l class.Loader, c *class.Class) (int, error) {
	inst, err := NewInstanceObject(l, c)
	if err != nil {
		return 0, err
	}
	return h.alloc(&Object{Instance: inst}), nil
}

// ErrNullDereference is returned by Get when index is the null reference or
// an index has never been allocated.
var ErrNullDereference = fmt.Errorf("heap: null dereference")

// Get returns the object at index, or ErrNullDereference for index 0 or any
// unallocated index.
func (h *Heap) Get(index int) (*Object, error) {
	if index == Null || index < 0 || index >= len(h.slots) || h.slots[index] == nil {
		return nil, ErrNullDereference
	}
	return h.slots[index], nil
}
