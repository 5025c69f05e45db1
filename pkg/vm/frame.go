package vm

import (
	"fmt"
	"math"

	"github.com/tinbrook/classvm/pkg/bytecode"
)

// Frame is one method activation: a fixed-capacity word-based operand stack,
// a fixed-capacity word-based local-variable array, the method's decoded
// instruction vector, an instruction pointer, and the name of the class that
// declares the executing method (needed for INVOKESPECIAL's super-method
// rule).
type Frame struct {
	Stack        []uint32
	SP           int
	Locals       []uint32
	Instructions []bytecode.Instruction
	IP           int
	ClassName    string
}

// NewFrame allocates a frame sized by maxStack words and maxLocals words.
func NewFrame(maxStack, maxLocals int, instructions []bytecode.Instruction, className string) *Frame {
	return &Frame{
		Stack:        make([]uint32, maxStack),
		Locals:       make([]uint32, maxLocals),
		Instructions: instructions,
		ClassName:    className,
	}
}

// Push pushes one word.
func (f *Frame) Push(w uint32) {
	if f.SP >= len(f.Stack) {
		panic(fmt.Sprintf("vm: operand stack overflow: sp=%d max=%d", f.SP, len(f.Stack)))
	}
	f.Stack[f.SP] = w
	f.SP++
}

// Pop pops one word.
func (f *Frame) Pop() uint32 {
	if f.SP <= 0 {
		panic("vm: operand stack underflow")
	}
	f.SP--
	return f.Stack[f.SP]
}

// PushInt pushes a 32-bit int by its bit pattern.
func (f *Frame) PushInt(v int32) { f.Push(uint32(v)) }

// PopInt pops a 32-bit int by its bit pattern.
func (f *Frame) PopInt() int32 { return int32(f.Pop()) }

// PushFloat pushes a float32 by its IEEE-754 bit pattern.
func (f *Frame) PushFloat(v float32) { f.Push(math.Float32bits(v)) }

// PopFloat pops a float32 by its IEEE-754 bit pattern.
func (f *Frame) PopFloat() float32 { return math.Float32frombits(f.Pop()) }

// PushLong pushes a 64-bit long as two words, high half at the deeper
// (lower) stack position, low half on top.
func (f *Frame) PushLong(v int64) {
	f.Push(uint32(uint64(v) >> 32))
	f.Push(uint32(v))
}

// PopLong pops a 64-bit long from two words.
func (f *Frame) PopLong() int64 {
	lo := f.Pop()
	hi := f.Pop()
	return int64(uint64(hi)<<32 | uint64(lo))
}

// PushDouble pushes a float64 as two words via its IEEE-754 bit pattern.
func (f *Frame) PushDouble(v float64) {
	bits := math.Float64bits(v)
	f.Push(uint32(bits >> 32))
	f.Push(uint32(bits))
}

// PopDouble pops a float64 from two words.
func (f *Frame) PopDouble() float64 {
	lo := f.Pop()
	hi := f.Pop()
	return math.Float64frombits(uint64(hi)<<32 | uint64(lo))
}

// GetLocal reads a one-word local.
func (f *Frame) GetLocal(index int) uint32 {
	if index < 0 || index >= len(f.Locals) {
		panic(fmt.Sprintf("vm: local variable index out of range: index=%d max=%d", index, len(f.Locals)))
	}
	return f.Locals[index]
}

// SetLocal writes a one-word local.
func (f *Frame) SetLocal(index int, v uint32) {
	if index < 0 || index >= len(f.Locals) {
		panic(fmt.Sprintf("vm: local variable index out of range: index=%d max=%d", index, len(f.Locals)))
	}
	f.Locals[index] = v
}

// GetLocal2 reads a two-word local (Long/Double), high half at index,
// low half at index+1.
func (f *Frame) GetLocal2(index int) (high, low uint32) {
	return f.GetLocal(index), f.GetLocal(index + 1)
}

// SetLocal2 writes a two-word local.
func (f *Frame) SetLocal2(index int, high, low uint32) {
	f.SetLocal(index, high)
	f.SetLocal(index+1, low)
}

// GetLocalLong reads a long local as a signed 64-bit value.
func (f *Frame) GetLocalLong(index int) int64 {
	hi, lo := f.GetLocal2(index)
	return int64(uint64(hi)<<32 | uint64(lo))
}

// SetLocalLong writes a long local.
func (f *Frame) SetLocalLong(index int, v int64) {
	f.SetLocal2(index, uint32(uint64(v)>>32), uint32(v))
}

// GetLocalDouble reads a double local.
func (f *Frame) GetLocalDouble(index int) float64 {
	hi, lo := f.GetLocal2(index)
	return math.Float64frombits(uint64(hi)<<32 | uint64(lo))
}

// SetLocalDouble writes a double local.
func (f *Frame) SetLocalDouble(index int, v float64) {
	bits := math.Float64bits(v)
	f.SetLocal2(index, uint32(bits>>32), uint32(bits))
}
