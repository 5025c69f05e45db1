package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/tinbrook/classvm/pkg/bytecode"
	"github.com/tinbrook/classvm/pkg/class"
	"github.com/tinbrook/classvm/pkg/descriptor"
	"github.com/tinbrook/classvm/pkg/heap"
)

type nopLoader struct{}

func (nopLoader) Load(name string) (*class.Class, error) {
	return nil, errors.New("nopLoader: no classes available: " + name)
}

func newTestVM() *VM {
	return &VM{Loader: nopLoader{}, Heap: heap.New()}
}

// runInstrs runs instrs to completion over a fresh frame seeded with locals,
// returning the exhausted frame (for inspecting leftover stack words) and
// the Return instruction's result words.
func runInstrs(t *testing.T, instrs []bytecode.Instruction, locals ...uint32) (*Frame, []uint32) {
	t.Helper()
	maxLocals := len(locals)
	if maxLocals < 4 {
		maxLocals = 4
	}
	f := NewFrame(16, maxLocals, instrs, "Test")
	copy(f.Locals, locals)
	result, err := newTestVM().runFrame(f)
	if err != nil {
		t.Fatalf("runFrame: %v", err)
	}
	return f, result
}

func runInstrsErr(t *testing.T, instrs []bytecode.Instruction, locals ...uint32) error {
	t.Helper()
	maxLocals := len(locals)
	if maxLocals < 4 {
		maxLocals = 4
	}
	f := NewFrame(16, maxLocals, instrs, "Test")
	copy(f.Locals, locals)
	_, err := newTestVM().runFrame(f)
	return err
}

func runInt(t *testing.T, instrs []bytecode.Instruction, locals ...uint32) int32 {
	t.Helper()
	_, result := runInstrs(t, instrs, locals...)
	if len(result) != 1 {
		t.Fatalf("want 1 result word, got %d", len(result))
	}
	return int32(result[0])
}

func runLong(t *testing.T, instrs []bytecode.Instruction, locals ...uint32) int64 {
	t.Helper()
	_, result := runInstrs(t, instrs, locals...)
	if len(result) != 2 {
		t.Fatalf("want 2 result words, got %d", len(result))
	}
	return int64(uint64(result[0])<<32 | uint64(result[1]))
}

func push(v int32) bytecode.Instruction { return bytecode.Instruction{Kind: bytecode.BiPush, IntImm: v} }

func arithI(op bytecode.ArithOp) bytecode.Instruction {
	return bytecode.Instruction{Kind: bytecode.Arith, Op: op, Type: descriptor.Int}
}

func arithL(op bytecode.ArithOp) bytecode.Instruction {
	return bytecode.Instruction{Kind: bytecode.Arith, Op: op, Type: descriptor.Long}
}

var retInt = bytecode.Instruction{Kind: bytecode.Return, HasType: true, Type: descriptor.Int}
var retLong = bytecode.Instruction{Kind: bytecode.Return, HasType: true, Type: descriptor.Long}
var retVoid = bytecode.Instruction{Kind: bytecode.Return}

func TestArithIntWrapsOnOverflow(t *testing.T) {
	got := runInt(t, []bytecode.Instruction{push(math.MaxInt32), push(1), arithI(bytecode.Add), retInt})
	if got != math.MinInt32 {
		t.Errorf("MaxInt32+1: got %d, want MinInt32", got)
	}
}

func TestArithIntDivByZeroFaults(t *testing.T) {
	err := runInstrsErr(t, []bytecode.Instruction{push(1), push(0), arithI(bytecode.Div), retInt})
	if !errors.Is(err, ErrInterpreterFault) {
		t.Errorf("div by zero: got %v, want ErrInterpreterFault", err)
	}
}

func TestArithIntMinDivNegOneOverflows(t *testing.T) {
	got := runInt(t, []bytecode.Instruction{push(math.MinInt32), push(-1), arithI(bytecode.Div), retInt})
	if got != math.MinInt32 {
		t.Errorf("MinInt32/-1: got %d, want MinInt32", got)
	}
	rem := runInt(t, []bytecode.Instruction{push(math.MinInt32), push(-1), arithI(bytecode.Rem), retInt})
	if rem != 0 {
		t.Errorf("MinInt32%%-1: got %d, want 0", rem)
	}
}

func TestArithLongShiftUsesIntShiftAmount(t *testing.T) {
	instrs := []bytecode.Instruction{
		{Kind: bytecode.LConst, LongImm: 1},
		push(4),
		arithL(bytecode.Shl),
		retLong,
	}
	if got := runLong(t, instrs); got != 16 {
		t.Errorf("1L<<4: got %d, want 16", got)
	}
}

func TestConvertIntNarrowing(t *testing.T) {
	tests := []struct {
		name string
		to   descriptor.SimpleType
		in   int32
		want int32
	}{
		{"i2b", descriptor.Byte, 0x1FF, 0x1FF - 0x200}, // 0x1FF -> int8(-1)
		{"i2c", descriptor.Char, -1, 0xFFFF},
		{"i2s", descriptor.Short, 0x1FFFF, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runInt(t, []bytecode.Instruction{
				push(tt.in),
				{Kind: bytecode.Convert, From: descriptor.Int, To: tt.to},
				retInt,
			})
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConvertLongToDoubleRoundTrip(t *testing.T) {
	instrs := []bytecode.Instruction{
		{Kind: bytecode.LConst, LongImm: 5},
		{Kind: bytecode.Convert, From: descriptor.Long, To: descriptor.Double},
		{Kind: bytecode.Convert, From: descriptor.Double, To: descriptor.Long},
		retLong,
	}
	if got := runLong(t, instrs); got != 5 {
		t.Errorf("5L->double->long: got %d, want 5", got)
	}
}

func TestFCmpNaNRules(t *testing.T) {
	nan := bytecode.Instruction{Kind: bytecode.FConst, FloatImm: float32(math.NaN())}
	one := bytecode.Instruction{Kind: bytecode.FConst, FloatImm: 1}

	g := runInt(t, []bytecode.Instruction{one, nan, {Kind: bytecode.FCmpG}, retInt})
	if g != 1 {
		t.Errorf("fcmpg with NaN: got %d, want 1", g)
	}
	l := runInt(t, []bytecode.Instruction{one, nan, {Kind: bytecode.FCmpL}, retInt})
	if l != 0 {
		t.Errorf("fcmpl with NaN: got %d, want 0", l)
	}
}

func TestDCmpOrderedValues(t *testing.T) {
	lo := bytecode.Instruction{Kind: bytecode.DConst, DoubleImm: 1}
	hi := bytecode.Instruction{Kind: bytecode.DConst, DoubleImm: 2}
	got := runInt(t, []bytecode.Instruction{lo, hi, {Kind: bytecode.DCmpG}, retInt})
	if got != -1 {
		t.Errorf("dcmpg(1,2): got %d, want -1", got)
	}
}

func TestDupDuplicatesTopWord(t *testing.T) {
	f, _ := runInstrs(t, []bytecode.Instruction{push(7), {Kind: bytecode.Dup}, retVoid})
	if f.SP != 2 || f.Stack[0] != 7 || f.Stack[1] != 7 {
		t.Errorf("after dup: sp=%d stack=%v, want [7 7]", f.SP, f.Stack[:f.SP])
	}
}

func TestSwapExchangesTopTwoWords(t *testing.T) {
	f, _ := runInstrs(t, []bytecode.Instruction{push(1), push(2), {Kind: bytecode.Swap}, retVoid})
	if f.SP != 2 || f.Stack[0] != 2 || f.Stack[1] != 1 {
		t.Errorf("after swap: stack=%v, want [2 1]", f.Stack[:f.SP])
	}
}

func TestDupX1InsertsBelowSecond(t *testing.T) {
	f, _ := runInstrs(t, []bytecode.Instruction{push(1), push(2), {Kind: bytecode.DupX1}, retVoid})
	want := []uint32{2, 1, 2}
	if f.SP != len(want) {
		t.Fatalf("sp=%d, want %d", f.SP, len(want))
	}
	for i, w := range want {
		if f.Stack[i] != w {
			t.Errorf("stack[%d]=%d, want %d", i, f.Stack[i], w)
		}
	}
}

func TestPop2RemovesTwoWords(t *testing.T) {
	f, _ := runInstrs(t, []bytecode.Instruction{push(1), push(2), push(3), {Kind: bytecode.Pop2}, retVoid})
	if f.SP != 1 || f.Stack[0] != 1 {
		t.Errorf("after pop2: stack=%v, want [1]", f.Stack[:f.SP])
	}
}

func TestIincAddsImmediateToLocal(t *testing.T) {
	instrs := []bytecode.Instruction{
		{Kind: bytecode.Iinc, Var: 0, IntImm: 5},
		{Kind: bytecode.Load, Type: descriptor.Int, Var: 0},
		retInt,
	}
	if got := runInt(t, instrs, 10); got != 15 {
		t.Errorf("iinc: got %d, want 15", got)
	}
}

func TestLoadStoreLocalRoundTrip(t *testing.T) {
	instrs := []bytecode.Instruction{
		{Kind: bytecode.Load, Type: descriptor.Int, Var: 0},
		{Kind: bytecode.Store, Type: descriptor.Int, Var: 1},
		{Kind: bytecode.Load, Type: descriptor.Int, Var: 1},
		retInt,
	}
	if got := runInt(t, instrs, 99, 0); got != 99 {
		t.Errorf("got %d, want 99", got)
	}
}

func TestGotoAndIfLoopCountsDown(t *testing.T) {
	// locals[0] starts at 3; loop: if local==0 goto end; iinc -1; goto loop.
	instrs := []bytecode.Instruction{
		/*0*/ {Kind: bytecode.Load, Type: descriptor.Int, Var: 0},
		/*1*/ {Kind: bytecode.If, Cmp: bytecode.EQ, Addr: 4},
		/*2*/ {Kind: bytecode.Iinc, Var: 0, IntImm: -1},
		/*3*/ {Kind: bytecode.Goto, Addr: 0},
		/*4*/ {Kind: bytecode.Load, Type: descriptor.Int, Var: 0},
		/*5*/ retInt,
	}
	if got := runInt(t, instrs, 3); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestJsrIsUnsupported(t *testing.T) {
	err := runInstrsErr(t, []bytecode.Instruction{{Kind: bytecode.Jsr, Addr: 0}})
	if !errors.Is(err, bytecode.ErrUnsupportedOpcode) {
		t.Errorf("jsr: got %v, want ErrUnsupportedOpcode", err)
	}
}
