package vm

import (
	"fmt"
	"math"

	"github.com/tinbrook/classvm/pkg/bytecode"
	"github.com/tinbrook/classvm/pkg/class"
	"github.com/tinbrook/classvm/pkg/descriptor"
	"github.com/tinbrook/classvm/pkg/heap"
)

// runFrame drives f's instruction vector to completion, returning the
// callee's result words (0, 1, or 2) once a Return instruction fires.
func (vm *VM) runFrame(f *Frame) ([]uint32, error) {
	for {
		if f.IP < 0 || f.IP >= len(f.Instructions) {
			return nil, fmt.Errorf("%w: instruction pointer %d out of range", ErrInterpreterFault, f.IP)
		}
		instr := f.Instructions[f.IP]
		f.IP++

		switch instr.Kind {
		case bytecode.Nop:

		case bytecode.AConstNull:
			f.Push(heap.Null)
		case bytecode.IConst, bytecode.BiPush, bytecode.SiPush:
			f.PushInt(instr.IntImm)
		case bytecode.LConst:
			f.PushLong(instr.LongImm)
		case bytecode.FConst:
			f.PushFloat(instr.FloatImm)
		case bytecode.DConst:
			f.PushDouble(instr.DoubleImm)
		case bytecode.LdcStringOp:
			f.Push(uint32(vm.internString(instr.Str)))

		case bytecode.Load:
			if instr.Type == descriptor.Long || instr.Type == descriptor.Double {
				hi, lo := f.GetLocal2(instr.Var)
				f.Push(hi)
				f.Push(lo)
			} else {
				f.Push(f.GetLocal(instr.Var))
			}
		case bytecode.Store:
			if instr.Type == descriptor.Long || instr.Type == descriptor.Double {
				lo := f.Pop()
				hi := f.Pop()
				f.SetLocal2(instr.Var, hi, lo)
			} else {
				f.SetLocal(instr.Var, f.Pop())
			}

		case bytecode.ALoad:
			if err := vm.execALoad(f, instr); err != nil {
				return nil, err
			}
		case bytecode.AStore:
			if err := vm.execAStore(f, instr); err != nil {
				return nil, err
			}

		case bytecode.Arith:
			if err := vm.arith(f, instr); err != nil {
				return nil, err
			}
		case bytecode.Convert:
			if err := vm.convert(f, instr.From, instr.To); err != nil {
				return nil, err
			}

		case bytecode.LCmp:
			b, a := f.PopLong(), f.PopLong()
			f.PushInt(compare64(a, b))
		case bytecode.FCmpG, bytecode.FCmpL:
			b, a := f.PopFloat(), f.PopFloat()
			f.PushInt(compareFloat(float64(a), float64(b), instr.Kind == bytecode.FCmpG))
		case bytecode.DCmpG, bytecode.DCmpL:
			b, a := f.PopDouble(), f.PopDouble()
			f.PushInt(compareFloat(a, b, instr.Kind == bytecode.DCmpG))

		case bytecode.Goto:
			f.IP = instr.Addr
		case bytecode.If:
			if compareToZero(f.PopInt(), instr.Cmp) {
				f.IP = instr.Addr
			}
		case bytecode.IfICmp:
			b, a := f.PopInt(), f.PopInt()
			if compareInts(a, b, instr.Cmp) {
				f.IP = instr.Addr
			}
		case bytecode.IfACmp:
			b, a := f.Pop(), f.Pop()
			if (a == b) == instr.Eq {
				f.IP = instr.Addr
			}
		case bytecode.IfNull:
			if (f.Pop() == heap.Null) == instr.Eq {
				f.IP = instr.Addr
			}
		case bytecode.Jsr, bytecode.Ret:
			return nil, fmt.Errorf("%w: jsr/ret", bytecode.ErrUnsupportedOpcode)

		case bytecode.Return:
			return returnWords(f, instr), nil

		case bytecode.New:
			c, err := vm.Loader.Load(instr.ClassName)
			if err != nil {
				return nil, err
			}
			idx, err := vm.Heap.NewInstance(vm.Loader, c)
			if err != nil {
				return nil, err
			}
			f.Push(uint32(idx))
		case bytecode.NewArray:
			n := f.PopInt()
			if n < 0 {
				return nil, fmt.Errorf("%w: negative array size %d", ErrInterpreterFault, n)
			}
			idx := vm.Heap.NewArray(int(n), descriptor.Field{Base: instr.Type})
			f.Push(uint32(idx))
		case bytecode.ANewArray:
			n := f.PopInt()
			if n < 0 {
				return nil, fmt.Errorf("%w: negative array size %d", ErrInterpreterFault, n)
			}
			idx := vm.Heap.NewArray(int(n), descriptor.Field{Base: descriptor.Reference, ClassName: instr.ClassName})
			f.Push(uint32(idx))
		case bytecode.MultiANewArray:
			idx, err := vm.execMultiANewArray(f, instr)
			if err != nil {
				return nil, err
			}
			f.Push(uint32(idx))
		case bytecode.ArrayLength:
			arr, err := vm.derefArray(f.Pop())
			if err != nil {
				return nil, err
			}
			f.PushInt(int32(arr.Length))

		case bytecode.CheckCast:
			if err := vm.execCheckCast(f, instr); err != nil {
				return nil, err
			}
		case bytecode.InstanceOf:
			ok, err := vm.execInstanceOf(f, instr)
			if err != nil {
				return nil, err
			}
			if ok {
				f.PushInt(1)
			} else {
				f.PushInt(0)
			}
		case bytecode.AThrow:
			ref := f.Pop()
			return nil, fmt.Errorf("%w: uncaught exception, heap ref %d", ErrInterpreterFault, ref)

		case bytecode.GetField:
			if err := vm.execGetField(f, instr); err != nil {
				return nil, err
			}
		case bytecode.PutField:
			if err := vm.execPutField(f, instr); err != nil {
				return nil, err
			}
		case bytecode.GetStatic:
			if err := vm.execGetStatic(f, instr); err != nil {
				return nil, err
			}
		case bytecode.PutStatic:
			if err := vm.execPutStatic(f, instr); err != nil {
				return nil, err
			}

		case bytecode.InvokeVirtual:
			if err := vm.invokeVirtual(f, instr.Method); err != nil {
				return nil, err
			}
		case bytecode.InvokeSpecial:
			if err := vm.invokeSpecial(f, instr.Method); err != nil {
				return nil, err
			}
		case bytecode.InvokeStatic:
			if err := vm.invokeStatic(f, instr.Method); err != nil {
				return nil, err
			}
		case bytecode.InvokeInterface:
			if err := vm.invokeInterface(f, instr.Method); err != nil {
				return nil, err
			}

		case bytecode.Dup:
			v := f.Pop()
			f.Push(v)
			f.Push(v)
		case bytecode.DupX1:
			v1, v2 := f.Pop(), f.Pop()
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
		case bytecode.DupX2:
			v1, v2, v3 := f.Pop(), f.Pop(), f.Pop()
			f.Push(v1)
			f.Push(v3)
			f.Push(v2)
			f.Push(v1)
		case bytecode.Dup2:
			v1, v2 := f.Pop(), f.Pop()
			f.Push(v2)
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
		case bytecode.Dup2X1:
			v1, v2, v3 := f.Pop(), f.Pop(), f.Pop()
			f.Push(v2)
			f.Push(v1)
			f.Push(v3)
			f.Push(v2)
			f.Push(v1)
		case bytecode.Dup2X2:
			v1, v2, v3, v4 := f.Pop(), f.Pop(), f.Pop(), f.Pop()
			f.Push(v2)
			f.Push(v1)
			f.Push(v4)
			f.Push(v3)
			f.Push(v2)
			f.Push(v1)
		case bytecode.Pop:
			f.Pop()
		case bytecode.Pop2:
			f.Pop()
			f.Pop()
		case bytecode.Swap:
			v1, v2 := f.Pop(), f.Pop()
			f.Push(v1)
			f.Push(v2)

		case bytecode.MonitorEnter, bytecode.MonitorExit:
			f.Pop()

		case bytecode.Iinc:
			v := int32(f.GetLocal(instr.Var)) + instr.IntImm
			f.SetLocal(instr.Var, uint32(v))

		default:
			return nil, fmt.Errorf("%w: instruction kind %d", bytecode.ErrUnsupportedOpcode, instr.Kind)
		}
	}
}

func returnWords(f *Frame, instr bytecode.Instruction) []uint32 {
	if !instr.HasType {
		return nil
	}
	if instr.Type == descriptor.Long || instr.Type == descriptor.Double {
		lo := f.Pop()
		hi := f.Pop()
		return []uint32{hi, lo}
	}
	return []uint32{f.Pop()}
}

func compareToZero(v int32, cmp bytecode.Comparison) bool {
	return compareInts(v, 0, cmp)
}

func compareInts(a, b int32, cmp bytecode.Comparison) bool {
	switch cmp {
	case bytecode.EQ:
		return a == b
	case bytecode.NE:
		return a != b
	case bytecode.LT:
		return a < b
	case bytecode.LE:
		return a <= b
	case bytecode.GT:
		return a > b
	case bytecode.GE:
		return a >= b
	default:
		return false
	}
}

func compare64(a, b int64) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareFloat follows this interpreter's comparison rule: below returns -1,
// above returns 1, equal returns 0, and an unordered (NaN) pair returns 1
// when isG is set and 0 otherwise.
func compareFloat(a, b float64, isG bool) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	default:
		if isG {
			return 1
		}
		return 0
	}
}

func (vm *VM) execALoad(f *Frame, instr bytecode.Instruction) error {
	index := f.PopInt()
	arr, err := vm.derefArray(f.Pop())
	if err != nil {
		return err
	}
	if err := vm.boundsCheck(index, arr.Length); err != nil {
		return err
	}
	if instr.Type == descriptor.Long || instr.Type == descriptor.Double {
		hi, lo := arr.Get2(int(index))
		f.Push(hi)
		f.Push(lo)
	} else {
		f.Push(arr.Get(int(index)))
	}
	return nil
}

func (vm *VM) execAStore(f *Frame, instr bytecode.Instruction) error {
	var hi, lo, v uint32
	twoWords := instr.Type == descriptor.Long || instr.Type == descriptor.Double
	if twoWords {
		lo = f.Pop()
		hi = f.Pop()
	} else {
		v = f.Pop()
	}
	index := f.PopInt()
	arr, err := vm.derefArray(f.Pop())
	if err != nil {
		return err
	}
	if err := vm.boundsCheck(index, arr.Length); err != nil {
		return err
	}
	if twoWords {
		arr.Set2(int(index), hi, lo)
	} else {
		arr.Set(int(index), v)
	}
	return nil
}

func (vm *VM) arith(f *Frame, instr bytecode.Instruction) error {
	switch instr.Type {
	case descriptor.Int:
		return vm.arithInt(f, instr.Op)
	case descriptor.Long:
		return vm.arithLong(f, instr.Op)
	case descriptor.Float:
		vm.arithFloat(f, instr.Op)
		return nil
	case descriptor.Double:
		vm.arithDouble(f, instr.Op)
		return nil
	default:
		return fmt.Errorf("%w: arith on non-numeric type", ErrInterpreterFault)
	}
}

func (vm *VM) arithInt(f *Frame, op bytecode.ArithOp) error {
	if op == bytecode.Neg {
		f.PushInt(-f.PopInt())
		return nil
	}
	b, a := f.PopInt(), f.PopInt()
	switch op {
	case bytecode.Add:
		f.PushInt(a + b)
	case bytecode.Sub:
		f.PushInt(a - b)
	case bytecode.Mul:
		f.PushInt(a * b)
	case bytecode.Div:
		if b == 0 {
			return fmt.Errorf("%w: division by zero", ErrInterpreterFault)
		}
		if a == math.MinInt32 && b == -1 {
			f.PushInt(math.MinInt32)
		} else {
			f.PushInt(a / b)
		}
	case bytecode.Rem:
		if b == 0 {
			return fmt.Errorf("%w: division by zero", ErrInterpreterFault)
		}
		if a == math.MinInt32 && b == -1 {
			f.PushInt(0)
		} else {
			f.PushInt(a % b)
		}
	case bytecode.And:
		f.PushInt(a & b)
	case bytecode.Or:
		f.PushInt(a | b)
	case bytecode.Xor:
		f.PushInt(a ^ b)
	case bytecode.Shl:
		f.PushInt(a << (uint32(b) & 0x1f))
	case bytecode.Shr:
		f.PushInt(a >> (uint32(b) & 0x1f))
	case bytecode.UShr:
		f.PushInt(int32(uint32(a) >> (uint32(b) & 0x1f)))
	}
	return nil
}

func (vm *VM) arithLong(f *Frame, op bytecode.ArithOp) error {
	if op == bytecode.Neg {
		f.PushLong(-f.PopLong())
		return nil
	}
	if op == bytecode.Shl || op == bytecode.Shr || op == bytecode.UShr {
		shift := uint64(f.PopInt()) & 0x3f
		a := f.PopLong()
		switch op {
		case bytecode.Shl:
			f.PushLong(a << shift)
		case bytecode.Shr:
			f.PushLong(a >> shift)
		case bytecode.UShr:
			f.PushLong(int64(uint64(a) >> shift))
		}
		return nil
	}
	b, a := f.PopLong(), f.PopLong()
	switch op {
	case bytecode.Add:
		f.PushLong(a + b)
	case bytecode.Sub:
		f.PushLong(a - b)
	case bytecode.Mul:
		f.PushLong(a * b)
	case bytecode.Div:
		if b == 0 {
			return fmt.Errorf("%w: division by zero", ErrInterpreterFault)
		}
		if a == math.MinInt64 && b == -1 {
			f.PushLong(math.MinInt64)
		} else {
			f.PushLong(a / b)
		}
	case bytecode.Rem:
		if b == 0 {
			return fmt.Errorf("%w: division by zero", ErrInterpreterFault)
		}
		if a == math.MinInt64 && b == -1 {
			f.PushLong(0)
		} else {
			f.PushLong(a % b)
		}
	case bytecode.And:
		f.PushLong(a & b)
	case bytecode.Or:
		f.PushLong(a | b)
	case bytecode.Xor:
		f.PushLong(a ^ b)
	}
	return nil
}

func (vm *VM) arithFloat(f *Frame, op bytecode.ArithOp) {
	if op == bytecode.Neg {
		f.PushFloat(-f.PopFloat())
		return
	}
	b, a := f.PopFloat(), f.PopFloat()
	switch op {
	case bytecode.Add:
		f.PushFloat(a + b)
	case bytecode.Sub:
		f.PushFloat(a - b)
	case bytecode.Mul:
		f.PushFloat(a * b)
	case bytecode.Div:
		f.PushFloat(a / b)
	case bytecode.Rem:
		f.PushFloat(float32(math.Mod(float64(a), float64(b))))
	}
}

func (vm *VM) arithDouble(f *Frame, op bytecode.ArithOp) {
	if op == bytecode.Neg {
		f.PushDouble(-f.PopDouble())
		return
	}
	b, a := f.PopDouble(), f.PopDouble()
	switch op {
	case bytecode.Add:
		f.PushDouble(a + b)
	case bytecode.Sub:
		f.PushDouble(a - b)
	case bytecode.Mul:
		f.PushDouble(a * b)
	case bytecode.Div:
		f.PushDouble(a / b)
	case bytecode.Rem:
		f.PushDouble(math.Mod(a, b))
	}
}

// convert performs a narrowing or widening numeric conversion by popping a
// value sized by from, casting through Go's native conversion rules (no
// JVM-mandated NaN/overflow clamping), and pushing a value sized by to.
func (vm *VM) convert(f *Frame, from, to descriptor.SimpleType) error {
	switch from {
	case descriptor.Int:
		v := f.PopInt()
		switch to {
		case descriptor.Long:
			f.PushLong(int64(v))
		case descriptor.Float:
			f.PushFloat(float32(v))
		case descriptor.Double:
			f.PushDouble(float64(v))
		case descriptor.Byte:
			f.PushInt(int32(int8(v)))
		case descriptor.Char:
			f.PushInt(int32(uint16(v)))
		case descriptor.Short:
			f.PushInt(int32(int16(v)))
		default:
			return fmt.Errorf("%w: convert int to %s", ErrInterpreterFault, to)
		}
	case descriptor.Long:
		v := f.PopLong()
		switch to {
		case descriptor.Int:
			f.PushInt(int32(v))
		case descriptor.Float:
			f.PushFloat(float32(v))
		case descriptor.Double:
			f.PushDouble(float64(v))
		default:
			return fmt.Errorf("%w: convert long to %s", ErrInterpreterFault, to)
		}
	case descriptor.Float:
		v := f.PopFloat()
		switch to {
		case descriptor.Int:
			f.PushInt(int32(v))
		case descriptor.Long:
			f.PushLong(int64(v))
		case descriptor.Double:
			f.PushDouble(float64(v))
		default:
			return fmt.Errorf("%w: convert float to %s", ErrInterpreterFault, to)
		}
	case descriptor.Double:
		v := f.PopDouble()
		switch to {
		case descriptor.Int:
			f.PushInt(int32(v))
		case descriptor.Long:
			f.PushLong(int64(v))
		case descriptor.Float:
			f.PushFloat(float32(v))
		default:
			return fmt.Errorf("%w: convert double to %s", ErrInterpreterFault, to)
		}
	default:
		return fmt.Errorf("%w: convert from %s", ErrInterpreterFault, from)
	}
	return nil
}

func (vm *VM) execMultiANewArray(f *Frame, instr bytecode.Instruction) (int, error) {
	full, err := descriptor.ParseField(instr.ClassName)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	if instr.Dims <= 0 || instr.Dims > full.ArrayDepth {
		return 0, fmt.Errorf("%w: multianewarray dims %d exceeds descriptor depth %d", ErrInterpreterFault, instr.Dims, full.ArrayDepth)
	}
	sizes := make([]int32, instr.Dims)
	for i := instr.Dims - 1; i >= 0; i-- {
		sizes[i] = f.PopInt()
	}
	leaf := descriptor.Field{Base: full.Base, ClassName: full.ClassName}
	return vm.buildMultiArray(leaf, sizes)
}

func (vm *VM) buildMultiArray(leaf descriptor.Field, sizes []int32) (int, error) {
	n := sizes[0]
	if n < 0 {
		return 0, fmt.Errorf("%w: negative array size %d", ErrInterpreterFault, n)
	}
	if len(sizes) == 1 {
		return vm.Heap.NewArray(int(n), leaf), nil
	}
	elem := leaf
	for i := 0; i < len(sizes)-1; i++ {
		elem = elem.AddArray()
	}
	idx := vm.Heap.NewArray(int(n), elem)
	obj, err := vm.Heap.Get(idx)
	if err != nil {
		return 0, err
	}
	for i := 0; i < int(n); i++ {
		child, err := vm.buildMultiArray(leaf, sizes[1:])
		if err != nil {
			return 0, err
		}
		obj.Array.Set(i, uint32(child))
	}
	return idx, nil
}

func (vm *VM) runtimeTypeOf(ref uint32) (descriptor.Field, error) {
	obj, err := vm.Heap.Get(int(ref))
	if err != nil {
		return descriptor.Field{}, err
	}
	if obj.Array != nil {
		return obj.Array.Descriptor(), nil
	}
	return descriptor.Field{Base: descriptor.Reference, ClassName: obj.Instance.ClassName}, nil
}

func (vm *VM) execCheckCast(f *Frame, instr bytecode.Instruction) error {
	ref := f.Stack[f.SP-1]
	if ref == heap.Null {
		return nil
	}
	source, err := vm.runtimeTypeOf(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	target, err := descriptor.FromSymbolicReference(instr.ClassName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	ok, err := class.IsInstanceOf(vm.Loader, source, target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: cannot cast %s to %s", ErrInterpreterFault, source.Format(), target.Format())
	}
	return nil
}

func (vm *VM) execInstanceOf(f *Frame, instr bytecode.Instruction) (bool, error) {
	ref := f.Pop()
	if ref == heap.Null {
		return false, nil
	}
	source, err := vm.runtimeTypeOf(ref)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	target, err := descriptor.FromSymbolicReference(instr.ClassName)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	return class.IsInstanceOf(vm.Loader, source, target)
}

func fieldWordSize(fieldDescriptor string) (int, error) {
	fd, err := descriptor.ParseField(fieldDescriptor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	return fd.WordSize(), nil
}

func (vm *VM) execGetField(f *Frame, instr bytecode.Instruction) error {
	inst, err := vm.derefInstance(f.Pop())
	if err != nil {
		return err
	}
	owner, err := vm.Loader.Load(instr.Field.ClassName)
	if err != nil {
		return err
	}
	offset, err := class.FieldOffset(vm.Loader, owner, instr.Field.Name, instr.Field.Descriptor)
	if err != nil {
		return err
	}
	size, err := fieldWordSize(instr.Field.Descriptor)
	if err != nil {
		return err
	}
	if size == 2 {
		hi, lo := inst.GetField2(offset)
		f.Push(hi)
		f.Push(lo)
	} else {
		f.Push(inst.GetField(offset))
	}
	return nil
}

func (vm *VM) execPutField(f *Frame, instr bytecode.Instruction) error {
	size, err := fieldWordSize(instr.Field.Descriptor)
	if err != nil {
		return err
	}
	var hi, lo, v uint32
	if size == 2 {
		lo = f.Pop()
		hi = f.Pop()
	} else {
		v = f.Pop()
	}
	inst, err := vm.derefInstance(f.Pop())
	if err != nil {
		return err
	}
	owner, err := vm.Loader.Load(instr.Field.ClassName)
	if err != nil {
		return err
	}
	offset, err := class.FieldOffset(vm.Loader, owner, instr.Field.Name, instr.Field.Descriptor)
	if err != nil {
		return err
	}
	if size == 2 {
		inst.SetField2(offset, hi, lo)
	} else {
		inst.SetField(offset, v)
	}
	return nil
}

func (vm *VM) execGetStatic(f *Frame, instr bytecode.Instruction) error {
	refClass, err := vm.Loader.Load(instr.Field.ClassName)
	if err != nil {
		return err
	}
	owner, offset, err := class.StaticFieldOffset(vm.Loader, refClass, instr.Field.Name, instr.Field.Descriptor)
	if err != nil {
		return err
	}
	size, err := fieldWordSize(instr.Field.Descriptor)
	if err != nil {
		return err
	}
	buf := vm.staticBuffer(owner)
	if size == 2 {
		f.Push(buf[offset])
		f.Push(buf[offset+1])
	} else {
		f.Push(buf[offset])
	}
	return nil
}

func (vm *VM) execPutStatic(f *Frame, instr bytecode.Instruction) error {
	size, err := fieldWordSize(instr.Field.Descriptor)
	if err != nil {
		return err
	}
	var hi, lo, v uint32
	if size == 2 {
		lo = f.Pop()
		hi = f.Pop()
	} else {
		v = f.Pop()
	}
	refClass, err := vm.Loader.Load(instr.Field.ClassName)
	if err != nil {
		return err
	}
	owner, offset, err := class.StaticFieldOffset(vm.Loader, refClass, instr.Field.Name, instr.Field.Descriptor)
	if err != nil {
		return err
	}
	buf := vm.staticBuffer(owner)
	if size == 2 {
		buf[offset] = hi
		buf[offset+1] = lo
	} else {
		buf[offset] = v
	}
	return nil
}
