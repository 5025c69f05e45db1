package bytecode

import (
	"fmt"

	"github.com/tinbrook/classvm/pkg/classfile"
	"github.com/tinbrook/classvm/pkg/descriptor"
)

type branchFixup struct {
	instrIndex int
	targetByte int
}

// Decode turns a method's raw Code bytes into a dense instruction vector,
// resolving every constant-pool reference against cp and rewriting every
// branch target from a byte offset to an absolute instruction index.
func Decode(code []byte, cp *classfile.Pool) ([]Instruction, error) {
	var instrs []Instruction
	byteToIndex := make(map[int]int, len(code))
	var fixups []branchFixup

	pos := 0
	readU8 := func() (byte, error) {
		if pos >= len(code) {
			return 0, fmt.Errorf("%w: truncated operand at byte %d", ErrMalformedCode, pos)
		}
		b := code[pos]
		pos++
		return b, nil
	}
	readI8 := func() (int8, error) {
		b, err := readU8()
		return int8(b), err
	}
	readU16 := func() (uint16, error) {
		if pos+2 > len(code) {
			return 0, fmt.Errorf("%w: truncated operand at byte %d", ErrMalformedCode, pos)
		}
		v := uint16(code[pos])<<8 | uint16(code[pos+1])
		pos += 2
		return v, nil
	}
	readI16 := func() (int16, error) {
		v, err := readU16()
		return int16(v), err
	}
	readI32 := func() (int32, error) {
		if pos+4 > len(code) {
			return 0, fmt.Errorf("%w: truncated operand at byte %d", ErrMalformedCode, pos)
		}
		v := int32(code[pos])<<24 | int32(code[pos+1])<<16 | int32(code[pos+2])<<8 | int32(code[pos+3])
		pos += 4
		return v, nil
	}

	emit := func(in Instruction) {
		instrs = append(instrs, in)
	}

	branch := func(kind Kind, startByte int, rel int32, fill func(*Instruction)) error {
		in := Instruction{Kind: kind}
		if fill != nil {
			fill(&in)
		}
		emit(in)
		fixups = append(fixups, branchFixup{instrIndex: len(instrs) - 1, targetByte: startByte + int(rel)})
		return nil
	}

	for pos < len(code) {
		start := pos
		byteToIndex[start] = len(instrs)
		op, err := readU8()
		if err != nil {
			return nil, err
		}

		switch op {
		case opNop:
			emit(Instruction{Kind: Nop})
		case opAConstNull:
			emit(Instruction{Kind: AConstNull})

		case opIConstM1, opIConst0, opIConst1, opIConst2, opIConst3, opIConst4, opIConst5:
			emit(Instruction{Kind: BiPush, IntImm: int32(op) - opIConst0})
		case opBipush:
			v, err := readI8()
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: BiPush, IntImm: int32(v)})
		case opSipush:
			v, err := readI16()
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: SiPush, IntImm: int32(v)})

		case opLConst0, opLConst1:
			emit(Instruction{Kind: LConst, LongImm: int64(op - opLConst0)})
		case opFConst0, opFConst1, opFConst2:
			emit(Instruction{Kind: FConst, FloatImm: float32(op - opFConst0)})
		case opDConst0, opDConst1:
			emit(Instruction{Kind: DConst, DoubleImm: float64(op - opDConst0)})

		case opLdc, opLdcW:
			var idx uint16
			if op == opLdc {
				b, err := readU8()
				if err != nil {
					return nil, err
				}
				idx = uint16(b)
			} else {
				idx, err = readU16()
				if err != nil {
					return nil, err
				}
			}
			v, err := classfile.ResolveLdc(cp, idx)
			if err != nil {
				return nil, err
			}
			switch v.Kind {
			case classfile.LdcInt:
				emit(Instruction{Kind: IConst, IntImm: v.Int})
			case classfile.LdcFloat:
				emit(Instruction{Kind: FConst, FloatImm: v.Float})
			case classfile.LdcString:
				emit(Instruction{Kind: LdcStringOp, Str: v.Str})
			default:
				return nil, fmt.Errorf("%w: ldc of non int/float/string constant at byte %d", ErrMalformedCode, start)
			}
		case opLdc2W:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			v, err := classfile.ResolveLdc(cp, idx)
			if err != nil {
				return nil, err
			}
			switch v.Kind {
			case classfile.LdcLong:
				emit(Instruction{Kind: LConst, LongImm: v.Long})
			case classfile.LdcDouble:
				emit(Instruction{Kind: DConst, DoubleImm: v.Double})
			default:
				return nil, fmt.Errorf("%w: ldc2_w of non long/double constant at byte %d", ErrMalformedCode, start)
			}

		case opIload, opLload, opFload, opDload, opAload:
			idx, err := readU8()
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: Load, Type: loadStoreType(op), Var: int(idx)})
		case opIload0, opIload1, opIload2, opIload3:
			emit(Instruction{Kind: Load, Type: descriptor.Int, Var: int(op - opIload0)})
		case opLload0, opLload1, opLload2, opLload3:
			emit(Instruction{Kind: Load, Type: descriptor.Long, Var: int(op - opLload0)})
		case opFload0, opFload1, opFload2, opFload3:
			emit(Instruction{Kind: Load, Type: descriptor.Float, Var: int(op - opFload0)})
		case opDload0, opDload1, opDload2, opDload3:
			emit(Instruction{Kind: Load, Type: descriptor.Double, Var: int(op - opDload0)})
		case opAload0, opAload1, opAload2, opAload3:
			emit(Instruction{Kind: Load, Type: descriptor.Reference, Var: int(op - opAload0)})

		case opIstore, opLstore, opFstore, opDstore, opAstore:
			idx, err := readU8()
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: Store, Type: loadStoreType(op - (opIstore - opIload)), Var: int(idx)})
		case opIstore0, opIstore1, opIstore2, opIstore3:
			emit(Instruction{Kind: Store, Type: descriptor.Int, Var: int(op - opIstore0)})
		case opLstore0, opLstore1, opLstore2, opLstore3:
			emit(Instruction{Kind: Store, Type: descriptor.Long, Var: int(op - opLstore0)})
		case opFstore0, opFstore1, opFstore2, opFstore3:
			emit(Instruction{Kind: Store, Type: descriptor.Float, Var: int(op - opFstore0)})
		case opDstore0, opDstore1, opDstore2, opDstore3:
			emit(Instruction{Kind: Store, Type: descriptor.Double, Var: int(op - opDstore0)})
		case opAstore0, opAstore1, opAstore2, opAstore3:
			emit(Instruction{Kind: Store, Type: descriptor.Reference, Var: int(op - opAstore0)})

		case opIaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Int})
		case opLaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Long})
		case opFaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Float})
		case opDaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Double})
		case opAaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Reference})
		case opBaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Byte})
		case opCaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Char})
		case opSaload:
			emit(Instruction{Kind: ALoad, Type: descriptor.Short})

		case opIastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Int})
		case opLastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Long})
		case opFastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Float})
		case opDastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Double})
		case opAastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Reference})
		case opBastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Byte})
		case opCastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Char})
		case opSastore:
			emit(Instruction{Kind: AStore, Type: descriptor.Short})

		case opPop:
			emit(Instruction{Kind: Pop})
		case opPop2:
			emit(Instruction{Kind: Pop2})
		case opDup:
			emit(Instruction{Kind: Dup})
		case opDupX1:
			emit(Instruction{Kind: DupX1})
		case opDupX2:
			emit(Instruction{Kind: DupX2})
		case opDup2:
			emit(Instruction{Kind: Dup2})
		case opDup2X1:
			emit(Instruction{Kind: Dup2X1})
		case opDup2X2:
			emit(Instruction{Kind: Dup2X2})
		case opSwap:
			emit(Instruction{Kind: Swap})

		case opIadd:
			emit(Instruction{Kind: Arith, Op: Add, Type: descriptor.Int})
		case opLadd:
			emit(Instruction{Kind: Arith, Op: Add, Type: descriptor.Long})
		case opFadd:
			emit(Instruction{Kind: Arith, Op: Add, Type: descriptor.Float})
		case opDadd:
			emit(Instruction{Kind: Arith, Op: Add, Type: descriptor.Double})
		case opIsub:
			emit(Instruction{Kind: Arith, Op: Sub, Type: descriptor.Int})
		case opLsub:
			emit(Instruction{Kind: Arith, Op: Sub, Type: descriptor.Long})
		case opFsub:
			emit(Instruction{Kind: Arith, Op: Sub, Type: descriptor.Float})
		case opDsub:
			emit(Instruction{Kind: Arith, Op: Sub, Type: descriptor.Double})
		case opImul:
			emit(Instruction{Kind: Arith, Op: Mul, Type: descriptor.Int})
		case opLmul:
			emit(Instruction{Kind: Arith, Op: Mul, Type: descriptor.Long})
		case opFmul:
			emit(Instruction{Kind: Arith, Op: Mul, Type: descriptor.Float})
		case opDmul:
			emit(Instruction{Kind: Arith, Op: Mul, Type: descriptor.Double})
		case opIdiv:
			emit(Instruction{Kind: Arith, Op: Div, Type: descriptor.Int})
		case opLdiv:
			emit(Instruction{Kind: Arith, Op: Div, Type: descriptor.Long})
		case opFdiv:
			emit(Instruction{Kind: Arith, Op: Div, Type: descriptor.Float})
		case opDdiv:
			emit(Instruction{Kind: Arith, Op: Div, Type: descriptor.Double})
		case opIrem:
			emit(Instruction{Kind: Arith, Op: Rem, Type: descriptor.Int})
		case opLrem:
			emit(Instruction{Kind: Arith, Op: Rem, Type: descriptor.Long})
		case opFrem:
			emit(Instruction{Kind: Arith, Op: Rem, Type: descriptor.Float})
		case opDrem:
			emit(Instruction{Kind: Arith, Op: Rem, Type: descriptor.Double})
		case opIneg:
			emit(Instruction{Kind: Arith, Op: Neg, Type: descriptor.Int})
		case opLneg:
			emit(Instruction{Kind: Arith, Op: Neg, Type: descriptor.Long})
		case opFneg:
			emit(Instruction{Kind: Arith, Op: Neg, Type: descriptor.Float})
		case opDneg:
			emit(Instruction{Kind: Arith, Op: Neg, Type: descriptor.Double})
		case opIshl:
			emit(Instruction{Kind: Arith, Op: Shl, Type: descriptor.Int})
		case opLshl:
			emit(Instruction{Kind: Arith, Op: Shl, Type: descriptor.Long})
		case opIshr:
			emit(Instruction{Kind: Arith, Op: Shr, Type: descriptor.Int})
		case opLshr:
			emit(Instruction{Kind: Arith, Op: Shr, Type: descriptor.Long})
		case opIushr:
			emit(Instruction{Kind: Arith, Op: UShr, Type: descriptor.Int})
		case opLushr:
			emit(Instruction{Kind: Arith, Op: UShr, Type: descriptor.Long})
		case opIand:
			emit(Instruction{Kind: Arith, Op: And, Type: descriptor.Int})
		case opLand:
			emit(Instruction{Kind: Arith, Op: And, Type: descriptor.Long})
		case opIor:
			emit(Instruction{Kind: Arith, Op: Or, Type: descriptor.Int})
		case opLor:
			emit(Instruction{Kind: Arith, Op: Or, Type: descriptor.Long})
		case opIxor:
			emit(Instruction{Kind: Arith, Op: Xor, Type: descriptor.Int})
		case opLxor:
			emit(Instruction{Kind: Arith, Op: Xor, Type: descriptor.Long})

		case opIinc:
			idx, err := readU8()
			if err != nil {
				return nil, err
			}
			delta, err := readI8()
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: Iinc, Var: int(idx), IntImm: int32(delta)})

		case opI2l:
			emit(Instruction{Kind: Convert, From: descriptor.Int, To: descriptor.Long})
		case opI2f:
			emit(Instruction{Kind: Convert, From: descriptor.Int, To: descriptor.Float})
		case opI2d:
			emit(Instruction{Kind: Convert, From: descriptor.Int, To: descriptor.Double})
		case opL2i:
			emit(Instruction{Kind: Convert, From: descriptor.Long, To: descriptor.Int})
		case opL2f:
			emit(Instruction{Kind: Convert, From: descriptor.Long, To: descriptor.Float})
		case opL2d:
			emit(Instruction{Kind: Convert, From: descriptor.Long, To: descriptor.Double})
		case opF2i:
			emit(Instruction{Kind: Convert, From: descriptor.Float, To: descriptor.Int})
		case opF2l:
			emit(Instruction{Kind: Convert, From: descriptor.Float, To: descriptor.Long})
		case opF2d:
			emit(Instruction{Kind: Convert, From: descriptor.Float, To: descriptor.Double})
		case opD2i:
			emit(Instruction{Kind: Convert, From: descriptor.Double, To: descriptor.Int})
		case opD2l:
			emit(Instruction{Kind: Convert, From: descriptor.Double, To: descriptor.Long})
		case opD2f:
			emit(Instruction{Kind: Convert, From: descriptor.Double, To: descriptor.Float})
		case opI2b:
			emit(Instruction{Kind: Convert, From: descriptor.Int, To: descriptor.Byte})
		case opI2c:
			emit(Instruction{Kind: Convert, From: descriptor.Int, To: descriptor.Char})
		case opI2s:
			emit(Instruction{Kind: Convert, From: descriptor.Int, To: descriptor.Short})

		case opLcmp:
			emit(Instruction{Kind: LCmp})
		case opFcmpl:
			emit(Instruction{Kind: FCmpL})
		case opFcmpg:
			emit(Instruction{Kind: FCmpG})
		case opDcmpl:
			emit(Instruction{Kind: DCmpL})
		case opDcmpg:
			emit(Instruction{Kind: DCmpG})

		case opIfeq, opIfne, opIflt, opIfge, opIfgt, opIfle:
			rel, err := readI16()
			if err != nil {
				return nil, err
			}
			if err := branch(If, start, int32(rel), func(in *Instruction) { in.Cmp = ifCmp(op) }); err != nil {
				return nil, err
			}
		case opIfIcmpeq, opIfIcmpne, opIfIcmplt, opIfIcmpge, opIfIcmpgt, opIfIcmple:
			rel, err := readI16()
			if err != nil {
				return nil, err
			}
			if err := branch(IfICmp, start, int32(rel), func(in *Instruction) { in.Cmp = ifICmpCmp(op) }); err != nil {
				return nil, err
			}
		case opIfAcmpeq, opIfAcmpne:
			rel, err := readI16()
			if err != nil {
				return nil, err
			}
			eq := op == opIfAcmpeq
			if err := branch(IfACmp, start, int32(rel), func(in *Instruction) { in.Eq = eq }); err != nil {
				return nil, err
			}
		case opIfnull, opIfnonnull:
			rel, err := readI16()
			if err != nil {
				return nil, err
			}
			eq := op == opIfnull
			if err := branch(IfNull, start, int32(rel), func(in *Instruction) { in.Eq = eq }); err != nil {
				return nil, err
			}
		case opGoto:
			rel, err := readI16()
			if err != nil {
				return nil, err
			}
			if err := branch(Goto, start, int32(rel), nil); err != nil {
				return nil, err
			}
		case opGotoW:
			rel, err := readI32()
			if err != nil {
				return nil, err
			}
			if err := branch(Goto, start, rel, nil); err != nil {
				return nil, err
			}
		case opJsr:
			rel, err := readI16()
			if err != nil {
				return nil, err
			}
			if err := branch(Jsr, start, int32(rel), nil); err != nil {
				return nil, err
			}
		case opJsrW:
			rel, err := readI32()
			if err != nil {
				return nil, err
			}
			if err := branch(Jsr, start, rel, nil); err != nil {
				return nil, err
			}
		case opRet:
			idx, err := readU8()
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: Ret, Var: int(idx)})

		case opIreturn:
			emit(Instruction{Kind: Return, HasType: true, Type: descriptor.Int})
		case opLreturn:
			emit(Instruction{Kind: Return, HasType: true, Type: descriptor.Long})
		case opFreturn:
			emit(Instruction{Kind: Return, HasType: true, Type: descriptor.Float})
		case opDreturn:
			emit(Instruction{Kind: Return, HasType: true, Type: descriptor.Double})
		case opAreturn:
			emit(Instruction{Kind: Return, HasType: true, Type: descriptor.Reference})
		case opReturn:
			emit(Instruction{Kind: Return, HasType: false})

		case opGetstatic:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			f, err := classfile.FieldRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: GetStatic, Field: f})
		case opPutstatic:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			f, err := classfile.FieldRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: PutStatic, Field: f})
		case opGetfield:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			f, err := classfile.FieldRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: GetField, Field: f})
		case opPutfield:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			f, err := classfile.FieldRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: PutField, Field: f})

		case opInvokevirtual:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			m, err := classfile.MethodRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: InvokeVirtual, Method: m})
		case opInvokespecial:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			m, err := classfile.MethodRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: InvokeSpecial, Method: m})
		case opInvokestatic:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			m, err := classfile.MethodRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: InvokeStatic, Method: m})
		case opInvokeinterface:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			count, err := readU8()
			if err != nil {
				return nil, err
			}
			if _, err := readU8(); err != nil { // trailing zero byte, discarded
				return nil, err
			}
			m, err := classfile.InterfaceMethodRef(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: InvokeInterface, Method: m, ArgCount: int(count)})

		case opNew:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			name, err := classfile.ClassName(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: New, ClassName: name})
		case opNewarray:
			atype, err := readU8()
			if err != nil {
				return nil, err
			}
			ty, err := newarrayType(atype)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: NewArray, Type: ty})
		case opAnewarray:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			name, err := classfile.ClassName(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: ANewArray, ClassName: name})
		case opMultianewarray:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			dims, err := readU8()
			if err != nil {
				return nil, err
			}
			name, err := classfile.ClassName(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: MultiANewArray, ClassName: name, Dims: int(dims)})
		case opArraylength:
			emit(Instruction{Kind: ArrayLength})
		case opCheckcast:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			name, err := classfile.ClassName(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: CheckCast, ClassName: name})
		case opInstanceof:
			idx, err := readU16()
			if err != nil {
				return nil, err
			}
			name, err := classfile.ClassName(cp, idx)
			if err != nil {
				return nil, err
			}
			emit(Instruction{Kind: InstanceOf, ClassName: name})
		case opAthrow:
			emit(Instruction{Kind: AThrow})
		case opMonitorenter:
			emit(Instruction{Kind: MonitorEnter})
		case opMonitorexit:
			emit(Instruction{Kind: MonitorExit})

		case opTableswitch, opLookupswitch, opWide, opInvokedynamic:
			return nil, fmt.Errorf("%w: opcode 0x%02x at byte %d", ErrUnsupportedOpcode, op, start)

		default:
			return nil, fmt.Errorf("%w: 0x%02x at byte %d", ErrUnknownOpcode, op, start)
		}
	}

	for _, fx := range fixups {
		idx, ok := byteToIndex[fx.targetByte]
		if !ok {
			return nil, fmt.Errorf("%w: target byte offset %d is not an instruction boundary", ErrMalformedBranch, fx.targetByte)
		}
		instrs[fx.instrIndex].Addr = idx
	}

	return instrs, nil
}

// loadStoreType maps an {i,l,f,d,a}load opcode to its Type. Passing an
// {i,l,f,d,a}store opcode offset by (opIstore-opIload) works identically
// since the five opcodes are laid out in the same relative order.
func loadStoreType(op byte) Type {
	switch op {
	case opIload:
		return descriptor.Int
	case opLload:
		return descriptor.Long
	case opFload:
		return descriptor.Float
	case opDload:
		return descriptor.Double
	case opAload:
		return descriptor.Reference
	default:
		return descriptor.Int
	}
}

func ifCmp(op byte) Comparison {
	switch op {
	case opIfeq:
		return EQ
	case opIfne:
		return NE
	case opIflt:
		return LT
	case opIfge:
		return GE
	case opIfgt:
		return GT
	default: // opIfle
		return LE
	}
}

func ifICmpCmp(op byte) Comparison {
	switch op {
	case opIfIcmpeq:
		return EQ
	case opIfIcmpne:
		return NE
	case opIfIcmplt:
		return LT
	case opIfIcmpge:
		return GE
	case opIfIcmpgt:
		return GT
	default: // opIfIcmple
		return LE
	}
}

func newarrayType(atype byte) (Type, error) {
	switch atype {
	case atypeBoolean:
		return descriptor.Boolean, nil
	case atypeChar:
		return descriptor.Char, nil
	case atypeFloat:
		return descriptor.Float, nil
	case atypeDouble:
		return descriptor.Double, nil
	case atypeByte:
		return descriptor.Byte, nil
	case atypeShort:
		return descriptor.Short, nil
	case atypeInt:
		return descriptor.Int, nil
	case atypeLong:
		return descriptor.Long, nil
	default:
		return 0, fmt.Errorf("%w: unknown newarray atype %d", ErrMalformedCode, atype)
	}
}
