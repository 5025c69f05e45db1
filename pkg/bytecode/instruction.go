// Package bytecode decodes a method's raw Code bytes into a dense vector of
// typed instructions, resolving constant-pool references and rewriting
// branch targets from byte offsets to instruction indices along the way.
package bytecode

import (
	"errors"

	"github.com/tinbrook/classvm/pkg/classfile"
	"github.com/tinbrook/classvm/pkg/descriptor"
)

// ErrUnknownOpcode is wrapped when a byte has no decoding at all.
var ErrUnknownOpcode = errors.New("unknown opcode")

// ErrUnsupportedOpcode is wrapped for opcodes this interpreter recognizes but
// does not implement: tableswitch, lookupswitch, wide, invokedynamic.
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// ErrMalformedBranch is wrapped when a branch's computed target does not
// land on the start of a decoded instruction.
var ErrMalformedBranch = errors.New("malformed branch target")

// ErrMalformedCode is wrapped for truncated operands or an invalid
// newarray element-type byte.
var ErrMalformedCode = errors.New("malformed code")

// Type is the dispatch-relevant operand type an instruction is parameterized
// over. It reuses descriptor.SimpleType's nine-value set verbatim.
type Type = descriptor.SimpleType

// Comparison is the relational test carried by a conditional branch.
type Comparison int

const (
	EQ Comparison = iota
	NE
	LT
	LE
	GT
	GE
)

func (c Comparison) String() string {
	switch c {
	case EQ:
		return "EQ"
	case NE:
		return "NE"
	case LT:
		return "LT"
	case LE:
		return "LE"
	case GT:
		return "GT"
	case GE:
		return "GE"
	default:
		return "Comparison(?)"
	}
}

// ArithOp is the arithmetic or bitwise operator carried by an Arith instruction.
type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Mul
	Div
	Rem
	Neg
	And
	Or
	Xor
	Shl
	Shr
	UShr
)

// Kind discriminates Instruction's variants. Instruction is a flat struct
// rather than a sum type (Go has none); only the fields documented per Kind
// below are meaningful for a given instruction.
type Kind int

const (
	Nop Kind = iota
	AConstNull
	IConst   // IntImm: ldc of an int
	LConst   // LongImm: lconst_0/1, ldc2_w of a long
	FConst   // FloatImm: fconst_0/1/2, ldc of a float
	DConst   // DoubleImm: dconst_0/1, ldc2_w of a double
	BiPush   // IntImm: iconst_m1..5, bipush
	SiPush   // IntImm: sipush
	LdcStringOp // Str: ldc of a String
	Load     // Type, Var
	Store    // Type, Var
	ALoad    // Type: array element load (pops index, arrayref)
	AStore   // Type: array element store (pops value, index, arrayref)
	Arith    // Op, Type
	Convert  // From, To (Type fields)
	DCmpG
	DCmpL
	FCmpG
	FCmpL
	LCmp
	Goto     // Addr
	If       // Cmp, Addr (against 0)
	IfICmp   // Cmp, Addr
	IfACmp   // Eq, Addr
	IfNull   // Eq, Addr
	Jsr      // Addr
	Ret      // Var
	Return   // HasType, Type (HasType=false means void)
	New      // ClassName
	NewArray // Type (element type)
	ANewArray // ClassName (element class)
	MultiANewArray // ClassName (array descriptor string), Dims
	ArrayLength
	CheckCast   // ClassName
	InstanceOf  // ClassName
	AThrow
	GetField  // Field
	PutField  // Field
	GetStatic // Field
	PutStatic // Field
	InvokeSpecial   // Method
	InvokeVirtual   // Method
	InvokeStatic    // Method
	InvokeInterface // Method, ArgCount
	Dup
	DupX1
	DupX2
	Dup2
	Dup2X1
	Dup2X2
	Pop
	Pop2
	Swap
	MonitorEnter
	MonitorExit
	Iinc // Var, IntImm
)

// Instruction is one decoded bytecode instruction. Addr, once decoded, is an
// absolute index into the enclosing method's instruction vector, never a
// byte offset.
type Instruction struct {
	Kind Kind

	Type Type // Load/Store/ALoad/AStore/NewArray/Arith/Return element type
	From Type // Convert source type
	To   Type // Convert target type
	Var  int  // Load/Store/Ret/Iinc local-variable index

	IntImm    int32
	LongImm   int64
	FloatImm  float32
	DoubleImm float64
	Str       string

	ClassName string // New/ANewArray/CheckCast/InstanceOf/MultiANewArray
	Dims      int    // MultiANewArray dimension count

	Field  classfile.MemberRef // GetField/PutField/GetStatic/PutStatic
	Method classfile.MemberRef // InvokeSpecial/Virtual/Static/Interface
	ArgCount int               // InvokeInterface

	Op   ArithOp    // Arith
	Cmp  Comparison // If/IfICmp
	Eq   bool       // IfACmp/IfNull: true means EQ, false means NE

	HasType bool // Return: false means void
	Addr    int  // branch target: absolute instruction index after fixup
}
