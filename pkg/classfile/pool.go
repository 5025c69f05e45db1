package classfile

import (
	"errors"
	"fmt"

	parser "github.com/wreulicke/classfile-parser"
)

// ErrMalformedConstantPool is wrapped by every accessor failure: an
// out-of-range index or a tag mismatch against the entry actually found
// there.
var ErrMalformedConstantPool = errors.New("malformed constant pool access")

func entry(cp *Pool, index uint16) (parser.ConstantPoolEntry, error) {
	if index < 1 || int(index) > len(cp.Constants) {
		return nil, fmt.Errorf("%w: index %d out of range (pool size %d)", ErrMalformedConstantPool, index, len(cp.Constants))
	}
	e := cp.Constants[index-1]
	if e == nil {
		return nil, fmt.Errorf("%w: index %d is unused (wide-constant padding)", ErrMalformedConstantPool, index)
	}
	return e, nil
}

// Utf8 returns the UTF-8 string constant at index.
func Utf8(cp *Pool, index uint16) (string, error) {
	e, err := entry(cp, index)
	if err != nil {
		return "", err
	}
	u, ok := e.(*parser.ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("%w: index %d is not Utf8", ErrMalformedConstantPool, index)
	}
	return u.String(), nil
}

// ClassName resolves a CONSTANT_Class entry to the class name it names.
func ClassName(cp *Pool, index uint16) (string, error) {
	e, err := entry(cp, index)
	if err != nil {
		return "", err
	}
	c, ok := e.(*parser.ConstantClass)
	if !ok {
		return "", fmt.Errorf("%w: index %d is not Class", ErrMalformedConstantPool, index)
	}
	return Utf8(cp, c.NameIndex)
}

// NameAndType resolves a CONSTANT_NameAndType entry to its (name,
// descriptor) pair.
func NameAndType(cp *Pool, index uint16) (name, descriptor string, err error) {
	e, err := entry(cp, index)
	if err != nil {
		return "", "", err
	}
	nat, ok := e.(*parser.ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("%w: index %d is not NameAndType", ErrMalformedConstantPool, index)
	}
	name, err = Utf8(cp, nat.NameIndex)
	if err != nil {
		return "", "", err
	}
	descriptor, err = Utf8(cp, nat.DescriptorIndex)
	if err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// MemberRef is a resolved (declaring-class-name, member-name,
// descriptor-string) triple, shared by field and method references.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
}

func resolveMemberRef(cp *Pool, classIndex, natIndex uint16) (MemberRef, error) {
	className, err := ClassName(cp, classIndex)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := NameAndType(cp, natIndex)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{ClassName: className, Name: name, Descriptor: desc}, nil
}

// FieldRef resolves a CONSTANT_Fieldref entry.
func FieldRef(cp *Pool, index uint16) (MemberRef, error) {
	e, err := entry(cp, index)
	if err != nil {
		return MemberRef{}, err
	}
	f, ok := e.(*parser.ConstantFieldref)
	if !ok {
		return MemberRef{}, fmt.Errorf("%w: index %d is not Fieldref", ErrMalformedConstantPool, index)
	}
	return resolveMemberRef(cp, f.ClassIndex, f.NameAndTypeIndex)
}

// MethodRef resolves a CONSTANT_Methodref entry.
func MethodRef(cp *Pool, index uint16) (MemberRef, error) {
	e, err := entry(cp, index)
	if err != nil {
		return MemberRef{}, err
	}
	m, ok := e.(*parser.ConstantMethodref)
	if !ok {
		return MemberRef{}, fmt.Errorf("%w: index %d is not Methodref", ErrMalformedConstantPool, index)
	}
	return resolveMemberRef(cp, m.ClassIndex, m.NameAndTypeIndex)
}

// InterfaceMethodRef resolves a CONSTANT_InterfaceMethodref entry.
func InterfaceMethodRef(cp *Pool, index uint16) (MemberRef, error) {
	e, err := entry(cp, index)
	if err != nil {
		return MemberRef{}, err
	}
	m, ok := e.(*parser.ConstantInterfaceMethodref)
	if !ok {
		return MemberRef{}, fmt.Errorf("%w: index %d is not InterfaceMethodref", ErrMalformedConstantPool, index)
	}
	return resolveMemberRef(cp, m.ClassIndex, m.NameAndTypeIndex)
}

// LdcKind tags the constant-pool entry types loadable by ldc/ldc_w/ldc2_w.
type LdcKind int

const (
	LdcInt LdcKind = iota
	LdcFloat
	LdcLong
	LdcDouble
	LdcString
	LdcClass
)

// LdcValue is a resolved constant-pool load target, tagged by kind.
type LdcValue struct {
	Kind      LdcKind
	Int       int32
	Float     float32
	Long      int64
	Double    float64
	Str       string
	ClassName string
}

// ResolveLdc resolves a constant-pool entry usable by ldc (int, float,
// string, class) or ldc2_w (long, double).
func ResolveLdc(cp *Pool, index uint16) (LdcValue, error) {
	e, err := entry(cp, index)
	if err != nil {
		return LdcValue{}, err
	}
	switch c := e.(type) {
	case *parser.ConstantInteger:
		return LdcValue{Kind: LdcInt, Int: int32(c.Bytes)}, nil
	case *parser.ConstantFloat:
		return LdcValue{Kind: LdcFloat, Float: float32FromBits(c.Bytes)}, nil
	case *parser.ConstantLong:
		return LdcValue{Kind: LdcLong, Long: int64(c.HighBytes)<<32 | int64(c.LowBytes)}, nil
	case *parser.ConstantDouble:
		return LdcValue{Kind: LdcDouble, Double: float64FromBits(c.HighBytes, c.LowBytes)}, nil
	case *parser.ConstantString:
		s, err := Utf8(cp, c.StringIndex)
		if err != nil {
			return LdcValue{}, err
		}
		return LdcValue{Kind: LdcString, Str: s}, nil
	case *parser.ConstantClass:
		name, err := Utf8(cp, c.NameIndex)
		if err != nil {
			return LdcValue{}, err
		}
		return LdcValue{Kind: LdcClass, ClassName: name}, nil
	default:
		return LdcValue{}, fmt.Errorf("%w: index %d (tag %d) is not loadable by ldc", ErrMalformedConstantPool, index, e.Tag())
	}
}
