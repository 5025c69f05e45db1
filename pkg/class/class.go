// Package class is the linked, in-memory representation of a loaded class:
// name, superclass, interfaces, methods, and static/instance field layout,
// together with the static inheritance queries the interpreter dispatches
// through (instance size, field offset, method lookup, instanceof).
package class

import (
	"errors"
	"fmt"

	"github.com/tinbrook/classvm/pkg/bytecode"
	"github.com/tinbrook/classvm/pkg/classfile"
	"github.com/tinbrook/classvm/pkg/descriptor"
)

// ErrClassFormatError is wrapped when a parsed class file violates a linking
// invariant: Object declares a superclass, a non-Object class doesn't, or an
// interface's superclass isn't Object.
var ErrClassFormatError = errors.New("class format error")

// Access flags relevant to linking and dispatch (JVM spec table 4.1/4.5/4.6).
const (
	AccPublic    = 0x0001
	AccStatic    = 0x0008
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccNative    = 0x0100
)

// Field is a linked field: its declaring access flags, name, raw descriptor
// string, and word size.
type Field struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Size        int
}

// IsStatic reports whether the field carries ACC_STATIC.
func (f Field) IsStatic() bool {
	return f.AccessFlags&AccStatic != 0
}

// Method is a linked method: name, raw descriptor, access flags, the
// precomputed operand-word count of its parameters (including an implicit
// `this` for non-static methods), and its decoded Code, if present.
type Method struct {
	AccessFlags    uint16
	Name           string
	Descriptor     string
	WordsForParams int
	Code           *Code
}

// Code is a method body: its frame sizing and decoded instruction vector.
type Code struct {
	MaxStack     int
	MaxLocals    int
	Instructions []bytecode.Instruction
}

// IsNative reports whether the method carries ACC_NATIVE (and so has no
// Code).
func (m Method) IsNative() bool {
	return m.AccessFlags&AccNative != 0
}

// IsStatic reports whether the method carries ACC_STATIC.
func (m Method) IsStatic() bool {
	return m.AccessFlags&AccStatic != 0
}

// Class is the linked representation of one class or interface. It is
// immutable after FromClassFile returns.
type Class struct {
	Name         string
	SuperName    string // "" only for java/lang/Object
	Interfaces   []string
	AccessFlags  uint16
	Methods      []Method
	InstanceFields []Field // source order
	StaticFields   []Field // source order
}

// IsInterface reports whether the class carries ACC_INTERFACE.
func (c *Class) IsInterface() bool {
	return c.AccessFlags&AccInterface != 0
}

// HasSuper reports whether c declares a superclass (false only for
// java/lang/Object).
func (c *Class) HasSuper() bool {
	return c.SuperName != ""
}

// FromClassFile links a parsed class file into a Class: resolving names,
// decoding every method's Code, and partitioning fields into static and
// instance lists in source order.
func FromClassFile(raw *classfile.Raw) (*Class, error) {
	name, err := classfile.ThisClassName(raw)
	if err != nil {
		return nil, err
	}
	superName, err := classfile.SuperClassName(raw)
	if err != nil {
		return nil, err
	}

	isObject := name == "java/lang/Object"
	if isObject && superName != "" {
		return nil, fmt.Errorf("%w: %s must not declare a superclass", ErrClassFormatError, name)
	}
	if !isObject && superName == "" {
		return nil, fmt.Errorf("%w: %s must declare a superclass", ErrClassFormatError, name)
	}
	if raw.AccessFlags&AccInterface != 0 && superName != "java/lang/Object" {
		return nil, fmt.Errorf("%w: interface %s must have java/lang/Object as superclass, got %s", ErrClassFormatError, name, superName)
	}

	interfaces, err := classfile.InterfaceNames(raw)
	if err != nil {
		return nil, err
	}

	var instanceFields, staticFields []Field
	for _, rf := range raw.Fields {
		fname, err := classfile.Utf8(raw.ConstantPool, rf.NameIndex)
		if err != nil {
			return nil, err
		}
		fdesc, err := classfile.Utf8(raw.ConstantPool, rf.DescriptorIndex)
		if err != nil {
			return nil, err
		}
		d, err := descriptor.ParseField(fdesc)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s.%s: %v", ErrClassFormatError, name, fname, err)
		}
		f := Field{AccessFlags: rf.AccessFlags, Name: fname, Descriptor: fdesc, Size: d.WordSize()}
		if f.IsStatic() {
			staticFields = append(staticFields, f)
		} else {
			instanceFields = append(instanceFields, f)
		}
	}

	methods := make([]Method, len(raw.Methods))
	for i, rm := range raw.Methods {
		mname, err := classfile.Utf8(raw.ConstantPool, rm.NameIndex)
		if err != nil {
			return nil, err
		}
		mdesc, err := classfile.Utf8(raw.ConstantPool, rm.DescriptorIndex)
		if err != nil {
			return nil, err
		}
		md, err := descriptor.ParseMethod(mdesc)
		if err != nil {
			return nil, fmt.Errorf("%w: method %s.%s: %v", ErrClassFormatError, name, mname, err)
		}
		words := md.WordsForParams()
		if rm.AccessFlags&AccStatic == 0 {
			words++
		}

		m := Method{AccessFlags: rm.AccessFlags, Name: mname, Descriptor: mdesc, WordsForParams: words}
		if rm.AccessFlags&(AccAbstract|AccNative) == 0 {
			if codeAttr := rm.Code(); codeAttr != nil {
				instrs, err := bytecode.Decode(codeAttr.Codes, raw.ConstantPool)
				if err != nil {
					return nil, fmt.Errorf("%w: method %s.%s%s: %v", ErrClassFormatError, name, mname, mdesc, err)
				}
				m.Code = &Code{MaxStack: int(codeAttr.MaxStack), MaxLocals: int(codeAttr.MaxLocals), Instructions: instrs}
			}
		}
		methods[i] = m
	}

	return &Class{
		Name:           name,
		SuperName:      superName,
		Interfaces:     interfaces,
		AccessFlags:    raw.AccessFlags,
		Methods:        methods,
		InstanceFields: instanceFields,
		StaticFields:   staticFields,
	}, nil
}

// FindDeclaredMethod returns the method declared directly on c with the
// given (name, descriptor), if any.
func (c *Class) FindDeclaredMethod(name, descriptor string) (*Method, bool) {
	for i := range c.Methods {
		if c.Methods[i].Name == name && c.Methods[i].Descriptor == descriptor {
			return &c.Methods[i], true
		}
	}
	return nil, false
}

// FindDeclaredField returns the field declared directly on c with the given
// (name, descriptor), if any.
func (c *Class) FindDeclaredField(name, descriptor string) (*Field, bool) {
	for i := range c.InstanceFields {
		f := &c.InstanceFields[i]
		if f.Name == name && f.Descriptor == descriptor {
			return f, true
		}
	}
	for i := range c.StaticFields {
		f := &c.StaticFields[i]
		if f.Name == name && f.Descriptor == descriptor {
			return f, true
		}
	}
	return nil, false
}
