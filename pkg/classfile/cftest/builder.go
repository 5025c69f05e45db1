// Package cftest builds minimal, spec-conformant class-file byte streams for
// use as test fixtures elsewhere in classvm. It exists because classvm has no
// Java toolchain available to produce real .class files: tests instead
// hand-assemble the wire format directly, the same way the interpreter will
// eventually read it back out.
package cftest

import (
	"encoding/binary"
	"math"
)

const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
)

// Pool accumulates constant-pool entries and assigns them wire indices,
// coalescing repeated Utf8/Class/NameAndType requests the way javac does.
type Pool struct {
	buf        []byte
	count      uint16 // constant_pool_count: one past the highest assigned index
	utf8s      map[string]uint16
	classes    map[string]uint16
	nats       map[[2]string]uint16
	fieldrefs  map[[2]uint16]uint16
	methodrefs map[[2]uint16]uint16
}

// NewPool returns an empty constant pool builder.
func NewPool() *Pool {
	return &Pool{
		count:      1,
		utf8s:      map[string]uint16{},
		classes:    map[string]uint16{},
		nats:       map[[2]string]uint16{},
		fieldrefs:  map[[2]uint16]uint16{},
		methodrefs: map[[2]uint16]uint16{},
	}
}

func (p *Pool) alloc(width uint16) uint16 {
	idx := p.count
	p.count += width
	return idx
}

func put16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func put32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Utf8 interns a UTF-8 constant and returns its index.
func (p *Pool) Utf8(s string) uint16 {
	if idx, ok := p.utf8s[s]; ok {
		return idx
	}
	idx := p.alloc(1)
	p.utf8s[s] = idx
	p.buf = append(p.buf, tagUtf8)
	p.buf = append(p.buf, put16(uint16(len(s)))...)
	p.buf = append(p.buf, []byte(s)...)
	return idx
}

// Class interns a CONSTANT_Class for a fully qualified internal name (e.g.
// "java/lang/Object") and returns its index.
func (p *Pool) Class(name string) uint16 {
	if idx, ok := p.classes[name]; ok {
		return idx
	}
	nameIdx := p.Utf8(name)
	idx := p.alloc(1)
	p.classes[name] = idx
	p.buf = append(p.buf, tagClass)
	p.buf = append(p.buf, put16(nameIdx)...)
	return idx
}

// NameAndType interns a CONSTANT_NameAndType pair and returns its index.
func (p *Pool) NameAndType(name, descriptor string) uint16 {
	key := [2]string{name, descriptor}
	if idx, ok := p.nats[key]; ok {
		return idx
	}
	nameIdx := p.Utf8(name)
	descIdx := p.Utf8(descriptor)
	idx := p.alloc(1)
	p.nats[key] = idx
	p.buf = append(p.buf, tagNameAndType)
	p.buf = append(p.buf, put16(nameIdx)...)
	p.buf = append(p.buf, put16(descIdx)...)
	return idx
}

// Fieldref interns a CONSTANT_Fieldref and returns its index.
func (p *Pool) Fieldref(className, name, descriptor string) uint16 {
	classIdx := p.Class(className)
	natIdx := p.NameAndType(name, descriptor)
	key := [2]uint16{classIdx, natIdx}
	if idx, ok := p.fieldrefs[key]; ok {
		return idx
	}
	idx := p.alloc(1)
	p.fieldrefs[key] = idx
	p.buf = append(p.buf, tagFieldref)
	p.buf = append(p.buf, put16(classIdx)...)
	p.buf = append(p.buf, put16(natIdx)...)
	return idx
}

// Methodref interns a CONSTANT_Methodref and returns its index.
func (p *Pool) Methodref(className, name, descriptor string) uint16 {
	classIdx := p.Class(className)
	natIdx := p.NameAndType(name, descriptor)
	key := [2]uint16{classIdx, natIdx}
	if idx, ok := p.methodrefs[key]; ok {
		return idx
	}
	idx := p.alloc(1)
	p.methodrefs[key] = idx
	p.buf = append(p.buf, tagMethodref)
	p.buf = append(p.buf, put16(classIdx)...)
	p.buf = append(p.buf, put16(natIdx)...)
	return idx
}

// InterfaceMethodref interns a CONSTANT_InterfaceMethodref and returns its
// index.
func (p *Pool) InterfaceMethodref(className, name, descriptor string) uint16 {
	classIdx := p.Class(className)
	natIdx := p.NameAndType(name, descriptor)
	idx := p.alloc(1)
	p.buf = append(p.buf, tagInterfaceMethodref)
	p.buf = append(p.buf, put16(classIdx)...)
	p.buf = append(p.buf, put16(natIdx)...)
	return idx
}

// Integer interns a CONSTANT_Integer and returns its index.
func (p *Pool) Integer(v int32) uint16 {
	idx := p.alloc(1)
	p.buf = append(p.buf, tagInteger)
	p.buf = append(p.buf, put32(uint32(v))...)
	return idx
}

// Float interns a CONSTANT_Float and returns its index.
func (p *Pool) Float(v float32) uint16 {
	idx := p.alloc(1)
	p.buf = append(p.buf, tagFloat)
	p.buf = append(p.buf, put32(math.Float32bits(v))...)
	return idx
}

// Long interns a CONSTANT_Long, which occupies two consecutive constant-pool
// indices, and returns the lower one.
func (p *Pool) Long(v int64) uint16 {
	idx := p.alloc(2)
	bits := uint64(v)
	p.buf = append(p.buf, tagLong)
	p.buf = append(p.buf, put32(uint32(bits>>32))...)
	p.buf = append(p.buf, put32(uint32(bits))...)
	return idx
}

// Double interns a CONSTANT_Double, which occupies two consecutive
// constant-pool indices, and returns the lower one.
func (p *Pool) Double(v float64) uint16 {
	idx := p.alloc(2)
	bits := math.Float64bits(v)
	p.buf = append(p.buf, tagDouble)
	p.buf = append(p.buf, put32(uint32(bits>>32))...)
	p.buf = append(p.buf, put32(uint32(bits))...)
	return idx
}

// String interns a CONSTANT_String and returns its index.
func (p *Pool) String(s string) uint16 {
	utf8Idx := p.Utf8(s)
	idx := p.alloc(1)
	p.buf = append(p.buf, tagString)
	p.buf = append(p.buf, put16(utf8Idx)...)
	return idx
}

// Field describes one field_info entry.
type Field struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
}

// Method describes one method_info entry. Code is the raw bytecode body; if
// nil, the method is emitted with no Code attribute (as for abstract or
// native methods).
type Method struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	MaxStack    uint16
	MaxLocals   uint16
	Code        []byte
}

// Class describes a complete class file to assemble.
type Class struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
	ThisClass    string
	SuperClass   string // "" means no superclass (only valid for java/lang/Object)
	Interfaces   []string
	Fields       []Field
	Methods      []Method
	Pool         *Pool
}

// Build assembles c into a complete class-file byte stream.
func (c *Class) Build() []byte {
	pool := c.Pool
	if pool == nil {
		pool = NewPool()
	}

	thisIdx := pool.Class(c.ThisClass)
	var superIdx uint16
	if c.SuperClass != "" {
		superIdx = pool.Class(c.SuperClass)
	}
	interfaceIdxs := make([]uint16, len(c.Interfaces))
	for i, name := range c.Interfaces {
		interfaceIdxs[i] = pool.Class(name)
	}

	type builtField struct {
		accessFlags, nameIdx, descIdx uint16
	}
	builtFields := make([]builtField, len(c.Fields))
	for i, f := range c.Fields {
		builtFields[i] = builtField{f.AccessFlags, pool.Utf8(f.Name), pool.Utf8(f.Descriptor)}
	}

	codeAttrNameIdx := pool.Utf8("Code")

	type builtMethod struct {
		accessFlags, nameIdx, descIdx uint16
		code                          []byte
		maxStack, maxLocals           uint16
		hasCode                       bool
	}
	builtMethods := make([]builtMethod, len(c.Methods))
	for i, m := range c.Methods {
		builtMethods[i] = builtMethod{
			accessFlags: m.AccessFlags,
			nameIdx:     pool.Utf8(m.Name),
			descIdx:     pool.Utf8(m.Descriptor),
			code:        m.Code,
			maxStack:    m.MaxStack,
			maxLocals:   m.MaxLocals,
			hasCode:     m.Code != nil,
		}
	}

	var out []byte
	out = append(out, put32(0xCAFEBABE)...)
	out = append(out, put16(c.MinorVersion)...)
	out = append(out, put16(c.MajorVersion)...)
	out = append(out, put16(pool.count)...)
	out = append(out, pool.buf...)
	out = append(out, put16(c.AccessFlags)...)
	out = append(out, put16(thisIdx)...)
	out = append(out, put16(superIdx)...)
	out = append(out, put16(uint16(len(interfaceIdxs)))...)
	for _, idx := range interfaceIdxs {
		out = append(out, put16(idx)...)
	}

	out = append(out, put16(uint16(len(builtFields)))...)
	for _, f := range builtFields {
		out = append(out, put16(f.accessFlags)...)
		out = append(out, put16(f.nameIdx)...)
		out = append(out, put16(f.descIdx)...)
		out = append(out, put16(0)...) // attributes_count
	}

	out = append(out, put16(uint16(len(builtMethods)))...)
	for _, m := range builtMethods {
		out = append(out, put16(m.accessFlags)...)
		out = append(out, put16(m.nameIdx)...)
		out = append(out, put16(m.descIdx)...)
		if !m.hasCode {
			out = append(out, put16(0)...) // attributes_count
			continue
		}
		out = append(out, put16(1)...) // attributes_count
		var code []byte
		code = append(code, put16(m.maxStack)...)
		code = append(code, put16(m.maxLocals)...)
		code = append(code, put32(uint32(len(m.code)))...)
		code = append(code, m.code...)
		code = append(code, put16(0)...) // exception_table_length
		code = append(code, put16(0)...) // attributes_count (Code's own)
		out = append(out, put16(codeAttrNameIdx)...)
		out = append(out, put32(uint32(len(code)))...)
		out = append(out, code...)
	}

	out = append(out, put16(0)...) // class-level attributes_count
	return out
}
