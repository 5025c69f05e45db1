package classfile_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tinbrook/classvm/pkg/classfile"
	"github.com/tinbrook/classvm/pkg/classfile/cftest"
)

func parsePool(t *testing.T, build func(p *cftest.Pool)) *classfile.Pool {
	t.Helper()
	pool := cftest.NewPool()
	build(pool)
	c := &cftest.Class{
		MajorVersion: 52,
		AccessFlags:  0x0021,
		ThisClass:    "Probe",
		SuperClass:   "java/lang/Object",
		Pool:         pool,
	}
	raw, err := classfile.Parse(bytes.NewReader(c.Build()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return raw.ConstantPool
}

func TestUtf8AndClassName(t *testing.T) {
	var nameIdx, classIdx uint16
	cp := parsePool(t, func(p *cftest.Pool) {
		nameIdx = p.Utf8("hello")
		classIdx = p.Class("java/lang/String")
	})

	s, err := classfile.Utf8(cp, nameIdx)
	if err != nil || s != "hello" {
		t.Errorf("Utf8: got (%q, %v), want (hello, nil)", s, err)
	}

	name, err := classfile.ClassName(cp, classIdx)
	if err != nil || name != "java/lang/String" {
		t.Errorf("ClassName: got (%q, %v), want (java/lang/String, nil)", name, err)
	}
}

func TestNameAndType(t *testing.T) {
	var idx uint16
	cp := parsePool(t, func(p *cftest.Pool) {
		idx = p.NameAndType("value", "I")
	})
	name, desc, err := classfile.NameAndType(cp, idx)
	if err != nil {
		t.Fatalf("NameAndType: %v", err)
	}
	if name != "value" || desc != "I" {
		t.Errorf("NameAndType: got (%q, %q), want (value, I)", name, desc)
	}
}

func TestFieldRefMethodRefInterfaceMethodRef(t *testing.T) {
	var fIdx, mIdx, imIdx uint16
	cp := parsePool(t, func(p *cftest.Pool) {
		fIdx = p.Fieldref("com/example/Widget", "count", "I")
		mIdx = p.Methodref("com/example/Widget", "run", "()V")
		imIdx = p.InterfaceMethodref("java/lang/Runnable", "run", "()V")
	})

	f, err := classfile.FieldRef(cp, fIdx)
	if err != nil {
		t.Fatalf("FieldRef: %v", err)
	}
	if f != (classfile.MemberRef{ClassName: "com/example/Widget", Name: "count", Descriptor: "I"}) {
		t.Errorf("FieldRef: got %+v", f)
	}

	m, err := classfile.MethodRef(cp, mIdx)
	if err != nil {
		t.Fatalf("MethodRef: %v", err)
	}
	if m != (classfile.MemberRef{ClassName: "com/example/Widget", Name: "run", Descriptor: "()V"}) {
		t.Errorf("MethodRef: got %+v", m)
	}

	im, err := classfile.InterfaceMethodRef(cp, imIdx)
	if err != nil {
		t.Fatalf("InterfaceMethodRef: %v", err)
	}
	if im != (classfile.MemberRef{ClassName: "java/lang/Runnable", Name: "run", Descriptor: "()V"}) {
		t.Errorf("InterfaceMethodRef: got %+v", im)
	}
}

func TestResolveLdc(t *testing.T) {
	var intIdx, floatIdx, longIdx, doubleIdx, strIdx, classIdx uint16
	cp := parsePool(t, func(p *cftest.Pool) {
		intIdx = p.Integer(-7)
		floatIdx = p.Float(3.5)
		longIdx = p.Long(1<<40 + 3)
		doubleIdx = p.Double(2.5)
		strIdx = p.String("greetings")
		classIdx = p.Class("java/lang/Math")
	})

	cases := []struct {
		name string
		idx  uint16
		want classfile.LdcValue
	}{
		{"int", intIdx, classfile.LdcValue{Kind: classfile.LdcInt, Int: -7}},
		{"float", floatIdx, classfile.LdcValue{Kind: classfile.LdcFloat, Float: 3.5}},
		{"long", longIdx, classfile.LdcValue{Kind: classfile.LdcLong, Long: 1<<40 + 3}},
		{"double", doubleIdx, classfile.LdcValue{Kind: classfile.LdcDouble, Double: 2.5}},
		{"string", strIdx, classfile.LdcValue{Kind: classfile.LdcString, Str: "greetings"}},
		{"class", classIdx, classfile.LdcValue{Kind: classfile.LdcClass, ClassName: "java/lang/Math"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := classfile.ResolveLdc(cp, tc.idx)
			if err != nil {
				t.Fatalf("ResolveLdc: %v", err)
			}
			if got != tc.want {
				t.Errorf("ResolveLdc: got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestAccessorErrorsOutOfRange(t *testing.T) {
	cp := parsePool(t, func(p *cftest.Pool) {})
	if _, err := classfile.Utf8(cp, 9999); !errors.Is(err, classfile.ErrMalformedConstantPool) {
		t.Errorf("Utf8 out of range: got %v, want ErrMalformedConstantPool", err)
	}
}

func TestAccessorErrorsWrongTag(t *testing.T) {
	var idx uint16
	cp := parsePool(t, func(p *cftest.Pool) {
		idx = p.Integer(1)
	})
	if _, err := classfile.Utf8(cp, idx); !errors.Is(err, classfile.ErrMalformedConstantPool) {
		t.Errorf("Utf8 on Integer entry: got %v, want ErrMalformedConstantPool", err)
	}
	if _, err := classfile.ClassName(cp, idx); !errors.Is(err, classfile.ErrMalformedConstantPool) {
		t.Errorf("ClassName on Integer entry: got %v, want ErrMalformedConstantPool", err)
	}
}

func TestLongDoubleOccupyTwoSlots(t *testing.T) {
	var longIdx, afterIdx uint16
	cp := parsePool(t, func(p *cftest.Pool) {
		longIdx = p.Long(42)
		afterIdx = p.Utf8("after")
	})
	if afterIdx != longIdx+2 {
		t.Errorf("wide-constant slot skip: long at %d, after at %d, want %d", longIdx, afterIdx, longIdx+2)
	}
	if _, err := classfile.Utf8(cp, longIdx+1); !errors.Is(err, classfile.ErrMalformedConstantPool) {
		t.Errorf("padding slot access: got %v, want ErrMalformedConstantPool", err)
	}
}
