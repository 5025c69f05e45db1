// Package classfile adapts github.com/wreulicke/classfile-parser's
// pre-validated structural tree into the typed, 1-indexed constant-pool
// accessors the rest of classvm depends on. The byte-level parser itself is
// treated as an opaque external producer: this package never re-parses a
// .class file's raw bytes, it only projects the library's output into the
// shapes the class model, decoder, and loader need.
package classfile

import (
	"io"

	parser "github.com/wreulicke/classfile-parser"
)

// Raw is the external parser's structural tree for one class file.
type Raw = parser.ClassFile

// Pool is the external parser's constant pool.
type Pool = parser.ConstantPool

// Parse reads and parses a class file from r via the external parser.
func Parse(r io.Reader) (*Raw, error) {
	p := parser.New(r)
	cf, err := p.Parse()
	if err != nil {
		return nil, err
	}
	return cf, nil
}

// ThisClassName returns the fully qualified name of the class itself.
func ThisClassName(cf *Raw) (string, error) {
	return cf.ThisClassName()
}

// SuperClassName returns the fully qualified name of the direct superclass,
// or "" for java/lang/Object (whose SuperClass constant-pool index is 0).
func SuperClassName(cf *Raw) (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return cf.SuperClassName()
}

// InterfaceNames resolves every directly-implemented interface name.
func InterfaceNames(cf *Raw) ([]string, error) {
	names := make([]string, len(cf.Interfaces))
	for i, idx := range cf.Interfaces {
		name, err := ClassName(cf.ConstantPool, idx)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}
