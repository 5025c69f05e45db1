// Package descriptor parses JVM field and method descriptors into typed
// values and projects them onto the simple types the interpreter dispatches
// on.
package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is wrapped by every parse failure: empty input, an unknown
// base type letter, or trailing garbage after a complete descriptor.
var ErrMalformed = errors.New("malformed descriptor")

// SimpleType is the dispatch-relevant projection of a descriptor: its base
// type if it is not an array, or Reference if it is.
type SimpleType int

const (
	Reference SimpleType = iota
	Boolean
	Byte
	Char
	Short
	Int
	Long
	Float
	Double
)

func (t SimpleType) String() string {
	switch t {
	case Reference:
		return "Reference"
	case Boolean:
		return "Boolean"
	case Byte:
		return "Byte"
	case Char:
		return "Char"
	case Short:
		return "Short"
	case Int:
		return "Int"
	case Long:
		return "Long"
	case Float:
		return "Float"
	case Double:
		return "Double"
	default:
		return "SimpleType(?)"
	}
}

// WordSize returns 1 for every simple type except Long and Double, which
// occupy two consecutive stack words or local-variable slots.
func (t SimpleType) WordSize() int {
	if t == Long || t == Double {
		return 2
	}
	return 1
}

// Field is a parsed field descriptor: a base type, qualified by an array
// depth. ClassName is only meaningful when ArrayDepth == 0 and Base ==
// Reference.
type Field struct {
	ArrayDepth int
	Base       SimpleType
	ClassName  string // set whenever Base == Reference, at any array depth
}

// SimpleType is Reference when the descriptor is an array of any depth,
// otherwise the base type itself.
func (d Field) SimpleType() SimpleType {
	if d.ArrayDepth > 0 {
		return Reference
	}
	return d.Base
}

// WordSize is the operand-stack/local-variable width of a value of this
// type.
func (d Field) WordSize() int {
	return d.SimpleType().WordSize()
}

// IsArray reports whether the descriptor denotes an array type.
func (d Field) IsArray() bool {
	return d.ArrayDepth > 0
}

// GetClassName returns the referenced class name. It is only meaningful
// when !d.IsArray() && d.Base == Reference.
func (d Field) GetClassName() string {
	return d.ClassName
}

// AddArray returns a descriptor one array dimension deeper than d. Used to
// derive the element type's array type (e.g. when deriving `[I` from `I`
// while building a one-dimensional int array) or, run in reverse via
// RemoveArray, when stripping one `[` off an array type to reach its
// element type (used by instanceof on arrays).
func (d Field) AddArray() Field {
	return Field{ArrayDepth: d.ArrayDepth + 1, Base: d.Base, ClassName: d.ClassName}
}

// RemoveArray returns a descriptor one array dimension shallower than d. It
// panics if d is not an array; callers must check IsArray first.
func (d Field) RemoveArray() Field {
	if d.ArrayDepth == 0 {
		panic("descriptor: RemoveArray on non-array descriptor")
	}
	return Field{ArrayDepth: d.ArrayDepth - 1, Base: d.Base, ClassName: d.ClassName}
}

// Format renders the descriptor back to its wire form, the inverse of
// ParseField.
func (d Field) Format() string {
	var sb strings.Builder
	for i := 0; i < d.ArrayDepth; i++ {
		sb.WriteByte('[')
	}
	switch d.Base {
	case Reference:
		sb.WriteByte('L')
		sb.WriteString(d.ClassName)
		sb.WriteByte(';')
	case Boolean:
		sb.WriteByte('Z')
	case Byte:
		sb.WriteByte('B')
	case Char:
		sb.WriteByte('C')
	case Short:
		sb.WriteByte('S')
	case Int:
		sb.WriteByte('I')
	case Long:
		sb.WriteByte('J')
	case Float:
		sb.WriteByte('F')
	case Double:
		sb.WriteByte('D')
	}
	return sb.String()
}

// ParseField parses a single field descriptor (e.g. "I", "[[D",
// "Ljava/lang/String;"). Trailing characters after a complete descriptor
// are an error.
func ParseField(s string) (Field, error) {
	d, rest, err := parseFieldPrefix(s)
	if err != nil {
		return Field{}, err
	}
	if rest != "" {
		return Field{}, fmt.Errorf("%w: trailing data %q in %q", ErrMalformed, rest, s)
	}
	return d, nil
}

// parseFieldPrefix parses one field descriptor off the front of s and
// returns the unconsumed remainder, so that method-descriptor parsing can
// reuse it across a parameter list.
func parseFieldPrefix(s string) (Field, string, error) {
	if s == "" {
		return Field{}, "", fmt.Errorf("%w: empty descriptor", ErrMalformed)
	}

	depth := 0
	i := 0
	for i < len(s) && s[i] == '[' {
		depth++
		i++
	}
	if i >= len(s) {
		return Field{}, "", fmt.Errorf("%w: %q ends in array prefix", ErrMalformed, s)
	}

	switch s[i] {
	case 'B':
		return Field{ArrayDepth: depth, Base: Byte}, s[i+1:], nil
	case 'C':
		return Field{ArrayDepth: depth, Base: Char}, s[i+1:], nil
	case 'D':
		return Field{ArrayDepth: depth, Base: Double}, s[i+1:], nil
	case 'F':
		return Field{ArrayDepth: depth, Base: Float}, s[i+1:], nil
	case 'I':
		return Field{ArrayDepth: depth, Base: Int}, s[i+1:], nil
	case 'J':
		return Field{ArrayDepth: depth, Base: Long}, s[i+1:], nil
	case 'S':
		return Field{ArrayDepth: depth, Base: Short}, s[i+1:], nil
	case 'Z':
		return Field{ArrayDepth: depth, Base: Boolean}, s[i+1:], nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end == -1 {
			return Field{}, "", fmt.Errorf("%w: unterminated class name in %q", ErrMalformed, s)
		}
		className := s[i+1 : i+end]
		return Field{ArrayDepth: depth, Base: Reference, ClassName: className}, s[i+end+1:], nil
	default:
		return Field{}, "", fmt.Errorf("%w: unknown base type %q in %q", ErrMalformed, s[i], s)
	}
}

// FromSymbolicReference builds a descriptor from either a raw class name
// ("java/lang/String") or an array-type descriptor string ("[I",
// "[Ljava/lang/String;"). This is the form class references take in the
// constant pool for NEW/ANEWARRAY/CHECKCAST/INSTANCEOF targets.
func FromSymbolicReference(name string) (Field, error) {
	if strings.HasPrefix(name, "[") {
		return ParseField(name)
	}
	return Field{ArrayDepth: 0, Base: Reference, ClassName: name}, nil
}

// Method is a parsed method descriptor: an ordered parameter list and an
// optional return type (nil means void).
type Method struct {
	Params []Field
	Ret     *Field
}

// WordsForParams is the total operand-stack/local-variable width of the
// parameter list, not including an implicit `this`.
func (m Method) WordsForParams() int {
	n := 0
	for _, p := range m.Params {
		n += p.WordSize()
	}
	return n
}

// IsVoid reports whether the method returns no value.
func (m Method) IsVoid() bool {
	return m.Ret == nil
}

// ParseMethod parses a method descriptor of the form "(param*)ret", where
// ret is "V" for void or a field descriptor.
func ParseMethod(s string) (Method, error) {
	if len(s) == 0 || s[0] != '(' {
		return Method{}, fmt.Errorf("%w: method descriptor %q must start with '('", ErrMalformed, s)
	}
	rest := s[1:]
	var params []Field
	for {
		if rest == "" {
			return Method{}, fmt.Errorf("%w: unterminated parameter list in %q", ErrMalformed, s)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		var d Field
		var err error
		d, rest, err = parseFieldPrefix(rest)
		if err != nil {
			return Method{}, err
		}
		params = append(params, d)
	}

	if rest == "V" {
		return Method{Params: params, Ret: nil}, nil
	}
	retType, trailing, err := parseFieldPrefix(rest)
	if err != nil {
		return Method{}, err
	}
	if trailing != "" {
		return Method{}, fmt.Errorf("%w: trailing data %q in %q", ErrMalformed, trailing, s)
	}
	return Method{Params: params, Ret: &retType}, nil
}
