// Package vm is the interpreter: it owns the class loader and heap, builds
// a frame per method invocation, and dispatches decoded bytecode
// instructions over those frames.
package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf16"

	"github.com/tinbrook/classvm/pkg/class"
	"github.com/tinbrook/classvm/pkg/classfile"
	"github.com/tinbrook/classvm/pkg/descriptor"
	"github.com/tinbrook/classvm/pkg/heap"
)

// classfileMemberRef is the constant-pool field/method reference shape
// every invoke* and field-access instruction carries.
type classfileMemberRef = classfile.MemberRef

// MaxFrameDepth bounds recursive invocation, the interpreter's analogue of a
// native stack-overflow guard.
const MaxFrameDepth = 1024

// ErrInterpreterFault covers every runtime fault this interpreter aborts on:
// null dereference, array index out of bounds, division by zero, a failed
// checkcast, or an uncaught athrow. jsr/ret fail with
// bytecode.ErrUnsupportedOpcode instead.
var ErrInterpreterFault = errors.New("interpreter fault")

// ErrStartMethodMissing is returned by Start when the root class declares no
// main([Ljava/lang/String;)V.
var ErrStartMethodMissing = errors.New("main method not found")

// ErrStartMethodSignatureMismatch is returned by Start when main exists but
// its access flags are not exactly ACC_PUBLIC|ACC_STATIC.
var ErrStartMethodSignatureMismatch = errors.New("main method is not exactly public static")

// NativeCall is one recorded invocation of a NATIVE method, kept for test
// observability rather than execution (only dump_char has a real body).
type NativeCall struct {
	Name       string
	Descriptor string
	ArgsWords  []uint32
}

// VM owns every piece of mutable runtime state: the class loader, the heap,
// each class's static-field storage, an interned string-literal table, and
// the native-call log.
type VM struct {
	Loader class.Loader
	Heap   *heap.Heap
	Stdout io.Writer

	NativeCalls []NativeCall

	statics    map[string][]uint32
	stringPool map[string]int
	frameDepth int
}

// New returns a VM over loader l and heap h, writing dump_char output to
// os.Stdout.
func New(l class.Loader, h *heap.Heap) *VM {
	return &VM{Loader: l, Heap: h, Stdout: os.Stdout}
}

// Start loads className, locates its main([Ljava/lang/String;)V (whose access
// flags must be exactly ACC_PUBLIC|ACC_STATIC), and runs it to completion. The argument
// array reference passed to main is always the null reference: this
// interpreter does not model java.lang.String, so there is no object to
// back it.
func (vm *VM) Start(className string) error {
	c, err := vm.Loader.Load(className)
	if err != nil {
		return err
	}
	m, ok := c.FindDeclaredMethod("main", "([Ljava/lang/String;)V")
	if !ok {
		return fmt.Errorf("%w: %s", ErrStartMethodMissing, className)
	}
	const wantFlags = class.AccPublic | class.AccStatic
	if m.AccessFlags != wantFlags {
		return fmt.Errorf("%w: %s.main", ErrStartMethodSignatureMismatch, className)
	}
	_, err = vm.invokeResolved(c, m, []uint32{0})
	return err
}

// claim pops the top n words off f's operand stack and returns them in
// stack order (the deepest claimed word first), the slice invoke* uses as
// the callee's initial locals.
func claim(f *Frame, n int) []uint32 {
	start := f.SP - n
	words := append([]uint32(nil), f.Stack[start:f.SP]...)
	f.SP = start
	return words
}

func pushWords(f *Frame, words []uint32) {
	for _, w := range words {
		f.Push(w)
	}
}

// invokeResolved runs method m (declared on owner) with the given argument
// words as its initial locals. A NATIVE method is logged and, except for
// dump_char, has no execution or return value.
func (vm *VM) invokeResolved(owner *class.Class, m *class.Method, args []uint32) ([]uint32, error) {
	if m.IsNative() {
		vm.NativeCalls = append(vm.NativeCalls, NativeCall{Name: m.Name, Descriptor: m.Descriptor, ArgsWords: args})
		if m.Name == "dump_char" && m.Descriptor == "(C)V" && len(args) > 0 {
			vm.dumpChar(args[len(args)-1])
		}
		return nil, nil
	}
	if m.Code == nil {
		return nil, fmt.Errorf("%w: %s.%s%s has no Code", ErrInterpreterFault, owner.Name, m.Name, m.Descriptor)
	}

	vm.frameDepth++
	if vm.frameDepth > MaxFrameDepth {
		vm.frameDepth--
		return nil, fmt.Errorf("%w: frame depth exceeded %d", ErrInterpreterFault, MaxFrameDepth)
	}
	defer func() { vm.frameDepth-- }()

	frame := NewFrame(m.Code.MaxStack, m.Code.MaxLocals, m.Code.Instructions, owner.Name)
	copy(frame.Locals, args)
	return vm.runFrame(frame)
}

// dumpChar prints the low 16 bits of w as a Unicode scalar, or '?' if those
// bits are not a valid scalar value (the surrogate range).
func (vm *VM) dumpChar(w uint32) {
	r := rune(uint16(w))
	if r >= 0xD800 && r <= 0xDFFF {
		fmt.Fprint(vm.Stdout, "?")
		return
	}
	fmt.Fprintf(vm.Stdout, "%c", r)
}

// internString returns the heap index of a char array holding s's UTF-16
// code units, interning by content. This interpreter does not model
// java.lang.String; a content-addressed char array is the closest
// observable stand-in for LdcStringOp that still exercises the heap's array
// model.
func (vm *VM) internString(s string) int {
	if vm.stringPool == nil {
		vm.stringPool = make(map[string]int)
	}
	if idx, ok := vm.stringPool[s]; ok {
		return idx
	}
	units := utf16.Encode([]rune(s))
	idx := vm.Heap.NewArray(len(units), descriptor.Field{Base: descriptor.Char})
	obj, _ := vm.Heap.Get(idx)
	for i, u := range units {
		obj.Array.Set(i, uint32(u))
	}
	vm.stringPool[s] = idx
	return idx
}

func (vm *VM) staticBuffer(owner *class.Class) []uint32 {
	if vm.statics == nil {
		vm.statics = make(map[string][]uint32)
	}
	buf, ok := vm.statics[owner.Name]
	if !ok {
		buf = make([]uint32, class.StaticSize(owner))
		vm.statics[owner.Name] = buf
	}
	return buf
}

func (vm *VM) derefArray(ref uint32) (*heap.ArrayObject, error) {
	obj, err := vm.Heap.Get(int(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	if obj.Array == nil {
		return nil, fmt.Errorf("%w: not an array", ErrInterpreterFault)
	}
	return obj.Array, nil
}

func (vm *VM) derefInstance(ref uint32) (*heap.InstanceObject, error) {
	obj, err := vm.Heap.Get(int(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	if obj.Instance == nil {
		return nil, fmt.Errorf("%w: not an instance", ErrInterpreterFault)
	}
	return obj.Instance, nil
}

func (vm *VM) boundsCheck(index int32, length int) error {
	if index < 0 || int(index) >= length {
		return fmt.Errorf("%w: array index %d out of bounds for length %d", ErrInterpreterFault, index, length)
	}
	return nil
}

// wordsForParams is the operand-stack word count a call site of methodDesc
// claims: the descriptor's parameter words, plus one for `this` when hasThis.
func wordsForParams(methodDescriptor string, hasThis bool) (int, error) {
	md, err := descriptor.ParseMethod(methodDescriptor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInterpreterFault, err)
	}
	words := md.WordsForParams()
	if hasThis {
		words++
	}
	return words, nil
}

func (vm *VM) invokeVirtual(caller *Frame, ref classfileMemberRef) error {
	words, err := wordsForParams(ref.Descriptor, true)
	if err != nil {
		return err
	}
	args := claim(caller, words)
	obj, err := vm.derefInstance(args[0])
	if err != nil {
		return err
	}
	runtimeClass, err := vm.Loader.Load(obj.ClassName)
	if err != nil {
		return err
	}
	owner, method, err := class.FindMethod(vm.Loader, runtimeClass, ref.Name, ref.Descriptor)
	if err != nil {
		return err
	}
	result, err := vm.invokeResolved(owner, method, args)
	if err != nil {
		return err
	}
	pushWords(caller, result)
	return nil
}

func (vm *VM) invokeSpecial(caller *Frame, ref classfileMemberRef) error {
	refClass, err := vm.Loader.Load(ref.ClassName)
	if err != nil {
		return err
	}
	callerClass, err := vm.Loader.Load(caller.ClassName)
	if err != nil {
		return err
	}

	var owner *class.Class
	var method *class.Method
	useSuperRule := callerClass.AccessFlags&class.AccSuper != 0 && ref.Name != "<init>"
	if useSuperRule {
		isStrict, err := class.IsStrictSuper(vm.Loader, ref.ClassName, callerClass)
		if err != nil {
			return err
		}
		if isStrict {
			owner, method, err = class.FindSuperMethod(vm.Loader, callerClass, ref.Name, ref.Descriptor)
			if err != nil {
				return err
			}
		}
	}
	if owner == nil {
		owner, method, err = class.FindMethod(vm.Loader, refClass, ref.Name, ref.Descriptor)
		if err != nil {
			return err
		}
	}

	words, err := wordsForParams(ref.Descriptor, true)
	if err != nil {
		return err
	}
	args := claim(caller, words)
	result, err := vm.invokeResolved(owner, method, args)
	if err != nil {
		return err
	}
	pushWords(caller, result)
	return nil
}

func (vm *VM) invokeStatic(caller *Frame, ref classfileMemberRef) error {
	refClass, err := vm.Loader.Load(ref.ClassName)
	if err != nil {
		return err
	}
	owner, method, err := class.FindMethod(vm.Loader, refClass, ref.Name, ref.Descriptor)
	if err != nil {
		return err
	}
	words, err := wordsForParams(ref.Descriptor, false)
	if err != nil {
		return err
	}
	args := claim(caller, words)
	result, err := vm.invokeResolved(owner, method, args)
	if err != nil {
		return err
	}
	pushWords(caller, result)
	return nil
}

func (vm *VM) invokeInterface(caller *Frame, ref classfileMemberRef) error {
	// Unlike invokevirtual, dispatch targets the referenced class directly
	// rather than the receiver's runtime class: this runtime does not model
	// interface-to-implementation resolution.
	refClass, err := vm.Loader.Load(ref.ClassName)
	if err != nil {
		return err
	}
	owner, method, err := class.FindMethod(vm.Loader, refClass, ref.Name, ref.Descriptor)
	if err != nil {
		return err
	}
	words, err := wordsForParams(ref.Descriptor, true)
	if err != nil {
		return err
	}
	args := claim(caller, words)
	result, err := vm.invokeResolved(owner, method, args)
	if err != nil {
		return err
	}
	pushWords(caller, result)
	return nil
}
