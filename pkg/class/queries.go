package class

import (
	"errors"
	"fmt"

	"github.com/tinbrook/classvm/pkg/descriptor"
)

// ErrNoSuchField is wrapped when a field-offset walk exhausts the
// superclass chain without finding a matching (name, descriptor).
var ErrNoSuchField = errors.New("no such field")

// Loader is the subset of *loader.Loader the static inheritance queries
// need: resolving a superclass or interface name to its linked Class. It is
// declared here, not in package loader, so that class never imports loader
// even though loader imports class to build Class values — loader's
// *loader.Loader satisfies this interface structurally.
type Loader interface {
	Load(name string) (*Class, error)
}

// InstanceSize is the total word count of an instance of class, the sum of
// instance-field word sizes over class and every ancestor.
func InstanceSize(l Loader, c *Class) (int, error) {
	size := 0
	for _, f := range c.InstanceFields {
		size += f.Size
	}
	if !c.HasSuper() {
		return size, nil
	}
	super, err := l.Load(c.SuperName)
	if err != nil {
		return 0, err
	}
	superSize, err := InstanceSize(l, super)
	if err != nil {
		return 0, err
	}
	return size + superSize, nil
}

// FieldOffset returns the zero-based word offset of (name, descriptor)
// within an instance of class, walking class and then its ancestors.
// Object-level fields land at the smallest offsets; the leaf class's own
// fields land at the largest.
func FieldOffset(l Loader, c *Class, name, fieldDescriptor string) (int, error) {
	base := 0
	if c.HasSuper() {
		super, err := l.Load(c.SuperName)
		if err != nil {
			return 0, err
		}
		superSize, err := InstanceSize(l, super)
		if err != nil {
			return 0, err
		}
		base = superSize
	}
	offset := base
	for _, f := range c.InstanceFields {
		if f.Name == name && f.Descriptor == fieldDescriptor {
			return offset, nil
		}
		offset += f.Size
	}
	if !c.HasSuper() {
		return 0, fmt.Errorf("%w: %s.%s:%s", ErrNoSuchField, c.Name, name, fieldDescriptor)
	}
	super, err := l.Load(c.SuperName)
	if err != nil {
		return 0, err
	}
	return FieldOffset(l, super, name, fieldDescriptor)
}

// StaticSize is the total word count of class's own declared static fields
// (static storage is per-class, never summed across ancestors).
func StaticSize(c *Class) int {
	size := 0
	for _, f := range c.StaticFields {
		size += f.Size
	}
	return size
}

// StaticFieldOffset returns the class on c's superclass chain (starting with
// c itself) that directly declares the static field (name, fieldDescriptor),
// and its zero-based word offset within that class's own static-field
// buffer.
func StaticFieldOffset(l Loader, c *Class, name, fieldDescriptor string) (*Class, int, error) {
	cur := c
	for {
		offset := 0
		for _, f := range cur.StaticFields {
			if f.Name == name && f.Descriptor == fieldDescriptor {
				return cur, offset, nil
			}
			offset += f.Size
		}
		if !cur.HasSuper() {
			return nil, 0, fmt.Errorf("%w: %s.%s:%s", ErrNoSuchField, c.Name, name, fieldDescriptor)
		}
		next, err := l.Load(cur.SuperName)
		if err != nil {
			return nil, 0, err
		}
		cur = next
	}
}

// IsStrictSuper reports whether superName names a class that appears
// strictly above sub in its superclass chain.
func IsStrictSuper(l Loader, superName string, sub *Class) (bool, error) {
	cur := sub
	for cur.HasSuper() {
		if cur.SuperName == superName {
			return true, nil
		}
		next, err := l.Load(cur.SuperName)
		if err != nil {
			return false, err
		}
		cur = next
	}
	return false, nil
}

// FindMethod returns the first class on c's superclass chain (starting with
// c itself) that declares (name, descriptor), and the method.
func FindMethod(l Loader, c *Class, name, methodDescriptor string) (*Class, *Method, error) {
	return findMethodFrom(l, c, name, methodDescriptor)
}

// FindSuperMethod returns the first class on c's strict superclass chain
// (skipping c itself) that declares (name, descriptor), and the method.
func FindSuperMethod(l Loader, c *Class, name, methodDescriptor string) (*Class, *Method, error) {
	if !c.HasSuper() {
		return nil, nil, fmt.Errorf("%w: no method %s%s above %s", ErrNoSuchField, name, methodDescriptor, c.Name)
	}
	super, err := l.Load(c.SuperName)
	if err != nil {
		return nil, nil, err
	}
	return findMethodFrom(l, super, name, methodDescriptor)
}

func findMethodFrom(l Loader, c *Class, name, methodDescriptor string) (*Class, *Method, error) {
	cur := c
	for {
		if m, ok := cur.FindDeclaredMethod(name, methodDescriptor); ok {
			return cur, m, nil
		}
		if !cur.HasSuper() {
			return nil, nil, fmt.Errorf("%w: no method %s%s on %s or its ancestors", ErrNoSuchField, name, methodDescriptor, c.Name)
		}
		next, err := l.Load(cur.SuperName)
		if err != nil {
			return nil, nil, err
		}
		cur = next
	}
}

// HasAncestorOrInterface reports whether target is reachable from candidate
// by a breadth-first closure over (direct superclasses ∪ direct interfaces),
// starting at candidate itself excluded (only ancestors/interfaces count).
func HasAncestorOrInterface(l Loader, candidateName, target string) (bool, error) {
	visited := map[string]bool{candidateName: true}
	queue := []string{candidateName}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		c, err := l.Load(name)
		if err != nil {
			return false, err
		}
		next := make([]string, 0, len(c.Interfaces)+1)
		if c.HasSuper() {
			next = append(next, c.SuperName)
		}
		next = append(next, c.Interfaces...)
		for _, n := range next {
			if n == target {
				return true, nil
			}
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

// IsInstanceOf implements the instanceof/checkcast rule of spec §4.4: source
// and target are descriptor.Field values (class-reference or array types).
func IsInstanceOf(l Loader, source, target descriptor.Field) (bool, error) {
	if source.IsArray() {
		if target.IsArray() {
			sourceElem := source.RemoveArray()
			targetElem := target.RemoveArray()
			if sourceElem.SimpleType() == descriptor.Reference && targetElem.SimpleType() == descriptor.Reference {
				return IsInstanceOf(l, sourceElem, targetElem)
			}
			return sourceElem.SimpleType() == targetElem.SimpleType() &&
				(sourceElem.SimpleType() != descriptor.Reference || sourceElem.ClassName == targetElem.ClassName), nil
		}
		switch target.ClassName {
		case "java/lang/Object", "java/lang/Cloneable", "java/io/Serializable":
			return true, nil
		default:
			return false, nil
		}
	}

	if target.IsArray() {
		return false, nil
	}
	if source.ClassName == target.ClassName {
		return true, nil
	}
	return HasAncestorOrInterface(l, source.ClassName, target.ClassName)
}
