package loader_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinbrook/classvm/pkg/class"
	"github.com/tinbrook/classvm/pkg/classfile/cftest"
	"github.com/tinbrook/classvm/pkg/loader"
)

func writeClass(t *testing.T, dir string, c *cftest.Class) {
	t.Helper()
	path := filepath.Join(dir, lastSegment(c.ThisClass)+".class")
	if err := os.WriteFile(path, c.Build(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func lastSegment(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}

func TestLoadResolvesAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, &cftest.Class{
		MajorVersion: 46, AccessFlags: class.AccPublic, ThisClass: "java/lang/Object", SuperClass: "",
	})
	writeClass(t, dir, &cftest.Class{
		MajorVersion: 46, AccessFlags: class.AccPublic | class.AccSuper,
		ThisClass: "com/example/Widget", SuperClass: "java/lang/Object",
	})

	l := loader.New(dir)
	c1, err := l.Load("com/example/Widget")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c1.Name != "com/example/Widget" {
		t.Errorf("Name: got %q", c1.Name)
	}

	c2, err := l.Load("com/example/Widget")
	if err != nil {
		t.Fatalf("Load (cached): %v", err)
	}
	if c1 != c2 {
		t.Error("Load did not return the cached pointer on second call")
	}
}

func TestLoadStripsPackagePrefixOnDisk(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, &cftest.Class{
		MajorVersion: 46, AccessFlags: class.AccPublic, ThisClass: "java/lang/Object", SuperClass: "",
	})
	// on disk this sits flat as "Widget.class" even though the class name has
	// a package prefix.
	if err := os.WriteFile(filepath.Join(dir, "Widget.class"), (&cftest.Class{
		MajorVersion: 46, AccessFlags: class.AccPublic | class.AccSuper,
		ThisClass: "com/example/Widget", SuperClass: "java/lang/Object",
	}).Build(), 0o644); err != nil {
		t.Fatal(err)
	}

	l := loader.New(dir)
	c, err := l.Load("com/example/Widget")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Name != "com/example/Widget" {
		t.Errorf("Name: got %q", c.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := loader.New(t.TempDir())
	if _, err := l.Load("DoesNotExist"); !errors.Is(err, loader.ErrNoClassDefFound) {
		t.Errorf("got %v, want ErrNoClassDefFound", err)
	}
}

func TestLoadRejectsVersionOutsideWindow(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, &cftest.Class{
		MajorVersion: 47, MinorVersion: 0, AccessFlags: class.AccPublic,
		ThisClass: "TooNew", SuperClass: "java/lang/Object",
	})
	l := loader.New(dir)
	if _, err := l.Load("TooNew"); !errors.Is(err, loader.ErrUnsupportedClassVersion) {
		t.Errorf("got %v, want ErrUnsupportedClassVersion", err)
	}
}

func TestLoadAcceptsVersionWindowBoundaries(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, &cftest.Class{
		MajorVersion: 45, MinorVersion: 3, AccessFlags: class.AccPublic,
		ThisClass: "Old", SuperClass: "java/lang/Object",
	})
	writeClass(t, dir, &cftest.Class{
		MajorVersion: 46, MinorVersion: 0, AccessFlags: class.AccPublic,
		ThisClass: "New", SuperClass: "java/lang/Object",
	})
	l := loader.New(dir)
	if _, err := l.Load("Old"); err != nil {
		t.Errorf("Load(Old, 45.3): %v", err)
	}
	if _, err := l.Load("New"); err != nil {
		t.Errorf("Load(New, 46.0): %v", err)
	}
}

func TestLoadRejectsNameMismatch(t *testing.T) {
	dir := t.TempDir()
	// file on disk at Imposter.class actually declares itself as "Real"
	if err := os.WriteFile(filepath.Join(dir, "Imposter.class"), (&cftest.Class{
		MajorVersion: 46, AccessFlags: class.AccPublic, ThisClass: "Real", SuperClass: "java/lang/Object",
	}).Build(), 0o644); err != nil {
		t.Fatal(err)
	}
	l := loader.New(dir)
	if _, err := l.Load("Imposter"); !errors.Is(err, loader.ErrIncompatibleClassChange) {
		t.Errorf("got %v, want ErrIncompatibleClassChange", err)
	}
}
