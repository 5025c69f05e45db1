// Package loader resolves a class name to a linked class.Class, backed by a
// directory of flat .class files and an append-only cache.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinbrook/classvm/pkg/class"
	"github.com/tinbrook/classvm/pkg/classfile"
)

// ErrNoClassDefFound is wrapped when the backing .class file is missing or
// unreadable.
var ErrNoClassDefFound = errors.New("no class def found")

// ErrUnsupportedClassVersion is wrapped when a class file's version falls
// outside [45.0, 46.0].
var ErrUnsupportedClassVersion = errors.New("unsupported class version")

// ErrIncompatibleClassChange is wrapped when the linked class's own name
// does not equal the name it was requested under.
var ErrIncompatibleClassChange = errors.New("incompatible class change")

// Loader resolves class names to linked classes, caching every class it has
// ever loaded. The cache is append-only: once a name is bound to a *Class,
// that pointer is never replaced or removed, so callers that captured a
// pointer from an earlier Load keep a valid view even as Load continues to
// populate the cache for other names. This is what lets *Loader satisfy
// class.Loader without pkg/class ever importing pkg/loader.
type Loader struct {
	loadDir string
	cache   map[string]*class.Class
}

// New returns a Loader that reads flat .class files out of loadDir.
func New(loadDir string) *Loader {
	return &Loader{loadDir: loadDir, cache: make(map[string]*class.Class)}
}

// Load resolves name to a linked class.Class, loading and linking it from
// disk on first request.
func (l *Loader) Load(name string) (*class.Class, error) {
	if c, ok := l.cache[name]; ok {
		return c, nil
	}

	path := filepath.Join(l.loadDir, lastPathSegment(name)+".class")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoClassDefFound, name, err)
	}
	defer f.Close()

	raw, err := classfile.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", class.ErrClassFormatError, name, err)
	}

	if err := checkVersion(raw.MajorVersion, raw.MinorVersion); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	linked, err := class.FromClassFile(raw)
	if err != nil {
		return nil, err
	}
	if linked.Name != name {
		return nil, fmt.Errorf("%w: requested %s, loaded %s", ErrIncompatibleClassChange, name, linked.Name)
	}

	l.cache[name] = linked
	return linked, nil
}

func lastPathSegment(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// checkVersion enforces spec §6's version gate: major in [45, 46], with
// minor required to be 0 at the 46 extreme (the JVM spec's 45.0-46.0
// window).
func checkVersion(major, minor uint16) error {
	if major < 45 || major > 46 || (major == 46 && minor > 0) {
		return fmt.Errorf("%w: major version %d.%d", ErrUnsupportedClassVersion, major, minor)
	}
	return nil
}
