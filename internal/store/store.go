// Package store persists decoded receiver content under a named resource.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrStore       = errors.New("store: write failed")
	ErrInvalidName = errors.New("store: invalid resource name")
)

// Store is the write-only sink used by the receiver pipeline.
type Store interface {
	Write(ctx context.Context, name string, content []byte) error
}

// StoreError reports one failed store operation.
type StoreError struct {
	Name string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// FileStore writes resources as files directly under root.
type FileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

var _ Store = (*FileStore)(nil)

// NewFileStore constructs a store rooted at root. An empty root means the
// working directory.
func NewFileStore(root string) *FileStore {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = "."
	}
	return &FileStore{
		root:  resolved,
		locks: make(map[string]*nameLock),
	}
}

// Root returns the configured root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Write replaces the resource with content. The bytes land in a temp file
// next to the target and are renamed into place, so readers never observe a
// partial write.
func (s *FileStore) Write(ctx context.Context, name string, content []byte) error {
	p, err := s.resolvePath(name)
	if err != nil {
		return &StoreError{Name: name, Op: "resolve", Err: err}
	}

	unlock := s.lock(p)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return &StoreError{Name: name, Op: "write", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &StoreError{Name: name, Op: "mkdir", Err: err}
	}

	tmp, err := writeTemp(p, content)
	if err != nil {
		return &StoreError{Name: name, Op: "write", Err: err}
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Name: name, Op: "rename", Err: err}
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Name: name, Op: "rename", Err: err}
	}
	return nil
}

// writeTemp stages content in a uniquely named hidden file beside p. The
// temp name never collides with another resource name.
func writeTemp(p string, content []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// lock serializes writers of one path. Entries are dropped once the last
// holder releases them.
func (s *FileStore) lock(path string) func() {
	s.mu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &nameLock{}
		s.locks[path] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, path)
		}
		s.mu.Unlock()
	}
}

// resolvePath keeps only the final element of name, matching what senders
// expect when they pass a local path as the resource name.
func (s *FileStore) resolvePath(name string) (string, error) {
	base := BaseName(name)
	if base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, base))
	if !isWithin(p, root) {
		return "", fmt.Errorf("%w: %q escapes root", ErrInvalidName, name)
	}
	return p, nil
}

// BaseName reduces a resource name to its last path element. It returns ""
// when nothing usable remains.
func BaseName(name string) string {
	n := strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if idx := strings.LastIndex(n, "/"); idx >= 0 {
		n = n[idx+1:]
	}
	switch n {
	case "", ".", "..":
		return ""
	}
	return n
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return false
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}
