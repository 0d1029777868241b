package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opd-ai/netchat/limits"
	"github.com/sirupsen/logrus"
)

// DefaultStorageDir is the storage directory used when none is configured.
const DefaultStorageDir = "server_files"

var (
	// ErrNotFound indicates the requested file does not exist in the store.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidFileName indicates a name with no usable final path element.
	ErrInvalidFileName = errors.New("invalid file name")

	// ErrFileNameTooLong indicates that a file name exceeds the maximum allowed length.
	ErrFileNameTooLong = errors.New("file name too long")
)

// Entry describes one stored file.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Store is a flat directory of uploaded files.
type Store struct {
	dir string

	locks map[string]*nameLock
	mu    sync.Mutex
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore opens dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultStorageDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewStore",
			"dir":      dir,
			"error":    err.Error(),
		}).Error("Failed to create storage directory")
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &Store{
		dir:   dir,
		locks: make(map[string]*nameLock),
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// SanitizeName reduces a client-supplied name to its final path element.
// Both slash styles count as separators regardless of the host OS.
func SanitizeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}

	if base == "" || base == "." || base == ".." || strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if len(base) > limits.MaxFileNameLength {
		return "", fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFileNameTooLong, len(base), limits.MaxFileNameLength)
	}
	return base, nil
}

// Writer receives one upload. The name stays locked until Close.
type Writer struct {
	name    string
	f       *os.File
	written int64
	release func()
	once    sync.Once
}

// Name returns the sanitized stored name.
func (w *Writer) Name() string {
	return w.name
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.written += int64(n)
	return n, err
}

// Close flushes the file and releases the name lock.
func (w *Writer) Close() error {
	var err error
	w.once.Do(func() {
		err = w.f.Close()
		w.release()
	})
	return err
}

// Create truncates or creates the named file. It blocks while another writer
// or reader holds the same name.
func (s *Store) Create(name string) (*Writer, error) {
	base, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	release := s.lock(base)
	f, err := os.Create(filepath.Join(s.dir, base))
	if err != nil {
		release()
		return nil, fmt.Errorf("creating %s: %w", base, err)
	}

	return &Writer{name: base, f: f, release: release}, nil
}

// Reader streams one stored file. The name stays locked until Close.
type Reader struct {
	io.Reader
	entry   Entry
	f       *os.File
	release func()
	once    sync.Once
}

// Entry returns the name and size captured when the file was opened.
func (r *Reader) Entry() Entry {
	return r.entry
}

// Close releases the file and the name lock.
func (r *Reader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.f.Close()
		r.release()
	})
	return err
}

// Open opens a stored file for reading. Reads are limited to the size the
// file had when it was opened.
func (s *Store) Open(name string) (*Reader, error) {
	base, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	release := s.lock(base)
	f, err := os.Open(filepath.Join(s.dir, base))
	if err != nil {
		release()
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, base)
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		release()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, base)
	}

	entry := Entry{Name: base, Size: info.Size()}
	return &Reader{
		Reader:  io.LimitReader(f, entry.Size),
		entry:   entry,
		f:       f,
		release: release,
	}, nil
}

// Stat returns the entry for name.
func (s *Store) Stat(name string) (Entry, error) {
	base, err := SanitizeName(name)
	if err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(filepath.Join(s.dir, base))
	if err != nil || !info.Mode().IsRegular() {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, base)
	}
	return Entry{Name: base, Size: info.Size()}, nil
}

// List returns every regular file in the store ordered by name.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size()})
	}
	return entries, nil
}

// lock acquires the per-name lock and returns its release function.
func (s *Store) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &nameLock{}
		s.locks[name] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}
