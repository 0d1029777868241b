package file

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "report.pdf", "report.pdf", nil},
		{"unix traversal", "../../etc/passwd", "passwd", nil},
		{"windows traversal", `..\..\boot.ini`, "boot.ini", nil},
		{"absolute", "/tmp/x.bin", "x.bin", nil},
		{"nested", "a/b/c.txt", "c.txt", nil},
		{"empty", "", "", ErrInvalidFileName},
		{"trailing slash", "dir/", "", ErrInvalidFileName},
		{"dot dot", "..", "", ErrInvalidFileName},
		{"dot", "a/.", "", ErrInvalidFileName},
		{"nul byte", "a\x00b", "", ErrInvalidFileName},
		{"too long", strings.Repeat("n", 256), "", ErrFileNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeName(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoreCreateOpenList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Create("../b.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("bravo"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), w.Written())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	w, err = store.Create("a.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("al"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, os.Mkdir(filepath.Join(store.Dir(), "subdir"), 0o755))

	entries, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "a.txt", Size: 2}, {Name: "b.txt", Size: 5}}, entries)

	r, err := store.Open("b.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "bravo", string(data))
	assert.Equal(t, Entry{Name: "b.txt", Size: 5}, r.Entry())

	entry, err := store.Stat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Size)
}

func TestStoreMissingFiles(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir(), "subdir"), 0o755))

	_, err = store.Open("missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Open("subdir")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Stat("missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "files")
	store, err := NewStore(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, dir, store.Dir())

	entries, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreSerializesSameName(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first, err := store.Create("same.bin")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := store.Create("same.bin")
		if err == nil {
			second.Close()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired a held name")
	case <-time.After(50 * time.Millisecond):
	}

	// A different name is not blocked.
	other, err := store.Create("other.bin")
	require.NoError(t, err)
	require.NoError(t, other.Close())

	require.NoError(t, first.Close())
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired the name")
	}

	store.mu.Lock()
	assert.Empty(t, store.locks, "released locks are dropped")
	store.mu.Unlock()
}

func TestStoreLockRefCounting(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := store.lock("x")
			release()
		}()
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.locks)
}
