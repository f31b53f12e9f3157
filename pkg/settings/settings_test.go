package settings

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := NewMemory()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", "1")
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	snap := m.Snapshot()
	snap["a"] = "changed"
	v, _ = m.Get("a")
	assert.Equal(t, "1", v)

	m.Remove("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Set("k", "v")
				m.Get("k")
			}
		}()
	}
	wg.Wait()
	assert.Len(t, m.Snapshot(), 1)
}

func TestFile(t *testing.T) {
	tests := map[string]func(t *testing.T, path string){
		"missing file is empty": func(t *testing.T, path string) {
			f, err := OpenFile(path, nil)
			require.NoError(t, err)
			assert.Empty(t, f.Snapshot())
			_, err = os.Stat(path)
			assert.True(t, os.IsNotExist(err))
		},
		"values survive reopen": func(t *testing.T, path string) {
			f, err := OpenFile(path, nil)
			require.NoError(t, err)
			f.Set("it8688e/control/0/mode", "software")
			f.Set("it8688e/control/0/value", "40")

			g, err := OpenFile(path, nil)
			require.NoError(t, err)
			v, ok := g.Get("it8688e/control/0/mode")
			require.True(t, ok)
			assert.Equal(t, "software", v)
			v, _ = g.Get("it8688e/control/0/value")
			assert.Equal(t, "40", v)
		},
		"creates parent directory": func(t *testing.T, path string) {
			nested := filepath.Join(filepath.Dir(path), "a", "b", "settings.yaml")
			f, err := OpenFile(nested, nil)
			require.NoError(t, err)
			f.Set("k", "v")
			_, err = os.Stat(nested)
			assert.NoError(t, err)
		},
		"unquoted scalars load as strings": func(t *testing.T, path string) {
			require.NoError(t, os.WriteFile(path, []byte("a: 1.5\nb: true\n"), 0o644))
			f, err := OpenFile(path, nil)
			require.NoError(t, err)
			v, _ := f.Get("a")
			assert.Equal(t, "1.5", v)
			v, _ = f.Get("b")
			assert.Equal(t, "true", v)
		},
		"empty file": func(t *testing.T, path string) {
			require.NoError(t, os.WriteFile(path, nil, 0o644))
			f, err := OpenFile(path, nil)
			require.NoError(t, err)
			f.Set("k", "v")
			v, ok := f.Get("k")
			assert.True(t, ok)
			assert.Equal(t, "v", v)
		},
		"malformed file": func(t *testing.T, path string) {
			require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o644))
			_, err := OpenFile(path, nil)
			assert.Error(t, err)
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test(t, filepath.Join(t.TempDir(), "settings.yaml"))
		})
	}
}

func TestFile_ImplementsStore(t *testing.T) {
	var _ Store = (*File)(nil)
	var _ Store = (*Memory)(nil)
}
