package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates file and parent directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "mnemo.log")

		rw, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("resumes at existing size", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "mnemo.log")
		require.NoError(t, os.WriteFile(logFile, []byte("earlier entries\n"), 0644))

		rw, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)
		defer rw.Close()

		assert.Equal(t, int64(len("earlier entries\n")), rw.currentSize)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "mnemo.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	line := "ingest id=abc source=note\n"
	n, err := rw.Write([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, line, string(content))
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "mnemo.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	// Force rotation on the second write.
	rw.maxSize = 64

	line := strings.Repeat("x", 48) + "\n"
	_, err = rw.Write([]byte(line))
	require.NoError(t, err)
	_, err = rw.Write([]byte(line))
	require.NoError(t, err)

	entries, err := filepath.Glob(filepath.Join(dir, "mnemo.log.*"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	rotated, err := os.ReadFile(entries[0])
	require.NoError(t, err)
	assert.Equal(t, line, string(rotated))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, line, string(current))
	assert.Equal(t, int64(len(line)), rw.currentSize)
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "mnemo.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := rw.Write([]byte(fmt.Sprintf("writer=%d seq=%d\n", i, j)))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	assert.Len(t, lines, 200)
	for _, line := range lines {
		assert.Contains(t, line, "writer=")
	}
}

func TestCompressFile(t *testing.T) {
	dir := t.TempDir()
	rotated := filepath.Join(dir, "mnemo.log.20260826-000000")
	require.NoError(t, os.WriteFile(rotated, []byte("archived entries\n"), 0644))

	rw := &RotatingWriter{filename: filepath.Join(dir, "mnemo.log")}
	require.NoError(t, rw.compressFile(rotated))

	// Original is removed, only the .gz remains.
	_, err := os.Stat(rotated)
	assert.True(t, os.IsNotExist(err))

	f, err := os.Open(rotated + ".gz")
	require.NoError(t, err)
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gzr.Close()

	content, err := io.ReadAll(gzr)
	require.NoError(t, err)
	assert.Equal(t, "archived entries\n", string(content))
}

func TestCloseWithoutOpenFile(t *testing.T) {
	rw := &RotatingWriter{}
	assert.NoError(t, rw.Close())
}
