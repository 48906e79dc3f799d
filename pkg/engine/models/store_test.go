package models

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgehive/engine-runner/pkg/engine/state"
	"github.com/edgehive/engine-runner/pkg/logging"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

func writeModel(t *testing.T, root, id, filename string, content []byte) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestResolveLocalModel(t *testing.T) {
	root := t.TempDir()
	path := writeModel(t, root, "tiny-llm", "weights.bin", []byte("weights"))
	store := NewStore(testLogger(), root, nil)

	h, err := store.Resolve(t.Context(), "tiny-llm")
	require.NoError(t, err)
	assert.Equal(t, "tiny-llm", h.ID)
	assert.Equal(t, path, h.Path)
	assert.Equal(t, int64(7), h.SizeBytes)
	assert.Equal(t, "bin", h.Format)
}

func TestResolvePrefersKnownFormats(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "mixed", "notes.txt", []byte("readme"))
	onnx := writeModel(t, root, "mixed", "model.onnx", []byte("onnx-bytes"))
	store := NewStore(testLogger(), root, nil)

	h, err := store.Resolve(t.Context(), "mixed")
	require.NoError(t, err)
	assert.Equal(t, onnx, h.Path)
	assert.Equal(t, "onnx", h.Format)
}

func TestResolveSkipsHiddenFiles(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "partial", ".download-123", []byte("half"))
	store := NewStore(testLogger(), root, nil)

	_, err := store.Resolve(t.Context(), "partial")
	assert.Error(t, err)
}

func TestResolveErrors(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir(), nil)

	_, err := store.Resolve(t.Context(), "")
	assert.Error(t, err)

	_, err = store.Resolve(t.Context(), "never-registered")
	assert.ErrorContains(t, err, "not found")
}

func TestResolveFetchesFromSource(t *testing.T) {
	payload := []byte("downloaded model bytes")
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	root := t.TempDir()
	pub := state.NewPublisher(testLogger())
	states, cancel := pub.Subscribe()
	defer cancel()

	store := NewStore(testLogger(), root, pub)
	store.AddSource("fetched-model", srv.URL+"/models/tiny.gguf")

	h, err := store.Resolve(t.Context(), "fetched-model")
	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, filepath.Join(root, "fetched-model", "tiny.gguf"), h.Path)

	data, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// The download was reported and cleared again.
	sawDownloading := false
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case s := <-states:
			if s.Kind == state.KindDownloading && s.Download.ID == "fetched-model" {
				sawDownloading = true
			}
			if sawDownloading && s.Kind == state.KindReady {
				break loop
			}
		case <-deadline:
			break loop
		}
	}
	assert.True(t, sawDownloading, "no downloading state was published")
	assert.Equal(t, state.KindReady, pub.Current().Kind)

	// The second resolution is purely local.
	_, err = store.Resolve(t.Context(), "fetched-model")
	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())
}

func TestResolveFetchSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	store := NewStore(testLogger(), t.TempDir(), nil)
	store.AddSource("broken", srv.URL+"/missing.bin")

	_, err := store.Resolve(t.Context(), "broken")
	assert.ErrorContains(t, err, "404")
}

func TestConcurrentResolveDeduplicates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("shared payload"))
	}))
	defer srv.Close()

	store := NewStore(testLogger(), t.TempDir(), nil)
	store.AddSource("shared", srv.URL+"/shared.bin")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Resolve(t.Context(), "shared")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "resolver %d", i)
	}
	assert.Equal(t, int32(1), requests.Load(), "concurrent resolves must share one download")
}

func TestListSorted(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "zephyr", "model.bin", []byte("z"))
	writeModel(t, root, "amber", "model.bin", []byte("a"))
	// An empty directory and a stray file are both skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644))

	store := NewStore(testLogger(), root, nil)
	handles, err := store.List()
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, "amber", handles[0].ID)
	assert.Equal(t, "zephyr", handles[1].ID)
}

func TestListMissingRoot(t *testing.T) {
	store := NewStore(testLogger(), filepath.Join(t.TempDir(), "nope"), nil)
	handles, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, handles)
}
