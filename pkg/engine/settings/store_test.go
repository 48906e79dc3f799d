package settings

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/logging"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

func sample() Settings {
	s := Empty()
	s.SelectedRunners[engine.CapabilityLLM] = "llama-server"
	s.SelectedRunners[engine.CapabilityASR] = "whisper-cpp"
	s.RunnerParameters["llama-server"] = map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  float64(512),
	}
	return s
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	store := NewStore(testLogger(), filepath.Join(t.TempDir(), "settings.json"))

	got, err := store.Load()
	assert.NilError(t, err)
	assert.Equal(t, len(got.SelectedRunners), 0)
	assert.Equal(t, len(got.RunnerParameters), 0)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewStore(testLogger(), path)

	assert.NilError(t, store.Save(sample()))

	// A fresh store must read the persisted document, not the cache.
	reread := NewStore(testLogger(), path)
	got, err := reread.Load()
	assert.NilError(t, err)
	assert.DeepEqual(t, got, sample())

	name, ok := got.SelectedFor(engine.CapabilityLLM)
	assert.Assert(t, ok)
	assert.Equal(t, name, "llama-server")
	_, ok = got.SelectedFor(engine.CapabilityTTS)
	assert.Assert(t, !ok)
}

func TestPersistedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewStore(testLogger(), path)
	assert.NilError(t, store.Save(sample()))

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	text := string(data)
	// Exactly the two documented keys, with capabilities as their string
	// names.
	for _, want := range []string{`"selected_runners"`, `"runner_parameters"`, `"LLM"`, `"ASR"`} {
		assert.Assert(t, strings.Contains(text, want), "persisted document missing %s:\n%s", want, text)
	}
}

func TestFailedSaveLeavesSnapshotUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	store := NewStore(testLogger(), path)
	assert.NilError(t, store.Save(sample()))

	// Make the target path unwritable by replacing it with a directory.
	assert.NilError(t, os.Remove(path))
	assert.NilError(t, os.Mkdir(path, 0o755))

	next := sample()
	next.SelectedRunners[engine.CapabilityTTS] = "vits-onnx"
	err := store.Save(next)
	assert.Assert(t, err != nil)

	current := store.Current()
	_, ok := current.SelectedFor(engine.CapabilityTTS)
	assert.Assert(t, !ok)
	assert.DeepEqual(t, current, sample())
}

func TestMalformedFileDegradesToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	assert.NilError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewStore(testLogger(), path)
	got, err := store.Load()
	assert.Assert(t, err != nil)
	assert.Equal(t, len(got.SelectedRunners), 0)

	// Current degrades silently and Save still works afterwards.
	_ = store.Current()
	assert.NilError(t, store.Save(sample()))
}

func TestSnapshotsAreIsolated(t *testing.T) {
	store := NewStore(testLogger(), filepath.Join(t.TempDir(), "settings.json"))
	assert.NilError(t, store.Save(sample()))

	snapshot := store.Current()
	snapshot.SelectedRunners[engine.CapabilityLLM] = "mutated"
	snapshot.RunnerParameters["llama-server"]["temperature"] = 1.0

	fresh := store.Current()
	assert.Equal(t, fresh.SelectedRunners[engine.CapabilityLLM], "llama-server")
	assert.Equal(t, fresh.RunnerParameters["llama-server"]["temperature"], 0.2)
}

func TestSelectsAndParametersFor(t *testing.T) {
	s := sample()
	assert.Assert(t, s.Selects("llama-server"))
	assert.Assert(t, s.Selects("whisper-cpp"))
	assert.Assert(t, !s.Selects("vits-onnx"))

	params := s.ParametersFor("llama-server")
	assert.Equal(t, params["temperature"], 0.2)
	params["temperature"] = 0.9
	assert.Equal(t, s.RunnerParameters["llama-server"]["temperature"], 0.2)

	assert.Assert(t, s.ParametersFor("unknown") == nil)
}
