package models

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	parser "github.com/gpustack/gguf-parser-go"
	"github.com/pkg/errors"

	"github.com/edgehive/engine-runner/pkg/engine/state"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// maxConcurrentFetches bounds parallel model downloads.
const maxConcurrentFetches = 2

// Store resolves model ids against a local directory and fetches missing
// models whose id has a registered source URL. It implements Resolver.
type Store struct {
	log    logging.Logger
	root   string
	pub    *state.Publisher
	client *http.Client

	// fetchSem bounds concurrent downloads.
	fetchSem chan struct{}

	mu      sync.Mutex
	sources map[string]string
	// inflight deduplicates concurrent fetches of the same id.
	inflight map[string]chan struct{}
}

// NewStore creates a store rooted at root. pub may be nil when download
// progress reporting is not wanted.
func NewStore(log logging.Logger, root string, pub *state.Publisher) *Store {
	return &Store{
		log:      log,
		root:     root,
		pub:      pub,
		client:   &http.Client{Timeout: 30 * time.Minute},
		fetchSem: make(chan struct{}, maxConcurrentFetches),
		sources:  make(map[string]string),
		inflight: make(map[string]chan struct{}),
	}
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// AddSource registers a download URL for id, consulted when the model is
// not present locally.
func (s *Store) AddSource(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[id] = url
}

// Resolve implements Resolver.Resolve. A model present under
// <root>/<id>/ resolves immediately; a missing model with a registered
// source is fetched first. Missing models without a source fail.
func (s *Store) Resolve(ctx context.Context, id string) (Handle, error) {
	if id == "" {
		return Handle{}, errors.New("empty model id")
	}
	if path, ok := s.lookup(id); ok {
		return s.describe(id, path)
	}

	s.mu.Lock()
	url, haveSource := s.sources[id]
	s.mu.Unlock()
	if !haveSource {
		return Handle{}, errors.Errorf("model %q not found under %s", id, s.root)
	}
	if err := s.fetch(ctx, id, url); err != nil {
		return Handle{}, errors.Wrapf(err, "fetching model %q", id)
	}

	path, ok := s.lookup(id)
	if !ok {
		return Handle{}, errors.Errorf("model %q missing after fetch", id)
	}
	return s.describe(id, path)
}

// List describes every model present in the store, sorted by id.
func (s *Store) List() ([]Handle, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading model store")
	}

	var handles []Handle
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path, ok := s.lookup(entry.Name())
		if !ok {
			continue
		}
		h, err := s.describe(entry.Name(), path)
		if err != nil {
			s.log.WithError(err).Warnf("Describing model %q", entry.Name())
			continue
		}
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	return handles, nil
}

// lookup finds the entry point file for id: the single model file under
// <root>/<id>/, preferring .gguf then .onnx over anything else.
func (s *Store) lookup(id string) (string, bool) {
	dir := filepath.Join(s.root, filepath.Clean(id))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		candidates = append(candidates, entry.Name())
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := formatRank(candidates[i]), formatRank(candidates[j])
		if ri != rj {
			return ri < rj
		}
		return candidates[i] < candidates[j]
	})
	return filepath.Join(dir, candidates[0]), true
}

func formatRank(name string) int {
	switch formatOf(name) {
	case "gguf":
		return 0
	case "onnx":
		return 1
	default:
		return 2
	}
}

// describe builds the handle for a resolved file, reading GGUF metadata
// when applicable. Metadata failures degrade to a bare handle.
func (s *Store) describe(id, path string) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Handle{}, errors.Wrapf(err, "stat model %q", id)
	}
	h := Handle{
		ID:        id,
		Path:      path,
		SizeBytes: info.Size(),
		Format:    formatOf(path),
	}
	if h.Format != "gguf" {
		return h, nil
	}

	gguf, err := parser.ParseGGUFFile(path)
	if err != nil {
		s.log.WithError(err).Warnf("Parsing GGUF metadata of %q", id)
		return h, nil
	}
	meta := gguf.Metadata()
	h.Architecture = strings.TrimSpace(meta.Architecture)
	h.Parameters = strings.TrimSpace(meta.Parameters.String())

	estimate := gguf.EstimateLLaMACppRun()
	if len(estimate.Devices) > 0 {
		dev := estimate.Devices[0]
		h.RequiredMemoryBytes = uint64(dev.Weight.Sum() + dev.KVCache.Sum() + dev.Computation.Sum())
	}
	return h, nil
}

// fetch downloads id from url into the store, deduplicating concurrent
// callers and publishing progress.
func (s *Store) fetch(ctx context.Context, id, url string) error {
	s.mu.Lock()
	if done, ok := s.inflight[id]; ok {
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.inflight[id] = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		close(done)
	}()

	select {
	case s.fetchSem <- struct{}{}:
		defer func() { <-s.fetchSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.download(ctx, id, url)
}

func (s *Store) download(ctx context.Context, id, url string) error {
	s.log.Infof("Fetching model %q from %s", id, url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "requesting model")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("source returned %d", resp.StatusCode)
	}

	dir := filepath.Join(s.root, filepath.Clean(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating model directory")
	}
	filename := path.Base(resp.Request.URL.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "model.bin"
	}
	target := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())

	if s.pub != nil {
		s.pub.SetDownloading(id, 0, resp.ContentLength)
		defer s.pub.ClearDownloading()
	}
	written, err := io.Copy(tmp, s.progressReader(ctx, id, resp.Body, resp.ContentLength))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "writing model")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.Wrap(err, "moving model into place")
	}
	s.log.Infof("Fetched model %q (%d bytes)", id, written)
	return nil
}

// progressReader wraps body, publishing percent progress as it is read.
func (s *Store) progressReader(ctx context.Context, id string, body io.Reader, total int64) io.Reader {
	if s.pub == nil || total <= 0 {
		return body
	}
	return &progressTracker{ctx: ctx, store: s, id: id, inner: body, total: total}
}

type progressTracker struct {
	ctx         context.Context
	store       *Store
	id          string
	inner       io.Reader
	total       int64
	read        int64
	lastPercent int
}

func (p *progressTracker) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.inner.Read(buf)
	p.read += int64(n)
	if percent := int(p.read * 100 / p.total); percent > p.lastPercent {
		p.lastPercent = percent
		p.store.pub.SetDownloading(p.id, percent, p.total)
	}
	return n, err
}
