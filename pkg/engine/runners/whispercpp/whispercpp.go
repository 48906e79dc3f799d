//go:build !nonative

// Package whispercpp runs speech recognition through the whisper.cpp CGO
// bindings. The whisper static library and headers must be available at
// link time; builds with the nonative tag drop this runner entirely.
package whispercpp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/logging"
)

const (
	// Name is the registered runner name.
	Name = "whisper-cpp"

	// ParamAudioDir is where audio_id inputs are resolved. Defaults to the
	// system temp directory.
	ParamAudioDir = "audio_dir"

	// sampleRate is the PCM sample rate whisper.cpp expects.
	sampleRate = 16000
)

// Runner is the whisper.cpp backed ASR runner. One model is shared by all
// requests; every request gets its own whisper context, so transcriptions
// may run concurrently.
type Runner struct {
	log      logging.Logger
	resolver models.Resolver

	model    whisperlib.Model
	modelID  string
	audioDir string
}

// New creates the runner.
func New(log logging.Logger, resolver models.Resolver) *Runner {
	return &Runner{log: log.WithField("runner", Name), resolver: resolver}
}

// Capabilities implements engine.Runner.Capabilities.
func (r *Runner) Capabilities() []engine.Capability {
	return []engine.Capability{engine.CapabilityASR}
}

// IsLoaded implements engine.Runner.IsLoaded.
func (r *Runner) IsLoaded() bool {
	return r.model != nil
}

// LoadedModelID implements engine.Runner.LoadedModelID.
func (r *Runner) LoadedModelID() string {
	if r.model == nil {
		return ""
	}
	return r.modelID
}

// Load implements engine.Runner.Load.
func (r *Runner) Load(ctx context.Context, modelID string, params map[string]interface{}) error {
	if r.model != nil {
		if r.modelID == modelID {
			return nil
		}
		if err := r.Unload(); err != nil {
			return err
		}
	}

	handle, err := r.resolver.Resolve(ctx, modelID)
	if err != nil {
		return fmt.Errorf("resolving model %q: %w", modelID, err)
	}
	model, err := whisperlib.New(handle.Path)
	if err != nil {
		return fmt.Errorf("loading whisper model %q: %w", modelID, err)
	}

	r.model = model
	r.modelID = modelID
	r.audioDir, _ = params[ParamAudioDir].(string)
	if r.audioDir == "" {
		r.audioDir = os.TempDir()
	}
	r.log.Infof("Loaded whisper model %q", modelID)
	return nil
}

// Unload implements engine.Runner.Unload.
func (r *Runner) Unload() error {
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	r.modelID = ""
	return err
}

// ParameterSchema implements engine.Runner.ParameterSchema.
func (r *Runner) ParameterSchema() []engine.ParameterSchema {
	return []engine.ParameterSchema{
		{
			Name: engine.ParamModelID, Type: engine.ParameterString,
			Description: "Model id to load instead of the runner default.",
			Category:    "model",
		},
		{
			Name: engine.ParamLanguage, Type: engine.ParameterString,
			Description: "BCP-47 language hint, e.g. \"en\". Empty means autodetect.",
			Category:    "decode",
		},
		{
			Name: ParamAudioDir, Type: engine.ParameterString,
			Description: "Directory audio_id inputs are resolved against.",
			Category:    "input",
		},
	}
}

// ValidateParameters implements engine.Runner.ValidateParameters.
func (r *Runner) ValidateParameters(params map[string]interface{}) error {
	return engine.ValidateParameters(r.ParameterSchema(), params)
}

// Run implements engine.Runner.Run.
func (r *Runner) Run(ctx context.Context, req *engine.Request) engine.Result {
	if r.model == nil {
		return engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")
	}
	samples, eerr := r.samplesFor(req)
	if eerr != nil {
		return engine.ErrorResult(eerr)
	}

	started := time.Now()
	segments, err := r.transcribe(ctx, req, samples, nil)
	if err != nil {
		return engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "transcription failed", err))
	}

	return engine.TextResult(joinSegments(segments), map[string]interface{}{
		engine.MetaSessionID:    req.SessionID,
		engine.MetaModelName:    r.modelID,
		engine.MetaLanguage:     req.StringParam(engine.ParamLanguage, ""),
		engine.MetaSegments:     segmentMetadata(segments),
		engine.MetaProcessingMS: time.Since(started).Milliseconds(),
	})
}

// RunStream implements engine.Runner.RunStream: one partial result per
// transcribed segment, then a terminal result with the full text.
func (r *Runner) RunStream(ctx context.Context, req *engine.Request) (*engine.Stream, error) {
	if r.model == nil {
		return engine.SingleResultStream(engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")), nil
	}
	samples, eerr := r.samplesFor(req)
	if eerr != nil {
		return engine.SingleResultStream(engine.ErrorResult(eerr)), nil
	}

	return engine.Produce(ctx, func(ctx context.Context, s *engine.Stream) {
		started := time.Now()
		segments, err := r.transcribe(ctx, req, samples, func(seg segment) bool {
			return s.Send(ctx, engine.PartialTextResult(seg.text, map[string]interface{}{
				engine.MetaSessionID: req.SessionID,
				engine.MetaModelName: r.modelID,
				"segment_start_ms":   seg.startMS,
				"segment_end_ms":     seg.endMS,
			}))
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Send(ctx, engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "transcription failed", err)))
			return
		}

		s.Send(ctx, engine.TextResult(joinSegments(segments), map[string]interface{}{
			engine.MetaSessionID:    req.SessionID,
			engine.MetaModelName:    r.modelID,
			engine.MetaSegments:     segmentMetadata(segments),
			engine.MetaProcessingMS: time.Since(started).Milliseconds(),
		}))
	}), nil
}

type segment struct {
	text    string
	startMS int64
	endMS   int64
}

// transcribe runs whisper over samples on a fresh context, invoking emit
// (when non-nil) per segment. emit returning false stops early, as does
// ctx cancellation between segments.
func (r *Runner) transcribe(ctx context.Context, req *engine.Request, samples []float32, emit func(segment) bool) ([]segment, error) {
	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("creating whisper context: %w", err)
	}
	if lang := req.StringParam(engine.ParamLanguage, ""); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return nil, fmt.Errorf("setting language %q: %w", lang, err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("processing audio: %w", err)
	}

	var segments []segment
	for {
		if err := ctx.Err(); err != nil {
			return segments, err
		}
		native, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return segments, fmt.Errorf("reading segment: %w", err)
		}
		seg := segment{
			text:    strings.TrimSpace(native.Text),
			startMS: native.Start.Milliseconds(),
			endMS:   native.End.Milliseconds(),
		}
		segments = append(segments, seg)
		if emit != nil && !emit(seg) {
			return segments, ctx.Err()
		}
	}
	return segments, nil
}

// samplesFor extracts PCM samples from the request: inline audio bytes or
// a file referenced by audio_id, both 16 kHz mono.
func (r *Runner) samplesFor(req *engine.Request) ([]float32, *engine.Error) {
	if audio, ok := req.Audio(); ok {
		return decodePCM16(audio), nil
	}
	id, ok := req.AudioID()
	if !ok {
		return nil, engine.NewError(engine.CodeInvalidInput, "missing audio or audio_id input")
	}

	path := filepath.Join(r.audioDir, filepath.Clean(id))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.WrapError(engine.CodeInvalidInput, fmt.Sprintf("audio %q not readable", id), err)
	}
	return decodePCM16(stripWAVHeader(data)), nil
}

// decodePCM16 converts little-endian 16-bit mono PCM to the normalized
// float samples whisper.cpp consumes.
func decodePCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return samples
}

// stripWAVHeader drops a RIFF/WAVE header when present, returning the raw
// sample data. Anything else passes through unchanged.
func stripWAVHeader(data []byte) []byte {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data
	}
	// Walk the chunks to the "data" chunk.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		if chunkID == "data" {
			end := offset + 8 + chunkSize
			if end > len(data) {
				end = len(data)
			}
			return data[offset+8 : end]
		}
		offset += 8 + chunkSize
	}
	return data
}

func joinSegments(segments []segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.text != "" {
			parts = append(parts, seg.text)
		}
	}
	return strings.Join(parts, " ")
}

func segmentMetadata(segments []segment) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(segments))
	for _, seg := range segments {
		out = append(out, map[string]interface{}{
			"text":     seg.text,
			"start_ms": seg.startMS,
			"end_ms":   seg.endMS,
		})
	}
	return out
}
