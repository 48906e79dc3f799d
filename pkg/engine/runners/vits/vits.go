//go:build !nonative

// Package vits synthesizes speech with a VITS ONNX model through the ONNX
// Runtime shared library. The library location is taken from
// ONNXRUNTIME_LIB_PATH; builds with the nonative tag drop this runner.
package vits

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/logging"
)

const (
	// Name is the registered runner name.
	Name = "vits-onnx"

	// ParamSpeed scales utterance duration; 1.0 is the model's native pace.
	ParamSpeed = "speed"
	// ParamSpeakerID selects the voice of a multi-speaker model.
	ParamSpeakerID = "speaker_id"
	// ParamMultiSpeaker declares at load time that the model takes a
	// speaker id input.
	ParamMultiSpeaker = "multi_speaker"
	// ParamSampleRate declares the model's output sample rate.
	ParamSampleRate = "sample_rate"

	defaultSampleRate = 22050

	// VITS inference scales: noise_scale, length_scale, noise_w.
	noiseScale = 0.667
	noiseW     = 0.8
)

// ortInit guards one-time ONNX Runtime environment setup. The failure is
// kept so later loads report it instead of running uninitialized.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime() error {
	ortInitOnce.Do(func() {
		if lib := os.Getenv("ONNXRUNTIME_LIB_PATH"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Runner is the VITS backed TTS runner. Input lengths vary per request, so
// it drives a dynamic session rather than preallocated tensors.
type Runner struct {
	log      logging.Logger
	resolver models.Resolver

	session      *ort.DynamicAdvancedSession
	tokens       *tokenSet
	modelID      string
	multiSpeaker bool
	sampleRate   int
}

// New creates the runner.
func New(log logging.Logger, resolver models.Resolver) *Runner {
	return &Runner{log: log.WithField("runner", Name), resolver: resolver}
}

// Capabilities implements engine.Runner.Capabilities.
func (r *Runner) Capabilities() []engine.Capability {
	return []engine.Capability{engine.CapabilityTTS}
}

// IsLoaded implements engine.Runner.IsLoaded.
func (r *Runner) IsLoaded() bool {
	return r.session != nil
}

// LoadedModelID implements engine.Runner.LoadedModelID.
func (r *Runner) LoadedModelID() string {
	if r.session == nil {
		return ""
	}
	return r.modelID
}

// Load implements engine.Runner.Load. The token table is expected next to
// the .onnx file as tokens.txt.
func (r *Runner) Load(ctx context.Context, modelID string, params map[string]interface{}) error {
	if r.session != nil {
		if r.modelID == modelID {
			return nil
		}
		if err := r.Unload(); err != nil {
			return err
		}
	}
	if err := initRuntime(); err != nil {
		return fmt.Errorf("initializing onnxruntime: %w", err)
	}

	handle, err := r.resolver.Resolve(ctx, modelID)
	if err != nil {
		return fmt.Errorf("resolving model %q: %w", modelID, err)
	}
	tokens, err := loadTokens(tokensPathFor(handle.Path))
	if err != nil {
		return fmt.Errorf("loading token table: %w", err)
	}

	multiSpeaker, _ := params[ParamMultiSpeaker].(bool)
	inputs := []string{"input", "input_lengths", "scales"}
	if multiSpeaker {
		inputs = append(inputs, "sid")
	}
	session, err := ort.NewDynamicAdvancedSession(handle.Path, inputs, []string{"output"}, nil)
	if err != nil {
		return fmt.Errorf("creating session for %q: %w", modelID, err)
	}

	r.session = session
	r.tokens = tokens
	r.modelID = modelID
	r.multiSpeaker = multiSpeaker
	r.sampleRate = defaultSampleRate
	if sr, ok := asInt(params[ParamSampleRate]); ok && sr > 0 {
		r.sampleRate = sr
	}
	r.log.Infof("Loaded vits model %q (%d tokens)", modelID, tokens.size())
	return nil
}

// Unload implements engine.Runner.Unload.
func (r *Runner) Unload() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Destroy()
	r.session = nil
	r.tokens = nil
	r.modelID = ""
	return err
}

// ParameterSchema implements engine.Runner.ParameterSchema.
func (r *Runner) ParameterSchema() []engine.ParameterSchema {
	minSpeed, maxSpeed := 0.25, 4.0
	return []engine.ParameterSchema{
		{
			Name: engine.ParamModelID, Type: engine.ParameterString,
			Description: "Model id to load instead of the runner default.",
			Category:    "model",
		},
		{
			Name: ParamSpeed, Type: engine.ParameterFloat, Default: 1.0,
			Minimum: &minSpeed, Maximum: &maxSpeed,
			Description: "Speaking pace multiplier.",
			Category:    "synthesis",
		},
		{
			Name: ParamSpeakerID, Type: engine.ParameterInt, Default: 0,
			Description: "Voice index for multi-speaker models.",
			Category:    "synthesis",
		},
		{
			Name: ParamMultiSpeaker, Type: engine.ParameterBool, Default: false,
			Description: "Whether the model takes a speaker id input.",
			Category:    "model",
		},
		{
			Name: ParamSampleRate, Type: engine.ParameterInt, Default: defaultSampleRate,
			Description: "Output sample rate of the model in Hz.",
			Category:    "model",
		},
	}
}

// ValidateParameters implements engine.Runner.ValidateParameters.
func (r *Runner) ValidateParameters(params map[string]interface{}) error {
	return engine.ValidateParameters(r.ParameterSchema(), params)
}

// Run implements engine.Runner.Run: the whole text is synthesized and
// returned as one PCM buffer.
func (r *Runner) Run(ctx context.Context, req *engine.Request) engine.Result {
	if r.session == nil {
		return engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")
	}
	text, _ := req.Text()

	started := time.Now()
	var pcm []byte
	for _, sentence := range splitSentences(text) {
		if err := ctx.Err(); err != nil {
			return engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "synthesis interrupted", err))
		}
		chunk, err := r.synthesize(req, sentence)
		if err != nil {
			return engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "synthesis failed", err))
		}
		pcm = append(pcm, chunk...)
	}

	return audioResult(pcm, false, map[string]interface{}{
		engine.MetaSessionID:    req.SessionID,
		engine.MetaModelName:    r.modelID,
		engine.MetaSampleRate:   r.sampleRate,
		engine.MetaProcessingMS: time.Since(started).Milliseconds(),
	})
}

// RunStream implements engine.Runner.RunStream: one partial audio chunk
// per sentence so playback can begin before the tail is synthesized, then
// an audio-free terminal frame with the totals.
func (r *Runner) RunStream(ctx context.Context, req *engine.Request) (*engine.Stream, error) {
	if r.session == nil {
		return engine.SingleResultStream(engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")), nil
	}
	text, _ := req.Text()

	return engine.Produce(ctx, func(ctx context.Context, s *engine.Stream) {
		started := time.Now()
		var total int
		for _, sentence := range splitSentences(text) {
			if ctx.Err() != nil {
				return
			}
			chunk, err := r.synthesize(req, sentence)
			if err != nil {
				s.Send(ctx, engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "synthesis failed", err)))
				return
			}
			total += len(chunk)
			if !s.Send(ctx, audioResult(chunk, true, map[string]interface{}{
				engine.MetaSessionID:  req.SessionID,
				engine.MetaSampleRate: r.sampleRate,
			})) {
				return
			}
		}
		s.Send(ctx, engine.Result{
			Metadata: map[string]interface{}{
				engine.MetaSessionID:    req.SessionID,
				engine.MetaModelName:    r.modelID,
				engine.MetaSampleRate:   r.sampleRate,
				"audio_bytes":           total,
				engine.MetaProcessingMS: time.Since(started).Milliseconds(),
			},
		})
	}), nil
}

// synthesize runs one sentence through the model and returns 16-bit
// little-endian PCM.
func (r *Runner) synthesize(req *engine.Request, sentence string) ([]byte, error) {
	ids := r.tokens.encode(sentence)
	if len(ids) == 0 {
		return nil, nil
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()
	lengths, err := ort.NewTensor(ort.NewShape(1), []int64{int64(len(ids))})
	if err != nil {
		return nil, fmt.Errorf("creating lengths tensor: %w", err)
	}
	defer lengths.Destroy()

	speed := req.FloatParam(ParamSpeed, 1.0)
	if speed <= 0 {
		speed = 1.0
	}
	scales, err := ort.NewTensor(ort.NewShape(3), []float32{noiseScale, float32(1.0 / speed), noiseW})
	if err != nil {
		return nil, fmt.Errorf("creating scales tensor: %w", err)
	}
	defer scales.Destroy()

	inputs := []ort.Value{input, lengths, scales}
	if r.multiSpeaker {
		sid, err := ort.NewTensor(ort.NewShape(1), []int64{int64(req.IntParam(ParamSpeakerID, 0))})
		if err != nil {
			return nil, fmt.Errorf("creating sid tensor: %w", err)
		}
		defer sid.Destroy()
		inputs = append(inputs, sid)
	}

	outputs := []ort.Value{nil}
	if err := r.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("running inference: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
		return nil, fmt.Errorf("model returned unexpected output type")
	}
	defer out.Destroy()

	return encodePCM16(out.GetData()), nil
}

// audioResult wraps PCM bytes in a result frame.
func audioResult(pcm []byte, partial bool, metadata map[string]interface{}) engine.Result {
	return engine.Result{
		Outputs:  map[string]interface{}{engine.OutputAudio: pcm},
		Metadata: metadata,
		Partial:  partial,
	}
}

// encodePCM16 converts normalized float samples to little-endian 16-bit
// PCM, clamping out-of-range values.
func encodePCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*32767)))
	}
	return pcm
}

// splitSentences chunks text at sentence punctuation so chunks stay short
// enough for responsive streaming.
func splitSentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' || r == ';' {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
