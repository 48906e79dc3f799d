// Package openrouter runs text and vision generation against the
// OpenRouter HTTP API. It is the fallback when no on-device LLM fits the
// host: no model files are involved, load only verifies credentials and
// records the target model.
package openrouter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/logging"
)

const (
	// Name is the registered runner name.
	Name = "openrouter"

	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// ParamAPIKey overrides the OPENROUTER_API_KEY environment variable.
	ParamAPIKey = "api_key"
	// ParamBaseURL overrides the API root, mainly for tests.
	ParamBaseURL = "base_url"
	// ParamTimeout is the per-call HTTP timeout in seconds.
	ParamTimeout = "timeout_seconds"
)

// Supported reports whether the runner can operate on this host: it needs
// an API key from the environment (a catalog parameter can still supply
// one later, but without either the runner is useless).
func Supported() bool {
	return os.Getenv("OPENROUTER_API_KEY") != ""
}

// Runner is the OpenRouter backed LLM/VLM runner.
type Runner struct {
	log logging.Logger

	client  openai.Client
	loaded  bool
	modelID string
}

// New creates the runner.
func New(log logging.Logger) *Runner {
	return &Runner{log: log.WithField("runner", Name)}
}

// Capabilities implements engine.Runner.Capabilities.
func (r *Runner) Capabilities() []engine.Capability {
	return []engine.Capability{engine.CapabilityLLM, engine.CapabilityVLM}
}

// IsLoaded implements engine.Runner.IsLoaded.
func (r *Runner) IsLoaded() bool {
	return r.loaded
}

// LoadedModelID implements engine.Runner.LoadedModelID.
func (r *Runner) LoadedModelID() string {
	if !r.loaded {
		return ""
	}
	return r.modelID
}

// Load implements engine.Runner.Load. The model lives remotely; loading
// configures the client and records the model id.
func (r *Runner) Load(_ context.Context, modelID string, params map[string]interface{}) error {
	apiKey, _ := params[ParamAPIKey].(string)
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key: set OPENROUTER_API_KEY or the %s parameter", ParamAPIKey)
	}
	baseURL, _ := params[ParamBaseURL].(string)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}
	if secs, ok := params[ParamTimeout].(float64); ok && secs > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Timeout: time.Duration(secs * float64(time.Second)),
		}))
	}

	r.client = openai.NewClient(opts...)
	r.modelID = modelID
	r.loaded = true
	r.log.Infof("Configured for model %q at %s", modelID, baseURL)
	return nil
}

// Unload implements engine.Runner.Unload.
func (r *Runner) Unload() error {
	r.loaded = false
	r.modelID = ""
	return nil
}

// ParameterSchema implements engine.Runner.ParameterSchema.
func (r *Runner) ParameterSchema() []engine.ParameterSchema {
	minTemp, maxTemp := 0.0, 2.0
	minTokens, minTimeout := 1.0, 1.0
	return []engine.ParameterSchema{
		{
			Name: ParamAPIKey, Type: engine.ParameterString,
			Description: "OpenRouter API key.",
			Sensitive:   true, Category: "auth",
		},
		{
			Name: ParamBaseURL, Type: engine.ParameterString,
			Description: "API root override.",
			Category:    "network",
		},
		{
			Name: ParamTimeout, Type: engine.ParameterFloat,
			Description: "Per-call HTTP timeout in seconds.",
			Minimum:     &minTimeout, Category: "network",
		},
		{
			Name: engine.ParamModelID, Type: engine.ParameterString,
			Description: "Remote model identifier.",
			Category:    "model",
		},
		{
			Name: engine.ParamTemperature, Type: engine.ParameterFloat,
			Description: "Sampling temperature.",
			Minimum:     &minTemp, Maximum: &maxTemp, Category: "sampling",
		},
		{
			Name: engine.ParamMaxTokens, Type: engine.ParameterInt,
			Description: "Upper bound on generated tokens.",
			Minimum:     &minTokens, Category: "sampling",
		},
	}
}

// ValidateParameters implements engine.Runner.ValidateParameters.
func (r *Runner) ValidateParameters(params map[string]interface{}) error {
	return engine.ValidateParameters(r.ParameterSchema(), params)
}

// Run implements engine.Runner.Run.
func (r *Runner) Run(ctx context.Context, req *engine.Request) engine.Result {
	if !r.loaded {
		return engine.ErrorResultFor(engine.CodeNotLoaded, "no model configured")
	}
	params, eerr := r.completionParams(req)
	if eerr != nil {
		return engine.ErrorResult(eerr)
	}

	started := time.Now()
	completion, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "completion failed", err))
	}
	if len(completion.Choices) == 0 {
		return engine.ErrorResultFor(engine.CodeProcessing, "API returned no choices")
	}

	choice := completion.Choices[0]
	return engine.TextResult(choice.Message.Content, map[string]interface{}{
		engine.MetaSessionID:    req.SessionID,
		engine.MetaModelName:    r.modelID,
		engine.MetaFinishReason: string(choice.FinishReason),
		engine.MetaProcessingMS: time.Since(started).Milliseconds(),
	})
}

// RunStream implements engine.Runner.RunStream.
func (r *Runner) RunStream(ctx context.Context, req *engine.Request) (*engine.Stream, error) {
	if !r.loaded {
		return engine.SingleResultStream(engine.ErrorResultFor(engine.CodeNotLoaded, "no model configured")), nil
	}
	params, eerr := r.completionParams(req)
	if eerr != nil {
		return engine.SingleResultStream(engine.ErrorResult(eerr)), nil
	}

	return engine.Produce(ctx, func(ctx context.Context, s *engine.Stream) {
		started := time.Now()
		stream := r.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		finishReason := ""
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			if !s.Send(ctx, engine.PartialTextResult(choice.Delta.Content, map[string]interface{}{
				engine.MetaSessionID: req.SessionID,
				engine.MetaModelName: r.modelID,
			})) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			s.Send(ctx, engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "stream failed", err)))
			return
		}

		s.Send(ctx, engine.Result{
			Metadata: map[string]interface{}{
				engine.MetaSessionID:    req.SessionID,
				engine.MetaModelName:    r.modelID,
				engine.MetaFinishReason: finishReason,
				engine.MetaProcessingMS: time.Since(started).Milliseconds(),
			},
		})
	}), nil
}

// completionParams builds the chat request. VLM requests attach the image
// as a data URL content part alongside the text.
func (r *Runner) completionParams(req *engine.Request) (openai.ChatCompletionNewParams, *engine.Error) {
	text, ok := req.Text()
	if !ok {
		return openai.ChatCompletionNewParams{}, engine.NewError(engine.CodeInvalidInput, "missing text input")
	}

	var message openai.ChatCompletionMessageParamUnion
	if image, ok := req.Image(); ok {
		message = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(text),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
			}),
		})
	} else {
		message = openai.UserMessage(text)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(r.modelID),
		Messages: []openai.ChatCompletionMessageParamUnion{message},
	}
	if v := req.FloatParam(engine.ParamTemperature, -1); v >= 0 {
		params.Temperature = openai.Float(v)
	}
	if v := req.IntParam(engine.ParamMaxTokens, 0); v > 0 {
		params.MaxTokens = openai.Int(int64(v))
	}
	return params, nil
}
