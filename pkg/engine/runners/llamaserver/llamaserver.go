// Package llamaserver runs text generation through a llama-server
// subprocess. The model is served over a loopback port speaking the
// OpenAI-compatible API; the runner spawns the process on load, waits for
// readiness, terminates it on unload, and reports the last lines of its
// stderr when it fails.
package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/logging"
	"github.com/edgehive/engine-runner/pkg/tailbuffer"
)

const (
	// Name is the registered runner name.
	Name = "llama-server"

	// stderrTailSize bounds how much subprocess stderr is retained for
	// error reports.
	stderrTailSize = 4096

	// maximumReadinessPings and readinessInterval bound how long a
	// starting server may take before load fails.
	maximumReadinessPings = 240
	readinessInterval     = 500 * time.Millisecond
)

// Runner is the llama-server backed LLM runner.
type Runner struct {
	log      logging.Logger
	resolver models.Resolver
	config   Config

	// proc is the running server, nil while unloaded. Load and Unload are
	// serialized by the engine manager; Run and RunStream read proc
	// without further locking because the manager drains in-flight work
	// before unloading.
	proc    *process
	modelID string
}

// process is one running llama-server.
type process struct {
	cancel context.CancelFunc
	done   chan struct{}
	port   int
	tail   *tailbuffer.TailBuffer
	client openai.Client
	err    error
}

// New creates the runner. resolver maps model ids to local GGUF files.
func New(log logging.Logger, resolver models.Resolver, config Config) *Runner {
	return &Runner{
		log:      log.WithField("runner", Name),
		resolver: resolver,
		config:   config,
	}
}

// Capabilities implements engine.Runner.Capabilities.
func (r *Runner) Capabilities() []engine.Capability {
	return []engine.Capability{engine.CapabilityLLM}
}

// IsLoaded implements engine.Runner.IsLoaded.
func (r *Runner) IsLoaded() bool {
	return r.proc != nil
}

// LoadedModelID implements engine.Runner.LoadedModelID.
func (r *Runner) LoadedModelID() string {
	if r.proc == nil {
		return ""
	}
	return r.modelID
}

// ParameterSchema implements engine.Runner.ParameterSchema.
func (r *Runner) ParameterSchema() []engine.ParameterSchema {
	return parameterSchema()
}

// ValidateParameters implements engine.Runner.ValidateParameters.
func (r *Runner) ValidateParameters(params map[string]interface{}) error {
	return engine.ValidateParameters(r.ParameterSchema(), params)
}

// MetricsEndpoint implements engine.MetricsSource.MetricsEndpoint.
func (r *Runner) MetricsEndpoint() (string, *http.Client, bool) {
	proc := r.proc
	if proc == nil {
		return "", nil, false
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", proc.port), http.DefaultClient, true
}

// Load implements engine.Runner.Load: it resolves the model, spawns
// llama-server on a free loopback port, and waits for readiness.
func (r *Runner) Load(ctx context.Context, modelID string, params map[string]interface{}) error {
	if r.proc != nil {
		if r.modelID == modelID {
			return nil
		}
		// A different model replaces the running server.
		if err := r.Unload(); err != nil {
			return err
		}
	}

	handle, err := r.resolver.Resolve(ctx, modelID)
	if err != nil {
		return fmt.Errorf("resolving model %q: %w", modelID, err)
	}

	port, err := freePort()
	if err != nil {
		return fmt.Errorf("allocating server port: %w", err)
	}
	args, err := r.config.buildArgs(handle.Path, port, params)
	if err != nil {
		return err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, r.config.BinaryPath, args...)
	tail := tailbuffer.New(stderrTailSize)
	serverLog := r.log.Writer()
	cmd.Stdout = serverLog
	cmd.Stderr = io.MultiWriter(serverLog, tail)

	r.log.Infof("Starting %s on port %d for model %q", r.config.BinaryPath, port, modelID)
	if err := cmd.Start(); err != nil {
		cancel()
		serverLog.Close()
		return fmt.Errorf("starting %s: %w", r.config.BinaryPath, err)
	}

	proc := &process{
		cancel: cancel,
		done:   make(chan struct{}),
		port:   port,
		tail:   tail,
		client: openai.NewClient(
			option.WithBaseURL(fmt.Sprintf("http://127.0.0.1:%d/v1", port)),
			option.WithAPIKey("unused"),
		),
	}
	go func() {
		proc.err = cmd.Wait()
		serverLog.Close()
		close(proc.done)
	}()

	if err := r.awaitReady(ctx, proc); err != nil {
		cancel()
		<-proc.done
		if tailText := tail.String(); tailText != "" {
			return fmt.Errorf("%w; server output: %s", err, tailText)
		}
		return err
	}

	r.proc = proc
	r.modelID = modelID
	return nil
}

// Unload implements engine.Runner.Unload: it terminates the server and
// waits for it to exit.
func (r *Runner) Unload() error {
	proc := r.proc
	if proc == nil {
		return nil
	}
	r.proc = nil
	r.modelID = ""

	proc.cancel()
	select {
	case <-proc.done:
	case <-time.After(10 * time.Second):
		return errors.New("llama-server did not exit in time")
	}
	return nil
}

// Run implements engine.Runner.Run.
func (r *Runner) Run(ctx context.Context, req *engine.Request) engine.Result {
	proc := r.proc
	if proc == nil {
		return engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")
	}
	text, ok := req.Text()
	if !ok {
		return engine.ErrorResultFor(engine.CodeInvalidInput, "missing text input")
	}

	started := time.Now()
	completion, err := proc.client.Chat.Completions.New(ctx, r.completionParams(text, req))
	if err != nil {
		return engine.ErrorResult(engine.WrapError(engine.CodeProcessing, "completion failed", err))
	}
	if len(completion.Choices) == 0 {
		return engine.ErrorResultFor(engine.CodeProcessing, "server returned no choices")
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
	proc := r.proc
	if proc == nil {
		return engine.SingleResultStream(engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")), nil
	}
	text, ok := req.Text()
	if !ok {
		return engine.SingleResultStream(engine.ErrorResultFor(engine.CodeInvalidInput, "missing text input")), nil
	}

	return engine.Produce(ctx, func(ctx context.Context, s *engine.Stream) {
		started := time.Now()
		stream := proc.client.Chat.Completions.NewStreaming(ctx, r.completionParams(text, req))
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
			Outputs: map[string]interface{}{},
			Metadata: map[string]interface{}{
				engine.MetaSessionID:    req.SessionID,
				engine.MetaModelName:    r.modelID,
				engine.MetaFinishReason: finishReason,
				engine.MetaProcessingMS: time.Since(started).Milliseconds(),
			},
		})
	}), nil
}

func (r *Runner) completionParams(text string, req *engine.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.modelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(text),
		},
	}
	if v := req.FloatParam(engine.ParamTemperature, -1); v >= 0 {
		params.Temperature = openai.Float(v)
	}
	if v := req.IntParam(engine.ParamMaxTokens, 0); v > 0 {
		params.MaxTokens = openai.Int(int64(v))
	}
	return params
}

// awaitReady polls the server's health endpoint until it answers, the
// process exits, or ctx is cancelled.
func (r *Runner) awaitReady(ctx context.Context, proc *process) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", proc.port)
	for i := 0; i < maximumReadinessPings; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.done:
			return fmt.Errorf("llama-server exited during startup: %v", proc.err)
		case <-time.After(readinessInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
	return errors.New("llama-server took too long to become ready")
}

// freePort grabs an ephemeral loopback port. The listener is closed before
// the server starts, so a race with another process is possible but
// harmless: the server fails to bind, load fails, and the next request
// retries.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
