// Package client is the HTTP client enginectl uses to talk to the engine
// service, over its unix socket or a TCP address.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/engine/settings"
	"github.com/edgehive/engine-runner/pkg/engine/state"
)

// Client talks to one engine service instance.
type Client struct {
	base string
	http *http.Client
}

// New creates a client. A non-empty host selects TCP ("host:port");
// otherwise the unix socket path is used.
func New(socket, host string) *Client {
	if host != "" {
		return &Client{
			base: "http://" + host,
			http: http.DefaultClient,
		}
	}
	return &Client{
		// The authority is ignored by unix transports but required in URLs.
		base: "http://engine-runner",
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
		},
	}
}

// InferenceRequest mirrors the capability verb body.
type InferenceRequest struct {
	RequestID string                 `json:"request_id,omitempty"`
	Runner    string                 `json:"runner,omitempty"`
	Stream    bool                   `json:"stream,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Image     []byte                 `json:"image,omitempty"`
	Audio     []byte                 `json:"audio,omitempty"`
	AudioID   string                 `json:"audio_id,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Infer runs a one-shot request against verb (chat, asr, tts, guard).
func (c *Client) Infer(ctx context.Context, verb string, req InferenceRequest) (engine.Result, error) {
	var result engine.Result
	err := c.doJSON(ctx, http.MethodPost, engine.APIV1+"/"+verb, req, &result)
	return result, err
}

// InferStream runs a streamed request, invoking emit for every SSE frame.
func (c *Client) InferStream(ctx context.Context, verb string, req InferenceRequest, emit func(event string, result engine.Result) error) error {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+engine.APIV1+"/"+verb, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(hreq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var result engine.Result
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &result); err != nil {
				return fmt.Errorf("malformed stream frame: %w", err)
			}
			if err := emit(event, result); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// State fetches the current engine state.
func (c *Client) State(ctx context.Context) (state.State, error) {
	var st state.State
	err := c.doJSON(ctx, http.MethodGet, engine.APIV1+"/state", nil, &st)
	return st, err
}

// RunnerSummary is the list form of a registered runner.
type RunnerSummary struct {
	engine.Descriptor
	Loaded     bool                `json:"loaded"`
	ModelID    string              `json:"model_id,omitempty"`
	InFlight   int                 `json:"in_flight"`
	DefaultFor []engine.Capability `json:"default_for,omitempty"`
}

// Runners lists the registered runners.
func (c *Client) Runners(ctx context.Context) ([]RunnerSummary, error) {
	var out struct {
		Runners []RunnerSummary `json:"runners"`
	}
	err := c.doJSON(ctx, http.MethodGet, engine.APIV1+"/runners", nil, &out)
	return out.Runners, err
}

// RunnerDetail is the single-runner form with the parameter schema.
type RunnerDetail struct {
	Runner     RunnerSummary            `json:"runner"`
	Parameters []engine.ParameterSchema `json:"parameters"`
}

// Runner fetches one runner's descriptor, schema, and load state.
func (c *Client) Runner(ctx context.Context, name string) (RunnerDetail, error) {
	var out RunnerDetail
	err := c.doJSON(ctx, http.MethodGet, engine.APIV1+"/runners/"+name, nil, &out)
	return out, err
}

// UnloadRunner drains and unloads one runner.
func (c *Client) UnloadRunner(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, engine.APIV1+"/runners/"+name+"/unload", nil, nil)
}

// UnloadAll drains and unloads every loaded runner, returning the count.
func (c *Client) UnloadAll(ctx context.Context) (int, error) {
	var out struct {
		Unloaded int `json:"unloaded"`
	}
	err := c.doJSON(ctx, http.MethodPost, engine.APIV1+"/unload", nil, &out)
	return out.Unloaded, err
}

// Cancel aborts an in-flight request by id.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, engine.APIV1+"/requests/"+id+"/cancel", nil, nil)
}

// Settings fetches the persisted settings document.
func (c *Client) Settings(ctx context.Context) (settings.Settings, error) {
	var out settings.Settings
	err := c.doJSON(ctx, http.MethodGet, engine.APIV1+"/settings", nil, &out)
	return out, err
}

// SaveSettings persists a settings document, returning the reload outcome.
func (c *Client) SaveSettings(ctx context.Context, snapshot settings.Settings) (ReloadResult, error) {
	var out ReloadResult
	err := c.doJSONMethod(ctx, http.MethodPut, engine.APIV1+"/settings", snapshot, &out)
	return out, err
}

// ReloadResult mirrors the PUT /settings response.
type ReloadResult struct {
	Reloaded   []string                 `json:"reloaded,omitempty"`
	Failed     map[string]*engine.Error `json:"failed,omitempty"`
	Unaffected []string                 `json:"unaffected,omitempty"`
}

// Models lists the local model store.
func (c *Client) Models(ctx context.Context) ([]models.Handle, error) {
	var out struct {
		Models []models.Handle `json:"models"`
	}
	err := c.doJSON(ctx, http.MethodGet, engine.APIV1+"/models", nil, &out)
	return out.Models, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	return c.doJSONMethod(ctx, method, path, in, out)
}

func (c *Client) doJSONMethod(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// responseError extracts the engine error from a non-2xx response when the
// body carries one.
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var result engine.Result
	if err := json.Unmarshal(data, &result); err == nil && result.IsError() {
		return result.Error
	}
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}
