// Package server exposes the engine over HTTP: capability verbs under
// /engine/v1, the control surface (state, runners, settings, unload), and
// SSE streaming for partial results.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/coordinator"
	"github.com/edgehive/engine-runner/pkg/engine/manager"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/engine/registry"
	"github.com/edgehive/engine-runner/pkg/engine/reload"
	"github.com/edgehive/engine-runner/pkg/engine/settings"
	"github.com/edgehive/engine-runner/pkg/engine/state"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// maxRequestBody caps request bodies; audio and image payloads travel
// base64-encoded in JSON, so the cap leaves room for a few minutes of PCM.
const maxRequestBody = 64 << 20

// Server routes engine requests. It owns no inference state of its own;
// everything is delegated to the coordinator and the control components.
type Server struct {
	log      logging.Logger
	coord    *coordinator.Coordinator
	manager  *manager.Manager
	registry *registry.Registry
	pub      *state.Publisher
	reload   *reload.Manager
	settings *settings.Store
	models   *models.Store
}

// New creates a server over the given components.
func New(
	log logging.Logger,
	coord *coordinator.Coordinator,
	mgr *manager.Manager,
	reg *registry.Registry,
	pub *state.Publisher,
	rel *reload.Manager,
	store *settings.Store,
	modelStore *models.Store,
) *Server {
	return &Server{
		log:      log,
		coord:    coord,
		manager:  mgr,
		registry: reg,
		pub:      pub,
		reload:   rel,
		settings: store,
		models:   modelStore,
	}
}

// RegisterRoutes installs every engine route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	v1 := engine.APIV1

	mux.HandleFunc("POST "+v1+"/chat", s.handleChat)
	mux.HandleFunc("POST "+v1+"/asr", s.capabilityHandler(engine.CapabilityASR))
	mux.HandleFunc("POST "+v1+"/tts", s.capabilityHandler(engine.CapabilityTTS))
	mux.HandleFunc("POST "+v1+"/guard", s.capabilityHandler(engine.CapabilityGuardian))

	mux.HandleFunc("POST "+v1+"/requests/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET "+v1+"/state", s.handleState)
	mux.HandleFunc("GET "+v1+"/runners", s.handleRunners)
	mux.HandleFunc("GET "+v1+"/runners/{name}", s.handleRunner)
	mux.HandleFunc("POST "+v1+"/runners/{name}/unload", s.handleRunnerUnload)
	mux.HandleFunc("POST "+v1+"/unload", s.handleUnloadAll)
	mux.HandleFunc("GET "+v1+"/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT "+v1+"/settings", s.handleSettingsPut)
	mux.HandleFunc("GET "+v1+"/models", s.handleModels)
}

// inferenceRequest is the JSON body of the capability verbs. Audio and
// image travel base64-encoded per encoding/json []byte convention.
type inferenceRequest struct {
	RequestID string                 `json:"request_id,omitempty"`
	Runner    string                 `json:"runner,omitempty"`
	Stream    bool                   `json:"stream,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Image     []byte                 `json:"image,omitempty"`
	Audio     []byte                 `json:"audio,omitempty"`
	AudioID   string                 `json:"audio_id,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

func (b *inferenceRequest) toEngine() *engine.Request {
	inputs := make(map[string]interface{})
	if b.Text != "" {
		inputs[engine.InputText] = b.Text
	}
	if len(b.Image) > 0 {
		inputs[engine.InputImage] = b.Image
	}
	if len(b.Audio) > 0 {
		inputs[engine.InputAudio] = b.Audio
	}
	if b.AudioID != "" {
		inputs[engine.InputAudioID] = b.AudioID
	}
	return engine.NewRequest(b.RequestID, inputs, b.Params)
}

// handleChat serves text generation. A request carrying an image is routed
// through the VLM capability instead.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	capability := engine.CapabilityLLM
	if len(body.Image) > 0 {
		capability = engine.CapabilityVLM
	}
	s.serve(w, r, capability, body)
}

func (s *Server) capabilityHandler(c engine.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.decodeBody(w, r)
		if !ok {
			return
		}
		s.serve(w, r, c, body)
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) (*inferenceRequest, bool) {
	var body inferenceRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				engine.NewError(engine.CodeInvalidInput, "request body too large"))
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest,
			engine.NewError(engine.CodeInvalidInput, fmt.Sprintf("malformed request body: %v", err)))
		return nil, false
	}
	if body.RequestID == "" {
		body.RequestID = r.Header.Get(engine.RequestIDHeader)
	}
	return &body, true
}

// serve dispatches one capability request, one-shot or streamed. The
// request context carries the client connection: a disconnect cancels the
// work.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, c engine.Capability, body *inferenceRequest) {
	req := body.toEngine()
	if body.Stream {
		s.serveSSE(w, r, c, body.Runner, req)
		return
	}

	result := s.coord.Process(r.Context(), req, c, body.Runner)
	w.Header().Set(engine.RequestIDHeader, sessionOf(result, req))
	s.writeResult(w, result)
}

func (s *Server) writeResult(w http.ResponseWriter, result engine.Result) {
	status := http.StatusOK
	if result.IsError() {
		status = httpStatusFor(result.Error.Code)
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.coord.Cancel(id) {
		s.writeError(w, http.StatusNotFound,
			engine.NewError(engine.CodeRunnerNotFound, fmt.Sprintf("no in-flight request %q", id)))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"cancelled": id})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("watch") == "1" {
		s.watchState(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, s.pub.Current())
}

// runnerSummary is the list form of a registered runner.
type runnerSummary struct {
	engine.Descriptor
	Loaded     bool                `json:"loaded"`
	ModelID    string              `json:"model_id,omitempty"`
	InFlight   int                 `json:"in_flight"`
	DefaultFor []engine.Capability `json:"default_for,omitempty"`
}

func summarize(st manager.RunnerStatus) runnerSummary {
	return runnerSummary{
		Descriptor: st.Descriptor,
		Loaded:     st.Loaded,
		ModelID:    st.ModelID,
		InFlight:   st.InFlight,
		DefaultFor: st.DefaultFor,
	}
}

func (s *Server) handleRunners(w http.ResponseWriter, r *http.Request) {
	statuses := s.manager.Statuses()
	out := make([]runnerSummary, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, summarize(st))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runners": out})
}

func (s *Server) handleRunner(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	runner, _, err := s.registry.GetByName(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound,
			engine.NewError(engine.CodeRunnerNotFound, fmt.Sprintf("runner %q is not registered", name)))
		return
	}
	st, err := s.manager.Status(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, engine.AsEngineError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runner":     summarize(st),
		"parameters": runner.ParameterSchema(),
	})
}

func (s *Server) handleRunnerUnload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.manager.UnloadRunner(name); err != nil {
		eerr := engine.AsEngineError(err)
		status := http.StatusInternalServerError
		if eerr.Code == engine.CodeRunnerNotFound {
			status = http.StatusNotFound
		}
		s.writeError(w, status, eerr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"unloaded": name})
}

func (s *Server) handleUnloadAll(w http.ResponseWriter, r *http.Request) {
	n := s.manager.UnloadAllModels()
	s.writeJSON(w, http.StatusOK, map[string]int{"unloaded": n})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var snapshot settings.Settings
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(&snapshot); err != nil {
		s.writeError(w, http.StatusBadRequest,
			engine.NewError(engine.CodeInvalidInput, fmt.Sprintf("malformed settings: %v", err)))
		return
	}
	result, err := s.reload.Save(r.Context(), snapshot)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError,
			engine.WrapError(engine.CodeRuntime, "persisting settings failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"models": []models.Handle{}})
		return
	}
	list, err := s.models.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError,
			engine.WrapError(engine.CodeRuntime, "listing models failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"models": list})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("Writing response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, eerr *engine.Error) {
	s.writeJSON(w, status, engine.ErrorResult(eerr))
}

// httpStatusFor maps engine error codes to HTTP statuses for one-shot
// responses. Streamed errors always travel inside SSE frames instead.
func httpStatusFor(code string) int {
	switch code {
	case engine.CodeInvalidInput, engine.CodeModeUnsupported:
		return http.StatusBadRequest
	case engine.CodeRunnerNotFound:
		return http.StatusNotFound
	case engine.CodeCapabilityUnsupported:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func sessionOf(result engine.Result, req *engine.Request) string {
	if id, ok := result.Metadata[engine.MetaSessionID].(string); ok && id != "" {
		return id
	}
	return req.SessionID
}
