package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/edgehive/engine-runner/pkg/engine"
)

// SSE event names. Every frame's data is the JSON form of a Result; the
// terminal frame is the one with partial=false.
const (
	eventPartial = "partial"
	eventResult  = "result"
	eventError   = "error"
	eventState   = "state"
)

// serveSSE runs a streamed capability request over server-sent events.
// The stream is bound to the request context, so a client disconnect
// cancels the in-flight work.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, c engine.Capability, preferred string, req *engine.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError,
			engine.NewError(engine.CodeRuntime, "streaming unsupported by connection"))
		return
	}

	stream := s.coord.ProcessStream(r.Context(), req, c, preferred)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if req.SessionID != "" {
		w.Header().Set(engine.RequestIDHeader, req.SessionID)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for result := range stream.Results() {
		event := eventPartial
		switch {
		case result.IsError():
			event = eventError
		case result.Terminal():
			event = eventResult
		}
		if err := writeEvent(w, event, result); err != nil {
			// Client went away; the context cancellation drains the rest.
			s.log.WithError(err).Debug("SSE write failed")
			return
		}
		flusher.Flush()
	}
}

// watchState subscribes the client to engine state transitions. The
// current state is delivered immediately, then every change until the
// client disconnects.
func (s *Server) watchState(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError,
			engine.NewError(engine.CodeRuntime, "streaming unsupported by connection"))
		return
	}

	states, cancel := s.pub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if err := writeEvent(w, eventState, st); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
