package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docforge/docforge/internal/compiler"
	"github.com/docforge/docforge/internal/progress"
)

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// handleJobStream pushes the full job list as a server-sent event stream,
// one snapshot per interval. Reconnecting clients simply receive the current
// snapshot; there is no event replay.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sseHeaders(w)

	send := func() bool {
		payload, err := json.Marshal(s.svc.ListJobs())
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// streamCompile runs the compile pipeline and relays its progress events as
// server-sent events. The stream always ends with a done or error event.
func (s *Server) streamCompile(w http.ResponseWriter, r *http.Request, req compiler.CompileRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sseHeaders(w)

	emitter := progress.NewEmitter()
	go func() {
		defer emitter.Close()
		result, err := s.svc.CompileTemplate(r.Context(), req, emitter)
		if err != nil {
			emitter.Emit(progress.Fail(err))
			return
		}
		emitter.Emit(progress.Done(result.ArtifactRef, result.UsedContext, result.JobID))
	}()

	for ev := range emitter.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client is gone; the compile keeps the request context and
			// winds down through its cancellation.
			return
		}
		flusher.Flush()
	}
}
