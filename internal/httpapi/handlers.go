package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/docforge/docforge/internal/compiler"
	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/jobs"
	"github.com/docforge/docforge/internal/metadata"
)

type createJobRequest struct {
	TemplateSlugs    []string `json:"templateSlugs"`
	CustomerIDs      []string `json:"customerIds"`
	ForceRecalculate bool     `json:"forceRecalculate"`
	CreatedBy        string   `json:"createdBy"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.svc.ListJobs())
	case http.MethodPost:
		var req createJobRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		job, err := s.svc.StartMatchingJob(jobs.Scope{
			TemplateSlugs: req.TemplateSlugs,
			CustomerIDs:   req.CustomerIDs,
		}, req.ForceRecalculate, req.CreatedBy)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleClearJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clearedCount": s.svc.ClearJobs()})
}

// handleJobByID serves /api/jobs/{id} and /api/jobs/{id}/cancel.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	rest = strings.TrimSuffix(rest, "/")

	if jobID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, err := s.svc.JobStatus(jobID); err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": s.svc.CancelJob(jobID)})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if rest == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	job, err := s.svc.JobStatus(rest)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type registerTemplateRequest struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Workspace    string `json:"workspace"`
	ArtifactPath string `json:"artifactPath"`
}

func (s *Server) handleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req registerTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := metadata.KindDocument
	if req.Kind == string(metadata.KindSpreadsheet) {
		kind = metadata.KindSpreadsheet
	}
	tmpl, err := s.svc.RegisterTemplate(r.Context(), req.Slug, req.Name, kind, req.Workspace, req.ArtifactPath)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

type registerDocumentRequest struct {
	CustomerID string `json:"customerId"`
	Filename   string `json:"filename"`
	Content    string `json:"content"`
}

func (s *Server) handleRegisterDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req registerDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := s.svc.RegisterDocument(r.Context(), req.CustomerID, req.Filename, req.Content)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type compileRequest struct {
	RevisionInstructions string `json:"revisionInstructions"`
	JobID                string `json:"jobId"`
}

type generateRequest struct {
	Context map[string]any `json:"context"`
}

// handleTemplateAction serves /api/templates/{slug}/compile and
// /api/templates/{slug}/generate.
func (s *Server) handleTemplateAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	rest = strings.TrimSuffix(rest, "/")
	slug, action, ok := strings.Cut(rest, "/")
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}
	if !ok || slug == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "compile":
		var req compileRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.streamCompile(w, r, compiler.CompileRequest{
			Slug:                 slug,
			RevisionInstructions: req.RevisionInstructions,
			JobID:                req.JobID,
		})
	case "generate":
		var req generateRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		out, err := s.svc.GenerateDocument(r.Context(), slug, req.Context, nil)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// decodeBody parses an optional JSON body; an empty body leaves the target
// at its zero value.
func decodeBody(r *http.Request, target any) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeFault maps the error taxonomy onto HTTP statuses. Unknown errors stay
// a plain 500.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case faults.IsType(err, faults.ErrNotFound):
		status = http.StatusNotFound
	case faults.IsType(err, faults.ErrValidation):
		status = http.StatusBadRequest
	case faults.IsType(err, faults.ErrNoContext):
		status = http.StatusUnprocessableEntity
	case faults.IsType(err, faults.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	case faults.IsType(err, faults.ErrEmptyGeneration):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
