package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleListAnalyses lists cached analyses, newest first.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	st := s.orchestrator.Store()
	if st == nil {
		jsonError(w, "result cache disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 1000)
	}

	list, err := st.ListAnalyses(r.Context(), limit)
	if err != nil {
		jsonError(w, "failed to list analyses: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": list})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	st := s.orchestrator.Store()
	if st == nil {
		jsonError(w, "result cache disabled", http.StatusServiceUnavailable)
		return
	}
	hash, formType, ok := s.analysisKey(w, r)
	if !ok {
		return
	}

	a, err := st.GetAnalysis(r.Context(), hash, formType)
	if err != nil {
		jsonError(w, "failed to load analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil {
		jsonError(w, "analysis not found", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		page, err := renderHTML(a.Title, a.Entries)
		if err != nil {
			jsonError(w, "render failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	st := s.orchestrator.Store()
	if st == nil {
		jsonError(w, "result cache disabled", http.StatusServiceUnavailable)
		return
	}
	hash, formType, ok := s.analysisKey(w, r)
	if !ok {
		return
	}

	deleted, err := st.DeleteAnalysis(r.Context(), hash, formType)
	if err != nil {
		jsonError(w, "failed to delete analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		jsonError(w, "analysis not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// analysisKey resolves the hash path parameter and form_type query parameter.
// The form type is canonicalized through the form table, so "10-k" finds an
// analysis stored as "10-K".
func (s *Server) analysisKey(w http.ResponseWriter, r *http.Request) (hash, formType string, ok bool) {
	hash = chi.URLParam(r, "hash")
	raw := r.URL.Query().Get("form_type")
	if raw == "" {
		jsonError(w, "form_type query parameter is required", http.StatusBadRequest)
		return "", "", false
	}
	return hash, s.orchestrator.Dispatcher().Forms().Lookup(raw).Type, true
}
