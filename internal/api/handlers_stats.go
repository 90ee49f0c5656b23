package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model": s.llm.Model(),
		"stats": s.llm.Snapshot(),
	})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Dispatcher().Limiter().Snapshot())
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	table := s.orchestrator.Dispatcher().Forms()
	out := make([]map[string]any, 0, len(table.Forms))
	for _, f := range table.Forms {
		groups := make([]map[string]any, 0, len(f.Groups))
		for _, g := range f.Groups {
			groups = append(groups, map[string]any{"name": g.Name, "labels": g.Labels})
		}
		out = append(out, map[string]any{
			"type":   f.Type,
			"labels": f.Labels,
			"groups": groups,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": out})
}
