package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesheets/promethios-sub018/internal/confidence"
	"github.com/wesheets/promethios-sub018/internal/memory"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		report := s.store.VerifyIntegrity(r.Context())
		resp["memory_verified"] = report.Verified
		resp["counts"] = s.store.Counts()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report := s.store.VerifyIntegrity(r.Context())
	status := http.StatusOK
	if !report.Verified {
		// Monitoring polls this; a divergent root is service-degrading.
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func (s *Server) handleCounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Counts())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	q := memory.PatternQuery{
		Type:   memory.PatternType(r.URL.Query().Get("type")),
		Domain: r.URL.Query().Get("domain"),
		Limit:  queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("min_significance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "min_significance must be a number")
			return
		}
		q.MinSignificance = f
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": s.store.GetSignificantPatterns(r.Context(), q),
	})
}

func (s *Server) handleAdaptations(w http.ResponseWriter, r *http.Request) {
	q := memory.AdaptationQuery{
		Status: memory.AdaptationStatus(r.URL.Query().Get("status")),
		Domain: r.URL.Query().Get("domain"),
		Limit:  queryInt(r, "limit", 50),
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"adaptations": s.store.GetPendingAdaptations(r.Context(), q),
	})
}

func (s *Server) handleAdaptation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.store.GetAdaptation(r.Context(), id)
	if errors.Is(err, memory.ErrAdaptationNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "No adaptation with id "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleLearningState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleCycleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycles": s.store.CycleHistory(r.Context()),
	})
}

// handleRunCycle triggers one learning cycle synchronously. Concurrent
// triggers serialize behind the in-flight cycle.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	result := s.controller.RunCycle(r.Context())
	status := http.StatusOK
	if result.Status == "error" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	rt := s.engine.Runtime()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy": rt.Strategy(),
		"rules":    rt.Rules(),
	})
}

type confidenceRequest struct {
	Evidence  []confidence.EvidenceItem `json:"evidence"`
	Algorithm string                    `json:"algorithm,omitempty"`
	Threshold string                    `json:"threshold,omitempty"`
}

func (s *Server) handleCalculateConfidence(w http.ResponseWriter, r *http.Request) {
	s.scoreConfidence(w, r, s.scorer.Calculate)
}

func (s *Server) handleUpdateConfidence(w http.ResponseWriter, r *http.Request) {
	s.scoreConfidence(w, r, s.scorer.Update)
}

type scoreFunc func(ctx context.Context, decisionID string, items []confidence.EvidenceItem, algorithm string) (confidence.Result, error)

func (s *Server) scoreConfidence(w http.ResponseWriter, r *http.Request, score scoreFunc) {
	decisionID := chi.URLParam(r, "decisionID")

	var req confidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	result, err := score(r.Context(), decisionID, req.Evidence, req.Algorithm)
	switch {
	case errors.Is(err, confidence.ErrUnknownAlgorithm):
		writeError(w, http.StatusBadRequest, "unknown_algorithm", err.Error())
		return
	case errors.Is(err, confidence.ErrNoExistingScore):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	resp := map[string]interface{}{
		"confidence_score": result.Score,
		"evidence_map":     result.EvidenceMap,
	}
	if req.Threshold != "" {
		meets, err := s.scorer.MeetsThreshold(result.Score.Value, req.Threshold)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown_threshold", err.Error())
			return
		}
		resp["meets_threshold"] = meets
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfidence(w http.ResponseWriter, r *http.Request) {
	decisionID := chi.URLParam(r, "decisionID")
	score, ok := s.scorer.Score(decisionID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "No confidence score for decision "+decisionID)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleConfidenceAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		writeError(w, http.StatusNotFound, "not_found", "Analytics are not enabled")
		return
	}
	decisionID := chi.URLParam(r, "decisionID")
	filter := confidence.InvocationFilter{DecisionID: decisionID}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be RFC3339")
			return
		}
		filter.Since = ts
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invocations": s.analytics.Query(filter),
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
