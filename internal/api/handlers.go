package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pspec/domain/core"
	"pspec/domain/params"
	"pspec/domain/spectrum"
	"pspec/internal/report"
)

// evaluateRequest carries either a name->value mapping or an ordered value
// sequence (requires a configured params_list), mirroring the two accepted
// parameter representations.
type evaluateRequest struct {
	Params map[string]float64 `json:"params,omitempty"`
	Values []float64          `json:"values,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if (req.Params == nil) == (req.Values == nil) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "exactly one of 'params' or 'values' must be given"})
		return
	}

	var input params.Input
	if req.Params != nil {
		input = params.ByName(req.Params)
	} else {
		input = params.ByPosition(req.Values)
	}

	eval, err := s.service.Evaluate(r.Context(), input)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, core.ErrInvalidParameterFormat),
			errors.Is(err, core.ErrShapeMismatch),
			errors.Is(err, core.ErrInvalidMethod):
			status = http.StatusBadRequest
		case errors.Is(err, core.ErrUnresolvedRedshift):
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	evals, err := s.service.RecentEvaluations(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evals)
}

func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseEvaluationID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	eval, err := s.service.Evaluation(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (s *Server) handleEvaluationReport(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseEvaluationID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	eval, err := s.service.Evaluation(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	profiles := s.profiles()
	md := report.BuildMarkdown(eval, profiles)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(report.RenderHTML(md))
}

// measurementSummary is the wire representation of a measurement; the
// covariance and window matrices stay server-side.
type measurementSummary struct {
	Window      string    `json:"window"`
	KBinCenters []float64 `json:"kbin_centers"`
	KBinWidths  []float64 `json:"kbin_widths"`
	MeanPower   []float64 `json:"mean_power"`
	Redshift    *float64  `json:"redshift,omitempty"`
	LittleH     bool      `json:"little_h"`
	History     string    `json:"history"`
}

func (s *Server) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	measurements, err := s.service.Measurements()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	out := make([]measurementSummary, 0, len(measurements))
	for _, m := range measurements {
		summary := measurementSummary{
			Window:      m.Window.String(),
			KBinCenters: m.KBinCenters,
			KBinWidths:  m.KBinWidths,
			MeanPower:   m.MeanPower,
			LittleH:     m.LittleH,
			History:     m.History,
		}
		if m.HasRedshift {
			z := m.Redshift
			summary.Redshift = &z
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMeasurementProfile(w http.ResponseWriter, r *http.Request) {
	window, err := core.ParseWindowID(chi.URLParam(r, "window"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	profile, err := s.service.Profile(window)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrWindowNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) profiles() []spectrum.QualityProfile {
	var out []spectrum.QualityProfile
	for _, id := range s.service.Container().Windows() {
		p, err := s.service.Profile(id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are already gone; nothing more to do
		_ = err
	}
}
