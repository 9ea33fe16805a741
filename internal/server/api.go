package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
	"github.com/MrWong99/speakwell/internal/observe"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type analyzeRequest struct {
	Transcript       string   `json:"transcript"`
	Confidence       *float64 `json:"confidence"`
	TargetLevel      string   `json:"targetLevel"`
	ExpectedSentence string   `json:"expectedSentence"`
}

type analyzeResponse struct {
	Success bool `json:"success"`
	*analysis.Analysis
}

type correctRequest struct {
	Sentence string `json:"sentence"`
	Level    string `json:"level"`
}

type correctResponse struct {
	Success bool `json:"success"`
	*analysis.Correction
}

type exercisesRequest struct {
	Level      string   `json:"level"`
	FocusAreas []string `json:"focusAreas"`
	Count      int      `json:"count"`
}

type exercisesResponse struct {
	Success   bool                `json:"success"`
	Exercises []feedback.Exercise `json:"exercises"`
	Count     int                 `json:"count"`
	Level     feedback.Level      `json:"level"`
}

type rulesResponse struct {
	Success bool               `json:"success"`
	Rules   []grammar.RuleInfo `json:"rules"`
	Count   int                `json:"count"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	confidence := 0.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 100 {
		writeError(w, http.StatusBadRequest, "confidence must be between 0 and 100")
		return
	}

	res, err := s.analyzer.Analyze(r.Context(), analysis.Request{
		Transcript: req.Transcript,
		Confidence: confidence,
		Level:      req.TargetLevel,
		Expected:   req.ExpectedSentence,
	})
	if err != nil {
		s.fail(w, r, "analyze", err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Analysis: res})
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.analyzer.Correct(r.Context(), req.Sentence, req.Level)
	if err != nil {
		s.fail(w, r, "correct", err)
		return
	}
	writeJSON(w, http.StatusOK, correctResponse{Success: true, Correction: res})
}

func (s *Server) handleExercises(w http.ResponseWriter, r *http.Request) {
	var req exercisesRequest
	if !decode(w, r, &req) {
		return
	}
	list, err := s.analyzer.GenerateExercises(r.Context(), req.Level, req.FocusAreas, req.Count)
	if err != nil {
		s.fail(w, r, "exercises", err)
		return
	}
	level, _ := feedback.ParseLevel(req.Level)
	writeJSON(w, http.StatusOK, exercisesResponse{
		Success:   true,
		Exercises: list,
		Count:     len(list),
		Level:     level,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.analyzer.Rules().Catalogue()
	writeJSON(w, http.StatusOK, rulesResponse{Success: true, Rules: rules, Count: len(rules)})
}

// fail maps validation sentinels to 400 and everything else to 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, analysis.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "sentence is required")
	case errors.Is(err, analysis.ErrTranscriptTooLong), errors.Is(err, analysis.ErrInvalidLevel):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "analysis: "))
	default:
		observe.Logger(r.Context()).Error("server: request failed", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed", op))
	}
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false}`, http.StatusInternalServerError)
	}
}
