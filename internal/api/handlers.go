// Package api exposes the governance engine over HTTP: the enforcement
// middleware for governed traffic and the admin surface for rules,
// counters, flags, attacks and health.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"reqguard/internal/governor"
	"reqguard/internal/models"
	"reqguard/internal/store"
	"reqguard/internal/version"
)

// Handlers contains HTTP handlers for the reqguard admin API
type Handlers struct {
	engine   *governor.Engine
	counters store.CounterStore
}

// NewHandlers creates a new handlers instance
func NewHandlers(engine *governor.Engine, counters store.CounterStore) *Handlers {
	return &Handlers{
		engine:   engine,
		counters: counters,
	}
}

// ListRules handles rule listing requests
// GET /api/v1/rules
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Statistics(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}

	response := models.ListRulesResponse{
		Rules:      stats.Rules,
		TotalCount: len(stats.Rules),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// CreateRule handles rule installation requests
// POST /api/v1/rules
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	rule, details := req.ToRule()
	if details != nil {
		errorResp := models.NewErrorResponse("Invalid rule", models.ErrorCodeValidation)
		errorResp.Details = details
		h.writeJSONResponse(w, http.StatusBadRequest, errorResp)
		return
	}

	if err := h.engine.AddRule(rule); err != nil {
		h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, err.Error())
		return
	}

	response := models.CreateRuleResponse{
		ID:        rule.ID,
		Message:   fmt.Sprintf("Rule %s installed", rule.ID),
		CreatedAt: time.Now(),
	}
	h.writeJSONResponse(w, http.StatusCreated, response)
}

// DeleteRule handles rule removal requests
// DELETE /api/v1/rules/{rule_id}
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ruleID := vars["rule_id"]

	if !h.engine.RemoveRule(ruleID) {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound,
			fmt.Sprintf("Rule %s not found", ruleID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResetCounter handles counter reset requests
// DELETE /api/v1/counters/{key}
func (h *Handlers) ResetCounter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	if err := h.engine.ResetKey(r.Context(), key); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearFlag handles flagged-source clearing requests
// DELETE /api/v1/flags/{source}
func (h *Handlers) ClearFlag(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	source := vars["source"]

	if !h.engine.IsFlagged(source) {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound,
			fmt.Sprintf("Source %s is not flagged", source))
		return
	}

	h.engine.ClearFlag(source)
	w.WriteHeader(http.StatusNoContent)
}

// GetStats handles statistics requests
// GET /api/v1/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Statistics(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}

	h.writeJSONResponse(w, http.StatusOK, stats)
}

// ListAttacks handles attack record listing requests
// GET /api/v1/attacks
func (h *Handlers) ListAttacks(w http.ResponseWriter, r *http.Request) {
	attacks := h.engine.Attacks()

	if r.URL.Query().Get("active") == "true" {
		filtered := attacks[:0]
		for _, a := range attacks {
			if a.Active {
				filtered = append(filtered, a)
			}
		}
		attacks = filtered
	}

	response := models.ListAttacksResponse{
		Attacks:    attacks,
		TotalCount: len(attacks),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	if err := h.counters.Ping(r.Context()); err != nil {
		response.Status = models.StatusUnhealthy
		response.AddComponent("store", models.StatusUnhealthy, err.Error())
		h.writeJSONResponse(w, http.StatusServiceUnavailable, response)
		return
	}

	response.AddComponent("store", models.StatusHealthy, "Counter store is operational")
	response.AddComponent("api", models.StatusHealthy, "API is operational")
	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more to send.
		fmt.Printf("Error encoding JSON response: %v\n", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	h.writeJSONResponse(w, statusCode, errorResp)
}
