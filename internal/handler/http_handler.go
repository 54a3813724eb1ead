package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-cm-works/internal/errors"
	"github.com/pesio-ai/be-cm-works/internal/logger"
	"github.com/pesio-ai/be-cm-works/internal/period"
	"github.com/pesio-ai/be-cm-works/internal/repository"
	"github.com/pesio-ai/be-cm-works/internal/rule"
	"github.com/pesio-ai/be-cm-works/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	generation *service.GenerationService
	works      *service.WorkService
	stepRules  *repository.StepRuleRepository
	users      *repository.UserRepository
	settings   *repository.SettingsRepository
	runs       *repository.GenerationRunRepository
	log        *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	generation *service.GenerationService,
	works *service.WorkService,
	stepRules *repository.StepRuleRepository,
	users *repository.UserRepository,
	settings *repository.SettingsRepository,
	runs *repository.GenerationRunRepository,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		generation: generation,
		works:      works,
		stepRules:  stepRules,
		users:      users,
		settings:   settings,
		runs:       runs,
		log:        log,
	}
}

// generateRequest is the manual generation trigger payload.
type generateRequest struct {
	Year        int      `json:"year"`
	Month       int      `json:"month"`
	CustomerIDs []string `json:"customer_ids,omitempty"`
}

// Generate handles manual generation-run requests.
func (h *HTTPHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, err := period.New(req.Year, req.Month)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.generation.RunForPeriod(r.Context(), p, req.CustomerIDs, "manual")
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListWorks handles period-scoped work listing.
func (h *HTTPHandler) ListWorks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))

	p, err := period.New(year, month)
	if err != nil {
		h.writeError(w, err)
		return
	}

	works, err := h.works.ListWorks(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, works)
}

// GetWork handles single-work lookups.
func (h *HTTPHandler) GetWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Work ID is required", http.StatusBadRequest)
		return
	}

	work, err := h.works.GetWork(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, work)
}

// UpdateWork handles edits to a work's user-owned fields.
func (h *HTTPHandler) UpdateWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.UpdateWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "Work ID is required", http.StatusBadRequest)
		return
	}

	work, err := h.works.UpdateWork(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, work)
}

// UpdateStep handles edits to a step's user-owned fields.
func (h *HTTPHandler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.UpdateStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.StepID == "" {
		http.Error(w, "Step ID is required", http.StatusBadRequest)
		return
	}

	step, err := h.works.UpdateStep(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, step)
}

// CloseStep handles step close requests.
func (h *HTTPHandler) CloseStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CloseStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.StepID == "" {
		http.Error(w, "Step ID is required", http.StatusBadRequest)
		return
	}

	step, err := h.works.CloseStep(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, step)
}

// stepRuleRequest is the rule upsert payload.
type stepRuleRequest struct {
	CustomerID string `json:"customer_id"`
	StepNo     int    `json:"step_no"`
	RuleType   string `json:"rule_type"`
	DayOfMonth *int   `json:"day_of_month,omitempty"`
	Nth        *int   `json:"nth,omitempty"`
	Weekday    *int   `json:"weekday,omitempty"`
	LastNth    *int   `json:"last_nth,omitempty"`
}

// StepRules handles the due-date rule admin surface: list a customer's rules,
// upsert one, or delete one.
func (h *HTTPHandler) StepRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customerID := r.URL.Query().Get("customer_id")
		if customerID == "" {
			http.Error(w, "Customer ID is required", http.StatusBadRequest)
			return
		}
		rules, err := h.stepRules.ListByCustomer(r.Context(), customerID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rules)

	case http.MethodPost:
		var req stepRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.CustomerID == "" {
			http.Error(w, "Customer ID is required", http.StatusBadRequest)
			return
		}
		sr := &repository.StepRule{
			CustomerID: req.CustomerID,
			StepNo:     req.StepNo,
			RuleType:   rule.Type(req.RuleType),
			DayOfMonth: req.DayOfMonth,
			Nth:        req.Nth,
			Weekday:    req.Weekday,
			LastNth:    req.LastNth,
		}
		if err := h.stepRules.Upsert(r.Context(), sr); err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sr)

	case http.MethodDelete:
		customerID := r.URL.Query().Get("customer_id")
		stepNo, _ := strconv.Atoi(r.URL.Query().Get("step_no"))
		if customerID == "" {
			http.Error(w, "Customer ID is required", http.StatusBadRequest)
			return
		}
		if err := h.stepRules.Delete(r.Context(), customerID, stepNo); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ListUsers handles the responsible-party roster listing.
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	users, err := h.users.List(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// AutoGeneration handles the auto-generation toggle.
func (h *HTTPHandler) AutoGeneration(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		enabled, err := h.settings.AutoGenerationEnabled(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"auto_generation_enabled": enabled})

	case http.MethodPut:
		var req struct {
			Enabled bool `json:"auto_generation_enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.settings.SetAutoGenerationEnabled(r.Context(), req.Enabled); err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"auto_generation_enabled": req.Enabled})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ListGenerationRuns handles audit-log listing.
func (h *HTTPHandler) ListGenerationRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
