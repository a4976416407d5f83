package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taipowertou/taipowertou/pkg/log"
	"github.com/taipowertou/taipowertou/pkg/tariff"
	"github.com/taipowertou/taipowertou/pkg/types"
)

type costsRequest struct {
	Plan  string            `json:"plan"`
	Cycle string            `json:"cycle,omitempty"`
	Usage types.UsageSeries `json:"usage"`
}

// buildPlanForCosts resolves the plan and applies an optional cycle
// override from the request.
func (s *Server) buildPlanForCosts(w http.ResponseWriter, req *costsRequest) (*tariff.Plan, bool) {
	id, ok := s.planFromRequest(w, req.Plan)
	if !ok {
		return nil, false
	}
	cycle := types.BillingCycleType("")
	if req.Cycle != "" {
		var err error
		cycle, err = types.ParseBillingCycleType(req.Cycle)
		if err != nil {
			writeJSONError(w, "invalid cycle: "+err.Error(), http.StatusBadRequest)
			return nil, false
		}
	}
	plan, err := s.factory.PlanWithCycle(id, cycle)
	if err != nil {
		writeJSONError(w, "failed to build plan", http.StatusInternalServerError)
		return nil, false
	}
	return plan, true
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req costsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Usage) == 0 {
		writeJSONError(w, "usage is required", http.StatusBadRequest)
		return
	}
	plan, ok := s.buildPlanForCosts(w, &req)
	if !ok {
		return
	}

	costs, err := plan.CalculateCosts(ctx, req.Usage)
	if err != nil {
		if errors.Is(err, types.ErrInvalidUsage) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to calculate costs", slog.String("planID", plan.Name()), slog.Any("error", err))
		writeJSONError(w, "failed to calculate costs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, costs)
}

type breakdownRequest struct {
	costsRequest
	IncludeShares bool `json:"includeShares,omitempty"`
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req breakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Usage) == 0 {
		writeJSONError(w, "usage is required", http.StatusBadRequest)
		return
	}
	plan, ok := s.buildPlanForCosts(w, &req.costsRequest)
	if !ok {
		return
	}

	rows, err := plan.MonthlyBreakdown(ctx, req.Usage, req.IncludeShares)
	if err != nil {
		if errors.Is(err, types.ErrInvalidUsage) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to build breakdown", slog.String("planID", plan.Name()), slog.Any("error", err))
		writeJSONError(w, "failed to build breakdown", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}
