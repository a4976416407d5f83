package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/taipowertou/taipowertou/pkg/log"
	"github.com/taipowertou/taipowertou/pkg/plans"
)

type planSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Structure string `json:"structure"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := s.store.IDs()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load plans", slog.Any("error", err))
		writeJSONError(w, "failed to load plans", http.StatusInternalServerError)
		return
	}

	summaries := make([]planSummary, 0, len(ids))
	for _, id := range ids {
		data, err := s.store.Plan(id)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to load plan", slog.String("planID", id), slog.Any("error", err))
			writeJSONError(w, "failed to load plans", http.StatusInternalServerError)
			return
		}
		structure := "tou"
		if len(data.Tiers) > 0 {
			structure = "tiered"
		}
		summaries = append(summaries, planSummary{
			ID:        data.ID,
			Name:      data.Name,
			Category:  data.Category,
			Structure: structure,
		})
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, summaries)
}

func (s *Server) handleDescribePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := s.store.ResolvePlanID(r.PathValue("plan"))
	if err != nil {
		writeJSONError(w, "unknown plan", http.StatusNotFound)
		return
	}

	plan, err := s.factory.Plan(id)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build plan", slog.String("planID", id), slog.Any("error", err))
		writeJSONError(w, "failed to build plan", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, plan.Describe())
}

// planFromRequest resolves and builds the plan named in a request body.
func (s *Server) planFromRequest(w http.ResponseWriter, name string) (string, bool) {
	id, err := s.store.ResolvePlanID(name)
	if err != nil {
		if errors.Is(err, plans.ErrPlanNotFound) {
			writeJSONError(w, "unknown plan", http.StatusNotFound)
		} else {
			writeJSONError(w, "failed to resolve plan", http.StatusInternalServerError)
		}
		return "", false
	}
	return id, true
}
