package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/taipowertou/taipowertou/pkg/log"
	"github.com/taipowertou/taipowertou/pkg/tariff"
	"github.com/taipowertou/taipowertou/pkg/types"
)

func (s *Server) handlePricingAt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := s.planFromRequest(w, r.URL.Query().Get("plan"))
	if !ok {
		return
	}

	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		var err error
		at, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, "invalid at time: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	var usage *float64
	if raw := r.URL.Query().Get("usage"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSONError(w, "invalid usage: "+err.Error(), http.StatusBadRequest)
			return
		}
		usage = &v
	}

	plan, err := s.factory.Plan(id)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build plan", slog.String("planID", id), slog.Any("error", err))
		writeJSONError(w, "failed to build plan", http.StatusInternalServerError)
		return
	}

	pricing, err := plan.PricingAt(ctx, at, usage)
	if err != nil {
		if errors.Is(err, tariff.ErrTieredPointwise) {
			writeJSONError(w, "tiered plans cannot price a single reading", http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to price timestamp", slog.String("planID", id), slog.Any("error", err))
		writeJSONError(w, "failed to price timestamp", http.StatusInternalServerError)
		return
	}
	writeJSON(w, pricing)
}

type pricingTableRequest struct {
	Plan  string      `json:"plan"`
	Times []time.Time `json:"times"`
	Usage []float64   `json:"usage,omitempty"`
}

func (s *Server) handlePricingTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pricingTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Times) == 0 {
		writeJSONError(w, "times is required", http.StatusBadRequest)
		return
	}
	id, ok := s.planFromRequest(w, req.Plan)
	if !ok {
		return
	}

	plan, err := s.factory.Plan(id)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build plan", slog.String("planID", id), slog.Any("error", err))
		writeJSONError(w, "failed to build plan", http.StatusInternalServerError)
		return
	}

	rows, err := plan.PricingTable(ctx, req.Times, req.Usage)
	if err != nil {
		switch {
		case errors.Is(err, tariff.ErrTieredPointwise):
			writeJSONError(w, "tiered plans cannot price individual readings", http.StatusBadRequest)
		case errors.Is(err, types.ErrInvalidUsage):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			log.Ctx(ctx).ErrorContext(ctx, "failed to build pricing table", slog.String("planID", id), slog.Any("error", err))
			writeJSONError(w, "failed to build pricing table", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, rows)
}
