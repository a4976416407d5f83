package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taipowertou/taipowertou/pkg/billing"
	"github.com/taipowertou/taipowertou/pkg/log"
	"github.com/taipowertou/taipowertou/pkg/plans"
	"github.com/taipowertou/taipowertou/pkg/types"
)

type billInputs struct {
	BasicFeeInputs         map[string]float64   `json:"basicFeeInputs,omitempty"`
	PowerFactor            *float64             `json:"powerFactor,omitempty"`
	ContractCapacityKW     *float64             `json:"contractCapacityKW,omitempty"`
	OverContractKW         *float64             `json:"overContractKW,omitempty"`
	ContractCapacities     map[string]float64   `json:"contractCapacities,omitempty"`
	Demand                 billing.DemandSeries `json:"demand,omitempty"`
	DemandAdjustmentFactor float64              `json:"demandAdjustmentFactor,omitempty"`
	MeterPhase             string               `json:"meterPhase,omitempty"`
	MeterVoltageV          int                  `json:"meterVoltageV,omitempty"`
	MeterAmpere            float64              `json:"meterAmpere,omitempty"`
}

func (in *billInputs) toInputs() *billing.Inputs {
	if in == nil {
		return nil
	}
	return &billing.Inputs{
		BasicFeeInputs:         in.BasicFeeInputs,
		PowerFactor:            in.PowerFactor,
		ContractCapacityKW:     in.ContractCapacityKW,
		OverContractKW:         in.OverContractKW,
		ContractCapacities:     in.ContractCapacities,
		Demand:                 in.Demand,
		DemandAdjustmentFactor: in.DemandAdjustmentFactor,
		MeterPhase:             in.MeterPhase,
		MeterVoltageV:          in.MeterVoltageV,
		MeterAmpere:            in.MeterAmpere,
	}
}

type billRequest struct {
	Plan   string            `json:"plan"`
	Usage  types.UsageSeries `json:"usage"`
	Inputs *billInputs       `json:"inputs,omitempty"`
}

func (s *Server) handleBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req billRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Usage) == 0 {
		writeJSONError(w, "usage is required", http.StatusBadRequest)
		return
	}

	bill, err := s.biller.CalculateBill(ctx, req.Plan, req.Usage, req.Inputs.toInputs())
	if err != nil {
		switch {
		case errors.Is(err, plans.ErrPlanNotFound):
			writeJSONError(w, "unknown plan", http.StatusNotFound)
		case errors.Is(err, billing.ErrMissingInput),
			errors.Is(err, billing.ErrInvalidBasicFee),
			errors.Is(err, types.ErrInvalidUsage):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			log.Ctx(ctx).ErrorContext(ctx, "failed to calculate bill", slog.String("plan", req.Plan), slog.Any("error", err))
			writeJSONError(w, "failed to calculate bill", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, bill)
}
