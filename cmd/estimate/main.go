// Command estimate prices a CSV usage series against a plan and prints
// the bill as JSON. The CSV has one "timestamp,kwh" row per reading with
// RFC 3339 timestamps.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/taipowertou/taipowertou/pkg/billing"
	"github.com/taipowertou/taipowertou/pkg/calendar"
	"github.com/taipowertou/taipowertou/pkg/log"
	"github.com/taipowertou/taipowertou/pkg/plans"
	"github.com/taipowertou/taipowertou/pkg/types"
)

func main() {
	cal := calendar.ConfiguredTaiwan()

	plan := lflag.RequiredString("plan", "Plan name or ID to price against")
	csvPath := lflag.String("csv", "-", "Path to the usage CSV, - for stdin")
	strict := lflag.Bool("strict", false, "Reject unknown or missing billing inputs instead of warning")
	phase := lflag.String("meter-phase", "", "Meter phase (single or three) for minimum usage rules")
	voltage := lflag.String("meter-voltage", "", "Meter voltage in volts for minimum usage rules")
	ampere := lflag.String("meter-ampere", "", "Meter amperage for minimum usage rules")
	powerFactor := lflag.String("power-factor", "", "Average power factor percentage, empty to skip")
	capacities := map[string]float64{}
	lflag.JSON(&capacities, "contract-capacities", capacities, "JSON map of contract capacity keys to kW")
	lflag.Configure()

	ctx := context.Background()

	usage, err := readUsage(*csvPath)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read usage", "error", err)
		os.Exit(1)
	}

	in := &billing.Inputs{
		MeterPhase:         *phase,
		ContractCapacities: capacities,
	}
	if in.MeterVoltageV, err = parseOptionalInt(*voltage); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid meter-voltage", "error", err)
		os.Exit(1)
	}
	if in.MeterAmpere, err = parseOptionalFloat(*ampere); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid meter-ampere", "error", err)
		os.Exit(1)
	}
	if *powerFactor != "" {
		pf, err := strconv.ParseFloat(*powerFactor, 64)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid power-factor", "error", err)
			os.Exit(1)
		}
		in.PowerFactor = &pf
	}

	biller := billing.NewBiller(plans.NewStore(), cal)
	biller.Strict = *strict
	bill, err := biller.CalculateBill(ctx, *plan, usage, in)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to calculate bill", "plan", *plan, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bill); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to write bill", "error", err)
		os.Exit(1)
	}
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseOptionalFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func readUsage(path string) (types.UsageSeries, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var usage types.UsageSeries
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// tolerate a header row
		if line == 1 {
			if _, err := time.Parse(time.RFC3339, record[0]); err != nil {
				continue
			}
		}
		ts, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp %q: %w", line, record[0], err)
		}
		kwh, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid kwh %q: %w", line, record[1], err)
		}
		usage = append(usage, types.UsagePoint{TS: ts, KWH: kwh})
	}
	if len(usage) == 0 {
		return nil, fmt.Errorf("no usage rows found")
	}
	return usage, nil
}
