package policy

import (
	"fmt"
	"math"

	"github.com/metavault/custodian/internal/risk"
)

// Kind is the single category of corrective action recommended for a cycle.
// The table in Decide is priority-ordered and first match wins, so a cycle
// never stacks multiple risk-changing actions before their effect has been
// observed on-chain.
type Kind string

const (
	KindNone           Kind = "none"
	KindDeleverage     Kind = "deleverage"
	KindReduceLeverage Kind = "reduce_leverage"
	KindRebalance      Kind = "rebalance"
	KindHarvest        Kind = "harvest"
)

// Drift describes one strategy's allocation relative to its configured target.
type Drift struct {
	Strategy  string
	ActualBps int64
	TargetBps int64
}

func (d Drift) Abs() int64 {
	diff := d.ActualBps - d.TargetBps
	if diff < 0 {
		return -diff
	}
	return diff
}

// Inputs collects the signals the policy combines. All values are observed,
// never derived here: thresholds come from configuration.
type Inputs struct {
	Risk                risk.Assessment
	CrossRateDelta      float64 // fractional change of the cross rate since last cycle
	VolatilityThreshold float64
	Drifts              []Drift
	DriftToleranceBps   int64
	Harvestable         bool
}

// Decision is the recommended action for this cycle.
type Decision struct {
	Kind     Kind   `json:"kind"`
	Strategy string `json:"strategy,omitempty"`
	Reason   string `json:"reason"`
}

// Decide maps risk category, price volatility and allocation drift to one
// recommended action. Pure and deterministic.
func Decide(in Inputs) Decision {
	volatile := math.Abs(in.CrossRateDelta) > in.VolatilityThreshold

	if in.Risk.Category == risk.Critical {
		return Decision{
			Kind:   KindDeleverage,
			Reason: fmt.Sprintf("LTV %.4f at or above critical threshold", in.Risk.LTV),
		}
	}

	if in.Risk.Category == risk.Warning && volatile {
		return Decision{
			Kind: KindReduceLeverage,
			Reason: fmt.Sprintf("LTV %.4f in warning band with cross-rate move %.2f%%",
				in.Risk.LTV, in.CrossRateDelta*100),
		}
	}

	for _, d := range in.Drifts {
		if d.Abs() > in.DriftToleranceBps {
			return Decision{
				Kind:     KindRebalance,
				Strategy: d.Strategy,
				Reason: fmt.Sprintf("allocation drift %d bps exceeds tolerance %d bps",
					d.Abs(), in.DriftToleranceBps),
			}
		}
	}

	if in.Harvestable {
		return Decision{Kind: KindHarvest, Reason: "harvestable yield present"}
	}

	return Decision{Kind: KindNone, Reason: "all signals within tolerance"}
}
