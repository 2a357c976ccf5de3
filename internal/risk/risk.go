package risk

// Category is the three-level leverage risk classification.
type Category string

const (
	Safe     Category = "SAFE"
	Warning  Category = "WARNING"
	Critical Category = "CRITICAL"
)

// Thresholds are the LTV boundaries between categories. Both boundaries are
// closed on the lower side: ltv == Warn classifies as WARNING, ltv == Critical
// as CRITICAL.
type Thresholds struct {
	Warn     float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Warn: 0.70, Critical: 0.80}
}

// Assessment is the result of classifying a leverage position.
type Assessment struct {
	LTV      float64  `json:"ltv"`
	Category Category `json:"category"`
	Safe     bool     `json:"safe"`
	Warning  bool     `json:"warning"`
	Critical bool     `json:"critical"`
}

// Classify maps deposited collateral and borrowed debt to an LTV and a risk
// category. Zero deposited means no exposure: ltv 0, SAFE. The function is
// total and monotonic in borrowed for fixed deposited.
func Classify(deposited, borrowed float64, t Thresholds) Assessment {
	var ltv float64
	if deposited > 0 && borrowed > 0 {
		ltv = borrowed / deposited
	}
	a := Assessment{LTV: ltv}
	switch {
	case ltv >= t.Critical:
		a.Category = Critical
		a.Critical = true
	case ltv >= t.Warn:
		a.Category = Warning
		a.Warning = true
	default:
		a.Category = Safe
		a.Safe = true
	}
	return a
}
