package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/metavault/custodian/internal/prices"
	"github.com/metavault/custodian/internal/risk"
	"github.com/metavault/custodian/internal/state"
)

// report accumulates the per-step output of a cycle. Steps append their
// sections as they complete, so a failed cycle still ships everything that
// ran before the failure.
type report struct {
	title    string
	sections []string
}

func newReport(title string) *report {
	return &report{title: title}
}

func (r *report) addf(format string, args ...any) {
	r.sections = append(r.sections, fmt.Sprintf(format, args...))
}

func (r *report) add(section string) {
	r.sections = append(r.sections, section)
}

func (r *report) failed(step string, err error) {
	r.sections = append(r.sections, fmt.Sprintf("⚠️ <b>%s failed:</b> %v", step, err))
}

func (r *report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n%s\n", r.title, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	for _, s := range r.sections {
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}

func priceSection(s prices.Snapshot, delta float64, volatile bool) string {
	var b strings.Builder
	b.WriteString("💱 <b>Prices</b>\n")
	fmt.Fprintf(&b, "LINK $%.4f | WETH $%.2f (%s)\n", s.LinkUSD, s.WethUSD, s.Source)
	fmt.Fprintf(&b, "Cross rate: %.4f LINK/WETH", s.LinkPerWeth)
	if delta != 0 {
		fmt.Fprintf(&b, " (%+.2f%% since last check)", delta*100)
	}
	if volatile {
		b.WriteString("\n🌊 Cross-rate move exceeds volatility threshold")
	}
	return b.String()
}

func leverageSection(ls state.LeverageState) string {
	var b strings.Builder
	b.WriteString("🏗 <b>Leverage</b>\n")
	fmt.Fprintf(&b, "Deposited: %s | Borrowed: %s | Net: %s\n",
		ls.Deposited.Display(), ls.BorrowedWETH.Display(), ls.NetExposure.Display())
	fmt.Fprintf(&b, "LTV: %.2f%% | Max depth: %d | Borrow factor: %d bps",
		ls.LTV*100, ls.MaxDepth, ls.BorrowFactorBps)
	if ls.Paused {
		b.WriteString("\n⏸ Strategy paused")
	}
	return b.String()
}

func riskSection(a risk.Assessment) string {
	icon := "✅"
	switch a.Category {
	case risk.Warning:
		icon = "🟡"
	case risk.Critical:
		icon = "🔴"
	}
	return fmt.Sprintf("%s <b>Liquidation risk:</b> %s (LTV %.2f%%)", icon, a.Category, a.LTV*100)
}

func vaultSection(vs state.VaultState, strategies []state.StrategyState) string {
	var b strings.Builder
	b.WriteString("🏦 <b>Vault</b>\n")
	fmt.Fprintf(&b, "TVL: %s | Shares: %s", vs.TotalAssets.Display(), vs.TotalSupply.Display())
	for _, s := range strategies {
		fmt.Fprintf(&b, "\n• %s: %s (target %d bps, actual %d bps)",
			shortAddr(s.Address.Hex()), s.Balance.Display(), s.TargetWeightBps, s.ActualWeightBps)
	}
	return b.String()
}

func apySection(o Observation) string {
	if o.Baseline {
		return fmt.Sprintf("📈 <b>Yield</b>\nBaseline recorded at TVL %.4f; APY available next cycle", o.TVL)
	}
	return fmt.Sprintf("📈 <b>Yield</b>\nAPY: %s (growth %+.4f%% over %s)",
		o.Readable(), o.Growth*100, o.Elapsed.Round(time.Second))
}

func shortAddr(hex string) string {
	if len(hex) > 10 {
		return hex[:6] + "…" + hex[len(hex)-4:]
	}
	return hex
}
