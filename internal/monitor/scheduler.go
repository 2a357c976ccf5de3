package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/metavault/custodian/internal/actions"
	"github.com/metavault/custodian/internal/amount"
	"github.com/metavault/custodian/internal/chain"
	"github.com/metavault/custodian/internal/notify"
	"github.com/metavault/custodian/internal/policy"
	"github.com/metavault/custodian/internal/prices"
	"github.com/metavault/custodian/internal/risk"
	"github.com/metavault/custodian/internal/state"
)

// StateSource is the slice of state.Reader the scheduler consumes.
type StateSource interface {
	VaultState(ctx context.Context) (state.VaultState, error)
	StrategyStates(ctx context.Context) ([]state.StrategyState, error)
	LeverageState(ctx context.Context) (state.LeverageState, error)
	LeveragePosition(ctx context.Context) (deposited, borrowed amount.ChainAmount, err error)
	TVL(ctx context.Context) (amount.ChainAmount, error)
	AaveStrategyBalance(ctx context.Context) (amount.ChainAmount, error)
}

// ActionRunner is the slice of actions.Executor the scheduler consumes.
type ActionRunner interface {
	UpdateWeights(ctx context.Context, weights []actions.StrategyWeight) (chain.Receipt, error)
	Rebalance(ctx context.Context) (chain.Receipt, error)
	Harvest(ctx context.Context) (chain.Receipt, error)
	Deleverage(ctx context.Context) (chain.Receipt, error)
	TogglePause(ctx context.Context) (chain.Receipt, bool, error)
	UpdateLeverageParams(ctx context.Context, maxDepth, borrowFactorBps int64) (chain.Receipt, error)
}

type PriceSource interface {
	GetPrices(ctx context.Context) (prices.Snapshot, error)
}

type Config struct {
	ComprehensiveCron   string
	YieldCron           string
	Thresholds          risk.Thresholds
	VolatilityThreshold float64
	DriftToleranceBps   int64
	CycleTimeout        time.Duration

	// HarvestSignal, when set, tells the comprehensive cycle whether
	// harvestable yield is pending. The yield cycle harvests on its own
	// schedule regardless.
	HarvestSignal func(ctx context.Context) bool
}

func (c *Config) applyDefaults() {
	if c.ComprehensiveCron == "" {
		c.ComprehensiveCron = "0 0 * * * *"
	}
	if c.YieldCron == "" {
		c.YieldCron = "0 */5 * * * *"
	}
	if c.Thresholds == (risk.Thresholds{}) {
		c.Thresholds = risk.DefaultThresholds()
	}
	if c.VolatilityThreshold == 0 {
		c.VolatilityThreshold = 0.10
	}
	if c.DriftToleranceBps == 0 {
		c.DriftToleranceBps = 500
	}
	if c.CycleTimeout == 0 {
		c.CycleTimeout = 5 * time.Minute
	}
}

// Scheduler drives the two monitoring cycles. The comprehensive cycle reads
// the full portfolio, classifies risk and executes at most one corrective
// action; the yield cycle samples TVL for the APY tracker and harvests.
// Cycles are not reentrant: a tick that fires while the previous run of the
// same cycle is still in flight is skipped.
type Scheduler struct {
	cfg    Config
	reader StateSource
	exec   ActionRunner
	prices PriceSource
	sink   notify.Sink
	apy    *APYTracker
	cron   *cron.Cron

	// The immediate startup run and the scheduled ticks share one wrapped
	// job per cycle, so the skip-if-still-running guard covers both.
	comprehensiveJob cron.Job
	yieldJob         cron.Job

	rateMu      sync.Mutex
	lastRate    float64
	hasLastRate bool
}

func NewScheduler(cfg Config, reader StateSource, exec ActionRunner, priceSource PriceSource, sink notify.Sink) *Scheduler {
	cfg.applyDefaults()
	if sink == nil {
		sink = notify.LogSink{}
	}
	s := &Scheduler{
		cfg:    cfg,
		reader: reader,
		exec:   exec,
		prices: priceSource,
		sink:   sink,
		apy:    NewAPYTracker(),
		cron:   cron.New(cron.WithSeconds()),
	}
	wrap := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger))
	s.comprehensiveJob = wrap.Then(cron.FuncJob(s.comprehensiveTick))
	s.yieldJob = wrap.Then(cron.FuncJob(s.yieldTick))
	return s
}

// Start registers both cycles, runs each once immediately, and starts the
// timers.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddJob(s.cfg.ComprehensiveCron, s.comprehensiveJob); err != nil {
		return fmt.Errorf("comprehensive schedule %q: %w", s.cfg.ComprehensiveCron, err)
	}
	if _, err := s.cron.AddJob(s.cfg.YieldCron, s.yieldJob); err != nil {
		return fmt.Errorf("yield schedule %q: %w", s.cfg.YieldCron, err)
	}

	log.Printf("[INFO] monitor: comprehensive %q, yield %q", s.cfg.ComprehensiveCron, s.cfg.YieldCron)
	go s.comprehensiveJob.Run()
	go s.yieldJob.Run()
	s.cron.Start()
	return nil
}

// LatestAPY exposes the tracker's most recent annualized yield.
func (s *Scheduler) LatestAPY() (float64, bool) { return s.apy.Latest() }

// Stop halts the timers. In-flight cycles run to completion.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[INFO] monitor: stopped")
}

func (s *Scheduler) comprehensiveTick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CycleTimeout)
	defer cancel()
	s.deliver(s.RunComprehensive(ctx))
}

func (s *Scheduler) yieldTick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CycleTimeout)
	defer cancel()
	s.deliver(s.RunYield(ctx))
}

// RunComprehensive executes one comprehensive cycle and returns the report.
// A failing step contributes a failure line and the cycle degrades around it;
// a panic anywhere in the cycle is converted into an error report.
func (s *Scheduler) RunComprehensive(ctx context.Context) (text string) {
	r := newReport("📊 Portfolio Check")
	defer func() {
		if rec := recover(); rec != nil {
			r.failed("cycle", fmt.Errorf("panic: %v", rec))
		}
		text = r.String()
	}()

	var (
		volatile  bool
		rateDelta float64
	)
	snap, err := s.prices.GetPrices(ctx)
	if err != nil {
		r.failed("price check", err)
	} else {
		rateDelta, volatile = s.observeRate(snap.LinkPerWeth)
		r.add(priceSection(snap, rateDelta, volatile))
	}

	var lev state.LeverageState
	levOK := false
	lev, err = s.reader.LeverageState(ctx)
	if err != nil {
		r.failed("leverage state", err)
	} else {
		levOK = true
		r.add(leverageSection(lev))
	}

	assessment := risk.Assessment{Category: risk.Safe, Safe: true}
	deposited, borrowed, err := s.reader.LeveragePosition(ctx)
	if err != nil {
		r.failed("liquidation risk", err)
	} else {
		assessment = risk.Classify(deposited.Float64(), borrowed.Float64(), s.cfg.Thresholds)
		r.add(riskSection(assessment))
	}

	var (
		drifts  []policy.Drift
		targets []actions.StrategyWeight
	)
	vs, verr := s.reader.VaultState(ctx)
	strategies, serr := s.reader.StrategyStates(ctx)
	if verr != nil {
		r.failed("vault state", verr)
	} else if serr != nil {
		r.failed("strategy allocations", serr)
	} else {
		r.add(vaultSection(vs, strategies))
		for _, st := range strategies {
			drifts = append(drifts, policy.Drift{
				Strategy:  st.Address.Hex(),
				ActualBps: st.ActualWeightBps,
				TargetBps: st.TargetWeightBps,
			})
			targets = append(targets, actions.StrategyWeight{
				Strategy: st.Address,
				Bps:      st.TargetWeightBps,
			})
		}
	}

	harvestable := false
	if s.cfg.HarvestSignal != nil {
		harvestable = s.cfg.HarvestSignal(ctx)
	}
	decision := policy.Decide(policy.Inputs{
		Risk:                assessment,
		CrossRateDelta:      rateDelta,
		VolatilityThreshold: s.cfg.VolatilityThreshold,
		Drifts:              drifts,
		DriftToleranceBps:   s.cfg.DriftToleranceBps,
		Harvestable:         harvestable,
	})
	r.addf("🧭 <b>Decision:</b> %s\n%s", decision.Kind, decision.Reason)

	if decision.Kind != policy.KindNone {
		if s.exec == nil {
			r.add("👀 Observe-only mode, no action taken")
		} else if !levOK && decision.Kind == policy.KindReduceLeverage {
			r.failed("action", fmt.Errorf("leverage state unavailable, skipping %s", decision.Kind))
		} else if outcome, err := s.execute(ctx, decision, lev, targets); err != nil {
			r.failed("action", err)
		} else {
			r.add(outcome)
		}
	}
	return r.String()
}

// RunYield executes one yield cycle: sample TVL into the APY tracker, then
// harvest accrued yield.
func (s *Scheduler) RunYield(ctx context.Context) (text string) {
	r := newReport("🌾 Yield Check")
	defer func() {
		if rec := recover(); rec != nil {
			r.failed("cycle", fmt.Errorf("panic: %v", rec))
		}
		text = r.String()
	}()

	tvl, err := s.reader.TVL(ctx)
	if err != nil {
		r.failed("tvl read", err)
		return r.String()
	}
	r.add(apySection(s.apy.Observe(tvl.Float64())))

	if aave, err := s.reader.AaveStrategyBalance(ctx); err != nil {
		r.failed("aave supply read", err)
	} else {
		r.addf("🏦 Aave supply: %s LINK", aave.Display())
	}

	if s.exec != nil {
		receipt, err := s.exec.Harvest(ctx)
		if err != nil {
			r.failed("harvest", err)
		} else {
			r.addf("✂️ Harvested (tx %s, gas %d)", receipt.Hash, receipt.GasUsed)
		}
	}
	return r.String()
}

// observeRate returns the fractional cross-rate change since the previous
// cycle and whether it exceeds the volatility threshold. The first
// observation has no baseline and is never volatile.
func (s *Scheduler) observeRate(rate float64) (delta float64, volatile bool) {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	if s.hasLastRate && s.lastRate != 0 {
		delta = (rate - s.lastRate) / s.lastRate
		volatile = delta > s.cfg.VolatilityThreshold || delta < -s.cfg.VolatilityThreshold
	}
	s.lastRate = rate
	s.hasLastRate = true
	return delta, volatile
}

func (s *Scheduler) execute(ctx context.Context, d policy.Decision, lev state.LeverageState, targets []actions.StrategyWeight) (string, error) {
	switch d.Kind {
	case policy.KindDeleverage:
		receipt, err := s.exec.Deleverage(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🛟 Deleveraged (tx %s)", receipt.Hash), nil

	case policy.KindReduceLeverage:
		if !lev.Paused {
			receipt, paused, err := s.exec.TogglePause(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("⏸ Leverage paused=%t (tx %s)", paused, receipt.Hash), nil
		}
		depth := lev.MaxDepth - 1
		if depth < 1 {
			depth = 1
		}
		factor := lev.BorrowFactorBps - 1000
		if factor < 0 {
			factor = 0
		}
		receipt, err := s.exec.UpdateLeverageParams(ctx, depth, factor)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🪜 Leverage reduced to depth %d, factor %d bps (tx %s)",
			depth, factor, receipt.Hash), nil

	case policy.KindRebalance:
		// The router only reallocates against its configured targets, so the
		// targets are re-asserted and confirmed before the rebalance call.
		if _, err := s.exec.UpdateWeights(ctx, targets); err != nil {
			return "", err
		}
		receipt, err := s.exec.Rebalance(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("⚖️ Rebalanced (tx %s)", receipt.Hash), nil

	case policy.KindHarvest:
		receipt, err := s.exec.Harvest(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✂️ Harvested (tx %s)", receipt.Hash), nil
	}
	return "", fmt.Errorf("unknown action %q", d.Kind)
}

type retrySink interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// deliver ships a report, with retries when the sink supports them. Delivery
// failure is logged and swallowed: the next cycle fires on schedule
// regardless.
func (s *Scheduler) deliver(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var err error
	if rs, ok := s.sink.(retrySink); ok {
		err = rs.SendWithRetry(ctx, text, 3)
	} else {
		err = s.sink.Send(ctx, text)
	}
	if err != nil {
		log.Printf("[WARN] monitor: report delivery failed: %v", err)
	}
}
