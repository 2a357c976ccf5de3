package monitor

import (
	"fmt"
	"sync"
	"time"
)

const secondsPerYear = 365 * 24 * 3600

// APYTracker is the one piece of state carried across cycle invocations. It
// annualizes the most recent inter-cycle TVL change; it is not a long-run
// average.
type APYTracker struct {
	mu          sync.Mutex
	initialized bool
	lastTVL     float64
	lastTime    time.Time
	lastAPY     float64
	haveAPY     bool
	now         func() time.Time
}

// Observation is the result of one APY sample.
type Observation struct {
	APY      float64
	Growth   float64
	TVL      float64
	Elapsed  time.Duration
	Baseline bool
}

func (o Observation) Readable() string {
	return fmt.Sprintf("%.2f%%", o.APY*100)
}

func NewAPYTracker() *APYTracker {
	return &APYTracker{now: time.Now}
}

// Observe records tvl. The first observation stores the baseline and reports
// zero APY; every later observation extrapolates the growth since the
// previous one to a year and overwrites the baseline.
func (t *APYTracker) Observe(tvl float64) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.initialized || t.lastTVL == 0 {
		t.initialized = true
		t.lastTVL = tvl
		t.lastTime = now
		return Observation{TVL: tvl, Baseline: true}
	}

	elapsed := now.Sub(t.lastTime)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	growth := (tvl - t.lastTVL) / t.lastTVL
	apy := growth / elapsed.Seconds() * secondsPerYear

	t.lastTVL = tvl
	t.lastTime = now
	t.lastAPY = apy
	t.haveAPY = true

	return Observation{APY: apy, Growth: growth, TVL: tvl, Elapsed: elapsed}
}

// Latest returns the most recent annualized yield. ready is false until two
// samples exist.
func (t *APYTracker) Latest() (apy float64, ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAPY, t.haveAPY
}
