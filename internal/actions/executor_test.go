package actions

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/metavault/custodian/internal/chain"
	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/state"
)

type recordedWrite struct {
	target common.Address
	method string
	args   []any
}

type fakeWriter struct {
	writes []recordedWrite
	paused bool
}

func (f *fakeWriter) Write(_ context.Context, target common.Address, _ abi.ABI, method string, args ...any) (chain.Receipt, error) {
	f.writes = append(f.writes, recordedWrite{target: target, method: method, args: args})
	if method == "togglePause" {
		f.paused = !f.paused
	}
	return chain.Receipt{Hash: "0xabc", Status: chain.StatusSuccess, GasUsed: 21000}, nil
}

func (f *fakeWriter) ReadBool(context.Context, common.Address, abi.ABI, string, ...any) (bool, error) {
	return f.paused, nil
}

var (
	routerAddr = common.HexToAddress("0x0000000000000000000000000000000000000002")
	levAddr    = common.HexToAddress("0x0000000000000000000000000000000000000003")
	aaveAddr   = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

func newTestExecutor(w ChainWriter) *Executor {
	return NewExecutor(w, state.Contracts{
		Router:           routerAddr,
		StrategyLeverage: levAddr,
		StrategyAave:     aaveAddr,
	}, 10)
}

func TestUpdateWeightsAcceptsExactSum(t *testing.T) {
	fake := &fakeWriter{}
	exec := newTestExecutor(fake)
	receipt, err := exec.UpdateWeights(context.Background(), []StrategyWeight{
		{Strategy: levAddr, Bps: 8000},
		{Strategy: aaveAddr, Bps: 2000},
	})
	if err != nil {
		t.Fatalf("UpdateWeights: %v", err)
	}
	if receipt.Status != chain.StatusSuccess {
		t.Fatalf("status = %s", receipt.Status)
	}
	if len(fake.writes) != 1 || fake.writes[0].method != "setStrategies" {
		t.Fatalf("expected one setStrategies write, got %+v", fake.writes)
	}
}

func TestUpdateWeightsRejectsBadSum(t *testing.T) {
	fake := &fakeWriter{}
	exec := newTestExecutor(fake)
	_, err := exec.UpdateWeights(context.Background(), []StrategyWeight{
		{Strategy: levAddr, Bps: 8000},
		{Strategy: aaveAddr, Bps: 1999},
	})
	if err == nil {
		t.Fatal("expected rejection for sum 9999")
	}
	if cerr.CodeOf(err) != cerr.CodeValidation {
		t.Fatalf("code = %d, want validation", cerr.CodeOf(err))
	}
	if len(fake.writes) != 0 {
		t.Fatal("no transaction may be sent on rejection")
	}
}

func TestUpdateWeightsRejectsOutOfRange(t *testing.T) {
	fake := &fakeWriter{}
	exec := newTestExecutor(fake)
	_, err := exec.UpdateWeights(context.Background(), []StrategyWeight{
		{Strategy: levAddr, Bps: 10001},
		{Strategy: aaveAddr, Bps: -1},
	})
	if err == nil {
		t.Fatal("expected rejection for out-of-range weight")
	}
	if len(fake.writes) != 0 {
		t.Fatal("no transaction may be sent on rejection")
	}
}

func TestUpdateLeverageParamsBoundaries(t *testing.T) {
	cases := []struct {
		name         string
		maxDepth     int64
		borrowFactor int64
		wantErr      bool
	}{
		{"lower bounds", 1, 0, false},
		{"upper bounds", 6, 8000, false},
		{"depth too low", 0, 4000, true},
		{"depth too high", 7, 4000, true},
		{"factor negative", 3, -1, true},
		{"factor too high", 3, 8001, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeWriter{}
			exec := newTestExecutor(fake)
			_, err := exec.UpdateLeverageParams(context.Background(), tc.maxDepth, tc.borrowFactor)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if len(fake.writes) != 0 {
					t.Fatal("no transaction may be sent on rejection")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(fake.writes) != 1 || fake.writes[0].method != "setLeverageParams" {
				t.Fatalf("expected one setLeverageParams write, got %+v", fake.writes)
			}
		})
	}
}

func TestDeleverageTargetsLeverageStrategy(t *testing.T) {
	fake := &fakeWriter{}
	exec := newTestExecutor(fake)
	if _, err := exec.Deleverage(context.Background()); err != nil {
		t.Fatalf("Deleverage: %v", err)
	}
	w := fake.writes[0]
	if w.target != routerAddr || w.method != "triggerDeleverage" {
		t.Fatalf("unexpected write %+v", w)
	}
	if w.args[0] != levAddr {
		t.Fatalf("deleverage must target the leverage strategy, got %v", w.args[0])
	}
}

func TestTogglePauseReportsGroundTruth(t *testing.T) {
	fake := &fakeWriter{}
	exec := newTestExecutor(fake)
	_, paused, err := exec.TogglePause(context.Background())
	if err != nil {
		t.Fatalf("TogglePause: %v", err)
	}
	if !paused {
		t.Fatal("expected re-read pause state true after toggle")
	}
	_, paused, err = exec.TogglePause(context.Background())
	if err != nil {
		t.Fatalf("TogglePause: %v", err)
	}
	if paused {
		t.Fatal("expected re-read pause state false after second toggle")
	}
}

func TestRebalanceAndHarvestHitRouter(t *testing.T) {
	fake := &fakeWriter{}
	exec := newTestExecutor(fake)
	if _, err := exec.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if _, err := exec.Harvest(context.Background()); err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if fake.writes[0].method != "rebalance" || fake.writes[1].method != "harvestAll" {
		t.Fatalf("unexpected writes %+v", fake.writes)
	}
	for _, w := range fake.writes {
		if w.target != routerAddr {
			t.Fatalf("expected router target, got %v", w.target)
		}
	}
}
