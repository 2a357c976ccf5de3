package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/metavault/custodian/internal/chain"
	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/registry"
	"github.com/metavault/custodian/internal/state"
)

// ChainWriter is the write surface of the chain client, plus the single
// read TogglePause needs to report ground truth after confirmation.
type ChainWriter interface {
	Write(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) (chain.Receipt, error)
	ReadBool(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) (bool, error)
}

// StrategyWeight is one strategy's target allocation in basis points.
type StrategyWeight struct {
	Strategy common.Address
	Bps      int64
}

// Executor issues the guarded corrective transactions. Parameter validation
// happens before anything touches the chain; a validation failure means no
// transaction was sent.
type Executor struct {
	chain           ChainWriter
	contracts       state.Contracts
	deleverageDepth int64
}

func NewExecutor(chainWriter ChainWriter, contracts state.Contracts, deleverageDepth int64) *Executor {
	if deleverageDepth <= 0 {
		deleverageDepth = 10
	}
	return &Executor{chain: chainWriter, contracts: contracts, deleverageDepth: deleverageDepth}
}

// Rebalance invokes the router's reallocation entry point. Target weights must
// already be consistent from configuration or a prior UpdateWeights.
func (e *Executor) Rebalance(ctx context.Context) (chain.Receipt, error) {
	return e.chain.Write(ctx, e.contracts.Router, registry.Router, "rebalance")
}

// Harvest triggers harvestAll on the router.
func (e *Executor) Harvest(ctx context.Context) (chain.Receipt, error) {
	return e.chain.Write(ctx, e.contracts.Router, registry.Router, "harvestAll")
}

// Deleverage triggers a bounded unwind of the leverage strategy. The iteration
// bound caps worst-case gas and partial unwind depth.
func (e *Executor) Deleverage(ctx context.Context) (chain.Receipt, error) {
	return e.chain.Write(ctx, e.contracts.Router, registry.Router, "triggerDeleverage",
		e.contracts.StrategyLeverage, big.NewInt(e.deleverageDepth))
}

// UpdateWeights sets new target allocations. Rejected before submission unless
// every weight is in [0,10000] and the sum is exactly 10000.
func (e *Executor) UpdateWeights(ctx context.Context, weights []StrategyWeight) (chain.Receipt, error) {
	if len(weights) == 0 {
		return chain.Receipt{}, cerr.New(cerr.CodeValidation, "at least one strategy weight is required")
	}
	var sum int64
	for _, w := range weights {
		if w.Bps < 0 || w.Bps > 10000 {
			return chain.Receipt{}, cerr.New(cerr.CodeValidation,
				fmt.Sprintf("weight %d bps for %s out of range [0,10000]", w.Bps, w.Strategy.Hex()))
		}
		sum += w.Bps
	}
	if sum != 10000 {
		return chain.Receipt{}, cerr.New(cerr.CodeValidation,
			fmt.Sprintf("target weights must sum to 10000 bps, got %d", sum))
	}
	addrs := make([]common.Address, len(weights))
	bps := make([]*big.Int, len(weights))
	for i, w := range weights {
		addrs[i] = w.Strategy
		bps[i] = big.NewInt(w.Bps)
	}
	return e.chain.Write(ctx, e.contracts.Router, registry.Router, "setStrategies", addrs, bps)
}

// TogglePause flips the leverage strategy's pause switch, then re-reads the
// pause flag so the report reflects confirmed on-chain state rather than the
// call having succeeded.
func (e *Executor) TogglePause(ctx context.Context) (chain.Receipt, bool, error) {
	receipt, err := e.chain.Write(ctx, e.contracts.StrategyLeverage, registry.StrategyLeverage, "togglePause")
	if err != nil {
		return receipt, false, err
	}
	paused, err := e.chain.ReadBool(ctx, e.contracts.StrategyLeverage, registry.StrategyLeverage, "paused")
	if err != nil {
		return receipt, false, cerr.Wrap(cerr.CodeUnavailable, "re-read pause state", err)
	}
	return receipt, paused, nil
}

// UpdateLeverageParams retunes maxDepth and borrowFactor. Rejected before
// submission when maxDepth is outside [1,6] or borrowFactor outside [0,8000].
func (e *Executor) UpdateLeverageParams(ctx context.Context, maxDepth, borrowFactorBps int64) (chain.Receipt, error) {
	if maxDepth < 1 || maxDepth > 6 {
		return chain.Receipt{}, cerr.New(cerr.CodeValidation,
			fmt.Sprintf("maxDepth must be in [1,6], got %d", maxDepth))
	}
	if borrowFactorBps < 0 || borrowFactorBps > 8000 {
		return chain.Receipt{}, cerr.New(cerr.CodeValidation,
			fmt.Sprintf("borrowFactor must be in [0,8000] bps, got %d", borrowFactorBps))
	}
	return e.chain.Write(ctx, e.contracts.StrategyLeverage, registry.StrategyLeverage, "setLeverageParams",
		big.NewInt(maxDepth), big.NewInt(borrowFactorBps))
}
