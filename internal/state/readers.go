package state

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/metavault/custodian/internal/amount"
	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/registry"
)

// Caller is the read surface of the chain client.
type Caller interface {
	Read(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error)
	ReadBigInt(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) (*big.Int, error)
	ReadBool(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) (bool, error)
}

// Contracts holds the deployed addresses the readers target.
type Contracts struct {
	Vault            common.Address
	Router           common.Address
	StrategyLeverage common.Address
	StrategyAave     common.Address
	AssetToken       common.Address
}

// VaultState is the vault's global accounting. Managed assets include capital
// deployed to strategies, so TotalManagedAssets >= TotalAssets.
type VaultState struct {
	TotalAssets        amount.ChainAmount `json:"total_assets"`
	TotalSupply        amount.ChainAmount `json:"total_supply"`
	TotalManagedAssets amount.ChainAmount `json:"total_managed_assets"`
}

// StrategyState is one strategy's balance and router allocation.
type StrategyState struct {
	Address         common.Address     `json:"address"`
	Balance         amount.ChainAmount `json:"balance"`
	TargetWeightBps int64              `json:"target_weight_bps"`
	ActualWeightBps int64              `json:"actual_weight_bps"`
}

// LeverageState is the leverage strategy's position and parameters.
type LeverageState struct {
	Deposited       amount.ChainAmount `json:"deposited"`
	BorrowedWETH    amount.ChainAmount `json:"borrowed_weth"`
	NetExposure     amount.ChainAmount `json:"net_exposure"`
	LTV             float64            `json:"ltv"`
	Paused          bool               `json:"paused"`
	MaxDepth        int64              `json:"max_depth"`
	BorrowFactorBps int64              `json:"borrow_factor_bps"`
}

// UserBalances is one wallet's vault position.
type UserBalances struct {
	Shares       amount.ChainAmount `json:"shares"`
	Withdrawable amount.ChainAmount `json:"withdrawable"`
}

// Reader normalizes raw on-chain values into ChainAmount pairs. Each composite
// read issues its independent calls concurrently and fails as a whole if any
// single call fails: partial state is never returned.
type Reader struct {
	chain     Caller
	contracts Contracts
}

func NewReader(chain Caller, contracts Contracts) *Reader {
	return &Reader{chain: chain, contracts: contracts}
}

func (r *Reader) Contracts() Contracts { return r.contracts }

func (r *Reader) VaultState(ctx context.Context) (VaultState, error) {
	var out VaultState
	err := join(
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "totalAssets")
			if err != nil {
				return err
			}
			out.TotalAssets = amount.FromBigInt(v)
			return nil
		},
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "totalSupply")
			if err != nil {
				return err
			}
			out.TotalSupply = amount.FromBigInt(v)
			return nil
		},
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "totalManagedAssets")
			if err != nil {
				return err
			}
			out.TotalManagedAssets = amount.FromBigInt(v)
			return nil
		},
	)
	if err != nil {
		return VaultState{}, err
	}
	return out, nil
}

// TVL reads totalManagedAssets alone, for the yield cycle's APY observation.
func (r *Reader) TVL(ctx context.Context) (amount.ChainAmount, error) {
	v, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "totalManagedAssets")
	if err != nil {
		return amount.ChainAmount{}, err
	}
	return amount.FromBigInt(v), nil
}

// AaveStrategyBalance reads the supply-side strategy's own accounting of the
// assets it holds at Aave. The router's portfolio view reports the same value
// at its own cadence, so the two can diverge briefly after a harvest.
func (r *Reader) AaveStrategyBalance(ctx context.Context) (amount.ChainAmount, error) {
	v, err := r.chain.ReadBigInt(ctx, r.contracts.StrategyAave, registry.StrategyAave, "strategyBalance")
	if err != nil {
		return amount.ChainAmount{}, err
	}
	return amount.FromBigInt(v), nil
}

func (r *Reader) StrategyStates(ctx context.Context) ([]StrategyState, error) {
	values, err := r.chain.Read(ctx, r.contracts.Router, registry.Router, "getPortfolioState")
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, cerr.New(cerr.CodeInternal, "getPortfolioState returned unexpected shape")
	}
	strats, ok1 := values[0].([]common.Address)
	balances, ok2 := values[1].([]*big.Int)
	targets, ok3 := values[2].([]*big.Int)
	if !ok1 || !ok2 || !ok3 || len(strats) != len(balances) || len(strats) != len(targets) {
		return nil, cerr.New(cerr.CodeInternal, "getPortfolioState returned unexpected shape")
	}

	total := new(big.Int)
	for _, b := range balances {
		total.Add(total, b)
	}

	out := make([]StrategyState, 0, len(strats))
	for i := range strats {
		s := StrategyState{
			Address:         strats[i],
			Balance:         amount.FromBigInt(balances[i]),
			TargetWeightBps: targets[i].Int64(),
		}
		if total.Sign() > 0 {
			actual := new(big.Int).Mul(balances[i], big.NewInt(10000))
			actual.Quo(actual, total)
			s.ActualWeightBps = actual.Int64()
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Reader) LeverageState(ctx context.Context) (LeverageState, error) {
	var out LeverageState
	err := join(
		func() error {
			values, err := r.chain.Read(ctx, r.contracts.StrategyLeverage, registry.StrategyLeverage, "getLeverageState")
			if err != nil {
				return err
			}
			if len(values) < 3 {
				return cerr.New(cerr.CodeInternal, "getLeverageState returned unexpected shape")
			}
			deposited, ok1 := values[0].(*big.Int)
			borrowed, ok2 := values[1].(*big.Int)
			exposure, ok3 := values[2].(*big.Int)
			if !ok1 || !ok2 || !ok3 {
				return cerr.New(cerr.CodeInternal, "getLeverageState returned unexpected shape")
			}
			out.Deposited = amount.FromBigInt(deposited)
			out.BorrowedWETH = amount.FromBigInt(borrowed)
			out.NetExposure = amount.FromBigInt(exposure)
			return nil
		},
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.StrategyLeverage, registry.StrategyLeverage, "getLTV")
			if err != nil {
				return err
			}
			out.LTV = amount.FromBigInt(v).Float64()
			return nil
		},
		func() error {
			v, err := r.chain.ReadBool(ctx, r.contracts.StrategyLeverage, registry.StrategyLeverage, "paused")
			if err != nil {
				return err
			}
			out.Paused = v
			return nil
		},
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.StrategyLeverage, registry.StrategyLeverage, "maxDepth")
			if err != nil {
				return err
			}
			out.MaxDepth = v.Int64()
			return nil
		},
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.StrategyLeverage, registry.StrategyLeverage, "borrowFactor")
			if err != nil {
				return err
			}
			out.BorrowFactorBps = v.Int64()
			return nil
		},
	)
	if err != nil {
		return LeverageState{}, err
	}
	return out, nil
}

// LeveragePosition reads only the deposited/borrowed pair used by the
// liquidation-risk check.
func (r *Reader) LeveragePosition(ctx context.Context) (deposited, borrowed amount.ChainAmount, err error) {
	err = join(
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.StrategyLeverage, registry.StrategyLeverage, "deposited")
			if err != nil {
				return err
			}
			deposited = amount.FromBigInt(v)
			return nil
		},
		func() error {
			v, err := r.chain.ReadBigInt(ctx, r.contracts.StrategyLeverage, registry.StrategyLeverage, "borrowedWETH")
			if err != nil {
				return err
			}
			borrowed = amount.FromBigInt(v)
			return nil
		},
	)
	return deposited, borrowed, err
}

// UserBalances reads the wallet's share balance and converts it to the
// withdrawable asset amount. Parameterized exclusively by the supplied wallet.
func (r *Reader) UserBalances(ctx context.Context, wallet common.Address) (UserBalances, error) {
	shares, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "balanceOf", wallet)
	if err != nil {
		return UserBalances{}, err
	}
	assets, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "convertToAssets", shares)
	if err != nil {
		return UserBalances{}, err
	}
	return UserBalances{
		Shares:       amount.FromBigInt(shares),
		Withdrawable: amount.FromBigInt(assets),
	}, nil
}

// Allowance reads the wallet's current ERC20 allowance toward the vault.
func (r *Reader) Allowance(ctx context.Context, wallet common.Address) (amount.ChainAmount, error) {
	v, err := r.chain.ReadBigInt(ctx, r.contracts.AssetToken, registry.ERC20, "allowance", wallet, r.contracts.Vault)
	if err != nil {
		return amount.ChainAmount{}, err
	}
	return amount.FromBigInt(v), nil
}

// TokenBalance reads the wallet's asset-token balance.
func (r *Reader) TokenBalance(ctx context.Context, wallet common.Address) (amount.ChainAmount, error) {
	v, err := r.chain.ReadBigInt(ctx, r.contracts.AssetToken, registry.ERC20, "balanceOf", wallet)
	if err != nil {
		return amount.ChainAmount{}, err
	}
	return amount.FromBigInt(v), nil
}

func (r *Reader) ConvertToShares(ctx context.Context, assets amount.ChainAmount) (amount.ChainAmount, error) {
	v, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "convertToShares", assets.BigInt())
	if err != nil {
		return amount.ChainAmount{}, err
	}
	return amount.FromBigInt(v), nil
}

func (r *Reader) ConvertToAssets(ctx context.Context, shares amount.ChainAmount) (amount.ChainAmount, error) {
	v, err := r.chain.ReadBigInt(ctx, r.contracts.Vault, registry.Vault, "convertToAssets", shares.BigInt())
	if err != nil {
		return amount.ChainAmount{}, err
	}
	return amount.FromBigInt(v), nil
}

// join runs the given reads concurrently and returns the first error, if any.
func join(fns ...func() error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(fns))
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			errs[i] = fn()
		}(i, fn)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
