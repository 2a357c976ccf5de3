package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metavault/custodian/internal/amount"
	"github.com/metavault/custodian/internal/chain"
	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/prices"
	"github.com/metavault/custodian/internal/registry"
	"github.com/metavault/custodian/internal/state"
)

// Step tells the caller which stage of a flow the response belongs to.
type Step string

const (
	StepApproval   Step = "approval"
	StepDeposit    Step = "deposit"
	StepWithdrawal Step = "withdrawal"
	StepInfo       Step = "info"
)

// Response is one assistant turn. UnsignedTx is present only when the turn
// prepared a transaction for the user's wallet to sign; the custodian never
// signs on the user's behalf.
type Response struct {
	Reply         string            `json:"reply"`
	UnsignedTx    *chain.UnsignedTx `json:"unsignedTx,omitempty"`
	NeedsApproval bool              `json:"needsApproval"`
	Step          Step              `json:"step"`
}

// StateSource is the slice of state.Reader the machine consumes. Every
// wallet-scoped read takes the wallet explicitly so two sessions can never
// observe each other's balances.
type StateSource interface {
	VaultState(ctx context.Context) (state.VaultState, error)
	UserBalances(ctx context.Context, wallet common.Address) (state.UserBalances, error)
	Allowance(ctx context.Context, wallet common.Address) (amount.ChainAmount, error)
	TokenBalance(ctx context.Context, wallet common.Address) (amount.ChainAmount, error)
	ConvertToShares(ctx context.Context, assets amount.ChainAmount) (amount.ChainAmount, error)
	ConvertToAssets(ctx context.Context, shares amount.ChainAmount) (amount.ChainAmount, error)
	Contracts() state.Contracts
}

type PriceSource interface {
	GetPrices(ctx context.Context) (prices.Snapshot, error)
}

// Machine maps user messages to responses. It is deterministic: the same
// message against the same chain state always yields the same response, and
// every flow decision is re-derived from fresh reads rather than remembered
// across turns.
type Machine struct {
	reader StateSource
	prices PriceSource

	// APY reports the tracker's latest annualized yield; ready is false
	// until a second TVL sample exists.
	APY func() (apy float64, ready bool)
}

func NewMachine(reader StateSource, priceSource PriceSource) *Machine {
	return &Machine{reader: reader, prices: priceSource}
}

var managementVerbs = map[string]bool{
	"rebalance":  true,
	"harvest":    true,
	"pause":      true,
	"unpause":    true,
	"deleverage": true,
	"setweights": true,
	"setparams":  true,
}

const helpText = `I can help with your vault position:
• deposit <amount> - prepare a LINK deposit (approval first if needed)
• withdraw <amount> - prepare a withdrawal
• balance - your shares and withdrawable value
• info - vault totals and share price
• prices - current LINK and WETH prices
• apy - recent annualized yield
• convert <amount> - shares/assets at the current exchange rate`

// Handle processes one user message for wallet. A returned error means the
// turn could not be evaluated at all; user-correctable problems come back as
// a normal info response instead.
func (m *Machine) Handle(ctx context.Context, wallet common.Address, message string) (Response, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(message)))
	if len(fields) == 0 {
		return info(helpText), nil
	}

	verb := fields[0]
	switch {
	case verb == "deposit":
		return m.deposit(ctx, wallet, fields[1:])
	case verb == "withdraw":
		return m.withdraw(ctx, wallet, fields[1:])
	case verb == "balance":
		return m.balance(ctx, wallet)
	case verb == "info":
		return m.vaultInfo(ctx)
	case verb == "prices":
		return m.priceInfo(ctx)
	case verb == "apy":
		return m.apyInfo()
	case verb == "convert":
		return m.convert(ctx, fields[1:])
	case managementVerbs[verb]:
		return info("Management operations like " + verb + " run through the automated custodian and are not available over chat."), nil
	default:
		return info("I didn't recognize that.\n\n" + helpText), nil
	}
}

// deposit drives the allowance gate. The allowance is read fresh on every
// turn: if it does not cover the amount the turn prepares an approve for
// exactly that amount, otherwise it prepares the deposit itself.
func (m *Machine) deposit(ctx context.Context, wallet common.Address, args []string) (Response, error) {
	amt, resp, ok := parseAmount("deposit", args)
	if !ok {
		return resp, nil
	}

	balance, err := m.reader.TokenBalance(ctx, wallet)
	if err != nil {
		return Response{}, fmt.Errorf("read token balance: %w", err)
	}
	if balance.Cmp(amt) < 0 {
		return info(fmt.Sprintf("You hold %s LINK, which is not enough to deposit %s.",
			balance.Display(), amt.Display())), nil
	}

	allowance, err := m.reader.Allowance(ctx, wallet)
	if err != nil {
		return Response{}, fmt.Errorf("read allowance: %w", err)
	}
	contracts := m.reader.Contracts()

	if allowance.Cmp(amt) < 0 {
		tx, err := chain.Unsigned(wallet, contracts.AssetToken, registry.ERC20,
			"approve", contracts.Vault, amt.BigInt())
		if err != nil {
			return Response{}, err
		}
		return Response{
			Reply: fmt.Sprintf("Before depositing %s LINK the vault needs your approval (current allowance %s). Sign this approval, then ask me to deposit again.",
				amt.Display(), allowance.Display()),
			UnsignedTx:    tx,
			NeedsApproval: true,
			Step:          StepApproval,
		}, nil
	}

	tx, err := chain.Unsigned(wallet, contracts.Vault, registry.Vault, "deposit", amt.BigInt())
	if err != nil {
		return Response{}, err
	}
	return Response{
		Reply:      fmt.Sprintf("Your allowance covers it. Sign this transaction to deposit %s LINK.", amt.Display()),
		UnsignedTx: tx,
		Step:       StepDeposit,
	}, nil
}

// withdraw converts the requested asset amount to shares at the current
// exchange rate and prepares a share-denominated withdrawal.
func (m *Machine) withdraw(ctx context.Context, wallet common.Address, args []string) (Response, error) {
	amt, resp, ok := parseAmount("withdraw", args)
	if !ok {
		return resp, nil
	}

	shares, err := m.reader.ConvertToShares(ctx, amt)
	if err != nil {
		return Response{}, fmt.Errorf("convert to shares: %w", err)
	}
	balances, err := m.reader.UserBalances(ctx, wallet)
	if err != nil {
		return Response{}, fmt.Errorf("read balances: %w", err)
	}
	if balances.Shares.Cmp(shares) < 0 {
		return info(fmt.Sprintf("Withdrawing %s LINK needs %s shares but you hold %s.",
			amt.Display(), shares.Display(), balances.Shares.Display())), nil
	}

	tx, err := chain.Unsigned(wallet, m.reader.Contracts().Vault, registry.Vault,
		"withdraw", shares.BigInt())
	if err != nil {
		return Response{}, err
	}
	return Response{
		Reply: fmt.Sprintf("Sign this transaction to redeem %s shares for about %s LINK.",
			shares.Display(), amt.Display()),
		UnsignedTx: tx,
		Step:       StepWithdrawal,
	}, nil
}

func (m *Machine) balance(ctx context.Context, wallet common.Address) (Response, error) {
	balances, err := m.reader.UserBalances(ctx, wallet)
	if err != nil {
		return Response{}, fmt.Errorf("read balances: %w", err)
	}
	tokens, err := m.reader.TokenBalance(ctx, wallet)
	if err != nil {
		return Response{}, fmt.Errorf("read token balance: %w", err)
	}
	return info(fmt.Sprintf("You hold %s vault shares worth about %s LINK, plus %s LINK in your wallet.",
		balances.Shares.Display(), balances.Withdrawable.Display(), tokens.Display())), nil
}

func (m *Machine) vaultInfo(ctx context.Context) (Response, error) {
	vs, err := m.reader.VaultState(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("read vault state: %w", err)
	}
	sharePrice := "n/a"
	if vs.TotalSupply.Sign() > 0 {
		sharePrice = fmt.Sprintf("%.6f", vs.TotalAssets.Float64()/vs.TotalSupply.Float64())
	}
	return info(fmt.Sprintf("The vault manages %s LINK across its strategies (%s held directly) with %s shares outstanding. Share price: %s LINK.",
		vs.TotalManagedAssets.Display(), vs.TotalAssets.Display(), vs.TotalSupply.Display(), sharePrice)), nil
}

func (m *Machine) priceInfo(ctx context.Context) (Response, error) {
	snap, err := m.prices.GetPrices(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("fetch prices: %w", err)
	}
	return info(fmt.Sprintf("LINK is $%.4f and WETH is $%.2f, so one WETH buys %.4f LINK (source: %s).",
		snap.LinkUSD, snap.WethUSD, snap.LinkPerWeth, snap.Source)), nil
}

func (m *Machine) apyInfo() (Response, error) {
	if m.APY == nil {
		return info("Yield tracking is not enabled on this deployment."), nil
	}
	apy, ready := m.APY()
	if !ready {
		return info("I don't have two yield samples yet. Ask again after the next monitoring cycle."), nil
	}
	return info(fmt.Sprintf("The vault's recent annualized yield is %.2f%%.", apy*100)), nil
}

func (m *Machine) convert(ctx context.Context, args []string) (Response, error) {
	amt, resp, ok := parseAmount("convert", args)
	if !ok {
		return resp, nil
	}
	shares, err := m.reader.ConvertToShares(ctx, amt)
	if err != nil {
		return Response{}, fmt.Errorf("convert to shares: %w", err)
	}
	assets, err := m.reader.ConvertToAssets(ctx, amt)
	if err != nil {
		return Response{}, fmt.Errorf("convert to assets: %w", err)
	}
	return info(fmt.Sprintf("At the current exchange rate %s LINK mints %s shares, and %s shares redeem for %s LINK.",
		amt.Display(), shares.Display(), amt.Display(), assets.Display())), nil
}

func parseAmount(verb string, args []string) (amount.ChainAmount, Response, bool) {
	if len(args) != 1 {
		return amount.ChainAmount{}, info(fmt.Sprintf("Usage: %s <amount>, for example %q.", verb, verb+" 5")), false
	}
	amt, err := amount.ParseDecimal(args[0])
	if err != nil || amt.Sign() <= 0 {
		return amount.ChainAmount{}, info(fmt.Sprintf("%q is not a positive LINK amount.", args[0])), false
	}
	return amt, Response{}, true
}

func info(reply string) Response {
	return Response{Reply: reply, Step: StepInfo}
}

// WalletFromRequest validates and normalizes a user-supplied wallet address.
func WalletFromRequest(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, cerr.New(cerr.CodeValidation, fmt.Sprintf("invalid wallet address: %q", raw))
	}
	return common.HexToAddress(raw), nil
}
