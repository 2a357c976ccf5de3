package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Parsed forms of the ABI fragments, shared by the chain client, state
// readers and transaction planners.
var (
	ERC20            = mustABI(ERC20ABI)
	Vault            = mustABI(VaultABI)
	Router           = mustABI(RouterABI)
	StrategyLeverage = mustABI(StrategyLeverageABI)
	StrategyAave     = mustABI(StrategyAaveABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
