package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs automated custodian transactions with the single operational
// key. User deposits and withdrawals never pass through here: those are
// returned unsigned and signed by the requesting wallet.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}
