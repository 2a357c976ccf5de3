package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/metavault/custodian/internal/chain/signer"
	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/registry"
)

// hardhat's first well-known test key
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var target = common.HexToAddress("0x0000000000000000000000000000000000000042")

type fakeBackend struct {
	estimateGas   uint64
	estimateErr   error
	tipCap        *big.Int
	tipErr        error
	baseFee       *big.Int
	nonce         uint64
	sendErr       error
	receiptStatus uint64

	sent []*types.Transaction
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(31337), nil }

func (f *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return nil, errors.New("not used")
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimateGas, f.estimateErr
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tipCap, f.tipErr
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	if len(f.sent) == 0 {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.receiptStatus, GasUsed: f.estimateGas}, nil
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	sgn, err := signer.NewLocalSigner(signer.LocalSignerConfig{PrivateKeyHex: testKeyHex})
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}
	return NewClient(backend, sgn, Options{
		CallTimeout:    time.Second,
		ReceiptTimeout: time.Second,
		PollInterval:   10 * time.Millisecond,
	})
}

func healthyBackend() *fakeBackend {
	return &fakeBackend{
		estimateGas:   100_000,
		tipCap:        big.NewInt(1_500_000_000),
		baseFee:       big.NewInt(10_000_000_000),
		nonce:         7,
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func TestWriteAppliesGasMargin(t *testing.T) {
	backend := healthyBackend()
	c := newTestClient(t, backend)

	receipt, err := c.Write(context.Background(), target, registry.Router, "rebalance")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if receipt.Status != StatusSuccess {
		t.Fatalf("status = %q", receipt.Status)
	}
	if receipt.Nonce != 7 {
		t.Fatalf("nonce = %d", receipt.Nonce)
	}

	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Gas() < 119_999 || tx.Gas() > 120_001 {
		t.Fatalf("gas limit = %d, want estimate with 20%% margin", tx.Gas())
	}
	// feeCap = 2*baseFee + tip
	wantFeeCap := big.NewInt(21_500_000_000)
	if tx.GasFeeCap().Cmp(wantFeeCap) != 0 {
		t.Fatalf("fee cap = %s, want %s", tx.GasFeeCap(), wantFeeCap)
	}
}

func TestWriteAbortsWhenEstimationFails(t *testing.T) {
	backend := healthyBackend()
	backend.estimateErr = errors.New("execution reverted: weights do not sum")
	c := newTestClient(t, backend)

	_, err := c.Write(context.Background(), target, registry.Router, "rebalance")
	if cerr.CodeOf(err) != cerr.CodeReverted {
		t.Fatalf("code = %v, want reverted", cerr.CodeOf(err))
	}
	if len(backend.sent) != 0 {
		t.Fatal("transaction broadcast despite failed estimation")
	}
}

func TestWriteFallsBackToDefaultTip(t *testing.T) {
	backend := healthyBackend()
	backend.tipErr = errors.New("method not supported")
	c := newTestClient(t, backend)

	if _, err := c.Write(context.Background(), target, registry.Router, "harvestAll"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if tip := backend.sent[0].GasTipCap(); tip.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("tip cap = %s, want 2 gwei fallback", tip)
	}
}

func TestWriteReportsRevertedReceipt(t *testing.T) {
	backend := healthyBackend()
	backend.receiptStatus = types.ReceiptStatusFailed
	c := newTestClient(t, backend)

	receipt, err := c.Write(context.Background(), target, registry.Router, "rebalance")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if receipt.Status != StatusReverted {
		t.Fatalf("status = %q, want reverted", receipt.Status)
	}
}

func TestWriteRequiresSigner(t *testing.T) {
	c := NewClient(healthyBackend(), nil, Options{})

	_, err := c.Write(context.Background(), target, registry.Router, "rebalance")
	if cerr.CodeOf(err) != cerr.CodeSigner {
		t.Fatalf("code = %v, want signer", cerr.CodeOf(err))
	}
}

func TestUnsignedCarriesCalldataNotSignature(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	tx, err := Unsigned(from, target, registry.Vault, "deposit", big.NewInt(5))
	if err != nil {
		t.Fatalf("unsigned: %v", err)
	}
	if tx.From != from.Hex() || tx.To != target.Hex() {
		t.Fatalf("addresses wrong: %+v", tx)
	}
	if !strings.HasPrefix(tx.Data, "0x") || len(tx.Data) <= 2 {
		t.Fatalf("calldata missing: %q", tx.Data)
	}
	if tx.Value != "0" {
		t.Fatalf("value = %q", tx.Value)
	}
}
