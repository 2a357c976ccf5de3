package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/metavault/custodian/internal/chain/signer"
	cerr "github.com/metavault/custodian/internal/errors"
)

// Backend is the subset of ethclient.Client the custodian uses. Tests swap in
// a fake; production code passes a dialed *ethclient.Client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Receipt summarizes a confirmed write.
type Receipt struct {
	Hash    string `json:"hash"`
	From    string `json:"from"`
	To      string `json:"to"`
	Nonce   uint64 `json:"nonce"`
	Status  string `json:"status"`
	GasUsed uint64 `json:"gas_used"`
}

const (
	StatusSuccess  = "success"
	StatusReverted = "reverted"
)

// UnsignedTx is a fully specified transaction payload lacking a signature,
// handed to an external wallet for signing.
type UnsignedTx struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

type Options struct {
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	GasMultiplier  float64
}

func DefaultOptions() Options {
	return Options{
		CallTimeout:    10 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		PollInterval:   2 * time.Second,
		GasMultiplier:  1.2,
	}
}

// Client wraps a shared RPC connection. Reads are safe for concurrent use;
// writes go through the single operational signer.
type Client struct {
	backend Backend
	signer  signer.Signer
	opts    Options

	mu      sync.Mutex
	chainID *big.Int
}

func NewClient(backend Backend, txSigner signer.Signer, opts Options) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	return &Client{backend: backend, signer: txSigner, opts: opts}
}

// Dial connects to the RPC endpoint and wraps it in a Client.
func Dial(ctx context.Context, rpcURL string, txSigner signer.Signer, opts Options) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeUnavailable, "connect rpc", err)
	}
	return NewClient(ec, txSigner, opts), nil
}

func (c *Client) Signer() signer.Signer { return c.signer }

// Read performs an eth_call against target and unpacks the return values.
func (c *Client) Read(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeInternal, "pack "+method+" calldata", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	out, err := c.backend.CallContract(callCtx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeUnavailable, "call "+method, err)
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeInternal, "unpack "+method+" result", err)
	}
	return values, nil
}

// ReadBigInt reads a method whose single return value is a uint256.
func (c *Client) ReadBigInt(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) (*big.Int, error) {
	values, err := c.Read(ctx, target, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, cerr.New(cerr.CodeInternal, method+" returned no values")
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, cerr.New(cerr.CodeInternal, method+" returned unexpected type")
	}
	return v, nil
}

// ReadBool reads a method whose single return value is a bool.
func (c *Client) ReadBool(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) (bool, error) {
	values, err := c.Read(ctx, target, contractABI, method, args...)
	if err != nil {
		return false, err
	}
	if len(values) == 0 {
		return false, cerr.New(cerr.CodeInternal, method+" returned no values")
	}
	v, ok := values[0].(bool)
	if !ok {
		return false, cerr.New(cerr.CodeInternal, method+" returned unexpected type")
	}
	return v, nil
}

// Unsigned builds a transaction payload for an external wallet to sign. The
// custodian never holds the user's key, so no gas or nonce fields are filled.
func Unsigned(from, target common.Address, contractABI abi.ABI, method string, args ...any) (*UnsignedTx, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeInternal, "pack "+method+" calldata", err)
	}
	return &UnsignedTx{
		From:  from.Hex(),
		To:    target.Hex(),
		Data:  "0x" + common.Bytes2Hex(data),
		Value: "0",
	}, nil
}

// Write submits a guarded transaction with the operational key: estimate gas
// with a 20% margin, fetch current fee parameters, sign, broadcast, and await
// one confirmation. A gas-estimation failure aborts before anything is sent.
func (c *Client) Write(ctx context.Context, target common.Address, contractABI abi.ABI, method string, args ...any) (Receipt, error) {
	if c.signer == nil {
		return Receipt{}, cerr.New(cerr.CodeSigner, "no operational signer configured")
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return Receipt{}, cerr.Wrap(cerr.CodeInternal, "pack "+method+" calldata", err)
	}
	chainID, err := c.getChainID(ctx)
	if err != nil {
		return Receipt{}, err
	}

	from := c.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &target, Data: data}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	gasLimit, err := c.backend.EstimateGas(callCtx, msg)
	if err != nil {
		return Receipt{}, cerr.Wrap(cerr.CodeReverted, "estimate gas for "+method, err)
	}
	gasLimit = uint64(float64(gasLimit) * c.opts.GasMultiplier)

	tipCap, err := c.backend.SuggestGasTipCap(callCtx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := c.backend.HeaderByNumber(callCtx, nil)
	if err != nil {
		return Receipt{}, cerr.Wrap(cerr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := c.backend.PendingNonceAt(callCtx, from)
	if err != nil {
		return Receipt{}, cerr.Wrap(cerr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := c.signer.SignTx(chainID, tx)
	if err != nil {
		return Receipt{}, cerr.Wrap(cerr.CodeSigner, "sign transaction", err)
	}
	if err := c.backend.SendTransaction(callCtx, signed); err != nil {
		return Receipt{}, cerr.Wrap(cerr.CodeUnavailable, "broadcast transaction", err)
	}

	receipt := Receipt{
		Hash:  signed.Hash().Hex(),
		From:  from.Hex(),
		To:    target.Hex(),
		Nonce: nonce,
	}
	confirmed, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return receipt, err
	}
	receipt.GasUsed = confirmed.GasUsed
	if confirmed.Status == types.ReceiptStatusSuccessful {
		receipt.Status = StatusSuccess
	} else {
		receipt.Status = StatusReverted
	}
	return receipt, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		// Transient polling failures are retried until the timeout.
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, cerr.Wrap(cerr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) getChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	id, err := c.backend.ChainID(callCtx)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeUnavailable, "read chain id", err)
	}
	c.chainID = id
	return id, nil
}
