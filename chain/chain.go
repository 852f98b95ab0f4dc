// Package chain implements the blockchain collaborator surrounding the
// bytecode machine: genesis initialization, balance inspection, and
// asynchronous transaction settlement. It is independent of the machine
// core; transactions carry bytecode payloads that are executed on a fresh,
// transient machine when they settle.
package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/stackvm/vm"
)

var log = commonlog.GetLogger("stackvm.chain")

// ---------------------------------------------------------------------------
// Accounts and genesis
// ---------------------------------------------------------------------------

// Address identifies an account: the first 20 bytes of the SHA-256 of the
// account's public key.
type Address [20]byte

// AddressOf derives the address for a public key.
func AddressOf(pub ed25519.PublicKey) Address {
	h := sha256.Sum256(pub)
	var a Address
	copy(a[:], h[:20])
	return a
}

// Hex returns the 0x-prefixed hex form of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// GenesisParams configures the chain's genesis block.
type GenesisParams struct {
	Difficulty uint64
	GasLimit   uint64
	Coinbase   Address
	Timestamp  uint64
}

// DefaultGenesisParams returns the customary genesis configuration.
func DefaultGenesisParams() GenesisParams {
	return GenesisParams{
		Difficulty: 1,
		GasLimit:   3_000_000,
	}
}

// Account holds per-address chain state.
type Account struct {
	Balance uint256.Int
	Nonce   uint64
}

// ---------------------------------------------------------------------------
// Receipts
// ---------------------------------------------------------------------------

// ReceiptStatus reports how a settled transaction's execution ended.
type ReceiptStatus int

const (
	StatusOK ReceiptStatus = iota
	StatusFailed
)

// Receipt is the settlement record of one applied transaction. A
// transaction whose payload execution fails still settles; the receipt
// carries the failure.
type Receipt struct {
	TxHash [32]byte
	Height uint64
	Status ReceiptStatus
	Result *uint256.Int // top of stack after execution, nil when empty
	Err    string       // execution failure, set when Status is StatusFailed
}

// ---------------------------------------------------------------------------
// Chain
// ---------------------------------------------------------------------------

// Validation errors. These reject a transaction outright, as opposed to
// execution failures, which settle with a failed receipt.
var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrBadSignature   = errors.New("bad transaction signature")
	ErrBadNonce       = errors.New("bad transaction nonce")
	ErrChainClosed    = errors.New("chain is closed")
)

// Chain holds in-memory chain state and settles transactions one at a time
// on a single worker, in submission order.
type Chain struct {
	params GenesisParams

	mu       sync.RWMutex
	accounts map[Address]*Account
	height   uint64

	requests  chan applyRequest
	quit      chan struct{}
	closeOnce sync.Once
}

type applyRequest struct {
	tx   *SignedTx
	resp chan applyResult
}

type applyResult struct {
	receipt *Receipt
	err     error
}

// Initialize builds a chain from genesis parameters and state and starts
// its settlement worker. Release it with Close.
func Initialize(params GenesisParams, genesis map[Address]Account) *Chain {
	accounts := make(map[Address]*Account, len(genesis))
	for addr, acct := range genesis {
		a := acct
		accounts[addr] = &a
	}
	c := &Chain{
		params:   params,
		accounts: accounts,
		requests: make(chan applyRequest),
		quit:     make(chan struct{}),
	}
	go c.run()
	log.Infof("chain initialized: difficulty=%d gas-limit=%d accounts=%d",
		params.Difficulty, params.GasLimit, len(accounts))
	return c
}

// Params returns the genesis parameters the chain was initialized with.
func (c *Chain) Params() GenesisParams {
	return c.params
}

// Balance returns the balance of addr, zero for unknown accounts.
func (c *Chain) Balance(addr Address) uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if acct, ok := c.accounts[addr]; ok {
		return acct.Balance
	}
	return uint256.Int{}
}

// Account returns a copy of the account state for addr.
func (c *Chain) Account(addr Address) (Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if acct, ok := c.accounts[addr]; ok {
		return *acct, true
	}
	return Account{}, false
}

// Height returns the number of settled transactions.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// Apply submits a signed transaction for settlement and suspends the caller
// until it settles, the context is done, or the chain closes. Validation
// failures (signature, sender, nonce) return an error and settle nothing;
// payload execution failures settle with a StatusFailed receipt.
func (c *Chain) Apply(ctx context.Context, tx *SignedTx) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := applyRequest{tx: tx, resp: make(chan applyResult, 1)}

	select {
	case c.requests <- req:
	case <-c.quit:
		return nil, ErrChainClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.resp:
		return res.receipt, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the settlement worker. Close is idempotent; in-flight Apply
// calls fail with ErrChainClosed.
func (c *Chain) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
}

// run is the settlement worker loop.
func (c *Chain) run() {
	for {
		select {
		case req := <-c.requests:
			receipt, err := c.apply(req.tx)
			req.resp <- applyResult{receipt: receipt, err: err}
		case <-c.quit:
			return
		}
	}
}

// apply validates and settles one transaction.
func (c *Chain) apply(tx *SignedTx) (*Receipt, error) {
	utx, err := tx.Unsigned()
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(tx.PublicKey, tx.Body, tx.Signature) {
		return nil, ErrBadSignature
	}
	sender := tx.Sender()

	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.accounts[sender]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, sender.Hex())
	}
	if utx.Nonce != acct.Nonce {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrBadNonce, utx.Nonce, acct.Nonce)
	}

	// The payload runs on a fresh transient machine; chain accounts and
	// machine storage are separate state.
	machine := vm.New(nil)
	execErr := machine.Execute(payloadTokens(utx.Data))

	acct.Nonce++
	c.height++

	receipt := &Receipt{
		TxHash: tx.Hash(),
		Height: c.height,
	}
	if execErr != nil {
		receipt.Status = StatusFailed
		receipt.Err = execErr.Error()
		log.Errorf("transaction %x failed at height %d: %v", receipt.TxHash[:8], c.height, execErr)
		return receipt, nil
	}

	if stack := machine.Stack(); len(stack) > 0 {
		top := stack[len(stack)-1]
		receipt.Result = &top
	}
	c.transfer(acct, utx)

	log.Infof("transaction %x settled at height %d", receipt.TxHash[:8], c.height)
	return receipt, nil
}

// transfer moves the transaction value to its recipient, when both are
// present and the sender can cover it. Callers hold the state lock.
func (c *Chain) transfer(sender *Account, utx *UnsignedTx) {
	if len(utx.Value) == 0 || len(utx.To) != len(Address{}) {
		return
	}
	var value uint256.Int
	value.SetBytes(utx.Value)
	if value.IsZero() || sender.Balance.Lt(&value) {
		return
	}

	var to Address
	copy(to[:], utx.To)
	recipient, ok := c.accounts[to]
	if !ok {
		recipient = &Account{}
		c.accounts[to] = recipient
	}
	sender.Balance.Sub(&sender.Balance, &value)
	recipient.Balance.Add(&recipient.Balance, &value)
}

// payloadTokens renders payload bytes as the bytecode token stream the
// machine consumes.
func payloadTokens(data []byte) []string {
	tokens := make([]string, len(data))
	for i, b := range data {
		tokens[i] = hex.EncodeToString([]byte{b})
	}
	return tokens
}
