// Package chain submits request updates to a Functions consumer contract.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// ConsumerABI is the part of the consumer contract this package calls
const ConsumerABI = `[{"inputs":[{"internalType":"bytes","name":"_requestCBOR","type":"bytes"},{"internalType":"uint64","name":"_subscriptionId","type":"uint64"},{"internalType":"uint32","name":"_fulfillGasLimit","type":"uint32"},{"internalType":"bytes32","name":"_donID","type":"bytes32"}],"name":"updateRequest","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

const updateRequestMethod = "updateRequest"

var consumerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ConsumerABI))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid consumer ABI: %v", err))
	}
	return parsed
}()

// Backend is the JSON-RPC surface the submitter needs
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Dialer opens a Backend for an RPC URL
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

// DialRPC is the default Dialer backed by ethclient
func DialRPC(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, classify("dial", err)
	}
	return client, nil
}

// UpdateRequest is one call to the consumer's updateRequest entry point
type UpdateRequest struct {
	Payload        []byte
	SubscriptionID uint64
	GasLimit       uint32
	DonID          [32]byte
}

// Transaction is the handle returned after submission
type Transaction struct {
	Hash    common.Hash
	Receipt *types.Receipt
}

// Submitter signs and sends updateRequest transactions
type Submitter struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	contract       *bind.BoundContract
	address        common.Address
	waitForReceipt bool
}

// NewSubmitter binds the consumer contract at address
func NewSubmitter(backend Backend, key *ecdsa.PrivateKey, address common.Address, waitForReceipt bool) *Submitter {
	return &Submitter{
		backend:        backend,
		key:            key,
		contract:       bind.NewBoundContract(address, consumerABI, backend, backend, backend),
		address:        address,
		waitForReceipt: waitForReceipt,
	}
}

// UpdateRequest sends the transaction and returns its hash. With
// waitForReceipt set it also waits for mining and reports a failed
// status as a revert.
func (s *Submitter) UpdateRequest(ctx context.Context, req UpdateRequest) (*Transaction, error) {
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, classify("chain id lookup", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, &SubmissionError{Kind: KindSigner, Op: "transactor setup", Err: err}
	}
	opts.Context = ctx

	log.Info().
		Str("consumer", s.address.Hex()).
		Str("from", opts.From.Hex()).
		Str("chain_id", chainID.String()).
		Uint64("subscription_id", req.SubscriptionID).
		Uint32("gas_limit", req.GasLimit).
		Int("payload_size", len(req.Payload)).
		Msg("Sending updateRequest transaction")

	tx, err := s.contract.Transact(opts, updateRequestMethod, req.Payload, req.SubscriptionID, req.GasLimit, req.DonID)
	if err != nil {
		return nil, classify("updateRequest", err)
	}

	result := &Transaction{Hash: tx.Hash()}
	if !s.waitForReceipt {
		return result, nil
	}

	log.Info().
		Str("tx_hash", tx.Hash().Hex()).
		Msg("Waiting for transaction receipt")

	receipt, err := bind.WaitMined(ctx, s.backend, tx)
	if err != nil {
		return result, classify("receipt wait", err)
	}
	result.Receipt = receipt

	if receipt.Status == types.ReceiptStatusFailed {
		return result, &SubmissionError{Kind: KindRevert, Op: "updateRequest", Err: ErrTransactionFailed}
	}
	return result, nil
}

// PackUpdateRequest returns the calldata UpdateRequest sends
func PackUpdateRequest(req UpdateRequest) ([]byte, error) {
	return consumerABI.Pack(updateRequestMethod, req.Payload, req.SubscriptionID, req.GasLimit, req.DonID)
}
