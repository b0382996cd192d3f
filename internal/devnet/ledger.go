// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package devnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/bytemare/socialconnect/ledger"
)

// LedgerPath serves the chain over Ethereum JSON-RPC.
const LedgerPath = "/rpc"

const (
	gasPrice      = 1_000_000_000
	gasPerCall    = 100_000
	blockGasLimit = 30_000_000
)

// DefaultChainID identifies the dev chain in transaction signatures.
var DefaultChainID = big.NewInt(1337)

var (
	errNoContract   = errors.New("no contract at address")
	errShortInput   = errors.New("input too short for a method selector")
	errNotView      = errors.New("method is not a view")
	errNotMutating  = errors.New("method is not a transaction")
	errNonceTooLow  = errors.New("nonce too low")
	errNonceTooHigh = errors.New("nonce too high")
)

// contractCode stands in for the bytecode of the three contracts, so that bound callers find code at their address.
var contractCode = hexutil.Bytes{0x60, 0x80, 0x60, 0x40, 0x52}

// ledgerAPI is the eth namespace of the dev chain. It implements what bound contracts and ethclient need: calls,
// gas and nonce queries, raw transactions and receipts. Every transaction is mined on arrival.
type ledgerAPI struct {
	chain   *Chain
	chainID *big.Int
	signer  types.Signer
	abis    map[common.Address]abi.ABI
	logger  *slog.Logger

	mu       sync.Mutex
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
}

// NewLedgerServer returns a JSON-RPC server exposing chain to ledger.Dial. chainID defaults to DefaultChainID.
func NewLedgerServer(chain *Chain, chainID *big.Int, logger *slog.Logger) (*rpc.Server, error) {
	if chainID == nil {
		chainID = DefaultChainID
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := &ledgerAPI{
		chain:    chain,
		chainID:  new(big.Int).Set(chainID),
		signer:   types.LatestSignerForChainID(chainID),
		abis:     make(map[common.Address]abi.ABI, 3),
		logger:   logger.With("component", "devnet-ledger"),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}

	for address, raw := range map[common.Address]string{
		TokenAddress:    ledger.StableTokenABI,
		PaymentsAddress: ledger.OdisPaymentsABI,
		RegistryAddress: ledger.FederatedAttestationsABI,
	} {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("devnet: %w", err)
		}

		api.abis[address] = parsed
	}

	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", api); err != nil {
		return nil, fmt.Errorf("devnet: %w", err)
	}

	return srv, nil
}

// callArgs is the subset of the eth_call and eth_estimateGas argument the chain looks at.
type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a *callArgs) input() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}

	return a.Data
}

func (a *callArgs) from() common.Address {
	if a.From == nil {
		return common.Address{}
	}

	return *a.From
}

// ChainId serves eth_chainId. The casing follows the JSON-RPC method name.
func (api *ledgerAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.chainID)
}

// BlockNumber serves eth_blockNumber.
func (api *ledgerAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.chain.BlockNumber())
}

// GasPrice serves eth_gasPrice. The chain doesn't charge gas.
func (api *ledgerAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(gasPrice))
}

// GetBlockByNumber serves eth_getBlockByNumber with the header of the latest block, whatever the number asked.
// Headers carry no base fee, so callers build legacy transactions.
func (api *ledgerAPI) GetBlockByNumber(_ rpc.BlockNumber, _ bool) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(api.chain.BlockNumber()),
		Difficulty: new(big.Int),
		GasLimit:   blockGasLimit,
		Time:       uint64(time.Now().Unix()),
		Extra:      []byte{},
	}
}

// GetCode serves eth_getCode.
func (api *ledgerAPI) GetCode(address common.Address, _ *rpc.BlockNumberOrHash) hexutil.Bytes {
	if _, ok := api.abis[address]; ok {
		return contractCode
	}

	return hexutil.Bytes{}
}

// GetTransactionCount serves eth_getTransactionCount.
func (api *ledgerAPI) GetTransactionCount(address common.Address, _ *rpc.BlockNumberOrHash) hexutil.Uint64 {
	api.mu.Lock()
	defer api.mu.Unlock()

	return hexutil.Uint64(api.nonces[address])
}

// EstimateGas serves eth_estimateGas with a flat amount. Reverts surface when the transaction is mined.
func (api *ledgerAPI) EstimateGas(args callArgs, _ *rpc.BlockNumberOrHash) (hexutil.Uint64, error) {
	if _, _, err := api.decode(args.To, args.input()); err != nil {
		return 0, err
	}

	return gasPerCall, nil
}

// Call serves eth_call for the view methods.
func (api *ledgerAPI) Call(ctx context.Context, args callArgs, _ *rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	method, inputs, err := api.decode(args.To, args.input())
	if err != nil {
		return nil, err
	}

	var out []byte

	switch method.Name {
	case ledger.MethodAllowance:
		allowance, err := api.chain.Token(args.from()).Allowance(ctx, inputs[0].(common.Address),
			inputs[1].(common.Address))
		if err != nil {
			return nil, err
		}

		out, err = method.Outputs.Pack(allowance)
		if err != nil {
			return nil, err
		}
	case ledger.MethodLookup:
		l, err := api.chain.Attestations(args.from()).LookupAttestations(ctx, inputs[0].([32]byte),
			inputs[1].([]common.Address))
		if err != nil {
			return nil, err
		}

		out, err = method.Outputs.Pack(l.CountsPerIssuer, l.Accounts, l.Signers, l.IssuedOns, l.PublishedOns)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", errNotView, method.Name)
	}

	return out, nil
}

// SendRawTransaction serves eth_sendRawTransaction. The transaction is executed and mined before returning. A
// failing execution still consumes the nonce, and is recorded with a failed receipt status.
func (api *ledgerAPI) SendRawTransaction(ctx context.Context, raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}

	from, err := types.Sender(api.signer, tx)
	if err != nil {
		return common.Hash{}, err
	}

	method, inputs, err := api.decode(tx.To(), tx.Data())
	if err != nil {
		return common.Hash{}, err
	}

	api.mu.Lock()
	defer api.mu.Unlock()

	switch next := api.nonces[from]; {
	case tx.Nonce() < next:
		return common.Hash{}, fmt.Errorf("%w: got %d, next is %d", errNonceTooLow, tx.Nonce(), next)
	case tx.Nonce() > next:
		return common.Hash{}, fmt.Errorf("%w: got %d, next is %d", errNonceTooHigh, tx.Nonce(), next)
	}

	api.nonces[from]++

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: gasPerCall,
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           gasPerCall,
	}

	mined, err := api.execute(ctx, from, method, inputs)
	if err != nil {
		api.logger.WarnContext(ctx, "transaction reverted", "method", method.Name, "tx", tx.Hash().Hex(),
			"error", err)

		receipt.Status = types.ReceiptStatusFailed
		receipt.BlockNumber = new(big.Int).SetUint64(api.chain.BlockNumber())
	} else {
		receipt.BlockNumber = new(big.Int).SetUint64(mined.BlockNumber)
	}

	api.receipts[tx.Hash()] = receipt

	return tx.Hash(), nil
}

// GetTransactionReceipt serves eth_getTransactionReceipt. Unknown transactions get a null receipt.
func (api *ledgerAPI) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	api.mu.Lock()
	defer api.mu.Unlock()

	return api.receipts[hash]
}

func (api *ledgerAPI) execute(ctx context.Context, from common.Address, method *abi.Method, inputs []any,
) (*ledger.Receipt, error) {
	switch method.Name {
	case ledger.MethodIncreaseAllowance:
		return api.chain.Token(from).IncreaseAllowance(ctx, inputs[0].(common.Address), inputs[1].(*big.Int))
	case ledger.MethodPayInCUSD:
		return api.chain.Payments(from).PayInCUSD(ctx, inputs[0].(common.Address), inputs[1].(*big.Int))
	case ledger.MethodRegister:
		return api.chain.Attestations(from).RegisterAttestationAsIssuer(ctx, inputs[0].([32]byte),
			inputs[1].(common.Address), inputs[2].(uint64))
	case ledger.MethodRevoke:
		return api.chain.Attestations(from).RevokeAttestation(ctx, inputs[0].([32]byte),
			inputs[1].(common.Address), inputs[2].(common.Address))
	default:
		return nil, fmt.Errorf("%w: %s", errNotMutating, method.Name)
	}
}

// decode resolves the contract at to and unpacks the method call in data.
func (api *ledgerAPI) decode(to *common.Address, data []byte) (*abi.Method, []any, error) {
	if to == nil {
		return nil, nil, errNoContract
	}

	parsed, ok := api.abis[*to]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", errNoContract, to.Hex())
	}

	if len(data) < 4 {
		return nil, nil, errShortInput
	}

	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}

	inputs, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}

	return method, inputs, nil
}
