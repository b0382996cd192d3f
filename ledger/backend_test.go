// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytemare/socialconnect/signer"
)

var chainID = big.NewInt(1337)

// fakeBackend answers what bound contracts ask a node for. Methods it doesn't define panic.
type fakeBackend struct {
	Backend

	mu          sync.Mutex
	sent        []*types.Transaction
	callOut     []byte
	callErr     error
	estimateErr error
	receiptErr  error
	status      uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{status: types.ReceiptStatusSuccessful}
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callOut, f.callErr
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(6)}, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50000, f.estimateErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, tx)

	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}

	return &types.Receipt{
		Status:      f.status,
		TxHash:      hash,
		BlockNumber: big.NewInt(7),
		GasUsed:     42000,
	}, nil
}

func (f *fakeBackend) transactions() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*types.Transaction(nil), f.sent...)
}

func newIssuer(t *testing.T) *signer.Issuer {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	issuer, err := signer.NewIssuer(hex.EncodeToString(crypto.FromECDSA(key)), chainID)
	require.NoError(t, err)

	return issuer
}

var (
	tokenAddress    = common.HexToAddress("0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1")
	paymentsAddress = common.HexToAddress("0x645170cdB6B5c1bc80847bb728dBa56C50a20a49")
	registryAddress = common.HexToAddress("0x70F9314aF173c246669cFb0EEe79F9Cfd9C34ee3")
)

func TestTransactMined(t *testing.T) {
	backend := newFakeBackend()
	issuer := newIssuer(t)

	token, err := NewStableToken(tokenAddress, backend, issuer, nil)
	require.NoError(t, err)

	receipt, err := token.IncreaseAllowance(t.Context(), paymentsAddress, big.NewInt(1e16))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), receipt.BlockNumber)
	assert.Equal(t, uint64(42000), receipt.GasUsed)

	sent := backend.transactions()
	require.Len(t, sent, 1)
	assert.Equal(t, receipt.TxHash, sent[0].Hash())
	assert.Equal(t, tokenAddress, *sent[0].To())
	assert.Equal(t, selector("increaseAllowance(address,uint256)"), sent[0].Data()[:4])

	from, err := types.Sender(types.LatestSignerForChainID(chainID), sent[0])
	require.NoError(t, err)
	assert.Equal(t, issuer.Address(), from)
}

func TestTransactReverted(t *testing.T) {
	backend := newFakeBackend()
	backend.status = types.ReceiptStatusFailed

	payments, err := NewPayments(paymentsAddress, backend, newIssuer(t), nil)
	require.NoError(t, err)

	receipt, err := payments.PayInCUSD(t.Context(), common.HexToAddress("0xabc"), big.NewInt(1e16))
	require.ErrorIs(t, err, ErrReverted)
	assert.NotErrorIs(t, err, ErrRejected)

	// The receipt of a reverted transaction is still returned.
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(7), receipt.BlockNumber)
	assert.Len(t, backend.transactions(), 1)
}

func TestTransactRejected(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted: Attestation to be revoked does not exist")

	registry, err := NewFederatedAttestations(registryAddress, backend, newIssuer(t), nil)
	require.NoError(t, err)

	_, err = registry.RevokeAttestation(t.Context(), [32]byte{1}, common.HexToAddress("0x1"),
		common.HexToAddress("0x2"))
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Empty(t, backend.transactions())
}

func TestWaitMinedFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptErr = ethereum.NotFound

	payments, err := NewPayments(paymentsAddress, backend, newIssuer(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err = payments.PayInCUSD(ctx, common.HexToAddress("0xabc"), big.NewInt(1e16))
	require.ErrorIs(t, err, ErrRejected)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	sent := backend.transactions()
	require.Len(t, sent, 1)
	assert.Contains(t, err.Error(), sent[0].Hash().Hex())
}

func TestCall(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(StableTokenABI))
	require.NoError(t, err)

	backend := newFakeBackend()
	backend.callOut, err = parsed.Methods[MethodAllowance].Outputs.Pack(big.NewInt(1234))
	require.NoError(t, err)

	token, err := NewStableToken(tokenAddress, backend, newIssuer(t), nil)
	require.NoError(t, err)

	allowance, err := token.Allowance(t.Context(), common.HexToAddress("0x1"), paymentsAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), allowance.Int64())

	backend.callErr = errors.New("connection refused")

	_, err = token.Allowance(t.Context(), common.HexToAddress("0x1"), paymentsAddress)
	require.ErrorIs(t, err, ErrCall)
	assert.Empty(t, backend.transactions())
}
