// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package ledger binds the three contracts the engine talks to: the federated attestations registry, the evaluation
// service payments contract and the stable-value token. Every mutating call submits exactly one transaction and waits
// for its receipt.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bytemare/socialconnect/signer"
)

var (
	// ErrRejected is returned when a transaction can't be submitted, e.g. because gas estimation reverts.
	ErrRejected = errors.New("transaction rejected")

	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("transaction reverted")

	// ErrCall is returned when a read-only call fails.
	ErrCall = errors.New("contract call failed")
)

// Backend is what the bindings need from a node connection. *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Receipt is the confirmation of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Dial connects to the node at rawURL.
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dialing %s: %w", rawURL, err)
	}

	return c, nil
}

type contract struct {
	name    string
	address common.Address
	bound   *bind.BoundContract
	backend Backend
	issuer  *signer.Issuer
	logger  *slog.Logger
}

func newContract(name, rawABI string, address common.Address, backend Backend, issuer *signer.Issuer,
	logger *slog.Logger,
) (*contract, error) {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parsing %s ABI: %w", name, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &contract{
		name:    name,
		address: address,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend: backend,
		issuer:  issuer,
		logger:  logger.With("contract", name),
	}, nil
}

func (c *contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any

	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrCall, c.name, method, err)
	}

	return out, nil
}

// transact submits one transaction and blocks until it is mined.
func (c *contract) transact(ctx context.Context, method string, args ...any) (*Receipt, error) {
	opts, err := c.issuer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrRejected, c.name, method, err)
	}

	c.logger.InfoContext(ctx, "transaction submitted", "method", method, "tx", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: waiting for %s: %w", ErrRejected, c.name, method, tx.Hash().Hex(), err)
	}

	r := &Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		c.logger.WarnContext(ctx, "transaction reverted", "method", method, "tx", tx.Hash().Hex())
		return r, fmt.Errorf("%w: %s.%s in %s", ErrReverted, c.name, method, tx.Hash().Hex())
	}

	c.logger.InfoContext(ctx, "transaction mined", "method", method, "tx", tx.Hash().Hex(), "block", r.BlockNumber)

	return r, nil
}
