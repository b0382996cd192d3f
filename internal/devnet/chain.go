// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package devnet is an in-process stand-in for the engine's collaborators: a ledger with the stable token, payments
// and federated attestations contracts, and an evaluation node serving the service wire protocol. It backs the tests
// and local runs of cmd/oprf-devnode.
package devnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bytemare/socialconnect/ledger"
)

const (
	revertInsufficientAllowance = "insufficient allowance"
	revertInsufficientBalance   = "transfer value exceeded balance of sender"
	revertRevokeMissing         = "Attestation to be revoked does not exist"
	revertRevokePermission      = "Sender does not have permission to revoke this attestation"
)

// DefaultQueryPrice is the stable token amount buying one evaluation.
var DefaultQueryPrice = big.NewInt(1e15)

var (
	// PaymentsAddress is where the payments contract lives on the dev chain.
	PaymentsAddress = common.HexToAddress("0x645170cdB6B5c1bc80847bb728dBa56C50a20a49")

	// TokenAddress is where the stable token lives on the dev chain.
	TokenAddress = common.HexToAddress("0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1")

	// RegistryAddress is where the federated attestations registry lives on the dev chain.
	RegistryAddress = common.HexToAddress("0x70F9314aF173c246669cFb0EEe79F9Cfd9C34ee3")

	errReverted = errors.New("execution reverted")
)

type attestation struct {
	account     common.Address
	issuer      common.Address
	signer      common.Address
	issuedOn    uint64
	publishedOn uint64
	revoked     bool
}

// Chain is an in-memory ledger. Every mutating call mines its own block.
type Chain struct {
	mu           sync.Mutex
	block        uint64
	now          func() time.Time
	price        *big.Int
	quotas       *Quotas
	failures     map[string]error
	calls        map[string]int
	balances     map[common.Address]*big.Int
	allowances   map[[2]common.Address]*big.Int
	attestations map[[32]byte][]*attestation
}

// NewChain returns an empty chain crediting quotas with one evaluation per DefaultQueryPrice paid.
func NewChain(quotas *Quotas) *Chain {
	return &Chain{
		now:          time.Now,
		price:        DefaultQueryPrice,
		quotas:       quotas,
		failures:     make(map[string]error),
		calls:        make(map[string]int),
		balances:     make(map[common.Address]*big.Int),
		allowances:   make(map[[2]common.Address]*big.Int),
		attestations: make(map[[32]byte][]*attestation),
	}
}

// SetClock replaces the clock stamping publication times.
func (c *Chain) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}

// BlockNumber returns the current block height.
func (c *Chain) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.block
}

// Fund mints amount of stable token to account.
func (c *Chain) Fund(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.balanceOf(account).Add(c.balanceOf(account), amount)
}

// Balance returns account's stable token balance.
func (c *Chain) Balance(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return new(big.Int).Set(c.balanceOf(account))
}

// FailNext makes the next call to method fail with err, before any state change.
func (c *Chain) FailNext(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures[method] = err
}

// Calls returns how many times method was called, failed calls included.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[method]
}

// Token returns the stable token as seen by sender.
func (c *Chain) Token(sender common.Address) *Token {
	return &Token{chain: c, sender: sender}
}

// Payments returns the payments contract as seen by sender.
func (c *Chain) Payments(sender common.Address) *Payments {
	return &Payments{chain: c, sender: sender}
}

// Attestations returns the federated attestations registry as seen by sender.
func (c *Chain) Attestations(sender common.Address) *Attestations {
	return &Attestations{chain: c, sender: sender}
}

// enter must be called with the lock held. It counts the call and returns the injected failure, if any.
func (c *Chain) enter(ctx context.Context, method string) error {
	c.calls[method]++

	if err := ctx.Err(); err != nil {
		return err
	}

	if err, ok := c.failures[method]; ok {
		delete(c.failures, method)
		return err
	}

	return nil
}

func (c *Chain) mine(method string) *ledger.Receipt {
	c.block++

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], c.block)

	return &ledger.Receipt{
		TxHash:      crypto.Keccak256Hash(b[:], []byte(method)),
		BlockNumber: c.block,
		GasUsed:     21000,
	}
}

func (c *Chain) balanceOf(account common.Address) *big.Int {
	b, ok := c.balances[account]
	if !ok {
		b = new(big.Int)
		c.balances[account] = b
	}

	return b
}

func (c *Chain) allowanceOf(owner, spender common.Address) *big.Int {
	a, ok := c.allowances[[2]common.Address{owner, spender}]
	if !ok {
		a = new(big.Int)
		c.allowances[[2]common.Address{owner, spender}] = a
	}

	return a
}

func revert(method, reason string) error {
	return fmt.Errorf("%w: %s: %w: %s", ledger.ErrRejected, method, errReverted, reason)
}

// Token is the stable token bound to a sender. It implements quota.Token.
type Token struct {
	chain  *Chain
	sender common.Address
}

// Allowance returns how much spender may spend on behalf of owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	t.chain.mu.Lock()
	defer t.chain.mu.Unlock()

	if err := t.chain.enter(ctx, ledger.MethodAllowance); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ledger.ErrCall, ledger.MethodAllowance, err)
	}

	return new(big.Int).Set(t.chain.allowanceOf(owner, spender)), nil
}

// IncreaseAllowance raises the sender's allowance to spender by amount.
func (t *Token) IncreaseAllowance(ctx context.Context, spender common.Address, amount *big.Int,
) (*ledger.Receipt, error) {
	t.chain.mu.Lock()
	defer t.chain.mu.Unlock()

	if err := t.chain.enter(ctx, ledger.MethodIncreaseAllowance); err != nil {
		return nil, err
	}

	a := t.chain.allowanceOf(t.sender, spender)
	a.Add(a, amount)

	return t.chain.mine(ledger.MethodIncreaseAllowance), nil
}

// Payments is the payments contract bound to a sender. It implements quota.Payments.
type Payments struct {
	chain  *Chain
	sender common.Address
}

// Address returns the contract address.
func (p *Payments) Address() common.Address {
	return PaymentsAddress
}

// PayInCUSD moves amount of the sender's token to the contract, and credits account with the quota it buys.
func (p *Payments) PayInCUSD(ctx context.Context, account common.Address, amount *big.Int) (*ledger.Receipt, error) {
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, ledger.MethodPayInCUSD); err != nil {
		return nil, err
	}

	allowance := c.allowanceOf(p.sender, PaymentsAddress)
	if allowance.Cmp(amount) < 0 {
		return nil, revert(ledger.MethodPayInCUSD, revertInsufficientAllowance)
	}

	balance := c.balanceOf(p.sender)
	if balance.Cmp(amount) < 0 {
		return nil, revert(ledger.MethodPayInCUSD, revertInsufficientBalance)
	}

	allowance.Sub(allowance, amount)
	balance.Sub(balance, amount)
	c.balanceOf(PaymentsAddress).Add(c.balanceOf(PaymentsAddress), amount)

	if c.quotas != nil {
		c.quotas.Credit(account, int(new(big.Int).Quo(amount, c.price).Int64()))
	}

	return c.mine(ledger.MethodPayInCUSD), nil
}

// Attestations is the federated attestations registry bound to a sender. It implements registry.Ledger.
type Attestations struct {
	chain  *Chain
	sender common.Address
}

// RegisterAttestationAsIssuer appends an attestation of identifier to account, issued by the sender.
func (a *Attestations) RegisterAttestationAsIssuer(ctx context.Context, identifier [32]byte, account common.Address,
	issuedOn uint64,
) (*ledger.Receipt, error) {
	c := a.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, ledger.MethodRegister); err != nil {
		return nil, err
	}

	c.attestations[identifier] = append(c.attestations[identifier], &attestation{
		account:     account,
		issuer:      a.sender,
		signer:      a.sender,
		issuedOn:    issuedOn,
		publishedOn: uint64(c.now().Unix()),
	})

	return c.mine(ledger.MethodRegister), nil
}

// LookupAttestations returns the active attestations of identifier, grouped by issuer in the order given.
func (a *Attestations) LookupAttestations(ctx context.Context, identifier [32]byte, issuers []common.Address,
) (*ledger.Lookup, error) {
	c := a.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, ledger.MethodLookup); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ledger.ErrCall, ledger.MethodLookup, err)
	}

	l := &ledger.Lookup{
		CountsPerIssuer: make([]*big.Int, len(issuers)),
		Accounts:        []common.Address{},
		Signers:         []common.Address{},
		IssuedOns:       []uint64{},
		PublishedOns:    []uint64{},
	}

	for i, issuer := range issuers {
		n := int64(0)

		for _, att := range c.attestations[identifier] {
			if att.revoked || att.issuer != issuer {
				continue
			}

			n++
			l.Accounts = append(l.Accounts, att.account)
			l.Signers = append(l.Signers, att.signer)
			l.IssuedOns = append(l.IssuedOns, att.issuedOn)
			l.PublishedOns = append(l.PublishedOns, att.publishedOn)
		}

		l.CountsPerIssuer[i] = big.NewInt(n)
	}

	return l, nil
}

// RevokeAttestation revokes the attestations of identifier to account by issuer. The sender must be the issuer or
// the account.
func (a *Attestations) RevokeAttestation(ctx context.Context, identifier [32]byte, issuer, account common.Address,
) (*ledger.Receipt, error) {
	c := a.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, ledger.MethodRevoke); err != nil {
		return nil, err
	}

	if a.sender != issuer && a.sender != account {
		return nil, revert(ledger.MethodRevoke, revertRevokePermission)
	}

	found := false

	for _, att := range c.attestations[identifier] {
		if !att.revoked && att.issuer == issuer && att.account == account {
			att.revoked = true
			found = true
		}
	}

	if !found {
		return nil, revert(ledger.MethodRevoke, revertRevokeMissing)
	}

	return c.mine(ledger.MethodRevoke), nil
}
