// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package registry registers, looks up and revokes attestations binding obfuscated identifiers to accounts in the
// ledger-resident federated attestations registry. Nothing is cached: every lookup reads the ledger.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bytemare/socialconnect/blinding"
	"github.com/bytemare/socialconnect/ledger"
)

// revertNotFound is the registry's revert reason for a revocation of a missing attestation.
const revertNotFound = "does not exist"

var (
	// ErrLedgerCallFailed is returned when a registry call or transaction is rejected or reverts.
	ErrLedgerCallFailed = errors.New("ledger call failed")

	// ErrNotFound is returned when no active attestation matches.
	ErrNotFound = errors.New("attestation not found")

	errZeroAccount = errors.New("registry: zero account")
)

// Attestation binds an obfuscated identifier to an account, as attested by an issuer.
type Attestation struct {
	Identifier blinding.ObfuscatedIdentifier
	Account    common.Address
	Issuer     common.Address
	Signer     common.Address
	IssuedOn   time.Time

	// PublishedOn is set by the ledger, and is zero on attestations returned by Register.
	PublishedOn time.Time
}

// Ledger is the registry contract. *ledger.FederatedAttestations implements it.
type Ledger interface {
	RegisterAttestationAsIssuer(ctx context.Context, identifier [32]byte, account common.Address,
		issuedOn uint64) (*ledger.Receipt, error)
	LookupAttestations(ctx context.Context, identifier [32]byte, issuers []common.Address) (*ledger.Lookup, error)
	RevokeAttestation(ctx context.Context, identifier [32]byte, issuer, account common.Address) (*ledger.Receipt, error)
}

// Client operates the registry as the issuer.
type Client struct {
	ledger Ledger
	issuer common.Address
	logger *slog.Logger
}

// NewClient returns a registry client signing as issuer.
func NewClient(l Ledger, issuer common.Address, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{ledger: l, issuer: issuer, logger: logger}
}

// Issuer returns the issuer the client signs as.
func (c *Client) Issuer() common.Address {
	return c.issuer
}

// Register records a new attestation of oid to account. It always appends: registering twice yields two records.
func (c *Client) Register(ctx context.Context, oid blinding.ObfuscatedIdentifier, account common.Address,
	issuedOn time.Time,
) (*Attestation, error) {
	if account == (common.Address{}) {
		return nil, errZeroAccount
	}

	receipt, err := c.ledger.RegisterAttestationAsIssuer(ctx, oid, account, uint64(issuedOn.Unix()))
	if err != nil {
		return nil, fmt.Errorf("%w: register: %w", ErrLedgerCallFailed, err)
	}

	c.logger.InfoContext(ctx, "attestation registered", "obfuscated", oid.Hex(), "account", account.Hex(),
		"tx", receipt.TxHash.Hex())

	return &Attestation{
		Identifier: oid,
		Account:    account,
		Issuer:     c.issuer,
		Signer:     c.issuer,
		IssuedOn:   time.Unix(issuedOn.Unix(), 0).UTC(),
	}, nil
}

// Lookup returns the active attestations of oid by the given issuers, or by the client's issuer if none is given,
// most recent first. It returns an empty slice, not an error, when there are none.
func (c *Client) Lookup(ctx context.Context, oid blinding.ObfuscatedIdentifier, issuers ...common.Address,
) ([]Attestation, error) {
	if len(issuers) == 0 {
		issuers = []common.Address{c.issuer}
	}

	l, err := c.ledger.LookupAttestations(ctx, oid, issuers)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %w", ErrLedgerCallFailed, err)
	}

	attestations, err := flatten(oid, issuers, l)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %w", ErrLedgerCallFailed, err)
	}

	return attestations, nil
}

// Resolve returns the most recent attestation of oid by the issuers, or ErrNotFound.
func (c *Client) Resolve(ctx context.Context, oid blinding.ObfuscatedIdentifier, issuers ...common.Address,
) (*Attestation, error) {
	attestations, err := c.Lookup(ctx, oid, issuers...)
	if err != nil {
		return nil, err
	}

	if len(attestations) == 0 {
		return nil, ErrNotFound
	}

	return &attestations[0], nil
}

// Revoke revokes the attestation of oid to account by issuer. It returns ErrNotFound if there is no such active
// attestation, in which case no transaction is sent.
//
// The attestation can also disappear between the lookup and the transaction. A transaction rejected with the
// registry's "does not exist" revert reason then maps to ErrNotFound. This relies on the node returning the reason
// text, which not all nodes do. A mined transaction that reverted carries no reason, so the attestation is looked up
// again: ErrNotFound if it is gone, ErrLedgerCallFailed otherwise.
func (c *Client) Revoke(ctx context.Context, oid blinding.ObfuscatedIdentifier, issuer, account common.Address) error {
	attestations, err := c.Lookup(ctx, oid, issuer)
	if err != nil {
		return err
	}

	if !contains(attestations, account) {
		return fmt.Errorf("%w: %s to %s by %s", ErrNotFound, oid.Hex(), account.Hex(), issuer.Hex())
	}

	receipt, err := c.ledger.RevokeAttestation(ctx, oid, issuer, account)
	if err != nil {
		if strings.Contains(err.Error(), revertNotFound) || c.revokedMeanwhile(ctx, oid, issuer, account, err) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}

		return fmt.Errorf("%w: revoke: %w", ErrLedgerCallFailed, err)
	}

	c.logger.InfoContext(ctx, "attestation revoked", "obfuscated", oid.Hex(), "account", account.Hex(),
		"tx", receipt.TxHash.Hex())

	return nil
}

// revokedMeanwhile reports whether a reverted revocation failed because the attestation was already gone.
func (c *Client) revokedMeanwhile(ctx context.Context, oid blinding.ObfuscatedIdentifier, issuer,
	account common.Address, revokeErr error,
) bool {
	if !errors.Is(revokeErr, ledger.ErrReverted) {
		return false
	}

	attestations, err := c.Lookup(ctx, oid, issuer)

	return err == nil && !contains(attestations, account)
}

func contains(attestations []Attestation, account common.Address) bool {
	for _, a := range attestations {
		if a.Account == account {
			return true
		}
	}

	return false
}

type indexed struct {
	Attestation
	index int
}

// flatten expands the per-issuer grouped output, and sorts it most recent first. Ties keep the most recently
// recorded first, as the registry appends.
func flatten(oid blinding.ObfuscatedIdentifier, issuers []common.Address, l *ledger.Lookup) ([]Attestation, error) {
	if len(l.CountsPerIssuer) != len(issuers) {
		return nil, fmt.Errorf("got %d issuer counts for %d issuers", len(l.CountsPerIssuer), len(issuers))
	}

	total := new(big.Int)
	for _, n := range l.CountsPerIssuer {
		total.Add(total, n)
	}

	if !total.IsInt64() || total.Int64() != int64(len(l.Accounts)) {
		return nil, fmt.Errorf("issuer counts sum to %s for %d accounts", total, len(l.Accounts))
	}

	list := make([]indexed, 0, len(l.Accounts))
	offset := 0

	for i, n := range l.CountsPerIssuer {
		for j := 0; j < int(n.Int64()); j++ {
			k := offset + j
			list = append(list, indexed{
				Attestation: Attestation{
					Identifier:  oid,
					Account:     l.Accounts[k],
					Issuer:      issuers[i],
					Signer:      l.Signers[k],
					IssuedOn:    time.Unix(int64(l.IssuedOns[k]), 0).UTC(),
					PublishedOn: time.Unix(int64(l.PublishedOns[k]), 0).UTC(),
				},
				index: k,
			})
		}

		offset += int(n.Int64())
	}

	sort.SliceStable(list, func(a, b int) bool {
		if !list[a].IssuedOn.Equal(list[b].IssuedOn) {
			return list[a].IssuedOn.After(list[b].IssuedOn)
		}

		return list[a].index > list[b].index
	})

	out := make([]Attestation, len(list))
	for i := range list {
		out[i] = list[i].Attestation
	}

	return out, nil
}
