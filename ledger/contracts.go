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
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bytemare/socialconnect/signer"
)

var errOutputShape = errors.New("unexpected output shape")

// StableToken is the stable-value token paying for quota.
type StableToken struct {
	*contract
}

// NewStableToken binds the token at address.
func NewStableToken(address common.Address, backend Backend, issuer *signer.Issuer, logger *slog.Logger,
) (*StableToken, error) {
	c, err := newContract("StableToken", StableTokenABI, address, backend, issuer, logger)
	if err != nil {
		return nil, err
	}

	return &StableToken{contract: c}, nil
}

// Allowance returns how much spender may spend on behalf of owner.
func (t *StableToken) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.call(ctx, MethodAllowance, owner, spender)
	if err != nil {
		return nil, err
	}

	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s: %w", ErrCall, MethodAllowance, errOutputShape)
	}

	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// IncreaseAllowance raises the issuer's allowance to spender by amount.
func (t *StableToken) IncreaseAllowance(ctx context.Context, spender common.Address, amount *big.Int,
) (*Receipt, error) {
	return t.transact(ctx, MethodIncreaseAllowance, spender, amount)
}

// Payments is the contract crediting evaluation quota against token payments.
type Payments struct {
	*contract
}

// NewPayments binds the payments contract at address.
func NewPayments(address common.Address, backend Backend, issuer *signer.Issuer, logger *slog.Logger,
) (*Payments, error) {
	c, err := newContract("OdisPayments", OdisPaymentsABI, address, backend, issuer, logger)
	if err != nil {
		return nil, err
	}

	return &Payments{contract: c}, nil
}

// Address returns the contract address, which is the spender of the token allowance.
func (p *Payments) Address() common.Address {
	return p.address
}

// PayInCUSD pays amount of stable token for account's quota.
func (p *Payments) PayInCUSD(ctx context.Context, account common.Address, amount *big.Int) (*Receipt, error) {
	return p.transact(ctx, MethodPayInCUSD, account, amount)
}

// Lookup is the raw output of lookupAttestations, grouped by issuer in the order of the queried issuers.
type Lookup struct {
	CountsPerIssuer []*big.Int
	Accounts        []common.Address
	Signers         []common.Address
	IssuedOns       []uint64
	PublishedOns    []uint64
}

// FederatedAttestations is the attestation registry.
type FederatedAttestations struct {
	*contract
}

// NewFederatedAttestations binds the registry at address.
func NewFederatedAttestations(address common.Address, backend Backend, issuer *signer.Issuer, logger *slog.Logger,
) (*FederatedAttestations, error) {
	c, err := newContract("FederatedAttestations", FederatedAttestationsABI, address, backend, issuer, logger)
	if err != nil {
		return nil, err
	}

	return &FederatedAttestations{contract: c}, nil
}

// RegisterAttestationAsIssuer records that account owns identifier, as attested by the issuer at issuedOn.
func (f *FederatedAttestations) RegisterAttestationAsIssuer(ctx context.Context, identifier [32]byte,
	account common.Address, issuedOn uint64,
) (*Receipt, error) {
	return f.transact(ctx, MethodRegister, identifier, account, issuedOn)
}

// LookupAttestations returns the active attestations of identifier by the given issuers.
func (f *FederatedAttestations) LookupAttestations(ctx context.Context, identifier [32]byte,
	issuers []common.Address,
) (*Lookup, error) {
	out, err := f.call(ctx, MethodLookup, identifier, issuers)
	if err != nil {
		return nil, err
	}

	if len(out) != 5 {
		return nil, fmt.Errorf("%w: %s: %w", ErrCall, MethodLookup, errOutputShape)
	}

	l := &Lookup{
		CountsPerIssuer: *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int),
		Accounts:        *abi.ConvertType(out[1], new([]common.Address)).(*[]common.Address),
		Signers:         *abi.ConvertType(out[2], new([]common.Address)).(*[]common.Address),
		IssuedOns:       *abi.ConvertType(out[3], new([]uint64)).(*[]uint64),
		PublishedOns:    *abi.ConvertType(out[4], new([]uint64)).(*[]uint64),
	}

	if len(l.Accounts) != len(l.Signers) || len(l.Accounts) != len(l.IssuedOns) ||
		len(l.Accounts) != len(l.PublishedOns) || len(l.CountsPerIssuer) != len(issuers) {
		return nil, fmt.Errorf("%w: %s: %w", ErrCall, MethodLookup, errOutputShape)
	}

	return l, nil
}

// RevokeAttestation revokes the attestation of identifier to account by issuer.
func (f *FederatedAttestations) RevokeAttestation(ctx context.Context, identifier [32]byte,
	issuer, account common.Address,
) (*Receipt, error) {
	return f.transact(ctx, MethodRevoke, identifier, issuer, account)
}
