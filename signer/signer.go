// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package signer holds the issuer's credentials: the ledger signing key and the credential authenticating requests
// to the evaluation service.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// AuthenticationMethod identifies how requests to the evaluation service are authenticated.
type AuthenticationMethod string

const (
	// EncryptionKey authenticates with the issuer's registered data encryption key (DEK).
	EncryptionKey AuthenticationMethod = "encryption_key"

	// WalletKey authenticates with the issuer's account key.
	WalletKey AuthenticationMethod = "wallet_key"
)

var (
	errNoKey             = errors.New("signer: empty private key")
	errSignatureLength   = errors.New("signer: invalid signature length")
	errUnknownAuthMethod = errors.New("signer: unknown authentication method")
)

// An AuthSigner produces the Authorization header value over a request body.
type AuthSigner interface {
	Method() AuthenticationMethod
	Sign(body []byte) (string, error)
}

// ParseAuthenticationMethod validates s as a known authentication method.
func ParseAuthenticationMethod(s string) (AuthenticationMethod, error) {
	switch m := AuthenticationMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case EncryptionKey, WalletKey:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownAuthMethod, s)
	}
}

// KeySigner signs request bodies with a secp256k1 key, as an EIP-191 personal message.
type KeySigner struct {
	key    *ecdsa.PrivateKey
	method AuthenticationMethod
}

// NewEncryptionKeySigner returns a signer from the hex encoded raw data encryption key.
func NewEncryptionKeySigner(rawKey string) (*KeySigner, error) {
	key, err := ParsePrivateKey(rawKey)
	if err != nil {
		return nil, err
	}

	return &KeySigner{key: key, method: EncryptionKey}, nil
}

// NewWalletKeySigner returns a signer authenticating with the account key itself.
func NewWalletKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, method: WalletKey}
}

// Method implements AuthSigner.
func (s *KeySigner) Method() AuthenticationMethod {
	return s.method
}

// Sign implements AuthSigner.
func (s *KeySigner) Sign(body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(body), s.key)
	if err != nil {
		return "", fmt.Errorf("signer: %w", err)
	}

	return hexutil.Encode(sig), nil
}

// PublicKey returns the public half of the signing key.
func (s *KeySigner) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// Recover returns the public key that produced the Authorization header over body.
func Recover(body []byte, header string) (*ecdsa.PublicKey, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	if len(sig) != crypto.SignatureLength {
		return nil, errSignatureLength
	}

	pub, err := crypto.SigToPub(accounts.TextHash(body), sig)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	return pub, nil
}

// ParsePrivateKey decodes a hex encoded secp256k1 private key, with or without 0x prefix.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errNoKey
	}

	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	return key, nil
}

// Issuer is the attesting party: its account address and the key signing its ledger transactions.
type Issuer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewIssuer returns the issuer for the hex encoded private key on the given chain.
func NewIssuer(rawKey string, chainID *big.Int) (*Issuer, error) {
	key, err := ParsePrivateKey(rawKey)
	if err != nil {
		return nil, err
	}

	return &Issuer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// Address returns the issuer's account address.
func (i *Issuer) Address() common.Address {
	return i.address
}

// WalletSigner returns an AuthSigner using the issuer's account key.
func (i *Issuer) WalletSigner() *KeySigner {
	return NewWalletKeySigner(i.key)
}

// TransactOpts returns fresh transaction options bound to ctx. A new value is built for every transaction so that
// nonce and gas are always estimated against the current ledger state.
func (i *Issuer) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(i.key, i.chainID)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	opts.Context = ctx

	return opts, nil
}
