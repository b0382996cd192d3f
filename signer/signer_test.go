// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63"

func TestSignRecover(t *testing.T) {
	s, err := NewEncryptionKeySigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, EncryptionKey, s.Method())

	body := []byte(`{"account":"0x01"}`)
	header, err := s.Sign(body)
	require.NoError(t, err)

	pub, err := Recover(body, header)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(*s.PublicKey()), crypto.PubkeyToAddress(*pub))

	other, err := Recover([]byte(`{"account":"0x02"}`), header)
	require.NoError(t, err)
	assert.NotEqual(t, crypto.PubkeyToAddress(*s.PublicKey()), crypto.PubkeyToAddress(*other))
}

func TestRecoverMalformed(t *testing.T) {
	_, err := Recover([]byte("x"), "not-hex")
	assert.Error(t, err)

	_, err = Recover([]byte("x"), hexutil.Encode([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, errSignatureLength)
}

func TestParsePrivateKey(t *testing.T) {
	_, err := ParsePrivateKey("  ")
	assert.ErrorIs(t, err, errNoKey)

	_, err = ParsePrivateKey("0xzz")
	assert.Error(t, err)

	k1, err := ParsePrivateKey(testKey)
	require.NoError(t, err)
	k2, err := ParsePrivateKey(testKey[2:])
	require.NoError(t, err)
	assert.True(t, k1.Equal(k2))
}

func TestIssuer(t *testing.T) {
	issuer, err := NewIssuer(testKey, big.NewInt(44787))
	require.NoError(t, err)

	key, err := ParsePrivateKey(testKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), issuer.Address())
	assert.Equal(t, WalletKey, issuer.WalletSigner().Method())

	opts, err := issuer.TransactOpts(t.Context())
	require.NoError(t, err)
	assert.Equal(t, issuer.Address(), opts.From)
}

func TestParseAuthenticationMethod(t *testing.T) {
	m, err := ParseAuthenticationMethod(" Wallet_Key ")
	require.NoError(t, err)
	assert.Equal(t, WalletKey, m)

	_, err = ParseAuthenticationMethod("password")
	assert.ErrorIs(t, err, errUnknownAuthMethod)
}
