// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package main

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytemare/socialconnect/internal/devnet"
	"github.com/bytemare/socialconnect/ledger"
	"github.com/bytemare/socialconnect/service"
	"github.com/bytemare/socialconnect/signer"
)

type mockServer struct {
	addr    string
	handler http.Handler
}

func (m *mockServer) Serve(_ context.Context, addr string, h http.Handler) error {
	m.addr = addr
	m.handler = h

	return nil
}

func run(t *testing.T, args ...string) (*mockServer, error) {
	t.Helper()

	srv := &mockServer{}
	cmd := newRootCmd(srv)
	cmd.SetArgs(append(args, "--log-level", "error"))

	return srv, cmd.ExecuteContext(t.Context())
}

func TestStartCmdContents(t *testing.T) {
	cmd := newRootCmd(&mockServer{})

	require.Equal(t, "oprf-devnode", cmd.Use)

	for _, name := range []string{
		addrFlagName, seedFlagName, suiteFlagName, keyVersionFlagName, rateFlagName,
		burstFlagName, creditFlagName, fundFlagName, chainIDFlagName, logLevelFlagName, logFormatFlagName,
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestServeNode(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	account := crypto.PubkeyToAddress(key.PublicKey)

	srv, err := run(t, "--seed", "fixed", "--key-version", "3", "--credit", account.Hex()+"=5",
		"--fund", account.Hex()+"=1000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", srv.addr)

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	sc, err := service.NewContext("devnode", []string{ts.URL}, "secp256k1-SHA256",
		"02"+"79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", 3)
	require.NoError(t, err)

	c, err := service.NewClient(sc, account, signer.NewWalletKeySigner(key))
	require.NoError(t, err)

	status, err := c.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, status.KeyVersion)
	assert.NotEmpty(t, status.PublicKey)

	quota, err := c.QuotaStatus(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, quota.RemainingQuota)

	// Same seed, same key.
	again, err := run(t, "--seed", "fixed")
	require.NoError(t, err)

	ts2 := httptest.NewServer(again.handler)
	defer ts2.Close()

	sc2, err := service.NewContext("devnode", []string{ts2.URL}, "secp256k1-SHA256", status.PublicKey, 1)
	require.NoError(t, err)

	c2, err := service.NewClient(sc2, account, signer.NewWalletKeySigner(key))
	require.NoError(t, err)

	status2, err := c2.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, status.PublicKey, status2.PublicKey)
}

func TestServeLedger(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	account := crypto.PubkeyToAddress(key.PublicKey)
	fee := big.NewInt(1e16)

	srv, err := run(t, "--chain-id", "42", "--fund", account.Hex()+"="+fee.String())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	client, err := ledger.Dial(t.Context(), ts.URL+devnet.LedgerPath)
	require.NoError(t, err)
	defer client.Close()

	chainID, err := client.ChainID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(42), chainID.Int64())

	issuer, err := signer.NewIssuer(hex.EncodeToString(crypto.FromECDSA(key)), chainID)
	require.NoError(t, err)

	token, err := ledger.NewStableToken(devnet.TokenAddress, client, issuer, nil)
	require.NoError(t, err)

	payments, err := ledger.NewPayments(devnet.PaymentsAddress, client, issuer, nil)
	require.NoError(t, err)

	_, err = token.IncreaseAllowance(t.Context(), devnet.PaymentsAddress, fee)
	require.NoError(t, err)

	// The funded balance covers exactly one payment.
	_, err = payments.PayInCUSD(t.Context(), account, fee)
	require.NoError(t, err)

	_, err = token.IncreaseAllowance(t.Context(), devnet.PaymentsAddress, fee)
	require.NoError(t, err)

	_, err = payments.PayInCUSD(t.Context(), account, fee)
	require.ErrorIs(t, err, ledger.ErrReverted)

	sc, err := service.NewContext("devnode", []string{ts.URL}, "secp256k1-SHA256",
		"02"+"79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", 1)
	require.NoError(t, err)

	c, err := service.NewClient(sc, account, signer.NewWalletKeySigner(key))
	require.NoError(t, err)

	quota, err := c.QuotaStatus(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 10, quota.RemainingQuota)
}

func TestAddrFromEnv(t *testing.T) {
	t.Setenv(addrEnvKey, "0.0.0.0:9999")

	srv, err := run(t)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", srv.addr)

	srv, err = run(t, "--addr", "127.0.0.1:7000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", srv.addr)
}

func TestInvalidFlags(t *testing.T) {
	for name, args := range map[string][]string{
		"ciphersuite":  {"--ciphersuite", "P-1"},
		"credit":       {"--credit", "nope=1"},
		"credit range": {"--credit", "0x0000000000000000000000000000000000000abc=99999999999"},
		"fund":         {"--fund", "0x0000000000000000000000000000000000000abc=-1"},
		"chain id":     {"--chain-id", "0"},
		"log format":   {"--log-format", "xml"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, args...)
			require.Error(t, err)
		})
	}
}

func TestHTTPServerShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := httpServer{}.Serve(ctx, "127.0.0.1:0", http.NotFoundHandler())
	assert.NoError(t, err)
}
