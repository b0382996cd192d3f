// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package service_test

import (
	"crypto/ecdsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytemare/ecc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytemare/socialconnect/internal/devnet"
	"github.com/bytemare/socialconnect/internal/oprf"
	"github.com/bytemare/socialconnect/service"
	"github.com/bytemare/socialconnect/signer"
)

func newWallet(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func newClient(t *testing.T, net *devnet.Network) (*service.Client, common.Address) {
	t.Helper()

	sc, err := net.ServiceContext()
	require.NoError(t, err)

	key, addr := newWallet(t)

	c, err := service.NewClient(sc, addr, signer.NewWalletKeySigner(key), service.WithTimeout(5*time.Second))
	require.NoError(t, err)

	return c, addr
}

func blindedQuery(t *testing.T, sc *service.Context) []byte {
	t.Helper()

	round, err := oprf.NewClient(sc.Ciphersuite(), sc.PublicKey())
	require.NoError(t, err)

	blinded, err := round.Blind([]byte("github://alice"))
	require.NoError(t, err)

	return blinded.Encode()
}

func TestQuotaAndSign(t *testing.T) {
	net := devnet.Start(devnet.NodeConfig{Seed: []byte("seed")})
	defer net.Close()

	c, addr := newClient(t, net)
	ctx := t.Context()

	status, err := c.QuotaStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.RemainingQuota)

	_, err = c.Sign(ctx, blindedQuery(t, c.Context()))
	assert.ErrorIs(t, err, service.ErrQuotaExhausted)

	net.Quotas.Credit(addr, 2)

	resp, err := c.Sign(ctx, blindedQuery(t, c.Context()))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.PerformedQueryCount)
	assert.Equal(t, 2, resp.TotalQuota)
	assert.Equal(t, 1, resp.KeyVersion)
	require.NotNil(t, resp.Evaluation)
	assert.Len(t, resp.Evaluation.Evaluations, 1)

	status, err = c.QuotaStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.RemainingQuota)
	assert.Equal(t, 1, status.PerformedQueryCount)
}

func TestUnauthorized(t *testing.T) {
	net := devnet.Start(devnet.NodeConfig{})
	defer net.Close()

	sc, err := net.ServiceContext()
	require.NoError(t, err)

	key, _ := newWallet(t)
	_, someoneElse := newWallet(t)

	c, err := service.NewClient(sc, someoneElse, signer.NewWalletKeySigner(key))
	require.NoError(t, err)

	_, err = c.QuotaStatus(t.Context())
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestServiceUnavailable(t *testing.T) {
	net := devnet.Start(devnet.NodeConfig{})
	c, _ := newClient(t, net)
	net.Close()

	_, err := c.QuotaStatus(t.Context())
	assert.ErrorIs(t, err, service.ErrServiceUnavailable)

	_, err = c.Status(t.Context())
	assert.ErrorIs(t, err, service.ErrServiceUnavailable)
}

func TestStatus(t *testing.T) {
	net := devnet.Start(devnet.NodeConfig{Seed: []byte("seed"), KeyVersion: 2})
	defer net.Close()

	c, _ := newClient(t, net)

	status, err := c.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, net.Node.PublicKey(), status.PublicKey)
	assert.Equal(t, 2, status.KeyVersion)
	assert.Equal(t, service.ProtocolVersion, status.Version)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"quota", http.StatusForbidden, `{"error":"ODIS_QUOTA_ERROR"}`, service.ErrQuotaExhausted},
		{"forbidden", http.StatusForbidden, `{"error":"nope"}`, service.ErrUnauthorized},
		{"unauthorized", http.StatusUnauthorized, `{}`, service.ErrUnauthorized},
		{"throttled", http.StatusTooManyRequests, `{}`, service.ErrServiceUnavailable},
		{"internal", http.StatusInternalServerError, `oops`, service.ErrServiceUnavailable},
		{"bad gateway", http.StatusBadGateway, ``, service.ErrServiceUnavailable},
		{"not found", http.StatusNotFound, `{}`, service.ErrProtocolViolation},
		{"garbage", http.StatusOK, `{"success":`, service.ErrProtocolViolation},
		{"unsuccessful", http.StatusOK, `{"success":false}`, service.ErrProtocolViolation},
		{"negative quota", http.StatusOK, `{"success":true,"remainingQuota":-1}`, service.ErrProtocolViolation},
	}

	key, addr := newWallet(t)

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(test.status)
				_, _ = w.Write([]byte(test.body))
			}))
			defer srv.Close()

			pk := ecc.Secp256k1Sha256.Base().Multiply(ecc.Secp256k1Sha256.NewScalar().Random())
			sc, err := service.NewContext("test", []string{srv.URL}, "secp256k1-SHA256",
				common.Bytes2Hex(pk.Encode()), 1)
			require.NoError(t, err)

			c, err := service.NewClient(sc, addr, signer.NewWalletKeySigner(key))
			require.NoError(t, err)

			_, err = c.QuotaStatus(t.Context())
			assert.ErrorIs(t, err, test.target)
		})
	}
}

func TestSignUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	key, addr := newWallet(t)
	pk := ecc.P256Sha256.Base().Multiply(ecc.P256Sha256.NewScalar().Random())

	sc, err := service.NewContext("test", []string{srv.URL + "/"}, "P256-SHA256", common.Bytes2Hex(pk.Encode()), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL}, sc.Endpoints())

	c, err := service.NewClient(sc, addr, signer.NewWalletKeySigner(key))
	require.NoError(t, err)

	_, err = c.Sign(t.Context(), []byte{1})
	assert.ErrorIs(t, err, service.ErrProtocolViolation)
}

func TestNewContext(t *testing.T) {
	pk := ecc.Secp256k1Sha256.Base().Multiply(ecc.Secp256k1Sha256.NewScalar().Random())
	hexKey := "0x" + common.Bytes2Hex(pk.Encode())

	_, err := service.NewContext("x", nil, "secp256k1-SHA256", hexKey, 1)
	assert.Error(t, err)

	_, err = service.NewContext("x", []string{"ftp://host"}, "secp256k1-SHA256", hexKey, 1)
	assert.Error(t, err)

	_, err = service.NewContext("x", []string{"https://"}, "secp256k1-SHA256", hexKey, 1)
	assert.Error(t, err)

	_, err = service.NewContext("x", []string{"https://odis.example"}, "edwards25519", hexKey, 1)
	assert.Error(t, err)

	_, err = service.NewContext("x", []string{"https://odis.example"}, "secp256k1-SHA256", "0xzz", 1)
	assert.Error(t, err)

	identity := ecc.Secp256k1Sha256.NewElement().Identity()
	_, err = service.DecodePublicKey(ecc.Secp256k1Sha256, common.Bytes2Hex(identity.Encode()))
	assert.Error(t, err)

	sc, err := service.NewContext("alfajores", []string{"https://a.example", "https://b.example/"},
		"secp256k1-SHA256", hexKey, 1)
	require.NoError(t, err)
	assert.Equal(t, "alfajores", sc.Name())
	assert.Equal(t, ecc.Secp256k1Sha256, sc.Ciphersuite())
	assert.True(t, sc.PublicKey().Equal(pk))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, sc.Endpoints())
}

func TestNilAuth(t *testing.T) {
	_, err := service.NewClient(nil, common.Address{}, nil)
	assert.Error(t, err)
}
