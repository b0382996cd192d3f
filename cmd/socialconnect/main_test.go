// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytemare/socialconnect"
	"github.com/bytemare/socialconnect/blinding"
	"github.com/bytemare/socialconnect/config"
	"github.com/bytemare/socialconnect/internal/devnet"
	"github.com/bytemare/socialconnect/quota"
	"github.com/bytemare/socialconnect/registry"
	"github.com/bytemare/socialconnect/service"
	"github.com/bytemare/socialconnect/signer"
)

const rawAccount = "0x0000000000000000000000000000000000000abc"

// account is rawAccount as the commands print it, in checksum case.
var account = common.HexToAddress(rawAccount).Hex()

// devnetDialer builds the stack against an in-memory network instead of a ledger node.
func devnetDialer(net *devnet.Network) dialer {
	return func(_ context.Context, cfg *config.Config, logger *slog.Logger) (*socialconnect.Stack, error) {
		issuer, err := signer.NewIssuer(cfg.IssuerKey, cfg.ChainID)
		if err != nil {
			return nil, err
		}

		addr := issuer.Address()

		svc, err := service.NewClient(cfg.Service, addr, issuer.WalletSigner(), service.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		m := quota.NewManager(addr, svc, net.Chain.Token(addr), net.Chain.Payments(addr), logger)

		c, err := socialconnect.New(m, blinding.NewClient(svc, logger),
			registry.NewClient(net.Chain.Attestations(addr), addr, logger),
			socialconnect.Options{Fee: cfg.Fee, Logger: logger})
		if err != nil {
			return nil, err
		}

		return &socialconnect.Stack{Connector: c, Issuer: issuer, Service: svc, Quota: m}, nil
	}
}

type harness struct {
	net    *devnet.Network
	dial   dialer
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	net := devnet.Start(devnet.NodeConfig{Seed: []byte("cli")})
	t.Cleanup(net.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	net.Chain.Fund(crypto.PubkeyToAddress(key.PublicKey), big.NewInt(1e17))

	t.Setenv(config.EnvIssuerKey, hex.EncodeToString(crypto.FromECDSA(key)))
	t.Setenv(configEnvKey, "")

	data := []byte("network: devnet\nservice:\n  publicKey: " + net.Node.PublicKey() +
		"\n  endpoints:\n    - " + net.Server.URL + "\nlog:\n  level: error\n")
	path := filepath.Join(t.TempDir(), "socialconnect.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return &harness{net: net, dial: devnetDialer(net), config: path}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd(h.dial, &out)
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	err := cmd.ExecuteContext(t.Context())

	return out.String(), err
}

func TestCommands(t *testing.T) {
	cmd := newRootCmd(nil, nil)

	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"status", "quota", "obfuscate", "register", "lookup", "resolve", "revoke"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup(configFlagName))
	assert.NotNil(t, cmd.PersistentFlags().Lookup(prefixFlagName))
}

func TestRegisterResolveRevoke(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "register", "alice", rawAccount)
	require.NoError(t, err)

	var registered attestationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &registered))
	assert.Equal(t, account, registered.Account)

	out, err = h.run(t, "resolve", "alice")
	require.NoError(t, err)

	var resolved attestationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &resolved))
	assert.Equal(t, account, resolved.Account)
	assert.Equal(t, registered.Identifier, resolved.Identifier)
	assert.NotNil(t, resolved.PublishedOn)

	out, err = h.run(t, "lookup", "alice", "--issuer", registered.Issuer)
	require.NoError(t, err)

	var found []attestationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	assert.Len(t, found, 1)

	_, err = h.run(t, "revoke", "alice", rawAccount)
	require.NoError(t, err)

	_, err = h.run(t, "resolve", "alice")
	require.ErrorIs(t, err, socialconnect.ErrNotFound)
}

func TestObfuscatePrefix(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "obfuscate", "bob")
	require.NoError(t, err)

	var gh obfuscationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &gh))
	assert.Len(t, gh.Pepper, blinding.PepperLength)

	out, err = h.run(t, "--prefix", "TWITTER", "obfuscate", "bob")
	require.NoError(t, err)

	var tw obfuscationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &tw))
	assert.NotEqual(t, gh.Identifier, tw.Identifier)

	_, err = h.run(t, "--prefix", "myspace", "obfuscate", "bob")
	require.Error(t, err)
}

func TestQuotaTopUp(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "quota")
	require.NoError(t, err)

	var before quotaOutput
	require.NoError(t, json.Unmarshal([]byte(out), &before))
	assert.Zero(t, before.RemainingQuota)
	assert.Empty(t, before.Transitions)

	out, err = h.run(t, "quota", "--top-up")
	require.NoError(t, err)

	var after quotaOutput
	require.NoError(t, json.Unmarshal([]byte(out), &after))
	assert.True(t, after.Paid)
	assert.Equal(t, 10, after.RemainingQuota)
	assert.Equal(t, []string{
		quota.Check.String(),
		quota.TopUpCheckAllowance.String(),
		quota.TopUpIncreaseAllowance.String(),
		quota.TopUpPay.String(),
		quota.OK.String(),
	}, after.Transitions)
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "status")
	require.NoError(t, err)

	var status service.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, h.net.Node.PublicKey(), status.PublicKey)
}

func TestInvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "register", "alice", "not-an-account")
	require.ErrorIs(t, err, errInvalidAccount)

	_, err = h.run(t, "lookup", "alice", "--issuer", "nope")
	require.ErrorIs(t, err, errInvalidAccount)

	_, err = h.run(t, "register", "alice")
	require.Error(t, err)

	t.Setenv(config.EnvIssuerKey, "")

	_, err = h.run(t, "obfuscate", "alice")
	require.ErrorIs(t, err, config.ErrInvalid)
}
