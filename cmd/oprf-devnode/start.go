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
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/bytemare/socialconnect/internal/devnet"
	"github.com/bytemare/socialconnect/internal/logging"
	"github.com/bytemare/socialconnect/internal/oprf"
)

const (
	addrFlagName  = "addr"
	addrFlagUsage = "Listen address. Alternatively, this can be set with the following environment variable: " +
		addrEnvKey
	addrEnvKey = "OPRF_DEVNODE_ADDR"

	seedFlagName  = "seed"
	seedFlagUsage = "Seed deriving the evaluation key. A random key is used if empty. " +
		"Alternatively, this can be set with the following environment variable: " + seedEnvKey
	seedEnvKey = "OPRF_DEVNODE_SEED"

	suiteFlagName  = "ciphersuite"
	suiteFlagUsage = "RFC 9497 ciphersuite of the evaluation key."

	keyVersionFlagName  = "key-version"
	keyVersionFlagUsage = "Version announced for the evaluation key."

	rateFlagName  = "rate-limit"
	rateFlagUsage = "Per-account requests per second. 0 disables rate limiting."

	burstFlagName  = "burst"
	burstFlagUsage = "Per-account burst size."

	creditFlagName  = "credit"
	creditFlagUsage = "Initial quota, as address=queries. Repeatable."

	fundFlagName  = "fund"
	fundFlagUsage = "Initial stable token balance, as address=amount. Repeatable."

	chainIDFlagName  = "chain-id"
	chainIDFlagUsage = "Chain ID expected in the signatures of ledger transactions."

	logLevelFlagName  = "log-level"
	logLevelFlagUsage = "Log level: debug, info, warn or error."

	logFormatFlagName  = "log-format"
	logFormatFlagUsage = "Log format: text or json."
)

var (
	errAllocation = errors.New("invalid allocation, expected address=amount")
	errChainID    = errors.New("chain ID must be positive")
)

// server serves h on addr until ctx is done.
type server interface {
	Serve(ctx context.Context, addr string, h http.Handler) error
}

func newRootCmd(srv server) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oprf-devnode",
		Short: "Serve a development evaluation node",
		Long: `Serve a local evaluation node with an in-memory quota book and ledger, for development.
The ledger is reachable over Ethereum JSON-RPC on the ` + devnet.LedgerPath + ` path.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return start(cmd, srv)
		},
	}

	createFlags(cmd)

	return cmd
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().String(addrFlagName, "127.0.0.1:8080", addrFlagUsage)
	cmd.Flags().String(seedFlagName, "", seedFlagUsage)
	cmd.Flags().String(suiteFlagName, oprf.CiphersuiteIdentifier[devnet.DefaultSuite], suiteFlagUsage)
	cmd.Flags().Int(keyVersionFlagName, 1, keyVersionFlagUsage)
	cmd.Flags().Float64(rateFlagName, 0, rateFlagUsage)
	cmd.Flags().Int(burstFlagName, 10, burstFlagUsage)
	cmd.Flags().StringSlice(creditFlagName, nil, creditFlagUsage)
	cmd.Flags().StringSlice(fundFlagName, nil, fundFlagUsage)
	cmd.Flags().Int64(chainIDFlagName, devnet.DefaultChainID.Int64(), chainIDFlagUsage)
	cmd.Flags().String(logLevelFlagName, "info", logLevelFlagUsage)
	cmd.Flags().String(logFormatFlagName, string(logging.Text), logFormatFlagUsage)
}

func start(cmd *cobra.Command, srv server) error {
	flags := cmd.Flags()

	addr, err := getUserSetVar(cmd, addrFlagName, addrEnvKey)
	if err != nil {
		return err
	}

	seed, err := getUserSetVar(cmd, seedFlagName, seedEnvKey)
	if err != nil {
		return err
	}

	rawSuite, _ := flags.GetString(suiteFlagName)

	suite, err := oprf.ParseCiphersuite(rawSuite)
	if err != nil {
		return err
	}

	rawLevel, _ := flags.GetString(logLevelFlagName)

	level, err := logging.ParseLevel(rawLevel)
	if err != nil {
		return err
	}

	format, _ := flags.GetString(logFormatFlagName)

	logger, err := logging.New(logging.Options{Level: level, Format: logging.Format(format)})
	if err != nil {
		return err
	}

	keyVersion, _ := flags.GetInt(keyVersionFlagName)
	rate, _ := flags.GetFloat64(rateFlagName)
	burst, _ := flags.GetInt(burstFlagName)
	credits, _ := flags.GetStringSlice(creditFlagName)
	funds, _ := flags.GetStringSlice(fundFlagName)
	chainID, _ := flags.GetInt64(chainIDFlagName)

	if chainID <= 0 {
		return fmt.Errorf("%w: %d", errChainID, chainID)
	}

	quotas := devnet.NewQuotas()
	chain := devnet.NewChain(quotas)

	for _, c := range credits {
		account, n, err := parseAllocation(c)
		if err != nil {
			return err
		}

		if !n.IsInt64() || n.Int64() > math.MaxInt32 {
			return fmt.Errorf("%w: %q", errAllocation, c)
		}

		quotas.Credit(account, int(n.Int64()))
	}

	for _, f := range funds {
		account, amount, err := parseAllocation(f)
		if err != nil {
			return err
		}

		chain.Fund(account, amount)
	}

	node := devnet.NewNode(devnet.NodeConfig{
		Suite:      suite,
		Seed:       []byte(seed),
		KeyVersion: keyVersion,
		RateLimit:  rate,
		Burst:      burst,
		ChainID:    big.NewInt(chainID),
		Logger:     logger,
	}, quotas, chain)

	logger.Info("serving evaluation node",
		"addr", addr,
		"ciphersuite", oprf.CiphersuiteIdentifier[node.Suite()],
		"public_key", node.PublicKey(),
		"key_version", node.KeyVersion(),
		"ledger_path", devnet.LedgerPath,
		"chain_id", chainID,
	)

	return srv.Serve(cmd.Context(), addr, node.Handler())
}

func parseAllocation(s string) (common.Address, *big.Int, error) {
	rawAccount, rawAmount, ok := strings.Cut(s, "=")
	if !ok || !common.IsHexAddress(strings.TrimSpace(rawAccount)) {
		return common.Address{}, nil, fmt.Errorf("%w: %q", errAllocation, s)
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(rawAmount), 10)
	if !ok || amount.Sign() < 0 {
		return common.Address{}, nil, fmt.Errorf("%w: %q", errAllocation, s)
	}

	return common.HexToAddress(strings.TrimSpace(rawAccount)), amount, nil
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf("%s flag not found: %w", flagName, err)
		}

		return value, nil
	}

	if value, isSet := os.LookupEnv(envKey); isSet {
		return value, nil
	}

	value, err := cmd.Flags().GetString(flagName)
	if err != nil {
		return "", fmt.Errorf("%s flag not found: %w", flagName, err)
	}

	return value, nil
}
