// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package socialconnect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bytemare/socialconnect/blinding"
	"github.com/bytemare/socialconnect/config"
	"github.com/bytemare/socialconnect/ledger"
	"github.com/bytemare/socialconnect/quota"
	"github.com/bytemare/socialconnect/registry"
	"github.com/bytemare/socialconnect/service"
	"github.com/bytemare/socialconnect/signer"
)

// Stack is a Connector and the live components behind it.
type Stack struct {
	*Connector
	Issuer  *signer.Issuer
	Service *service.Client
	Quota   *quota.Manager

	node *ethclient.Client
}

// Close releases the ledger connection.
func (s *Stack) Close() {
	if s.node != nil {
		s.node.Close()
	}
}

// Dial connects to the ledger node and the evaluation service described by cfg, and returns the assembled stack.
// reg may be nil.
func Dial(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	issuer, err := signer.NewIssuer(cfg.IssuerKey, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}

	auth, err := authSigner(cfg, issuer)
	if err != nil {
		return nil, err
	}

	svc, err := service.NewClient(cfg.Service, issuer.Address(), auth,
		service.WithTimeout(cfg.ServiceTimeout),
		service.WithLogger(logger.With("component", "service")),
	)
	if err != nil {
		return nil, err
	}

	node, err := ledger.Dial(ctx, cfg.RPC)
	if err != nil {
		return nil, err
	}

	stack, err := assemble(cfg, issuer, svc, node, logger, reg)
	if err != nil {
		node.Close()
		return nil, err
	}

	stack.node = node

	return stack, nil
}

func authSigner(cfg *config.Config, issuer *signer.Issuer) (signer.AuthSigner, error) {
	if cfg.AuthMethod == signer.EncryptionKey {
		s, err := signer.NewEncryptionKeySigner(cfg.DEK)
		if err != nil {
			return nil, fmt.Errorf("data encryption key: %w", err)
		}

		return s, nil
	}

	return issuer.WalletSigner(), nil
}

func assemble(cfg *config.Config, issuer *signer.Issuer, svc *service.Client, backend ledger.Backend,
	logger *slog.Logger, reg prometheus.Registerer,
) (*Stack, error) {
	ledgerLog := logger.With("component", "ledger")

	token, err := ledger.NewStableToken(cfg.StableToken, backend, issuer, ledgerLog)
	if err != nil {
		return nil, err
	}

	payments, err := ledger.NewPayments(cfg.OdisPayments, backend, issuer, ledgerLog)
	if err != nil {
		return nil, err
	}

	attestations, err := ledger.NewFederatedAttestations(cfg.FederatedAttestations, backend, issuer, ledgerLog)
	if err != nil {
		return nil, err
	}

	manager := quota.NewManager(issuer.Address(), svc, token, payments, logger.With("component", "quota"))

	c, err := New(
		manager,
		blinding.NewClient(svc, logger.With("component", "blinding")),
		registry.NewClient(attestations, issuer.Address(), logger.With("component", "registry")),
		Options{
			Fee:     cfg.Fee,
			Metrics: reg,
			Logger:  logger,
		},
	)
	if err != nil {
		return nil, err
	}

	return &Stack{
		Connector: c,
		Issuer:    issuer,
		Service:   svc,
		Quota:     manager,
	}, nil
}
