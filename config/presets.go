// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytemare/socialconnect/signer"
)

// Network presets.
const (
	Alfajores = "alfajores"
	Devnet    = "devnet"
)

// DefaultFee is 0.01 of an 18 decimals stable token.
const DefaultFee = "10000000000000000"

const (
	defaultCiphersuite = "secp256k1-SHA256"
	defaultTimeout     = 10 * time.Second
)

// Preset returns the defaults of a network. The evaluation public key is never preset.
//
// Alfajores has no preset service endpoint: the hosted lookup service runs a threshold BLS protocol that the
// blinding client doesn't speak, so the endpoints must name a compatible evaluation node. Devnet expects an
// oprf-devnode on its default address, serving both the evaluation API and the ledger.
func Preset(network string) (File, error) {
	f := File{
		Network: network,
		Service: ServiceFile{
			Name:        network,
			Ciphersuite: defaultCiphersuite,
			KeyVersion:  1,
			Timeout:     defaultTimeout,
		},
		Issuer: IssuerFile{AuthMethod: string(signer.WalletKey)},
		Quota:  QuotaFile{Fee: DefaultFee},
		Log:    LogFile{Level: "info", Format: "text"},
	}

	switch strings.ToLower(strings.TrimSpace(network)) {
	case Alfajores:
		f.Ledger = LedgerFile{
			RPC:     "https://alfajores-forno.celo-testnet.org",
			ChainID: 44787,
			Contracts: ContractsFile{
				FederatedAttestations: "0x70F9314aF173c246669cFb0EEe79F9Cfd9C34ee3",
				OdisPayments:          "0x645170cdB6B5c1bc80847bb728dBa56C50a20a49",
				StableToken:           "0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1",
			},
		}
	case Devnet:
		f.Ledger = LedgerFile{
			RPC:     "http://127.0.0.1:8080/rpc",
			ChainID: 1337,
			Contracts: ContractsFile{
				FederatedAttestations: "0x70F9314aF173c246669cFb0EEe79F9Cfd9C34ee3",
				OdisPayments:          "0x645170cdB6B5c1bc80847bb728dBa56C50a20a49",
				StableToken:           "0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1",
			},
		}
		f.Service.Endpoints = []string{"http://127.0.0.1:8080"}
	default:
		return File{}, fmt.Errorf("%w: %q", errUnknownNetwork, network)
	}

	return f, nil
}
