// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package ledger

// Minimal ABIs of the methods used on each contract, in the JSON format abi.JSON parses.
const (
	FederatedAttestationsABI = `[
  {"type":"function","name":"registerAttestationAsIssuer","stateMutability":"nonpayable",
   "inputs":[{"name":"identifier","type":"bytes32"},{"name":"account","type":"address"},{"name":"issuedOn","type":"uint64"}],
   "outputs":[]},
  {"type":"function","name":"lookupAttestations","stateMutability":"view",
   "inputs":[{"name":"identifier","type":"bytes32"},{"name":"trustedIssuers","type":"address[]"}],
   "outputs":[{"name":"countsPerIssuer","type":"uint256[]"},{"name":"accounts","type":"address[]"},
              {"name":"signers","type":"address[]"},{"name":"issuedOns","type":"uint64[]"},
              {"name":"publishedOns","type":"uint64[]"}]},
  {"type":"function","name":"revokeAttestation","stateMutability":"nonpayable",
   "inputs":[{"name":"identifier","type":"bytes32"},{"name":"issuer","type":"address"},{"name":"account","type":"address"}],
   "outputs":[]}
]`

	OdisPaymentsABI = `[
  {"type":"function","name":"payInCUSD","stateMutability":"nonpayable",
   "inputs":[{"name":"account","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[]}
]`

	StableTokenABI = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"increaseAllowance","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`
)

// Contract method names.
const (
	MethodRegister          = "registerAttestationAsIssuer"
	MethodLookup            = "lookupAttestations"
	MethodRevoke            = "revokeAttestation"
	MethodPayInCUSD         = "payInCUSD"
	MethodAllowance         = "allowance"
	MethodIncreaseAllowance = "increaseAllowance"
)
