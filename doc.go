// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package socialconnect lets a trusted issuer bind off-chain social identifiers to on-chain accounts, without revealing
// the identifiers to the evaluation service computing the binding key.
//
// A Connector sequences three components for every action:
//
//   - quota ensures the issuer can afford one more evaluation, paying for more with the stable token if needed,
//   - blinding turns the plaintext identifier into an obfuscated identifier through a verifiable OPRF round
//     (RFC 9497) with the service, which only ever sees a blinded element,
//   - registry registers, looks up or revokes attestations keyed by the obfuscated identifier on the ledger.
//
// Actions abort at the first failing step, and nothing is rolled back: a paid top-up stays paid when the following
// registration fails. Errors can be matched with errors.Is against the Err* values of this package, and Describe
// turns them into a message fit for end users.
package socialconnect
