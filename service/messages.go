// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package service

import "github.com/bytemare/socialconnect/internal/oprf"

const (
	// SignPath evaluates a blinded query.
	SignPath = "/sign"

	// QuotaPath reports the remaining quota of an account.
	QuotaPath = "/quotaStatus"

	// StatusPath reports the service version and current key.
	StatusPath = "/status"

	// AuthorizationHeader carries the AuthSigner signature over the request body.
	AuthorizationHeader = "Authorization"

	// SessionHeader echoes the request's session id.
	SessionHeader = "X-Session-Id"

	// ProtocolVersion is sent with every request.
	ProtocolVersion = "1"

	// QuotaErrorCode is the error code of a request refused for lack of quota.
	QuotaErrorCode = "ODIS_QUOTA_ERROR"

	// AuthErrorCode is the error code of a request whose signature didn't verify.
	AuthErrorCode = "ODIS_AUTH_ERROR"
)

// SignRequest asks for the evaluation of a blinded query.
type SignRequest struct {
	Account              string `json:"account"`
	BlindedQuery         []byte `json:"blindedQuery"`
	SessionID            string `json:"sessionID"`
	AuthenticationMethod string `json:"authenticationMethod"`
	Version              string `json:"version"`
}

// SignResponse holds the verifiable evaluation of the blinded query.
type SignResponse struct {
	Success             bool             `json:"success"`
	Evaluation          *oprf.Evaluation `json:"evaluation,omitempty"`
	PerformedQueryCount int              `json:"performedQueryCount"`
	TotalQuota          int              `json:"totalQuota"`
	BlockNumber         uint64           `json:"blockNumber"`
	KeyVersion          int              `json:"keyVersion"`
	Error               string           `json:"error,omitempty"`
}

// QuotaRequest asks for an account's quota.
type QuotaRequest struct {
	Account              string `json:"account"`
	SessionID            string `json:"sessionID"`
	AuthenticationMethod string `json:"authenticationMethod"`
	Version              string `json:"version"`
}

// QuotaStatus is an account's quota as of BlockNumber. It is a snapshot and must be re-queried before any decision
// depending on it.
type QuotaStatus struct {
	Success             bool   `json:"success"`
	PerformedQueryCount int    `json:"performedQueryCount"`
	TotalQuota          int    `json:"totalQuota"`
	RemainingQuota      int    `json:"remainingQuota"`
	BlockNumber         uint64 `json:"blockNumber"`
	Error               string `json:"error,omitempty"`
}

// StatusResponse describes the service.
type StatusResponse struct {
	Version    string `json:"version"`
	KeyVersion int    `json:"keyVersion"`
	PublicKey  string `json:"publicKey"`
	Suite      string `json:"ciphersuite"`
}

// ErrorResponse is the body of any non 2xx answer.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
