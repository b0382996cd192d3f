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
	"errors"

	"github.com/bytemare/socialconnect/blinding"
	"github.com/bytemare/socialconnect/quota"
	"github.com/bytemare/socialconnect/registry"
	"github.com/bytemare/socialconnect/service"
)

var (
	// ErrServiceUnavailable is returned when the evaluation service can't be reached or answers with a server error.
	ErrServiceUnavailable = service.ErrServiceUnavailable

	// ErrProtocolViolation is returned when the evaluation service answers something that doesn't verify.
	ErrProtocolViolation = service.ErrProtocolViolation

	// ErrUnauthorized is returned when the evaluation service rejects the issuer's credentials.
	ErrUnauthorized = service.ErrUnauthorized

	// ErrQuotaExhausted is returned when the service refuses an evaluation for lack of quota.
	ErrQuotaExhausted = service.ErrQuotaExhausted

	// ErrQuotaTopUpFailed is returned when paying for quota fails. Use errors.As with a *quota.TopUpError to get the
	// failing stage.
	ErrQuotaTopUpFailed = quota.ErrTopUpFailed

	// ErrLedgerCallFailed is returned when a registry transaction is rejected or reverts.
	ErrLedgerCallFailed = registry.ErrLedgerCallFailed

	// ErrNotFound is returned when no attestation matches.
	ErrNotFound = registry.ErrNotFound

	// ErrEmptyIdentifier is returned for a blank identifier, before any quota is spent.
	ErrEmptyIdentifier = blinding.ErrEmptyIdentifier

	errNilComponent = errors.New("socialconnect: nil component")
	errInvalidFee   = errors.New("socialconnect: fee must be positive")
)

// Describe returns a message for end users. Each kind of failure gets its own message.
func Describe(err error) string {
	if err == nil {
		return "Done."
	}

	var topUp *quota.TopUpError

	switch {
	case errors.Is(err, ErrEmptyIdentifier):
		return "The identifier is empty."
	case errors.As(err, &topUp) && topUp.Stage == quota.StageAllowance:
		return "Could not approve the quota payment. Check the issuer's token balance and try again."
	case errors.As(err, &topUp):
		return "The quota payment failed. Check the issuer's token balance and try again."
	case errors.Is(err, ErrNotFound):
		return "No attestation was found for this identifier."
	case errors.Is(err, ErrQuotaExhausted):
		return "The issuer has no evaluation quota left."
	case errors.Is(err, ErrUnauthorized):
		return "The evaluation service rejected the issuer's credentials."
	case errors.Is(err, ErrProtocolViolation):
		return "The evaluation service returned an invalid answer. Nothing was changed."
	case errors.Is(err, ErrServiceUnavailable):
		return "The evaluation service is unavailable. Try again later."
	case errors.Is(err, ErrLedgerCallFailed):
		return "The ledger rejected the transaction."
	case errors.Is(err, context.DeadlineExceeded):
		return "The operation timed out."
	case errors.Is(err, context.Canceled):
		return "The operation was canceled."
	default:
		return "Unexpected error: " + err.Error()
	}
}

// outcome labels err for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyIdentifier):
		return "invalid_input"
	case errors.Is(err, ErrQuotaTopUpFailed):
		return "topup_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrLedgerCallFailed):
		return "ledger_failed"
	default:
		return "error"
	}
}
