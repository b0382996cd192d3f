// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package service

import "errors"

var (
	// ErrServiceUnavailable is returned when the service can't be reached, times out, or answers with a server error.
	ErrServiceUnavailable = errors.New("evaluation service unavailable")

	// ErrProtocolViolation is returned when the service's answer is malformed or doesn't verify.
	ErrProtocolViolation = errors.New("evaluation service protocol violation")

	// ErrUnauthorized is returned when the service rejects the request's credential.
	ErrUnauthorized = errors.New("evaluation service rejected credentials")

	// ErrQuotaExhausted is returned when the service refuses an evaluation for lack of quota.
	ErrQuotaExhausted = errors.New("evaluation quota exhausted")
)
