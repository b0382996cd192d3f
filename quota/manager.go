// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package quota makes sure the issuer has evaluation quota left before an obfuscation, paying for more with the
// stable-value token when it has none.
//
// The top-up is a small state machine:
//
//	CHECK ──remaining ≥ 1──────────────────────────────────────────────▶ OK
//	  │
//	  ▼
//	TOPUP_CHECK_ALLOWANCE ──allowance ≥ fee──▶ TOPUP_PAY ──mined──▶ OK
//	  │                                          ▲    │
//	  ▼                                          │    └──failed──▶ FAILED(payment)
//	TOPUP_INCREASE_ALLOWANCE ──mined─────────────┘
//	  │
//	  └──failed──▶ FAILED(allowance)
//
// Each mutating state sends exactly one transaction and waits for it to be mined before moving on, so a single
// EnsureQuota never pays twice.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bytemare/socialconnect/ledger"
	"github.com/bytemare/socialconnect/service"
)

// State is a step of the top-up state machine.
type State int

const (
	// Check queries the remaining quota.
	Check State = iota

	// TopUpCheckAllowance reads the token allowance granted to the payments contract.
	TopUpCheckAllowance

	// TopUpIncreaseAllowance raises the allowance to cover the fee.
	TopUpIncreaseAllowance

	// TopUpPay pays the fee.
	TopUpPay

	// OK is the terminal success state.
	OK

	// Failed is the terminal failure state.
	Failed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Check:
		return "CHECK"
	case TopUpCheckAllowance:
		return "TOPUP_CHECK_ALLOWANCE"
	case TopUpIncreaseAllowance:
		return "TOPUP_INCREASE_ALLOWANCE"
	case TopUpPay:
		return "TOPUP_PAY"
	case OK:
		return "OK"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stage tells which top-up transaction failed.
type Stage string

const (
	// StageAllowance is the allowance increase.
	StageAllowance Stage = "allowance"

	// StagePayment is the payment.
	StagePayment Stage = "payment"
)

var (
	// ErrTopUpFailed is matched by every *TopUpError.
	ErrTopUpFailed = errors.New("quota top-up failed")

	errInvalidFee = errors.New("quota fee must be positive")
)

// TopUpError is returned when the ledger part of a top-up fails.
type TopUpError struct {
	Stage Stage
	Err   error
}

// Error implements error.
func (e *TopUpError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrTopUpFailed, e.Stage, e.Err)
}

// Unwrap returns the underlying ledger error.
func (e *TopUpError) Unwrap() error {
	return e.Err
}

// Is matches ErrTopUpFailed.
func (e *TopUpError) Is(target error) bool {
	return target == ErrTopUpFailed
}

// A Source reports the issuer's quota. *service.Client implements it.
type Source interface {
	QuotaStatus(ctx context.Context) (*service.QuotaStatus, error)
}

// A Token is the stable-value token. *ledger.StableToken implements it.
type Token interface {
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	IncreaseAllowance(ctx context.Context, spender common.Address, amount *big.Int) (*ledger.Receipt, error)
}

// Payments is the contract selling quota. *ledger.Payments implements it.
type Payments interface {
	Address() common.Address
	PayInCUSD(ctx context.Context, account common.Address, amount *big.Int) (*ledger.Receipt, error)
}

// Report describes one EnsureQuota run.
type Report struct {
	// Transitions lists the visited states, in order, starting with Check.
	Transitions []State

	// RemainingQuota is the quota reported in the Check state.
	RemainingQuota int

	// Allowance is the allowance read in TopUpCheckAllowance, if that state was visited.
	Allowance *big.Int

	// Receipts holds the receipts of the mined transactions.
	Receipts []*ledger.Receipt

	// Paid tells whether a payment was mined.
	Paid bool
}

// Final returns the terminal state.
func (r *Report) Final() State {
	return r.Transitions[len(r.Transitions)-1]
}

// Manager runs the top-up state machine for one issuer. It caches nothing between runs.
type Manager struct {
	issuer   common.Address
	source   Source
	token    Token
	payments Payments
	logger   *slog.Logger
}

// NewManager returns a quota manager for the issuer.
func NewManager(issuer common.Address, source Source, token Token, payments Payments, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		issuer:   issuer,
		source:   source,
		token:    token,
		payments: payments,
		logger:   logger,
	}
}

type run struct {
	*Manager
	fee    *big.Int
	report *Report
	err    error
}

// EnsureQuota returns once the issuer has at least one evaluation left, topping up with fee if needed. Ledger
// failures are returned as *TopUpError, and a failed quota query as the service error.
func (m *Manager) EnsureQuota(ctx context.Context, fee *big.Int) (*Report, error) {
	if fee == nil || fee.Sign() <= 0 {
		return nil, errInvalidFee
	}

	r := &run{Manager: m, fee: fee, report: &Report{}}
	state := Check

	for {
		r.report.Transitions = append(r.report.Transitions, state)

		if state == OK || state == Failed {
			break
		}

		next := r.step(ctx, state)
		m.logger.DebugContext(ctx, "quota transition", "from", state.String(), "to", next.String())
		state = next
	}

	if r.err != nil {
		return r.report, r.err
	}

	return r.report, nil
}

func (r *run) step(ctx context.Context, state State) State {
	switch state {
	case Check:
		return r.check(ctx)
	case TopUpCheckAllowance:
		return r.checkAllowance(ctx)
	case TopUpIncreaseAllowance:
		return r.increaseAllowance(ctx)
	case TopUpPay:
		return r.pay(ctx)
	default:
		r.err = fmt.Errorf("quota: unexpected state %s", state)
		return Failed
	}
}

func (r *run) check(ctx context.Context) State {
	status, err := r.source.QuotaStatus(ctx)
	if err != nil {
		r.err = fmt.Errorf("quota status: %w", err)
		return Failed
	}

	r.report.RemainingQuota = status.RemainingQuota

	if status.RemainingQuota >= 1 {
		return OK
	}

	r.logger.InfoContext(ctx, "evaluation quota exhausted, topping up",
		"issuer", r.issuer.Hex(), "performed", status.PerformedQueryCount, "total", status.TotalQuota)

	return TopUpCheckAllowance
}

func (r *run) checkAllowance(ctx context.Context) State {
	allowance, err := r.token.Allowance(ctx, r.issuer, r.payments.Address())
	if err != nil {
		r.err = &TopUpError{Stage: StageAllowance, Err: err}
		return Failed
	}

	r.report.Allowance = allowance

	if allowance.Cmp(r.fee) >= 0 {
		return TopUpPay
	}

	return TopUpIncreaseAllowance
}

func (r *run) increaseAllowance(ctx context.Context) State {
	receipt, err := r.token.IncreaseAllowance(ctx, r.payments.Address(), r.fee)
	if err != nil {
		r.err = &TopUpError{Stage: StageAllowance, Err: err}
		return Failed
	}

	r.report.Receipts = append(r.report.Receipts, receipt)

	return TopUpPay
}

func (r *run) pay(ctx context.Context) State {
	receipt, err := r.payments.PayInCUSD(ctx, r.issuer, r.fee)
	if err != nil {
		r.err = &TopUpError{Stage: StagePayment, Err: err}
		return Failed
	}

	r.report.Receipts = append(r.report.Receipts, receipt)
	r.report.Paid = true

	r.logger.InfoContext(ctx, "evaluation quota paid", "issuer", r.issuer.Hex(), "fee", r.fee.String(),
		"tx", receipt.TxHash.Hex())

	return OK
}
