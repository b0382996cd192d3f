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
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bytemare/socialconnect/blinding"
	"github.com/bytemare/socialconnect/internal/logging"
	"github.com/bytemare/socialconnect/quota"
	"github.com/bytemare/socialconnect/registry"
)

// Step is one stage of an action.
type Step string

// Action steps, in the order they can appear.
const (
	StepQuota     Step = "quota"
	StepObfuscate Step = "obfuscate"
	StepRegister  Step = "register"
	StepLookup    Step = "lookup"
	StepRevoke    Step = "revoke"
)

// A QuotaKeeper makes sure the issuer can pay for one more evaluation. *quota.Manager implements it.
type QuotaKeeper interface {
	EnsureQuota(ctx context.Context, fee *big.Int) (*quota.Report, error)
}

// An Obfuscator turns identifiers into obfuscated identifiers. *blinding.Client implements it.
type Obfuscator interface {
	Obfuscate(ctx context.Context, identifier string, prefix blinding.Prefix) (*blinding.Result, error)
}

// A Registry holds attestations. *registry.Client implements it.
type Registry interface {
	Issuer() common.Address
	Register(ctx context.Context, oid blinding.ObfuscatedIdentifier, account common.Address,
		issuedOn time.Time) (*registry.Attestation, error)
	Lookup(ctx context.Context, oid blinding.ObfuscatedIdentifier, issuers ...common.Address,
	) ([]registry.Attestation, error)
	Revoke(ctx context.Context, oid blinding.ObfuscatedIdentifier, issuer, account common.Address) error
}

// Options configures a Connector.
type Options struct {
	// Prefix namespaces the identifiers. It defaults to blinding.GitHub.
	Prefix blinding.Prefix

	// Fee is paid on each quota top-up. It is required.
	Fee *big.Int

	// Clock stamps registrations. It defaults to time.Now.
	Clock func() time.Time

	// Metrics receives the connector's metrics. They are not exported when nil.
	Metrics prometheus.Registerer

	// Logger defaults to slog.Default(). Plaintext identifiers are fingerprinted before reaching it.
	Logger *slog.Logger
}

// Connector runs the identifier actions. It holds no mutable state, and is safe for concurrent use.
type Connector struct {
	quota      QuotaKeeper
	obfuscator Obfuscator
	registry   Registry
	prefix     blinding.Prefix
	fee        *big.Int
	now        func() time.Time
	metrics    *metrics
	logger     *slog.Logger
}

// New returns a Connector sequencing the given components.
func New(q QuotaKeeper, o Obfuscator, r Registry, opts Options) (*Connector, error) {
	if q == nil || o == nil || r == nil {
		return nil, errNilComponent
	}

	if opts.Fee == nil || opts.Fee.Sign() <= 0 {
		return nil, errInvalidFee
	}

	if opts.Prefix == "" {
		opts.Prefix = blinding.GitHub
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.Metrics == nil {
		opts.Metrics = prometheus.NewRegistry()
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Connector{
		quota:      q,
		obfuscator: o,
		registry:   r,
		prefix:     opts.Prefix,
		fee:        new(big.Int).Set(opts.Fee),
		now:        opts.Clock,
		metrics:    newMetrics(opts.Metrics),
		logger:     slog.New(logging.WrapHandler(opts.Logger.Handler())),
	}, nil
}

// Prefix returns the identifier namespace.
func (c *Connector) Prefix() blinding.Prefix {
	return c.prefix
}

// WithPrefix returns a copy of the connector working in the prefix namespace. Both share their components and
// metrics.
func (c *Connector) WithPrefix(prefix blinding.Prefix) *Connector {
	d := *c
	d.prefix = prefix

	return &d
}

// Issuer returns the issuer's account.
func (c *Connector) Issuer() common.Address {
	return c.registry.Issuer()
}

// action holds what flows from one step to the next. It lives for a single call.
type action struct {
	name       string
	identifier string
	account    common.Address
	issuers    []common.Address

	result       *blinding.Result
	attestation  *registry.Attestation
	attestations []registry.Attestation
}

// Obfuscate returns the obfuscated identifier of identifier.
func (c *Connector) Obfuscate(ctx context.Context, identifier string) (*blinding.Result, error) {
	a := &action{name: "obfuscate", identifier: identifier}
	if err := c.run(ctx, a, StepQuota, StepObfuscate); err != nil {
		return nil, err
	}

	return a.result, nil
}

// Register attests that identifier belongs to account.
func (c *Connector) Register(ctx context.Context, identifier string, account common.Address,
) (*registry.Attestation, error) {
	a := &action{name: "register", identifier: identifier, account: account}
	if err := c.run(ctx, a, StepQuota, StepObfuscate, StepRegister); err != nil {
		return nil, err
	}

	return a.attestation, nil
}

// Lookup returns all the active attestations of identifier by the issuers, the connector's issuer by default, most
// recent first.
func (c *Connector) Lookup(ctx context.Context, identifier string, issuers ...common.Address,
) ([]registry.Attestation, error) {
	a := &action{name: "lookup", identifier: identifier, issuers: issuers}
	if err := c.run(ctx, a, StepQuota, StepObfuscate, StepLookup); err != nil {
		return nil, err
	}

	return a.attestations, nil
}

// Resolve returns the most recent attestation of identifier by the issuers, or ErrNotFound.
func (c *Connector) Resolve(ctx context.Context, identifier string, issuers ...common.Address,
) (*registry.Attestation, error) {
	a := &action{name: "resolve", identifier: identifier, issuers: issuers}
	if err := c.run(ctx, a, StepQuota, StepObfuscate, StepLookup); err != nil {
		return nil, err
	}

	if len(a.attestations) == 0 {
		return nil, fmt.Errorf("resolve: %w", ErrNotFound)
	}

	return &a.attestations[0], nil
}

// Revoke revokes the connector issuer's attestation of identifier to account. It returns ErrNotFound if there is none.
func (c *Connector) Revoke(ctx context.Context, identifier string, account common.Address) error {
	a := &action{name: "revoke", identifier: identifier, account: account}
	return c.run(ctx, a, StepQuota, StepObfuscate, StepRevoke)
}

// run executes the steps in order and stops at the first failure.
func (c *Connector) run(ctx context.Context, a *action, steps ...Step) error {
	start := time.Now()

	if strings.TrimSpace(a.identifier) == "" {
		c.metrics.observe(a.name, ErrEmptyIdentifier, start)
		return fmt.Errorf("%s: %w", a.name, ErrEmptyIdentifier)
	}

	for _, s := range steps {
		c.logger.DebugContext(ctx, "action step", "action", a.name, "step", string(s))

		if err := c.step(ctx, a, s); err != nil {
			c.logger.WarnContext(ctx, "action failed", "action", a.name, "step", string(s), "error", err)
			c.metrics.observe(a.name, err, start)

			return fmt.Errorf("%s: %s: %w", a.name, s, err)
		}
	}

	c.metrics.observe(a.name, nil, start)
	c.logger.InfoContext(ctx, "action done", "action", a.name, "identifier", a.identifier,
		"duration", time.Since(start))

	return nil
}

func (c *Connector) step(ctx context.Context, a *action, s Step) error {
	var err error

	switch s {
	case StepQuota:
		var report *quota.Report

		report, err = c.quota.EnsureQuota(ctx, c.fee)
		if report != nil && report.Paid {
			c.metrics.topUps.Inc()
		}
	case StepObfuscate:
		a.result, err = c.obfuscator.Obfuscate(ctx, a.identifier, c.prefix)
	case StepRegister:
		a.attestation, err = c.registry.Register(ctx, a.result.Identifier, a.account, c.now())
	case StepLookup:
		a.attestations, err = c.registry.Lookup(ctx, a.result.Identifier, a.issuers...)
	case StepRevoke:
		err = c.registry.Revoke(ctx, a.result.Identifier, c.registry.Issuer(), a.account)
	default:
		err = fmt.Errorf("unknown step %q", s)
	}

	return err
}
