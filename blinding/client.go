// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package blinding turns plaintext identifiers into obfuscated identifiers through a blind evaluation round with the
// evaluation service, which never sees the plaintext.
package blinding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bytemare/socialconnect/internal/logging"
	"github.com/bytemare/socialconnect/internal/oprf"
	"github.com/bytemare/socialconnect/service"
)

// An Evaluator evaluates blinded queries. *service.Client implements it.
type Evaluator interface {
	Context() *service.Context
	Sign(ctx context.Context, blinded []byte) (*service.SignResponse, error)
}

// Result is the outcome of one obfuscation.
type Result struct {
	Identifier ObfuscatedIdentifier
	Pepper     string
}

// Client runs blind evaluation rounds. It keeps no per-round state, and is safe for concurrent use.
type Client struct {
	svc    Evaluator
	logger *slog.Logger
}

// NewClient returns a blinding client using svc for evaluations. Plaintext identifiers are fingerprinted before
// reaching logger.
func NewClient(svc Evaluator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{svc: svc, logger: slog.New(logging.WrapHandler(logger.Handler()))}
}

// Obfuscate returns the obfuscated identifier of identifier in the prefix namespace. Service failures are returned as
// service.ErrServiceUnavailable, and malformed or unverifiable answers as service.ErrProtocolViolation. Nothing is
// retried.
func (c *Client) Obfuscate(ctx context.Context, identifier string, prefix Prefix) (*Result, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, ErrEmptyIdentifier
	}

	prefixed := PrefixedIdentifier(identifier, prefix)

	output, err := c.evaluate(ctx, []byte(prefixed))
	if err != nil {
		return nil, err
	}

	pepper := Pepper(output)
	oid := Derive(prefixed, pepper)

	c.logger.DebugContext(ctx, "identifier obfuscated",
		"identifier", identifier, "prefix", string(prefix), "obfuscated", oid.Hex())

	return &Result{Identifier: oid, Pepper: pepper}, nil
}

// evaluate runs one blind/unblind round. The blinding context lives only in this call and is discarded before
// returning, whatever the outcome.
func (c *Client) evaluate(ctx context.Context, input []byte) ([]byte, error) {
	sc := c.svc.Context()

	round, err := oprf.NewClient(sc.Ciphersuite(), sc.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("blinding: %w", err)
	}
	defer round.Discard()

	blinded, err := round.Blind(input)
	if err != nil {
		return nil, fmt.Errorf("blinding: %w", err)
	}

	resp, err := c.svc.Sign(ctx, blinded.Encode())
	if err != nil {
		return nil, err
	}

	// A response without a version can't be tied to the expected key epoch.
	if sc.KeyVersion() != 0 && resp.KeyVersion != sc.KeyVersion() {
		return nil, fmt.Errorf("%w: evaluated with key version %d, expected %d",
			service.ErrProtocolViolation, resp.KeyVersion, sc.KeyVersion())
	}

	element, proofC, proofS, err := resp.Evaluation.Decode(sc.Ciphersuite())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrProtocolViolation, err)
	}

	output, err := round.Finalize(element, proofC, proofS)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrProtocolViolation, err)
	}

	return output, nil
}
