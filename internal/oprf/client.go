// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package oprf

import (
	"errors"

	"github.com/bytemare/ecc"
)

var (
	errInvalidPublicKey = errors.New("server public key is either nil or the identity element")
	errNotBlinded       = errors.New("no input was blinded in this round")
	errNilEvaluation    = errors.New("evaluated element is nil or the identity element")
)

// A Client holds the state of exactly one blind/unblind round: the input and its blinding scalar. It must not be
// reused across rounds, and Discard must be called once the round is over.
type Client struct {
	*Verifiable

	serverPublicKey *ecc.Element
	input           []byte
	blind           *ecc.Scalar
	blinded         *ecc.Element
}

// NewClient returns a verifiable-mode client bound to the server's public key.
func NewClient(g ecc.Group, serverPublicKey *ecc.Element) (*Client, error) {
	if serverPublicKey == nil || serverPublicKey.IsIdentity() {
		return nil, errInvalidPublicKey
	}

	return &Client{
		Verifiable:      NewVerifiable(LoadConfiguration(g, VOPRF)),
		serverPublicKey: serverPublicKey,
	}, nil
}

// SetBlind forces the blinding scalar of the round. This is only useful for reproducible tests, a fresh random blind
// is sampled otherwise.
func (c *Client) SetBlind(blind *ecc.Scalar) {
	c.blind = c.Group.NewScalar().Set(blind)
}

// Blind registers the input and returns its blinded element.
func (c *Client) Blind(input []byte) (*ecc.Element, error) {
	c.input = make([]byte, len(input))
	copy(c.input, input)

	if c.blind == nil {
		c.blind = c.Group.NewScalar().Random()
	}

	p := c.HashToGroup(input)
	if p.IsIdentity() {
		return nil, errInvalidInput
	}

	c.blinded = p.Multiply(c.blind)

	return c.blinded.Copy(), nil
}

// Finalize verifies the proof over the evaluated element, unblinds it and returns the protocol output.
func (c *Client) Finalize(evaluated *ecc.Element, proofC, proofS *ecc.Scalar) ([]byte, error) {
	if c.blind == nil || c.blinded == nil {
		return nil, errNotBlinded
	}

	if evaluated == nil || evaluated.IsIdentity() {
		return nil, errNilEvaluation
	}

	if err := c.VerifyProof(proofC, proofS, c.serverPublicKey,
		[]*ecc.Element{c.blinded}, []*ecc.Element{evaluated}); err != nil {
		return nil, err
	}

	inv := c.blind.Copy().Invert()
	unblinded := evaluated.Copy().Multiply(inv)
	inv.Zero()

	return c.HashTranscript(c.input, unblinded.Encode()), nil
}

// Discard zeroes the blinding scalar and drops the registered input.
func (c *Client) Discard() {
	if c.blind != nil {
		c.blind.Zero()
		c.blind = nil
	}

	for i := range c.input {
		c.input[i] = 0
	}

	c.input = nil
	c.blinded = nil
}
