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
	"fmt"
	"sync"

	"github.com/bytemare/ecc"
)

var (
	errEvaluationCount   = errors.New("evaluation must hold exactly one evaluated element")
	errInvalidPrivateKey = errors.New("private key is nil or zero")
	errInvalidKeyPair    = errors.New("input public key doesn't belong to the private key")
)

// Evaluation is the serialized output of a verifiable evaluation: the evaluated elements and the DLEQ proof (c, s).
// This is the JSON body exchanged with the evaluation service.
type Evaluation struct {
	Proof       [2][]byte `json:"p"`
	Evaluations [][]byte  `json:"e"`
}

// Decode returns the evaluated element and proof scalars of a single-element evaluation in group g.
func (e *Evaluation) Decode(g ecc.Group) (*ecc.Element, *ecc.Scalar, *ecc.Scalar, error) {
	if len(e.Evaluations) != 1 {
		return nil, nil, nil, errEvaluationCount
	}

	pc := g.NewScalar()
	if err := pc.Decode(e.Proof[0]); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid c proof encoding: %w", err)
	}

	ps := g.NewScalar()
	if err := ps.Decode(e.Proof[1]); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid s proof encoding: %w", err)
	}

	ev := g.NewElement()
	if err := ev.Decode(e.Evaluations[0]); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid evaluated element encoding: %w", err)
	}

	return ev, pc, ps, nil
}

// An Evaluator holds a VOPRF key pair and evaluates blinded elements with a proof. It is safe for concurrent use.
type Evaluator struct {
	mu         sync.Mutex
	v          *Verifiable
	privateKey *ecc.Scalar
	publicKey  *ecc.Element
}

// NewEvaluator returns an evaluator for the key pair, checking that they match.
func NewEvaluator(g ecc.Group, privateKey *ecc.Scalar, publicKey *ecc.Element) (*Evaluator, error) {
	if publicKey == nil || publicKey.IsIdentity() {
		return nil, errInvalidPublicKey
	}

	if privateKey == nil || privateKey.IsZero() {
		return nil, errInvalidPrivateKey
	}

	if !g.Base().Multiply(privateKey).Equal(publicKey) {
		return nil, errInvalidKeyPair
	}

	return &Evaluator{
		v:          NewVerifiable(LoadConfiguration(g, VOPRF)),
		privateKey: privateKey.Copy(),
		publicKey:  publicKey.Copy(),
	}, nil
}

// DeriveEvaluator derives the key pair from the seed and info, and returns its evaluator.
func DeriveEvaluator(g ecc.Group, seed, info []byte) *Evaluator {
	v := NewVerifiable(LoadConfiguration(g, VOPRF))
	sk, pk := v.DeriveKeyPair(seed, info)

	return &Evaluator{v: v, privateKey: sk, publicKey: pk}
}

// PublicKey returns a copy of the evaluator's public key.
func (e *Evaluator) PublicKey() *ecc.Element {
	return e.publicKey.Copy()
}

// Evaluate decodes the blinded element, evaluates it and returns the serialized evaluation.
func (e *Evaluator) Evaluate(blinded []byte) (*Evaluation, error) {
	b := e.v.Group.NewElement()
	if err := b.Decode(blinded); err != nil {
		return nil, fmt.Errorf("invalid blinded element: %w", err)
	}

	if b.IsIdentity() {
		return nil, errNilEvaluation
	}

	evaluated := Evaluate(e.privateKey, b)
	r := e.v.Group.NewScalar().Random()

	e.mu.Lock()
	c, s := e.v.GenerateProof(r, e.privateKey, e.publicKey, []*ecc.Element{b}, []*ecc.Element{evaluated})
	e.mu.Unlock()

	return &Evaluation{
		Proof:       [2][]byte{c.Encode(), s.Encode()},
		Evaluations: [][]byte{evaluated.Encode()},
	}, nil
}

// FullEvaluate computes the protocol output without blinding. Clients must reach the same output through their
// blind and finalize round.
func (e *Evaluator) FullEvaluate(input []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.v.HashToGroup(input)

	return e.v.HashTranscript(input, Evaluate(e.privateKey, p).Encode())
}
