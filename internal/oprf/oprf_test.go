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
	"testing"

	"github.com/bytemare/ecc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groups = []ecc.Group{
	ecc.Ristretto255Sha512,
	ecc.P256Sha256,
	ecc.P384Sha384,
	ecc.P521Sha512,
	ecc.Secp256k1Sha256,
}

func testAll(t *testing.T, f func(t *testing.T, g ecc.Group)) {
	for _, g := range groups {
		t.Run(CiphersuiteIdentifier[g], func(t *testing.T) {
			f(t, g)
		})
	}
}

func round(t *testing.T, ev *Evaluator, g ecc.Group, input []byte) []byte {
	t.Helper()

	client, err := NewClient(g, ev.PublicKey())
	require.NoError(t, err)
	defer client.Discard()

	blinded, err := client.Blind(input)
	require.NoError(t, err)

	evaluation, err := ev.Evaluate(blinded.Encode())
	require.NoError(t, err)

	element, c, s, err := evaluation.Decode(g)
	require.NoError(t, err)

	out, err := client.Finalize(element, c, s)
	require.NoError(t, err)

	return out
}

func TestRoundMatchesFullEvaluation(t *testing.T) {
	input := []byte("twit://alice")

	testAll(t, func(t *testing.T, g ecc.Group) {
		ev := DeriveEvaluator(g, []byte("seed"), []byte("epoch-1"))

		first := round(t, ev, g, input)
		second := round(t, ev, g, input)

		assert.Equal(t, first, second)
		assert.Equal(t, ev.FullEvaluate(input), first)
	})
}

func TestDifferentKeysDifferentOutputs(t *testing.T) {
	input := []byte("github://alice")

	testAll(t, func(t *testing.T, g ecc.Group) {
		ev1 := DeriveEvaluator(g, []byte("seed"), []byte("epoch-1"))
		ev2 := DeriveEvaluator(g, []byte("seed"), []byte("epoch-2"))

		assert.NotEqual(t, round(t, ev1, g, input), round(t, ev2, g, input))
	})
}

func TestFinalizeRejectsWrongKey(t *testing.T) {
	testAll(t, func(t *testing.T, g ecc.Group) {
		honest := DeriveEvaluator(g, []byte("seed"), []byte("honest"))
		rogue := DeriveEvaluator(g, []byte("seed"), []byte("rogue"))

		client, err := NewClient(g, honest.PublicKey())
		require.NoError(t, err)

		blinded, err := client.Blind([]byte("input"))
		require.NoError(t, err)

		evaluation, err := rogue.Evaluate(blinded.Encode())
		require.NoError(t, err)

		element, c, s, err := evaluation.Decode(g)
		require.NoError(t, err)

		_, err = client.Finalize(element, c, s)
		assert.True(t, errors.Is(err, ErrProofFailed))
	})
}

func TestFinalizeWithoutBlind(t *testing.T) {
	g := ecc.Ristretto255Sha512
	ev := DeriveEvaluator(g, []byte("seed"), nil)

	client, err := NewClient(g, ev.PublicKey())
	require.NoError(t, err)

	_, err = client.Finalize(ev.PublicKey(), g.NewScalar().Random(), g.NewScalar().Random())
	assert.ErrorIs(t, err, errNotBlinded)
}

func TestDiscardClearsRound(t *testing.T) {
	g := ecc.Ristretto255Sha512
	ev := DeriveEvaluator(g, []byte("seed"), nil)

	client, err := NewClient(g, ev.PublicKey())
	require.NoError(t, err)

	_, err = client.Blind([]byte("input"))
	require.NoError(t, err)

	blind := client.blind
	client.Discard()

	assert.True(t, blind.IsZero())
	assert.Nil(t, client.blind)
	assert.Nil(t, client.input)
}

func TestNewClientBadKey(t *testing.T) {
	g := ecc.Ristretto255Sha512

	_, err := NewClient(g, nil)
	assert.ErrorIs(t, err, errInvalidPublicKey)

	_, err = NewClient(g, g.NewElement().Identity())
	assert.ErrorIs(t, err, errInvalidPublicKey)
}

func TestEvaluationDecodeErrors(t *testing.T) {
	g := ecc.Ristretto255Sha512

	_, _, _, err := (&Evaluation{}).Decode(g)
	assert.ErrorIs(t, err, errEvaluationCount)

	bad := &Evaluation{
		Proof:       [2][]byte{{1, 2, 3}, {4}},
		Evaluations: [][]byte{{0xff}},
	}
	_, _, _, err = bad.Decode(g)
	assert.Error(t, err)
}

func TestNewEvaluatorMismatch(t *testing.T) {
	g := ecc.Ristretto255Sha512
	sk := g.NewScalar().Random()
	other := g.Base().Multiply(g.NewScalar().Random())

	_, err := NewEvaluator(g, sk, other)
	assert.ErrorIs(t, err, errInvalidKeyPair)

	ev, err := NewEvaluator(g, sk, g.Base().Multiply(sk))
	require.NoError(t, err)
	assert.NotNil(t, ev.PublicKey())
}

func TestParseCiphersuite(t *testing.T) {
	g, err := ParseCiphersuite("Ristretto255-sha512")
	require.NoError(t, err)
	assert.Equal(t, ecc.Ristretto255Sha512, g)

	_, err = ParseCiphersuite("decaf448-SHAKE256")
	assert.ErrorIs(t, err, errUnknownCiphersuite)
}
