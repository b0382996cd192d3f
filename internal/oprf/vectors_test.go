// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package oprf

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/bytemare/ecc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 9497, A.1.2, VOPRF mode, ristretto255-SHA512, test vector 1.
type vector struct {
	seed, info, input, blind               []byte
	secretKey, blinded, evaluation, output string
}

var ristrettoVOPRF = vector{
	seed:       bytes.Repeat([]byte{0xa3}, 32),
	info:       []byte("test key"),
	input:      []byte{0x00},
	blind:      decodeHex("64d37aed22a27f5191de1c1d69fadb899d8862b58eb4220029e036ec4c1f6706"),
	secretKey:  "e6f73f344b79b379f1a0dd37e07ff62e38d9f71345ce62ae3a9bc60b04ccd909",
	blinded:    "863f330cc1a1259ed5a5998a23acfd37fb4351a793a5b3c090b642ddc439b945",
	evaluation: "aa8fa048764d5623868679402ff6108d2521884fa138cd7f9c7669a9a014267e",
	output: "b58cfbe118e0cb94d79b5fd6a6dafb98764dff49c14e1770b566e42402da1a7d" +
		"a4d8527693914139caee5bd03903af43a491351d23b430948dd50cde10d32b3c",
}

func decodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}

	return b
}

func TestVector(t *testing.T) {
	g := ecc.Ristretto255Sha512
	v := ristrettoVOPRF

	ev := DeriveEvaluator(g, v.seed, v.info)
	assert.Equal(t, v.secretKey, hex.EncodeToString(ev.privateKey.Encode()))

	blind := g.NewScalar()
	require.NoError(t, blind.Decode(v.blind))

	client, err := NewClient(g, ev.PublicKey())
	require.NoError(t, err)
	defer client.Discard()

	client.SetBlind(blind)

	blinded, err := client.Blind(v.input)
	require.NoError(t, err)
	assert.Equal(t, v.blinded, hex.EncodeToString(blinded.Encode()))

	evaluation, err := ev.Evaluate(blinded.Encode())
	require.NoError(t, err)
	require.Len(t, evaluation.Evaluations, 1)
	assert.Equal(t, v.evaluation, hex.EncodeToString(evaluation.Evaluations[0]))

	element, proofC, proofS, err := evaluation.Decode(g)
	require.NoError(t, err)

	output, err := client.Finalize(element, proofC, proofS)
	require.NoError(t, err)
	assert.Equal(t, v.output, hex.EncodeToString(output))
	assert.Equal(t, v.output, hex.EncodeToString(ev.FullEvaluate(v.input)))
}
