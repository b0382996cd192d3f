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

const (
	dstComposite = "Composite"
	dstChallenge = "Challenge"
)

var (
	// ErrProofFailed is returned when the DLEQ proof of an evaluation doesn't verify.
	ErrProofFailed = errors.New("invalid proof")

	errNilProof = errors.New("proof is nil or zero")
)

// Verifiable enables VOPRF proofs over OPRF operations.
type Verifiable struct {
	*Core
	seedDST []byte
}

// NewVerifiable wraps the core configuration for proof generation and verification.
func NewVerifiable(c *Core) *Verifiable {
	ctx := ContextString(c.Mode, CiphersuiteIdentifier[c.Group])

	return &Verifiable{
		Core:    c,
		seedDST: dst(dstSeed, ctx),
	}
}

func (v Verifiable) challenge(encPks []byte, a0, a1, a2, a3 *ecc.Element) *ecc.Scalar {
	encA0 := lengthPrefixEncode(a0.Encode())
	encA1 := lengthPrefixEncode(a1.Encode())
	encA2 := lengthPrefixEncode(a2.Encode())
	encA3 := lengthPrefixEncode(a3.Encode())
	encDST := []byte(dstChallenge)
	input := concatenate(encPks, encA0, encA1, encA2, encA3, encDST)

	return v.HashToScalar(input)
}

// GenerateProof produces a non-interactive zero-knowledge (NIZK) proof on the evaluated elements.
func (v Verifiable) GenerateProof(
	random, k *ecc.Scalar,
	pk *ecc.Element,
	cs, ds []*ecc.Element,
) (*ecc.Scalar, *ecc.Scalar) {
	encPk := lengthPrefixEncode(pk.Encode())
	a0, a1 := v.computeComposites(k, encPk, cs, ds)

	a2 := v.Group.Base().Multiply(random)
	a3 := a0.Copy().Multiply(random)

	proofC := v.challenge(encPk, a0, a1, a2, a3)
	proofS := random.Copy().Subtract(proofC.Copy().Multiply(k))

	return proofC, proofS
}

// VerifyProof verifies the NIZK proof on the evaluated elements produced by GenerateProof.
func (v Verifiable) VerifyProof(proofC, proofS *ecc.Scalar, pubKey *ecc.Element, cs, ds []*ecc.Element) error {
	if proofC == nil || proofC.IsZero() || proofS == nil || proofS.IsZero() {
		return errNilProof
	}

	encGk := lengthPrefixEncode(pubKey.Encode())
	a0, a1 := v.computeComposites(nil, encGk, cs, ds)

	ap := pubKey.Copy().Multiply(proofC)
	a2 := v.Group.Base().Multiply(proofS).Add(ap)

	bm := a0.Copy().Multiply(proofS)
	bz := a1.Copy().Multiply(proofC)
	a3 := bm.Add(bz)
	expectedC := v.challenge(encGk, a0, a1, a2, a3)

	if !ctEqual(expectedC.Encode(), proofC.Encode()) {
		return ErrProofFailed
	}

	return nil
}

func (v Verifiable) ccScalar(encSeed []byte, index int, ci, di *ecc.Element) *ecc.Scalar {
	input := concatenate(encSeed, i2osp2(index),
		lengthPrefixEncode(ci.Encode()),
		lengthPrefixEncode(di.Encode()),
		[]byte(dstComposite))

	return v.HashToScalar(input)
}

func (v Verifiable) computeComposites(
	k *ecc.Scalar,
	encGk []byte,
	cs, ds []*ecc.Element,
) (*ecc.Element, *ecc.Element) {
	encSeedDST := lengthPrefixEncode(v.seedDST)
	seed := v.Hash.Hash(0, encGk, encSeedDST)
	encSeed := lengthPrefixEncode(seed)

	m := v.Group.NewElement().Identity()
	z := v.Group.NewElement().Identity()

	for i, ci := range cs {
		di := v.ccScalar(encSeed, i, ci, ds[i])
		m = ci.Copy().Multiply(di).Add(m)

		if k == nil {
			z = ds[i].Copy().Multiply(di).Add(z)
		}
	}

	// On the server side Z = k * M.
	if k != nil {
		z = m.Copy().Multiply(k)
	}

	return m, z
}
