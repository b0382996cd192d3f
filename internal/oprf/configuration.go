// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package oprf holds the RFC 9497 primitives used to obfuscate identifiers: the blinding register of a single
// client round, transcript finalization, and the DLEQ proofs of the verifiable mode.
package oprf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytemare/ecc"
	"github.com/bytemare/hash"
)

// Mode distinguishes execution between the OPRF base and VOPRF modes.
type Mode byte

const (
	// OPRF identifies the base mode.
	OPRF Mode = iota

	// VOPRF identifies the verifiable mode.
	VOPRF
)

const (
	// Version is a string explicitly stating the Version name.
	Version = "OPRFV1"

	hash2groupDSTPrefix  = "HashToGroup-"
	hash2scalarDSTPrefix = "HashToScalar-"
	dstSeed              = "Seed-"
	contextStringPrefix  = Version + "-"
	dstFinalize          = "Finalize"
	deriveKeyPairDST     = "DeriveKeyPair"
)

var (
	// CiphersuiteIdentifier maps a group to its RFC 9497 identifier.
	CiphersuiteIdentifier = map[ecc.Group]string{
		ecc.Ristretto255Sha512: "ristretto255-SHA512",
		ecc.P256Sha256:         "P256-SHA256",
		ecc.P384Sha384:         "P384-SHA384",
		ecc.P521Sha512:         "P521-SHA512",
		ecc.Secp256k1Sha256:    "secp256k1-SHA256",
	}

	errInvalidInput = errors.New(
		"invalid input - OPRF input deterministically maps to the group identity element",
	)
	errUnknownCiphersuite = errors.New("unknown ciphersuite")
)

// A Core holds the cryptographic configuration and methods used for OPRF operations.
type Core struct {
	Hash      hash.Hasher
	dstH2gDST []byte
	dstH2sDST []byte
	Group     ecc.Group
	Mode      Mode
}

// ContextString builds the OPRF constant string used for domain separation tags.
func ContextString(mode Mode, name string) []byte {
	return []byte(contextStringPrefix + string([]byte{byte(mode)}) + "-" + name)
}

func makeCore(g ecc.Group, h hash.Hash, mode Mode) *Core {
	ctx := ContextString(mode, CiphersuiteIdentifier[g])

	return &Core{
		Group:     g,
		Hash:      h.New(),
		Mode:      mode,
		dstH2gDST: dst(hash2groupDSTPrefix, ctx),
		dstH2sDST: dst(hash2scalarDSTPrefix, ctx),
	}
}

// LoadConfiguration returns a core configuration given the group and mode.
func LoadConfiguration(g ecc.Group, mode Mode) *Core {
	switch g {
	case ecc.Ristretto255Sha512:
		return makeCore(ecc.Ristretto255Sha512, hash.SHA512, mode)
	case ecc.P256Sha256:
		return makeCore(ecc.P256Sha256, hash.SHA256, mode)
	case ecc.P384Sha384:
		return makeCore(ecc.P384Sha384, hash.SHA384, mode)
	case ecc.P521Sha512:
		return makeCore(ecc.P521Sha512, hash.SHA512, mode)
	case ecc.Secp256k1Sha256:
		return makeCore(ecc.Secp256k1Sha256, hash.SHA256, mode)
	default:
		panic(fmt.Sprintf("invalid OPRF dependency - Group: %v", g))
	}
}

// ParseCiphersuite returns the group registered under the RFC 9497 identifier name. Matching is case-insensitive.
func ParseCiphersuite(name string) (ecc.Group, error) {
	for g, id := range CiphersuiteIdentifier {
		if strings.EqualFold(id, strings.TrimSpace(name)) {
			return g, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", errUnknownCiphersuite, name)
}

// DeriveKeyPair derives a private-public key pair given a secret seed and instance specific info.
func (c Core) DeriveKeyPair(seed, info []byte) (*ecc.Scalar, *ecc.Element) {
	tag := dst(deriveKeyPairDST, ContextString(c.Mode, CiphersuiteIdentifier[c.Group]))
	deriveInput := concatenate(seed, lengthPrefixEncode(info))

	var counter uint8
	var sk *ecc.Scalar

	for sk == nil || sk.IsZero() {
		if counter == 255 {
			panic("impossible to generate non-zero scalar")
		}

		sk = c.Group.HashToScalar(concatenate(deriveInput, []byte{counter}), tag)
		counter++
	}

	return sk, c.Group.Base().Multiply(sk)
}

// HashTranscript hashes an OPRF run's transcript (without the blind) to produce the protocol's output.
func (c Core) HashTranscript(input, unblinded []byte) []byte {
	encInput := lengthPrefixEncode(input)
	encElement := lengthPrefixEncode(unblinded)
	encDST := []byte(dstFinalize)

	return c.Hash.Hash(0, encInput, encElement, encDST)
}

// HashToScalar maps the input data to a scalar.
func (c Core) HashToScalar(data []byte) *ecc.Scalar {
	return c.Group.HashToScalar(data, c.dstH2sDST)
}

// HashToGroup maps the input data to an element of the Group.
func (c Core) HashToGroup(data []byte) *ecc.Element {
	return c.Group.HashToGroup(data, c.dstH2gDST)
}

// Evaluate multiplies the blinded element with the key. This is the server side of the base mode.
func Evaluate(key *ecc.Scalar, blinded *ecc.Element) *ecc.Element {
	return blinded.Copy().Multiply(key)
}
