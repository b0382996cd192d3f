// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package blinding

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PepperLength is the number of characters of the pepper derived from the evaluation output.
const PepperLength = 13

// Prefix namespaces an identifier by its type.
type Prefix string

// Known identifier types.
const (
	PhoneNumber Prefix = "tel"
	Email       Prefix = "mailto"
	Twitter     Prefix = "twit"
	GitHub      Prefix = "github"
	Discord     Prefix = "discord"
	Telegram    Prefix = "telegram"
	Signal      Prefix = "signal"
	Instagram   Prefix = "instagram"
	Facebook    Prefix = "facebook"
)

var (
	prefixNames = map[string]Prefix{
		"PHONE_NUMBER": PhoneNumber,
		"EMAIL":        Email,
		"TWITTER":      Twitter,
		"GITHUB":       GitHub,
		"DISCORD":      Discord,
		"TELEGRAM":     Telegram,
		"SIGNAL":       Signal,
		"INSTAGRAM":    Instagram,
		"FACEBOOK":     Facebook,
	}

	errUnknownPrefix = errors.New("unknown identifier prefix")

	// ErrEmptyIdentifier is returned when the identifier to obfuscate is blank.
	ErrEmptyIdentifier = errors.New("empty identifier")
)

// ParsePrefix accepts either a prefix name (e.g. "GITHUB") or its value (e.g. "github").
func ParsePrefix(s string) (Prefix, error) {
	s = strings.TrimSpace(s)

	if p, ok := prefixNames[strings.ToUpper(s)]; ok {
		return p, nil
	}

	for _, p := range prefixNames {
		if string(p) == strings.ToLower(s) {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w: %q", errUnknownPrefix, s)
}

// ObfuscatedIdentifier is the registry key standing in for a plaintext identifier.
type ObfuscatedIdentifier [32]byte

// Hex returns the 0x prefixed hex encoding.
func (o ObfuscatedIdentifier) Hex() string {
	return hexutil.Encode(o[:])
}

// String implements fmt.Stringer.
func (o ObfuscatedIdentifier) String() string {
	return o.Hex()
}

// ParseObfuscatedIdentifier decodes a 0x prefixed 32 byte hex string.
func ParseObfuscatedIdentifier(s string) (ObfuscatedIdentifier, error) {
	var o ObfuscatedIdentifier

	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return o, fmt.Errorf("obfuscated identifier: %w", err)
	}

	if len(b) != len(o) {
		return o, fmt.Errorf("obfuscated identifier: invalid length %d", len(b))
	}

	copy(o[:], b)

	return o, nil
}

// PrefixedIdentifier returns the namespaced identifier, which is the evaluation input.
func PrefixedIdentifier(identifier string, prefix Prefix) string {
	return string(prefix) + "://" + identifier
}

// Pepper derives the pepper from the evaluation output.
func Pepper(output []byte) string {
	sum := sha256.Sum256(output)
	return base64.StdEncoding.EncodeToString(sum[:])[:PepperLength]
}

// Derive returns the obfuscated identifier of the prefixed identifier given its pepper.
func Derive(prefixed, pepper string) ObfuscatedIdentifier {
	return ObfuscatedIdentifier(common.BytesToHash(crypto.Keccak256([]byte(prefixed + "__" + pepper))))
}
