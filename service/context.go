// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package service

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytemare/ecc"

	"github.com/bytemare/socialconnect/internal/oprf"
)

var (
	errNoEndpoint      = errors.New("service context: no endpoint configured")
	errInvalidEndpoint = errors.New("service context: invalid endpoint")
	errInvalidKey      = errors.New("service context: invalid evaluation public key")
)

// Context identifies one logical evaluation service: the set of equivalent endpoints and the public key of the
// current key epoch. A Context is immutable once built.
type Context struct {
	name        string
	endpoints   []string
	ciphersuite ecc.Group
	publicKey   *ecc.Element
	keyVersion  int
}

// NewContext validates and returns a service context. publicKey is the hex encoding of the evaluation key.
func NewContext(name string, endpoints []string, ciphersuite, publicKey string, keyVersion int) (*Context, error) {
	if len(endpoints) == 0 {
		return nil, errNoEndpoint
	}

	eps := make([]string, len(endpoints))

	for i, e := range endpoints {
		u, err := url.Parse(strings.TrimSpace(e))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidEndpoint, e)
		}

		eps[i] = strings.TrimSuffix(u.String(), "/")
	}

	g, err := oprf.ParseCiphersuite(ciphersuite)
	if err != nil {
		return nil, fmt.Errorf("service context: %w", err)
	}

	pk, err := DecodePublicKey(g, publicKey)
	if err != nil {
		return nil, err
	}

	return &Context{
		name:        name,
		endpoints:   eps,
		ciphersuite: g,
		publicKey:   pk,
		keyVersion:  keyVersion,
	}, nil
}

// DecodePublicKey decodes a hex encoded evaluation public key in group g.
func DecodePublicKey(g ecc.Group, publicKey string) (*ecc.Element, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(publicKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidKey, err)
	}

	pk := g.NewElement()
	if err = pk.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidKey, err)
	}

	if pk.IsIdentity() {
		return nil, errInvalidKey
	}

	return pk, nil
}

// Name returns the context's name, e.g. the network it serves.
func (c *Context) Name() string {
	return c.name
}

// Endpoints returns a copy of the configured endpoints.
func (c *Context) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// Ciphersuite returns the group the evaluation key lives in.
func (c *Context) Ciphersuite() ecc.Group {
	return c.ciphersuite
}

// PublicKey returns a copy of the evaluation public key.
func (c *Context) PublicKey() *ecc.Element {
	return c.publicKey.Copy()
}

// KeyVersion returns the key epoch the public key belongs to.
func (c *Context) KeyVersion() int {
	return c.keyVersion
}
