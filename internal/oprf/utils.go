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
	"crypto/subtle"
	"encoding/binary"
)

// i2osp2 is the 2-byte big-endian encoding of n.
func i2osp2(n int) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(n))
}

// lengthPrefixEncode prepends the 2-byte length of input.
func lengthPrefixEncode(input []byte) []byte {
	return append(i2osp2(len(input)), input...)
}

func ctEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func concatenate(input ...[]byte) []byte {
	return bytes.Join(input, nil)
}

// dst is a domain separation tag for the context.
func dst(prefix string, contextString []byte) []byte {
	return append([]byte(prefix), contextString...)
}
