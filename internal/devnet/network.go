// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package devnet

import (
	"net/http/httptest"

	"github.com/bytemare/socialconnect/internal/oprf"
	"github.com/bytemare/socialconnect/service"
)

// Network is a chain and an evaluation node sharing one quota book, with the node served over HTTP.
type Network struct {
	Quotas *Quotas
	Chain  *Chain
	Node   *Node
	Server *httptest.Server
}

// Start serves a new network on a local port. Close must be called when done.
func Start(cfg NodeConfig) *Network {
	quotas := NewQuotas()
	chain := NewChain(quotas)
	node := NewNode(cfg, quotas, chain)

	return &Network{
		Quotas: quotas,
		Chain:  chain,
		Node:   node,
		Server: httptest.NewServer(node.Handler()),
	}
}

// ServiceContext returns the service context describing the network's node.
func (n *Network) ServiceContext() (*service.Context, error) {
	return service.NewContext("devnet", []string{n.Server.URL}, oprf.CiphersuiteIdentifier[n.Node.Suite()],
		n.Node.PublicKey(), n.Node.KeyVersion())
}

// LedgerURL returns the JSON-RPC endpoint of the network's chain, for ledger.Dial.
func (n *Network) LedgerURL() string {
	return n.Server.URL + LedgerPath
}

// Close shuts the node's server down.
func (n *Network) Close() {
	n.Server.Close()
}
