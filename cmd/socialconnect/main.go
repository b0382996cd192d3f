// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Command socialconnect registers, resolves and revokes identifier attestations as an issuer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytemare/socialconnect"
	"github.com/bytemare/socialconnect/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(dial, os.Stdout).ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, socialconnect.Describe(err))
		os.Exit(1)
	}
}

func dial(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*socialconnect.Stack, error) {
	return socialconnect.Dial(ctx, cfg, logger, nil)
}
