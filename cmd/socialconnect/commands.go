// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/bytemare/socialconnect"
	"github.com/bytemare/socialconnect/blinding"
	"github.com/bytemare/socialconnect/config"
	"github.com/bytemare/socialconnect/internal/logging"
	"github.com/bytemare/socialconnect/registry"
)

const (
	configFlagName  = "config"
	configFlagUsage = "Path to the YAML configuration file. Alternatively, this can be set with the following " +
		"environment variable: " + configEnvKey
	configEnvKey = "SOCIALCONNECT_CONFIG"

	prefixFlagName  = "prefix"
	prefixFlagUsage = "Identifier type, e.g. GITHUB, TWITTER or PHONE_NUMBER."

	issuerFlagName  = "issuer"
	issuerFlagUsage = "Trusted issuer address. Repeat for several issuers. Defaults to the configured issuer."

	topUpFlagName  = "top-up"
	topUpFlagUsage = "Pay for more quota if none is left."
)

var errInvalidAccount = errors.New("invalid account address")

// dialer opens the live stack for a configuration.
type dialer func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*socialconnect.Stack, error)

type app struct {
	dial dialer
	out  io.Writer
}

func newRootCmd(dial dialer, out io.Writer) *cobra.Command {
	a := &app{dial: dial, out: out}

	root := &cobra.Command{
		Use:           "socialconnect",
		Short:         "Attest social identifiers on the ledger",
		Long:          `Register, resolve and revoke attestations binding obfuscated social identifiers to accounts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP(configFlagName, "c", "", configFlagUsage)
	root.PersistentFlags().StringP(prefixFlagName, "p", string(blinding.GitHub), prefixFlagUsage)

	root.AddCommand(
		a.statusCmd(),
		a.quotaCmd(),
		a.obfuscateCmd(),
		a.registerCmd(),
		a.lookupCmd(),
		a.resolveCmd(),
		a.revokeCmd(),
	)

	return root
}

// session is one command's live stack.
type session struct {
	*socialconnect.Stack
	cfg *config.Config
}

func (a *app) open(cmd *cobra.Command) (*session, error) {
	path, err := getUserSetVar(cmd, configFlagName, configEnvKey)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, err
	}

	rawPrefix, err := cmd.Flags().GetString(prefixFlagName)
	if err != nil {
		return nil, err
	}

	prefix, err := blinding.ParsePrefix(rawPrefix)
	if err != nil {
		return nil, err
	}

	s, err := a.dial(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}

	s.Connector = s.WithPrefix(prefix)

	return &session{Stack: s, cfg: cfg}, nil
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the evaluation service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			status, err := s.Service.Status(cmd.Context())
			if err != nil {
				return err
			}

			return a.print(status)
		},
	}
}

type quotaOutput struct {
	Issuer         string   `json:"issuer"`
	RemainingQuota int      `json:"remainingQuota"`
	Performed      int      `json:"performedQueryCount"`
	Total          int      `json:"totalQuota"`
	BlockNumber    uint64   `json:"blockNumber"`
	Transitions    []string `json:"transitions,omitempty"`
	Paid           bool     `json:"paid,omitempty"`
}

func (a *app) quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show the issuer's evaluation quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out := &quotaOutput{Issuer: s.Issuer.Address().Hex()}

			if topUp, _ := cmd.Flags().GetBool(topUpFlagName); topUp {
				report, err := s.Quota.EnsureQuota(cmd.Context(), s.cfg.Fee)
				if err != nil {
					return err
				}

				for _, state := range report.Transitions {
					out.Transitions = append(out.Transitions, state.String())
				}

				out.Paid = report.Paid
			}

			status, err := s.Service.QuotaStatus(cmd.Context())
			if err != nil {
				return err
			}

			out.RemainingQuota = status.RemainingQuota
			out.Performed = status.PerformedQueryCount
			out.Total = status.TotalQuota
			out.BlockNumber = status.BlockNumber

			return a.print(out)
		},
	}

	cmd.Flags().Bool(topUpFlagName, false, topUpFlagUsage)

	return cmd
}

type obfuscationOutput struct {
	Identifier string `json:"obfuscatedIdentifier"`
	Pepper     string `json:"pepper"`
}

func (a *app) obfuscateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "obfuscate <identifier>",
		Short: "Compute the obfuscated identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.Obfuscate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return a.print(&obfuscationOutput{Identifier: r.Identifier.Hex(), Pepper: r.Pepper})
		},
	}
}

func (a *app) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <identifier> <account>",
		Short: "Attest that the identifier belongs to the account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[1])
			if err != nil {
				return err
			}

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			att, err := s.Register(cmd.Context(), args[0], account)
			if err != nil {
				return err
			}

			return a.print(newAttestationOutput(att))
		},
	}
}

func (a *app) lookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <identifier>",
		Short: "List the accounts attested for the identifier, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuers, err := getIssuers(cmd)
			if err != nil {
				return err
			}

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			found, err := s.Lookup(cmd.Context(), args[0], issuers...)
			if err != nil {
				return err
			}

			out := make([]*attestationOutput, 0, len(found))
			for i := range found {
				out = append(out, newAttestationOutput(&found[i]))
			}

			return a.print(out)
		},
	}

	cmd.Flags().StringSlice(issuerFlagName, nil, issuerFlagUsage)

	return cmd
}

func (a *app) resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Show the most recently attested account for the identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuers, err := getIssuers(cmd)
			if err != nil {
				return err
			}

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			att, err := s.Resolve(cmd.Context(), args[0], issuers...)
			if err != nil {
				return err
			}

			return a.print(newAttestationOutput(att))
		},
	}

	cmd.Flags().StringSlice(issuerFlagName, nil, issuerFlagUsage)

	return cmd
}

func (a *app) revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <identifier> <account>",
		Short: "Revoke the issuer's attestation of the identifier to the account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[1])
			if err != nil {
				return err
			}

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err = s.Revoke(cmd.Context(), args[0], account); err != nil {
				return err
			}

			return a.print(map[string]string{"revoked": account.Hex()})
		},
	}
}

type attestationOutput struct {
	Identifier  string     `json:"obfuscatedIdentifier"`
	Account     string     `json:"account"`
	Issuer      string     `json:"issuer"`
	Signer      string     `json:"signer"`
	IssuedOn    time.Time  `json:"issuedOn"`
	PublishedOn *time.Time `json:"publishedOn,omitempty"`
}

func newAttestationOutput(att *registry.Attestation) *attestationOutput {
	out := &attestationOutput{
		Identifier: att.Identifier.Hex(),
		Account:    att.Account.Hex(),
		Issuer:     att.Issuer.Hex(),
		Signer:     att.Signer.Hex(),
		IssuedOn:   att.IssuedOn.UTC(),
	}

	if !att.PublishedOn.IsZero() {
		p := att.PublishedOn.UTC()
		out.PublishedOn = &p
	}

	return out
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func parseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", errInvalidAccount, s)
	}

	return common.HexToAddress(s), nil
}

func getIssuers(cmd *cobra.Command) ([]common.Address, error) {
	raw, err := cmd.Flags().GetStringSlice(issuerFlagName)
	if err != nil {
		return nil, fmt.Errorf("%s flag not found: %w", issuerFlagName, err)
	}

	issuers := make([]common.Address, 0, len(raw))

	for _, r := range raw {
		a, err := parseAccount(r)
		if err != nil {
			return nil, err
		}

		issuers = append(issuers, a)
	}

	return issuers, nil
}

// getUserSetVar returns the flag value if set, or else the environment variable's.
func getUserSetVar(cmd *cobra.Command, flagName, envKey string) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf("%s flag not found: %w", flagName, err)
		}

		return value, nil
	}

	return os.Getenv(envKey), nil
}
