// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package config loads the engine configuration: a network preset, overridden by a YAML file, overridden by
// SOCIALCONNECT_* environment variables. Secrets are expected to come from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/bytemare/socialconnect/internal/logging"
	"github.com/bytemare/socialconnect/service"
	"github.com/bytemare/socialconnect/signer"
)

// Environment variables overriding the file.
const (
	EnvNetwork          = "SOCIALCONNECT_NETWORK"
	EnvRPC              = "SOCIALCONNECT_RPC"
	EnvIssuerKey        = "SOCIALCONNECT_ISSUER_KEY"
	EnvAuthMethod       = "SOCIALCONNECT_AUTH_METHOD"
	EnvDEK              = "SOCIALCONNECT_DEK"
	EnvServiceEndpoints = "SOCIALCONNECT_SERVICE_ENDPOINTS"
	EnvServicePublicKey = "SOCIALCONNECT_SERVICE_PUBLIC_KEY"
	EnvServiceKeyVer    = "SOCIALCONNECT_SERVICE_KEY_VERSION"
	EnvQuotaFee         = "SOCIALCONNECT_QUOTA_FEE"
	EnvLogLevel         = "SOCIALCONNECT_LOG_LEVEL"
	EnvLogFormat        = "SOCIALCONNECT_LOG_FORMAT"
)

var (
	// ErrInvalid is returned for any configuration that doesn't validate.
	ErrInvalid = errors.New("invalid configuration")

	errUnknownNetwork = errors.New("unknown network preset")
)

// File is the YAML layout.
type File struct {
	Network string      `yaml:"network"`
	Ledger  LedgerFile  `yaml:"ledger"`
	Service ServiceFile `yaml:"service"`
	Issuer  IssuerFile  `yaml:"issuer"`
	Quota   QuotaFile   `yaml:"quota"`
	Log     LogFile     `yaml:"log"`
}

// LedgerFile locates the ledger and its contracts.
type LedgerFile struct {
	RPC       string        `yaml:"rpc"`
	ChainID   int64         `yaml:"chainId"`
	Contracts ContractsFile `yaml:"contracts"`
}

// ContractsFile holds the contract addresses.
type ContractsFile struct {
	FederatedAttestations string `yaml:"federatedAttestations"`
	OdisPayments          string `yaml:"odisPayments"`
	StableToken           string `yaml:"stableToken"`
}

// ServiceFile describes the evaluation service.
type ServiceFile struct {
	Name        string        `yaml:"name"`
	Endpoints   []string      `yaml:"endpoints"`
	Ciphersuite string        `yaml:"ciphersuite"`
	PublicKey   string        `yaml:"publicKey"`
	KeyVersion  int           `yaml:"keyVersion"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IssuerFile holds the issuer credentials. Prefer the environment for both keys.
type IssuerFile struct {
	PrivateKey string `yaml:"privateKey"`
	AuthMethod string `yaml:"authMethod"`
	DEK        string `yaml:"dek"`
}

// QuotaFile sets the top-up fee, in the token's smallest unit.
type QuotaFile struct {
	Fee string `yaml:"fee"`
}

// LogFile configures logging.
type LogFile struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is a validated configuration. Treat it as read-only.
type Config struct {
	Network string

	RPC                   string
	ChainID               *big.Int
	FederatedAttestations common.Address
	OdisPayments          common.Address
	StableToken           common.Address

	Service        *service.Context
	ServiceTimeout time.Duration

	IssuerKey  string
	AuthMethod signer.AuthenticationMethod
	DEK        string

	Fee *big.Int

	LogLevel  slog.Level
	LogFormat logging.Format
}

// Load reads the file at path, if any, applies the environment and validates the result.
func Load(path string) (*Config, error) {
	var data []byte

	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	return Parse(data)
}

// Parse builds the configuration from YAML data, which may be empty, and the environment.
func Parse(data []byte) (*Config, error) {
	var header struct {
		Network string `yaml:"network"`
	}

	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	network := header.Network
	if env := strings.TrimSpace(os.Getenv(EnvNetwork)); env != "" {
		network = env
	}

	if network == "" {
		network = Alfajores
	}

	f, err := Preset(network)
	if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	f.Network = network

	if err = ApplyEnvOverrides(&f); err != nil {
		return nil, err
	}

	return f.Validate()
}

// ApplyEnvOverrides overwrites f with the SOCIALCONNECT_* variables that are set.
func ApplyEnvOverrides(f *File) error {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	set(&f.Ledger.RPC, EnvRPC)
	set(&f.Issuer.PrivateKey, EnvIssuerKey)
	set(&f.Issuer.AuthMethod, EnvAuthMethod)
	set(&f.Issuer.DEK, EnvDEK)
	set(&f.Service.PublicKey, EnvServicePublicKey)
	set(&f.Quota.Fee, EnvQuotaFee)
	set(&f.Log.Level, EnvLogLevel)
	set(&f.Log.Format, EnvLogFormat)

	if v := strings.TrimSpace(os.Getenv(EnvServiceEndpoints)); v != "" {
		f.Service.Endpoints = splitList(v)
	}

	if v := strings.TrimSpace(os.Getenv(EnvServiceKeyVer)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, EnvServiceKeyVer, err)
		}

		f.Service.KeyVersion = n
	}

	return nil
}

// Validate checks f and returns the corresponding Config.
func (f *File) Validate() (*Config, error) {
	var errs []error

	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	c := &Config{
		Network:        f.Network,
		RPC:            strings.TrimSpace(f.Ledger.RPC),
		ChainID:        big.NewInt(f.Ledger.ChainID),
		ServiceTimeout: f.Service.Timeout,
		IssuerKey:      strings.TrimSpace(f.Issuer.PrivateKey),
		DEK:            strings.TrimSpace(f.Issuer.DEK),
	}

	if c.RPC == "" {
		invalid("ledger.rpc is required")
	}

	if f.Ledger.ChainID <= 0 {
		invalid("ledger.chainId must be positive")
	}

	c.FederatedAttestations = address(f.Ledger.Contracts.FederatedAttestations, "federatedAttestations", invalid)
	c.OdisPayments = address(f.Ledger.Contracts.OdisPayments, "odisPayments", invalid)
	c.StableToken = address(f.Ledger.Contracts.StableToken, "stableToken", invalid)

	sc, err := service.NewContext(f.Service.Name, f.Service.Endpoints, f.Service.Ciphersuite, f.Service.PublicKey,
		f.Service.KeyVersion)
	if err != nil {
		invalid("service: %w", err)
	}

	c.Service = sc

	if c.ServiceTimeout <= 0 {
		invalid("service.timeout must be positive")
	}

	if _, err = signer.ParsePrivateKey(c.IssuerKey); err != nil {
		invalid("issuer key (%s): %w", EnvIssuerKey, err)
	}

	if c.AuthMethod, err = signer.ParseAuthenticationMethod(f.Issuer.AuthMethod); err != nil {
		invalid("issuer.authMethod: %w", err)
	}

	if c.AuthMethod == signer.EncryptionKey {
		if _, err = signer.ParsePrivateKey(c.DEK); err != nil {
			invalid("issuer DEK (%s): %w", EnvDEK, err)
		}
	}

	fee, ok := new(big.Int).SetString(strings.TrimSpace(f.Quota.Fee), 10)
	if !ok || fee.Sign() <= 0 {
		invalid("quota.fee must be a positive integer, got %q", f.Quota.Fee)
	}

	c.Fee = fee

	if c.LogLevel, err = logging.ParseLevel(f.Log.Level); err != nil {
		invalid("log.level: %w", err)
	}

	switch logging.Format(f.Log.Format) {
	case logging.Text, logging.JSON:
		c.LogFormat = logging.Format(f.Log.Format)
	default:
		invalid("log.format must be text or json, got %q", f.Log.Format)
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	return c, nil
}

func address(s, name string, invalid func(string, ...any)) common.Address {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		invalid("ledger.contracts.%s: invalid address %q", name, s)
		return common.Address{}
	}

	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		invalid("ledger.contracts.%s: zero address", name)
	}

	return a
}

func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
