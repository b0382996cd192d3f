// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package service is the HTTP client of the distributed evaluation service: blinded query evaluation and quota
// status, authenticated with the issuer's AuthSigner.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/bytemare/socialconnect/signer"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

var errNilAuth = errors.New("service client: nil auth signer")

// Client talks to one endpoint of the service context per request. It holds no state across requests.
type Client struct {
	sc         *Context
	account    common.Address
	auth       signer.AuthSigner
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a client querying sc on behalf of account.
func NewClient(sc *Context, account common.Address, auth signer.AuthSigner, opts ...Option) (*Client, error) {
	if auth == nil {
		return nil, errNilAuth
	}

	c := &Client{
		sc:         sc,
		account:    account,
		auth:       auth,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Context returns the service context the client queries.
func (c *Client) Context() *Context {
	return c.sc
}

// Account returns the account the client authenticates as.
func (c *Client) Account() common.Address {
	return c.account
}

// Sign submits the blinded query for evaluation.
func (c *Client) Sign(ctx context.Context, blinded []byte) (*SignResponse, error) {
	req := &SignRequest{
		Account:              c.account.Hex(),
		BlindedQuery:         blinded,
		SessionID:            uuid.NewString(),
		AuthenticationMethod: string(c.auth.Method()),
		Version:              ProtocolVersion,
	}

	resp := new(SignResponse)
	if err := c.post(ctx, SignPath, req.SessionID, req, resp); err != nil {
		return nil, err
	}

	if !resp.Success || resp.Evaluation == nil {
		return nil, fmt.Errorf("%w: unsuccessful evaluation response %q", ErrProtocolViolation, resp.Error)
	}

	return resp, nil
}

// QuotaStatus returns the account's current quota.
func (c *Client) QuotaStatus(ctx context.Context) (*QuotaStatus, error) {
	req := &QuotaRequest{
		Account:              c.account.Hex(),
		SessionID:            uuid.NewString(),
		AuthenticationMethod: string(c.auth.Method()),
		Version:              ProtocolVersion,
	}

	status := new(QuotaStatus)
	if err := c.post(ctx, QuotaPath, req.SessionID, req, status); err != nil {
		return nil, err
	}

	if !status.Success || status.RemainingQuota < 0 {
		return nil, fmt.Errorf("%w: invalid quota status %q", ErrProtocolViolation, status.Error)
	}

	return status, nil
}

// Status returns the service's description as reported by one of its endpoints.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	endpoint := c.endpoint()

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+StatusPath, nil)
	if err != nil {
		return nil, fmt.Errorf("service client: %w", err)
	}

	status := new(StatusResponse)
	if err = c.do(r, status); err != nil {
		return nil, err
	}

	return status, nil
}

func (c *Client) endpoint() string {
	eps := c.sc.endpoints
	if len(eps) == 1 {
		return eps[0]
	}

	return eps[rand.IntN(len(eps))]
}

func (c *Client) post(ctx context.Context, path, session string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("service client: encoding request: %w", err)
	}

	auth, err := c.auth.Sign(body)
	if err != nil {
		return err
	}

	endpoint := c.endpoint()

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("service client: %w", err)
	}

	r.Header.Set("Content-Type", "application/json")
	r.Header.Set(AuthorizationHeader, auth)
	r.Header.Set(SessionHeader, session)

	c.logger.DebugContext(ctx, "service request", "endpoint", endpoint, "path", path, "session", session)

	return c.do(r, resp)
}

func (c *Client) do(r *http.Request, out any) error {
	resp, err := c.httpClient.Do(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrServiceUnavailable, err)
	}

	if err = statusError(resp.StatusCode, data); err != nil {
		c.logger.WarnContext(r.Context(), "service request failed",
			"endpoint", r.URL.Host, "path", r.URL.Path, "status", resp.StatusCode)

		return err
	}

	if err = json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrProtocolViolation, err)
	}

	return nil
}

func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}

	var e ErrorResponse
	_ = json.Unmarshal(body, &e)

	switch {
	case code == http.StatusForbidden && e.Error == QuotaErrorCode:
		return fmt.Errorf("%w (%d)", ErrQuotaExhausted, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w (%d %s)", ErrUnauthorized, code, e.Error)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w (%d %s)", ErrServiceUnavailable, code, e.Error)
	default:
		return fmt.Errorf("%w: unexpected status %d %s", ErrProtocolViolation, code, e.Error)
	}
}
