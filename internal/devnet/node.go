// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package devnet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytemare/ecc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bytemare/socialconnect/internal/oprf"
	"github.com/bytemare/socialconnect/service"
	"github.com/bytemare/socialconnect/signer"
)

// DefaultSuite is the evaluation group used when none is configured.
const DefaultSuite = ecc.Secp256k1Sha256

const (
	maxRequestSize = 64 << 10

	// MetricsPath exposes the node's Prometheus metrics.
	MetricsPath = "/metrics"

	errBadRequest = "INVALID_INPUT"
	errRateLimit  = "ODIS_RATE_LIMIT"
	errEvaluation = "ODIS_EVALUATION_ERROR"
)

var (
	errUnknownDEK      = errors.New("no encryption key registered for account")
	errSignerMismatch  = errors.New("signature is not from the expected key")
	errUnsupportedAuth = errors.New("unsupported authentication method")
)

// NodeConfig configures an evaluation node.
type NodeConfig struct {
	// Suite is the evaluation group. It defaults to secp256k1.
	Suite ecc.Group

	// Seed derives the evaluation key. A random key is used when empty.
	Seed []byte

	// KeyVersion is the version of the evaluation key. It defaults to 1.
	KeyVersion int

	// RateLimit is the per-account request rate, in requests per second. Zero disables rate limiting.
	RateLimit float64

	// Burst is the per-account burst size.
	Burst int

	// ChainID signs the transactions of the ledger served at LedgerPath. It defaults to DefaultChainID.
	ChainID *big.Int

	// Registry receives the node's metrics. A private registry is used when nil.
	Registry *prometheus.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type nodeMetrics struct {
	requests    *prometheus.CounterVec
	evaluations prometheus.Counter
}

func newNodeMetrics(reg prometheus.Registerer) *nodeMetrics {
	f := promauto.With(reg)

	return &nodeMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oprf_devnode",
			Name:      "requests_total",
			Help:      "Requests served, by path and status code.",
		}, []string{"path", "code"}),
		evaluations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "oprf_devnode",
			Name:      "evaluations_total",
			Help:      "Blinded queries evaluated.",
		}),
	}
}

// Node is an evaluation node serving the service wire protocol. It is safe for concurrent use.
type Node struct {
	mu         sync.RWMutex
	suite      ecc.Group
	evaluator  *oprf.Evaluator
	keyVersion int

	quotas  *Quotas
	chain   *Chain
	ledger  http.Handler
	deks    map[common.Address]common.Address
	limiter *limiter
	now     func() time.Time

	registry *prometheus.Registry
	metrics  *nodeMetrics
	logger   *slog.Logger
}

// NewNode returns a node consuming quotas. chain, if not nil, provides the reported block numbers and is served over
// JSON-RPC at LedgerPath.
func NewNode(cfg NodeConfig, quotas *Quotas, chain *Chain) *Node {
	if cfg.Suite == 0 {
		cfg.Suite = DefaultSuite
	}

	if cfg.KeyVersion == 0 {
		cfg.KeyVersion = 1
	}

	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	n := &Node{
		suite:      cfg.Suite,
		evaluator:  newEvaluator(cfg.Suite, cfg.Seed),
		keyVersion: cfg.KeyVersion,
		quotas:     quotas,
		chain:      chain,
		deks:       make(map[common.Address]common.Address),
		limiter:    newLimiter(cfg.RateLimit, cfg.Burst),
		now:        time.Now,
		registry:   cfg.Registry,
		metrics:    newNodeMetrics(cfg.Registry),
		logger:     cfg.Logger.With("component", "oprf-devnode"),
	}

	if chain != nil {
		srv, err := NewLedgerServer(chain, cfg.ChainID, cfg.Logger)
		if err != nil {
			// Only malformed ledger ABIs get here, and those are constants.
			panic(err)
		}

		n.ledger = srv
	}

	return n
}

func newEvaluator(g ecc.Group, seed []byte) *oprf.Evaluator {
	if len(seed) == 0 {
		seed = g.NewScalar().Random().Encode()
	}

	return oprf.DeriveEvaluator(g, seed, []byte("socialconnect devnode"))
}

// Suite returns the evaluation group.
func (n *Node) Suite() ecc.Group {
	return n.suite
}

// PublicKey returns the hex encoded evaluation public key.
func (n *Node) PublicKey() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return hex.EncodeToString(n.evaluator.PublicKey().Encode())
}

// KeyVersion returns the version of the current evaluation key.
func (n *Node) KeyVersion() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.keyVersion
}

// Rotate replaces the evaluation key with one derived from seed, and bumps the key version.
func (n *Node) Rotate(seed []byte) {
	e := newEvaluator(n.suite, seed)

	n.mu.Lock()
	defer n.mu.Unlock()

	n.evaluator = e
	n.keyVersion++
}

// RegisterDEK registers the data encryption key an account authenticates with.
func (n *Node) RegisterDEK(account, dek common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.deks[account] = dek
}

// RegisterRoutes registers the wire protocol routes.
func (n *Node) RegisterRoutes(r chi.Router) {
	r.Post(service.SignPath, n.handleSign)
	r.Post(service.QuotaPath, n.handleQuota)
	r.Get(service.StatusPath, n.handleStatus)
	r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))

	if n.ledger != nil {
		r.Handle(LedgerPath, n.ledger)
	}
}

// Handler returns the node's router.
func (n *Node) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(n.count)

	n.RegisterRoutes(mux)

	return mux
}

func (n *Node) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		n.metrics.requests.WithLabelValues(r.URL.Path, strconv.Itoa(ww.Status())).Inc()
	})
}

func (n *Node) handleSign(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req service.SignRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.BlindedQuery) == 0 {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}

	account, ok := n.authenticate(w, r, body, req.Account, req.AuthenticationMethod)
	if !ok {
		return
	}

	if _, _, left := n.remaining(account); !left {
		writeError(w, http.StatusForbidden, service.QuotaErrorCode)
		return
	}

	n.mu.RLock()
	evaluator, keyVersion := n.evaluator, n.keyVersion
	n.mu.RUnlock()

	evaluation, err := evaluator.Evaluate(req.BlindedQuery)
	if err != nil {
		n.logger.WarnContext(r.Context(), "evaluation failed", "account", account.Hex(), "error", err)
		writeError(w, http.StatusBadRequest, errEvaluation)

		return
	}

	performed, total, left := n.quotas.Consume(account)
	if !left {
		writeError(w, http.StatusForbidden, service.QuotaErrorCode)
		return
	}

	n.metrics.evaluations.Inc()
	n.logger.DebugContext(r.Context(), "query evaluated", "account", account.Hex(), "session", req.SessionID,
		"performed", performed, "total", total)

	w.Header().Set(service.SessionHeader, req.SessionID)
	writeJSON(w, http.StatusOK, &service.SignResponse{
		Success:             true,
		Evaluation:          evaluation,
		PerformedQueryCount: performed,
		TotalQuota:          total,
		BlockNumber:         n.blockNumber(),
		KeyVersion:          keyVersion,
	})
}

func (n *Node) handleQuota(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req service.QuotaRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}

	account, ok := n.authenticate(w, r, body, req.Account, req.AuthenticationMethod)
	if !ok {
		return
	}

	performed, total, _ := n.remaining(account)

	w.Header().Set(service.SessionHeader, req.SessionID)
	writeJSON(w, http.StatusOK, &service.QuotaStatus{
		Success:             true,
		PerformedQueryCount: performed,
		TotalQuota:          total,
		RemainingQuota:      total - performed,
		BlockNumber:         n.blockNumber(),
	})
}

func (n *Node) handleStatus(w http.ResponseWriter, _ *http.Request) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	writeJSON(w, http.StatusOK, &service.StatusResponse{
		Version:    service.ProtocolVersion,
		KeyVersion: n.keyVersion,
		PublicKey:  hex.EncodeToString(n.evaluator.PublicKey().Encode()),
		Suite:      oprf.CiphersuiteIdentifier[n.suite],
	})
}

func (n *Node) remaining(account common.Address) (performed, total int, left bool) {
	performed, total = n.quotas.Status(account)
	return performed, total, performed < total
}

func (n *Node) blockNumber() uint64 {
	if n.chain == nil {
		return 0
	}

	return n.chain.BlockNumber()
}

// authenticate checks the rate limit and the request signature, and returns the requesting account.
func (n *Node) authenticate(w http.ResponseWriter, r *http.Request, body []byte, rawAccount, method string,
) (common.Address, bool) {
	if !common.IsHexAddress(rawAccount) {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return common.Address{}, false
	}

	account := common.HexToAddress(rawAccount)

	if !n.limiter.allow(account.Hex(), n.now()) {
		writeError(w, http.StatusTooManyRequests, errRateLimit)
		return common.Address{}, false
	}

	if err := n.verify(body, r.Header.Get(service.AuthorizationHeader), account, method); err != nil {
		n.logger.WarnContext(r.Context(), "authentication failed", "account", account.Hex(), "error", err)
		writeError(w, http.StatusUnauthorized, service.AuthErrorCode)

		return common.Address{}, false
	}

	return account, true
}

func (n *Node) verify(body []byte, header string, account common.Address, rawMethod string) error {
	method, err := signer.ParseAuthenticationMethod(rawMethod)
	if err != nil {
		return errors.Join(errUnsupportedAuth, err)
	}

	pub, err := signer.Recover(body, header)
	if err != nil {
		return err
	}

	expected := account

	if method == signer.EncryptionKey {
		n.mu.RLock()
		dek, ok := n.deks[account]
		n.mu.RUnlock()

		if !ok {
			return errUnknownDEK
		}

		expected = dek
	}

	if crypto.PubkeyToAddress(*pub) != expected {
		return errSignerMismatch
	}

	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return nil, false
	}

	return body, true
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, &service.ErrorResponse{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
