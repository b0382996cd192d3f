// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

package devnet

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// Quotas tracks the evaluation quota of each account. Payments credit it and the node consumes it.
type Quotas struct {
	mu        sync.Mutex
	performed map[common.Address]int
	total     map[common.Address]int
}

// NewQuotas returns an empty quota book.
func NewQuotas() *Quotas {
	return &Quotas{
		performed: make(map[common.Address]int),
		total:     make(map[common.Address]int),
	}
}

// Credit adds n evaluations to account's total quota.
func (q *Quotas) Credit(account common.Address, n int) {
	if n <= 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.total[account] += n
}

// Status returns the performed and total counts of account.
func (q *Quotas) Status(account common.Address) (performed, total int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.performed[account], q.total[account]
}

// Consume takes one evaluation from account's quota, and reports whether there was one left.
func (q *Quotas) Consume(account common.Address) (performed, total int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.performed[account] >= q.total[account] {
		return q.performed[account], q.total[account], false
	}

	q.performed[account]++

	return q.performed[account], q.total[account], true
}

// limiter applies a token bucket per account and evicts idle entries. A nil limiter allows everything.
type limiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*limiterEntry
	hits    uint64
	idleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}

	return &limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byKey:   make(map[string]*limiterEntry),
		idleTTL: 10 * time.Minute,
	}
}

func (l *limiter) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}

	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}

	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	return allowed
}
