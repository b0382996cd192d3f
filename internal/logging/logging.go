// SPDX-License-Identifier: MIT
//
// Copyright (C) 2024 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package logging builds the slog loggers of the binaries. Every logger it returns goes through a sanitizing handler:
// plaintext identifiers are replaced by a per-process fingerprint, and secrets are redacted.
package logging

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = randomNonce()

	// Attributes carrying a plaintext identifier.
	plainIdentifiers = map[string]struct{}{
		"identifier": {},
		"phone":      {},
		"email":      {},
		"handle":     {},
	}

	sensitiveKeyParts = []string{"secret", "private", "dek", "password", "mnemonic", "authorization"}

	errUnknownFormat = errors.New("unknown log format")
)

// Format is the output encoding.
type Format string

// Output encodings.
const (
	Text Format = "text"
	JSON Format = "json"
)

// Options configures a logger.
type Options struct {
	Level  slog.Level
	Format Format

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a sanitizing logger.
func New(opts Options) (*slog.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	ho := &slog.HandlerOptions{Level: opts.Level}

	var h slog.Handler

	switch opts.Format {
	case Text, "":
		h = slog.NewTextHandler(out, ho)
	case JSON:
		h = slog.NewJSONHandler(out, ho)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownFormat, opts.Format)
	}

	return slog.New(WrapHandler(h)), nil
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return l, fmt.Errorf("log level: %w", err)
	}

	return l, nil
}

// SanitizingHandler rewrites attributes before passing records on.
type SanitizingHandler struct {
	next slog.Handler
}

// WrapHandler returns next behind a sanitizer.
func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}

	return &SanitizingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})

	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(sanitizeAttrs(attrs))}
}

// WithGroup implements slog.Handler.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr redacts secrets and fingerprints plaintext identifiers, recursing into groups.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lower := strings.ToLower(key)

	switch {
	case isSensitiveKey(lower):
		return slog.String(key, redactedValue)
	case isPlainIdentifier(lower):
		return slog.String(key+"_fp", Fingerprint(attr.Value.Resolve().String()))
	case attr.Value.Kind() == slog.KindGroup:
		return slog.Attr{Key: key, Value: slog.GroupValue(sanitizeAttrs(attr.Value.Group())...)}
	default:
		return attr
	}
}

// Fingerprint returns a stable, within this process, stand-in for value.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))

	return "fp_" + hex.EncodeToString(sum[:8])
}

func sanitizeAttrs(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}

	return out
}

func isPlainIdentifier(key string) bool {
	_, ok := plainIdentifiers[key]
	return ok
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}

	return false
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}

	return hex.EncodeToString(buf)
}
