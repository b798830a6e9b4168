// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vaulterr defines the error kinds surfaced by the chat-history
// export pipeline.
//
// Every failure that leaves the export core is a *Error carrying a Kind, so
// callers can tell a missing public key apart from a corrupt envelope
// without string matching:
//
//	if errors.Is(err, vaulterr.ErrKeyLoad) {
//	    // public key missing or malformed
//	}
//	log.Error("export failed", "kind", vaulterr.KindOf(err))
package vaulterr

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind categorizes export failures for handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindKeyLoad
	KindSerialization
	KindEncryption
	KindDecryption
	KindMalformedEnvelope
	KindStorage
)

// String returns the lowercase label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindKeyLoad:
		return "key_load"
	case KindSerialization:
		return "serialization"
	case KindEncryption:
		return "encryption"
	case KindDecryption:
		return "decryption"
	case KindMalformedEnvelope:
		return "malformed_envelope"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a categorized failure from one export operation.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "security.LoadPublicKey"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets the
// sentinel values below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Sentinel errors for easy checking with errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrKeyLoad           = &Error{Kind: KindKeyLoad}
	ErrSerialization     = &Error{Kind: KindSerialization}
	ErrEncryption        = &Error{Kind: KindEncryption}
	ErrDecryption        = &Error{Kind: KindDecryption}
	ErrMalformedEnvelope = &Error{Kind: KindMalformedEnvelope}
	ErrStorage           = &Error{Kind: KindStorage}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
