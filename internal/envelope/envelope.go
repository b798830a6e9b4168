// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package envelope frames a wrapped key and a ciphertext into one blob.
//
// Layout:
//
//	+----------------+----------------------+----------------------+
//	| L: uint32 (BE) | wrapped key (L bytes)| ciphertext (rest)    |
//	+----------------+----------------------+----------------------+
//
// The ciphertext carries no length; it runs to the end of the blob.
package envelope

import (
	"encoding/binary"
	"math"

	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// HeaderSize is the size of the key length prefix.
const HeaderSize = 4

// Envelope is a decoded blob.
type Envelope struct {
	WrappedKey []byte
	Ciphertext []byte
}

// Encode frames wrappedKey and ciphertext. It fails only when the key does
// not fit a 32-bit length.
func Encode(wrappedKey, ciphertext []byte) ([]byte, error) {
	if err := checkKeyLength(uint64(len(wrappedKey))); err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize, HeaderSize+len(wrappedKey)+len(ciphertext))
	binary.BigEndian.PutUint32(out, uint32(len(wrappedKey)))
	out = append(out, wrappedKey...)
	out = append(out, ciphertext...)
	return out, nil
}

func checkKeyLength(n uint64) error {
	if n > math.MaxUint32 {
		return vaulterr.Errorf(vaulterr.KindMalformedEnvelope, "envelope.Encode",
			"wrapped key of %d bytes exceeds 32-bit length", n)
	}
	return nil
}

// Decode splits a blob produced by Encode. The returned slices are copies
// and do not alias blob.
func Decode(blob []byte) (*Envelope, error) {
	const op = "envelope.Decode"
	if len(blob) < HeaderSize {
		return nil, vaulterr.Errorf(vaulterr.KindMalformedEnvelope, op,
			"blob is %d bytes, shorter than the %d-byte header", len(blob), HeaderSize)
	}

	n := uint64(binary.BigEndian.Uint32(blob))
	if uint64(len(blob)-HeaderSize) < n {
		return nil, vaulterr.Errorf(vaulterr.KindMalformedEnvelope, op,
			"declared key length %d exceeds remaining %d bytes", n, len(blob)-HeaderSize)
	}

	keyEnd := HeaderSize + int(n)
	return &Envelope{
		WrappedKey: append([]byte{}, blob[HeaderSize:keyEnd]...),
		Ciphertext: append([]byte{}, blob[keyEnd:]...),
	}, nil
}

// Encode is a convenience for Encode(e.WrappedKey, e.Ciphertext).
func (e *Envelope) Encode() ([]byte, error) {
	return Encode(e.WrappedKey, e.Ciphertext)
}
