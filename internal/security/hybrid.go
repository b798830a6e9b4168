// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// fernetVersion is the first byte of every Fernet token.
const fernetVersion = 0x80

// fernetHeaderSize is version (1) + timestamp (8) + IV (16).
const fernetHeaderSize = 1 + 8 + 16

// noExpiry disables the Fernet TTL check. Archives are opened long after
// they are written.
const noExpiry = 100 * 365 * 24 * time.Hour

// =============================================================================
// SECURITY HELPER FUNCTIONS
// =============================================================================

// ZeroBytes securely zeros sensitive byte slices to prevent memory disclosure.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// HYBRID ENCRYPTION
// =============================================================================

// Sealed is the output of Seal: a one-time Fernet key wrapped with RSA-OAEP
// and the Fernet token holding the payload.
type Sealed struct {
	WrappedKey []byte
	Ciphertext []byte
}

// Seal encrypts plaintext so that only the holder of the private half of pub
// can read it.
//
// A fresh Fernet key (AES-128-CBC + HMAC-SHA256) is generated per call and
// wrapped with RSA-OAEP (SHA-256, MGF1-SHA-256, no label). The key is zeroed
// before returning and never leaves this function in the clear. Either a
// complete Sealed is returned or an error; there is no partial output.
func Seal(pub *rsa.PublicKey, plaintext []byte) (*Sealed, error) {
	const op = "security.Seal"
	if pub == nil {
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "public key is nil")
	}

	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, vaulterr.E(vaulterr.KindEncryption, op, err)
	}
	defer ZeroBytes(key[:])

	// The wrapped secret is the url-safe base64 form of the key, as Fernet
	// implementations exchange it.
	encoded := []byte(key.Encode())
	defer ZeroBytes(encoded)

	token, err := fernet.EncryptAndSign(plaintext, &key)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindEncryption, op, err)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, encoded, nil)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindEncryption, op, err)
	}

	return &Sealed{WrappedKey: wrapped, Ciphertext: token}, nil
}

// Open reverses Seal. Any tampering with either part fails with a
// decryption error; corrupted plaintext is never returned.
func Open(priv *rsa.PrivateKey, wrappedKey, ciphertext []byte) ([]byte, error) {
	const op = "security.Open"
	if priv == nil {
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "private key is nil")
	}

	encoded, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrappedKey, nil)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindDecryption, op, err)
	}
	defer ZeroBytes(encoded)

	key, err := fernet.DecodeKey(string(encoded))
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindDecryption, op, err)
	}
	defer ZeroBytes(key[:])

	msg := fernet.VerifyAndDecrypt(ciphertext, noExpiry, []*fernet.Key{key})
	if msg == nil {
		return nil, vaulterr.E(vaulterr.KindDecryption, op, ErrAuthenticationFailed)
	}
	return msg, nil
}

// ErrAuthenticationFailed means the ciphertext did not verify under the
// unwrapped key: it was modified or belongs to another envelope.
var ErrAuthenticationFailed = errors.New("ciphertext authentication failed")

// =============================================================================
// TOKEN INSPECTION
// =============================================================================

// TokenInfo describes the unauthenticated header of a Fernet token.
type TokenInfo struct {
	Version  byte
	IssuedAt time.Time
	Size     int // decoded token size in bytes
}

// InspectToken reads the header of a Fernet token without a key. The values
// are not authenticated and are for display only.
func InspectToken(token []byte) (*TokenInfo, error) {
	const op = "security.InspectToken"
	raw := make([]byte, base64.URLEncoding.DecodedLen(len(token)))
	n, err := base64.URLEncoding.Decode(raw, token)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindMalformedEnvelope, op, err)
	}
	raw = raw[:n]
	if len(raw) < fernetHeaderSize || raw[0] != fernetVersion {
		return nil, vaulterr.Errorf(vaulterr.KindMalformedEnvelope, op, "not a Fernet token")
	}
	ts := int64(binary.BigEndian.Uint64(raw[1:9]))
	return &TokenInfo{
		Version:  raw[0],
		IssuedAt: time.Unix(ts, 0).UTC(),
		Size:     n,
	}, nil
}
