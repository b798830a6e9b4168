// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto"
	"crypto/rsa"
	_ "crypto/sha256" // registers crypto.SHA256 for the PBKDF2 PRF
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"
)

// Encrypted PKCS#8 (RFC 5958) using PBES2 (RFC 8018) with
// PBKDF2-HMAC-SHA256 and AES-256-CBC. This is the format written by
// `openssl pkcs8 -topk8 -v2 aes-256-cbc` and read by most tooling.

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// PBKDF2Iterations is the iteration count for passphrase-protected keys
	// (OWASP 2023 recommendation for PBKDF2-HMAC-SHA256).
	PBKDF2Iterations = 600000

	// maxPBKDF2Iterations bounds the work an untrusted key file can demand.
	maxPBKDF2Iterations = 10000000

	pbes2SaltSize = 16
)

var (
	oidPBES2          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBKDF2         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}
	oidHMACWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 9}
	oidAES256CBC      = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}
)

// ErrBadPassphrase is returned when an encrypted key does not decrypt.
var ErrBadPassphrase = errors.New("incorrect passphrase or corrupt key")

// keyEncryption is the PBES2 profile used for every key chatvault writes.
var keyEncryption = &pkcs8.Opts{
	Cipher: pkcs8.AES256CBC,
	KDFOpts: pkcs8.PBKDF2Opts{
		SaltSize:       pbes2SaltSize,
		IterationCount: PBKDF2Iterations,
		HMACHash:       crypto.SHA256,
	},
}

// =============================================================================
// ENCRYPT / DECRYPT
// =============================================================================

func encryptPKCS8(priv *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	der, err := pkcs8.MarshalPrivateKey(priv, passphrase, keyEncryption)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	return der, nil
}

func decryptPKCS8(data, passphrase []byte) (*rsa.PrivateKey, error) {
	if err := checkPBES2Params(data); err != nil {
		return nil, err
	}
	key, err := pkcs8.ParsePKCS8PrivateKeyRSA(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPassphrase, err)
	}
	return key, nil
}

// =============================================================================
// PARAMETER CHECK
// =============================================================================

// The structures below are only read, never written: they let a key file be
// rejected before any PBKDF2 work is done on its behalf.

type encryptedPrivateKeyInfo struct {
	Algorithm     pkix.AlgorithmIdentifier
	EncryptedData []byte
}

type pbes2Params struct {
	KeyDerivationFunc pkix.AlgorithmIdentifier
	EncryptionScheme  pkix.AlgorithmIdentifier
}

type pbkdf2Params struct {
	Salt           []byte
	IterationCount int
	KeyLength      int                      `asn1:"optional"`
	PRF            pkix.AlgorithmIdentifier `asn1:"optional"`
}

// checkPBES2Params accepts only PBES2 with PBKDF2-HMAC-SHA256, AES-256-CBC
// and an iteration count within bounds.
func checkPBES2Params(data []byte) error {
	var info encryptedPrivateKeyInfo
	if rest, err := asn1.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("invalid encrypted key: %w", err)
	} else if len(rest) > 0 {
		return errors.New("invalid encrypted key: trailing data")
	}
	if !info.Algorithm.Algorithm.Equal(oidPBES2) {
		return fmt.Errorf("unsupported key encryption %v", info.Algorithm.Algorithm)
	}

	var scheme pbes2Params
	if _, err := asn1.Unmarshal(info.Algorithm.Parameters.FullBytes, &scheme); err != nil {
		return fmt.Errorf("invalid PBES2 params: %w", err)
	}
	if !scheme.KeyDerivationFunc.Algorithm.Equal(oidPBKDF2) {
		return fmt.Errorf("unsupported key derivation %v", scheme.KeyDerivationFunc.Algorithm)
	}
	if !scheme.EncryptionScheme.Algorithm.Equal(oidAES256CBC) {
		return fmt.Errorf("unsupported cipher %v", scheme.EncryptionScheme.Algorithm)
	}

	var kdf pbkdf2Params
	if _, err := asn1.Unmarshal(scheme.KeyDerivationFunc.Parameters.FullBytes, &kdf); err != nil {
		return fmt.Errorf("invalid PBKDF2 params: %w", err)
	}
	if !kdf.PRF.Algorithm.Equal(oidHMACWithSHA256) {
		return fmt.Errorf("unsupported PBKDF2 PRF %v", kdf.PRF.Algorithm)
	}
	if kdf.IterationCount < 1 || kdf.IterationCount > maxPBKDF2Iterations {
		return fmt.Errorf("PBKDF2 iteration count %d out of range", kdf.IterationCount)
	}
	return nil
}
