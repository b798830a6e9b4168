// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/chatvault/internal/util"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MinRSABits is the smallest modulus accepted for wrapping keys.
	MinRSABits = 2048

	// DefaultRSABits is the modulus size used by GenerateKeyPair callers
	// that do not choose one.
	DefaultRSABits = 2048

	// PublicKeyFile and PrivateKeyFile are the names WriteKeyPair uses.
	PublicKeyFile  = "public_key.pem"
	PrivateKeyFile = "private_key.pem"

	pemPublicKey           = "PUBLIC KEY"
	pemRSAPublicKey        = "RSA PUBLIC KEY"
	pemPrivateKey          = "PRIVATE KEY"
	pemRSAPrivateKey       = "RSA PRIVATE KEY"
	pemEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
)

// ErrPassphraseRequired is returned when an encrypted private key is loaded
// without a passphrase.
var ErrPassphraseRequired = errors.New("private key is encrypted; passphrase required")

// =============================================================================
// KEY GENERATION
// =============================================================================

// GenerateKeyPair creates a new RSA key pair with the given modulus size.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < MinRSABits {
		return nil, fmt.Errorf("RSA key size %d below minimum %d", bits, MinRSABits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return priv, nil
}

// MarshalPublicKeyPEM encodes pub as a SubjectPublicKeyInfo "PUBLIC KEY" block.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der}), nil
}

// MarshalPrivateKeyPEM encodes priv as PKCS#8. With an empty passphrase the
// result is a plain "PRIVATE KEY" block; otherwise it is an
// "ENCRYPTED PRIVATE KEY" block protected with PBES2.
func MarshalPrivateKeyPEM(priv *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	if len(passphrase) > 0 {
		enc, err := encryptPKCS8(priv, passphrase)
		if err != nil {
			return nil, err
		}
		defer ZeroBytes(enc)
		return pem.EncodeToMemory(&pem.Block{Type: pemEncryptedPrivateKey, Bytes: enc}), nil
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer ZeroBytes(der)
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}), nil
}

// WriteKeyPair writes private_key.pem (0600) and public_key.pem (0644) into
// dir, creating it if needed. It returns the two paths.
func WriteKeyPair(dir string, priv *rsa.PrivateKey, passphrase []byte) (privPath, pubPath string, err error) {
	privPEM, err := MarshalPrivateKeyPEM(priv, passphrase)
	if err != nil {
		return "", "", err
	}
	defer ZeroBytes(privPEM)

	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return "", "", err
	}

	privPath = filepath.Join(dir, PrivateKeyFile)
	pubPath = filepath.Join(dir, PublicKeyFile)

	if err := util.AtomicWriteFileWithDir(privPath, privPEM, 0600, 0700); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(pubPath, pubPEM, 0644, 0700); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privPath, pubPath, nil
}

// =============================================================================
// KEY LOADING
// =============================================================================

// LoadPublicKey reads a PEM public key from path. All failures are KeyLoad
// errors.
func LoadPublicKey(path string, minBits int) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindKeyLoad, "security.LoadPublicKey", err)
	}
	return ParsePublicKeyPEM(data, minBits)
}

// ParsePublicKeyPEM parses an RSA public key in SubjectPublicKeyInfo or PKCS#1
// form and rejects moduli smaller than minBits.
func ParsePublicKeyPEM(data []byte, minBits int) (*rsa.PublicKey, error) {
	const op = "security.ParsePublicKeyPEM"

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "no PEM block found")
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case pemPublicKey:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, vaulterr.E(vaulterr.KindKeyLoad, op, err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "public key is %T, not RSA", key)
		}
		pub = rsaKey
	case pemRSAPublicKey:
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, vaulterr.E(vaulterr.KindKeyLoad, op, err)
		}
		pub = key
	default:
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "unexpected PEM block %q", block.Type)
	}

	if minBits > 0 && pub.N.BitLen() < minBits {
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op,
			"RSA key size %d below minimum %d", pub.N.BitLen(), minBits)
	}
	return pub, nil
}

// LoadPrivateKey reads a PEM private key from path, decrypting it with
// passphrase when it is an encrypted PKCS#8 block.
func LoadPrivateKey(path string, passphrase []byte) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindKeyLoad, "security.LoadPrivateKey", err)
	}
	defer ZeroBytes(data)
	return ParsePrivateKeyPEM(data, passphrase)
}

// ParsePrivateKeyPEM accepts "PRIVATE KEY" (PKCS#8), "ENCRYPTED PRIVATE KEY"
// (PKCS#8 PBES2) and "RSA PRIVATE KEY" (PKCS#1) blocks.
func ParsePrivateKeyPEM(data, passphrase []byte) (*rsa.PrivateKey, error) {
	const op = "security.ParsePrivateKeyPEM"

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "no PEM block found")
	}

	switch block.Type {
	case pemRSAPrivateKey:
		if _, ok := block.Headers["DEK-Info"]; ok {
			return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "legacy PEM encryption is not supported")
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, vaulterr.E(vaulterr.KindKeyLoad, op, err)
		}
		return key, nil

	case pemPrivateKey:
		return parsePKCS8RSA(op, block.Bytes)

	case pemEncryptedPrivateKey:
		if len(passphrase) == 0 {
			return nil, vaulterr.E(vaulterr.KindKeyLoad, op, ErrPassphraseRequired)
		}
		key, err := decryptPKCS8(block.Bytes, passphrase)
		if err != nil {
			return nil, vaulterr.E(vaulterr.KindKeyLoad, op, err)
		}
		return key, nil

	default:
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "unexpected PEM block %q", block.Type)
	}
}

func parsePKCS8RSA(op string, der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindKeyLoad, op, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, vaulterr.Errorf(vaulterr.KindKeyLoad, op, "private key is %T, not RSA", key)
	}
	return rsaKey, nil
}
