// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security holds the cryptography behind chat_history.enc.
//
// # Scheme
//
// A fresh Fernet key (AES-128-CBC with HMAC-SHA256) encrypts the payload.
// The Fernet key is wrapped with RSA-OAEP (SHA-256 for both the hash and
// MGF1) for the recipient public key. Every Seal uses a new key, so two
// exports of the same history never share ciphertext.
//
// # Keys
//
//   - GenerateKeyPair, WriteKeyPair: recipient key pair for the trusted device
//   - LoadPublicKey: SubjectPublicKeyInfo or PKCS#1 PEM, with a minimum size
//   - LoadPrivateKey: PKCS#8, PKCS#1, or PBES2-encrypted PKCS#8 PEM
//   - KeyProvider: caches the public key and reloads it when the file changes
//
// # Usage
//
//	sealed, err := security.Seal(pub, plaintext)
//	if err != nil {
//		return err
//	}
//	plain, err := security.Open(priv, sealed.WrappedKey, sealed.Ciphertext)
package security
