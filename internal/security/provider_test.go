// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatvault/internal/vaulterr"
)

func writePublicKey(t *testing.T, path string, i int) {
	t.Helper()
	data, err := MarshalPublicKeyPEM(&testKeyPair(t, i).PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestKeyProvider_CachesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), PublicKeyFile)
	writePublicKey(t, path, 0)

	p := NewKeyProvider(path, MinRSABits, nil)
	require.True(t, p.LoadedAt().IsZero())

	first, err := p.PublicKey()
	require.NoError(t, err)
	require.False(t, p.LoadedAt().IsZero())

	// Replacing the file without invalidation keeps the cached key.
	writePublicKey(t, path, 1)
	second, err := p.PublicKey()
	require.NoError(t, err)
	require.Same(t, first, second)

	p.Invalidate()
	third, err := p.PublicKey()
	require.NoError(t, err)
	require.True(t, third.Equal(&testKeyPair(t, 1).PublicKey))
}

func TestKeyProvider_ErrorsNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), PublicKeyFile)
	p := NewKeyProvider(path, MinRSABits, nil)

	_, err := p.PublicKey()
	require.True(t, errors.Is(err, vaulterr.ErrKeyLoad))

	writePublicKey(t, path, 0)
	key, err := p.PublicKey()
	require.NoError(t, err)
	require.NotNil(t, key)
}

func TestKeyProvider_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), PublicKeyFile)
	writePublicKey(t, path, 0)
	p := NewKeyProvider(path, MinRSABits, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if j%5 == 0 {
					p.Invalidate()
				}
				if _, err := p.PublicKey(); err != nil {
					t.Errorf("PublicKey() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestKeyProvider_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PublicKeyFile)
	writePublicKey(t, path, 0)

	p := NewKeyProvider(path, MinRSABits, nil)
	require.NoError(t, p.Watch())
	defer p.Close()

	key, err := p.PublicKey()
	require.NoError(t, err)
	require.True(t, key.Equal(&testKeyPair(t, 0).PublicKey))

	writePublicKey(t, path, 1)

	want := &testKeyPair(t, 1).PublicKey
	require.Eventually(t, func() bool {
		key, err := p.PublicKey()
		return err == nil && key.Equal(want)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestKeyProvider_CloseWithoutWatch(t *testing.T) {
	p := NewKeyProvider("unused.pem", 0, nil)
	require.NoError(t, p.Close())
}
