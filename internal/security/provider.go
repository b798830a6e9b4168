// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/chatvault/internal/logging"
)

// =============================================================================
// KEY PROVIDER
// =============================================================================

// PublicKeySource supplies the recipient public key for an export.
type PublicKeySource interface {
	PublicKey() (*rsa.PublicKey, error)
}

// KeyProvider loads the recipient public key from disk and caches it.
// The cache is dropped when the file changes, so a rotated key is picked
// up by the next export. Load failures are not cached.
//
// KeyProvider is safe for concurrent use.
type KeyProvider struct {
	path    string
	minBits int
	logger  *slog.Logger

	mu       sync.RWMutex
	key      *rsa.PublicKey
	loadedAt time.Time

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewKeyProvider creates a provider for the PEM public key at path.
// A nil logger discards log output.
func NewKeyProvider(path string, minBits int, logger *slog.Logger) *KeyProvider {
	if minBits <= 0 {
		minBits = MinRSABits
	}
	return &KeyProvider{
		path:    filepath.Clean(path),
		minBits: minBits,
		logger:  logging.OrDiscard(logger),
	}
}

// Path returns the key file path.
func (p *KeyProvider) Path() string {
	return p.path
}

// PublicKey returns the cached key, loading it on first use.
func (p *KeyProvider) PublicKey() (*rsa.PublicKey, error) {
	p.mu.RLock()
	key := p.key
	p.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key != nil {
		return p.key, nil
	}

	key, err := LoadPublicKey(p.path, p.minBits)
	if err != nil {
		return nil, err
	}
	p.key = key
	p.loadedAt = time.Now()
	p.logger.Debug("public key loaded", "path", p.path, "bits", key.N.BitLen())
	return key, nil
}

// LoadedAt reports when the cached key was read, or the zero time.
func (p *KeyProvider) LoadedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadedAt
}

// Invalidate drops the cached key.
func (p *KeyProvider) Invalidate() {
	p.mu.Lock()
	p.key = nil
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}

// =============================================================================
// FILE WATCHING
// =============================================================================

// Watch starts invalidating the cache whenever the key file is written,
// replaced or removed. The parent directory is watched because editors and
// atomic writers replace files by rename.
func (p *KeyProvider) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.watcher = watcher
	p.cancel = cancel
	p.mu.Unlock()

	go p.processEvents(ctx, watcher)
	return nil
}

func (p *KeyProvider) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				p.Invalidate()
				p.logger.Info("public key changed, cache invalidated", "path", p.path, "op", event.Op.String())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("key watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call on a provider that never watched.
func (p *KeyProvider) Close() error {
	p.mu.Lock()
	watcher, cancel := p.watcher, p.cancel
	p.watcher, p.cancel = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
