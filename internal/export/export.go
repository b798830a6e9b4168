// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jeranaias/chatvault/internal/envelope"
	"github.com/jeranaias/chatvault/internal/logging"
	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/security"
	"github.com/jeranaias/chatvault/internal/util"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultArtifactName is the file name of an encrypted export.
	DefaultArtifactName = "chat_history.enc"

	// MimeType is the content type of an encrypted export.
	MimeType = "application/octet-stream"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// HistoryReader reads the complete history of one user.
type HistoryReader interface {
	ReadHistory(ctx context.Context, userID string) ([]model.Thread, error)
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// ArtifactName is the file name given to produced artifacts.
	// Default: chat_history.enc
	ArtifactName string

	// OutputDir is where WriteFile saves artifacts.
	// Default: current working directory
	OutputDir string

	// Logger receives one line per export. Nil discards.
	Logger *slog.Logger

	// Metrics records export outcomes. Nil records nothing.
	Metrics *Metrics
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		ArtifactName: DefaultArtifactName,
		OutputDir:    ".",
	}
}

// =============================================================================
// ARTIFACT
// =============================================================================

// Artifact is one encrypted export ready for delivery.
type Artifact struct {
	Name      string
	MimeType  string
	Data      []byte
	UserID    string
	Threads   int
	Steps     int
	CreatedAt time.Time
}

// =============================================================================
// EXPORTER
// =============================================================================

// Exporter turns a user's stored history into an encrypted artifact that only
// the holder of the recipient private key can read.
//
// An Exporter holds no per-request state; concurrent Export calls are
// independent.
type Exporter struct {
	history HistoryReader
	keys    security.PublicKeySource
	opts    *Options
	logger  *slog.Logger
}

// New creates an exporter. A nil opts uses DefaultOptions.
func New(history HistoryReader, keys security.PublicKeySource, opts *Options) *Exporter {
	o := DefaultOptions()
	if opts != nil {
		*o = *opts
	}
	if o.ArtifactName == "" {
		o.ArtifactName = DefaultArtifactName
	}
	return &Exporter{
		history: history,
		keys:    keys,
		opts:    o,
		logger:  logging.OrDiscard(o.Logger),
	}
}

// Export reads userID's history, serializes it, and seals it for the
// recipient key. userID must already be authenticated and resolved.
//
// The key is loaded before the history is read so a missing key fails
// without touching the store. On error no artifact is returned.
func (e *Exporter) Export(ctx context.Context, userID string) (art *Artifact, err error) {
	start := time.Now()
	defer func() {
		size := 0
		if art != nil {
			size = len(art.Data)
		}
		e.opts.Metrics.observe(start, size, err)
		if err != nil {
			e.logger.Error("export failed",
				"user_id", userID,
				"kind", vaulterr.KindOf(err).String(),
				"duration", time.Since(start),
				"error", err)
		}
	}()

	pub, err := e.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	threads, err := e.history.ReadHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	payload, err := Serialize(userID, threads)
	if err != nil {
		return nil, err
	}
	defer security.ZeroBytes(payload)

	sealed, err := security.Seal(pub, payload)
	if err != nil {
		return nil, err
	}

	blob, err := envelope.Encode(sealed.WrappedKey, sealed.Ciphertext)
	if err != nil {
		return nil, err
	}

	art = &Artifact{
		Name:      e.opts.ArtifactName,
		MimeType:  MimeType,
		Data:      blob,
		UserID:    userID,
		Threads:   len(threads),
		Steps:     (&Archive{Threads: threads}).StepCount(),
		CreatedAt: time.Now().UTC(),
	}

	e.logger.Info("export complete",
		"user_id", userID,
		"threads", art.Threads,
		"steps", art.Steps,
		"payload_bytes", len(payload),
		"artifact_bytes", len(blob),
		"duration", time.Since(start))

	return art, nil
}

// WriteFile saves an artifact atomically under the configured output
// directory and returns its path. The file is readable only by its owner.
func (e *Exporter) WriteFile(art *Artifact) (string, error) {
	return WriteArtifact(art, e.opts.OutputDir)
}

// WriteArtifact saves art as dir/art.Name.
func WriteArtifact(art *Artifact, dir string) (string, error) {
	if art == nil {
		return "", fmt.Errorf("artifact is nil")
	}
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, sanitizeFilename(art.Name))
	if err := util.AtomicWriteFile(path, art.Data, 0600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// =============================================================================
// OPENING
// =============================================================================

// Open decrypts an artifact with the recipient private key and parses the
// archive. It is the inverse of Export.
func Open(priv *rsa.PrivateKey, blob []byte) (*Archive, error) {
	plain, err := OpenRaw(priv, blob)
	if err != nil {
		return nil, err
	}
	defer security.ZeroBytes(plain)
	return Deserialize(plain)
}

// OpenRaw decrypts an artifact and returns the canonical JSON unparsed.
func OpenRaw(priv *rsa.PrivateKey, blob []byte) ([]byte, error) {
	env, err := envelope.Decode(blob)
	if err != nil {
		return nil, err
	}
	return security.Open(priv, env.WrappedKey, env.Ciphertext)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 100
	runes := []rune(filepath.Base(s))
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	name := string(result)
	if name == "" || name == "." || name == ".." {
		return DefaultArtifactName
	}
	return name
}
