// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/security"
	"github.com/jeranaias/chatvault/internal/store"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	keyErr  error
)

func privateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() { testKey, keyErr = security.GenerateKeyPair(2048) })
	require.NoError(t, keyErr)
	return testKey
}

type staticKey struct {
	key *rsa.PublicKey
	err error
}

func (s staticKey) PublicKey() (*rsa.PublicKey, error) { return s.key, s.err }

type fakeHistory struct {
	threads []model.Thread
	err     error
	calls   int
}

func (f *fakeHistory) ReadHistory(ctx context.Context, userID string) ([]model.Thread, error) {
	f.calls++
	return f.threads, f.err
}

// =============================================================================
// PIPELINE
// =============================================================================

func TestExport_RoundTrip(t *testing.T) {
	priv := privateKey(t)
	history := &fakeHistory{threads: sampleThreads()}
	exp := New(history, staticKey{key: &priv.PublicKey}, nil)

	art, err := exp.Export(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, DefaultArtifactName, art.Name)
	require.Equal(t, MimeType, art.MimeType)
	require.Equal(t, 2, art.Threads)
	require.Equal(t, 3, art.Steps)

	// Header declares the RSA modulus size.
	require.GreaterOrEqual(t, len(art.Data), 4)
	require.Equal(t, uint32(priv.Size()), binary.BigEndian.Uint32(art.Data))

	archive, err := Open(priv, art.Data)
	require.NoError(t, err)
	require.Equal(t, "u1", archive.UserID)
	require.Equal(t, sampleThreads(), archive.Threads)

	raw, err := OpenRaw(priv, art.Data)
	require.NoError(t, err)
	want, err := Serialize("u1", sampleThreads())
	require.NoError(t, err)
	require.Equal(t, want, raw)
}

func TestExport_NonDeterministic(t *testing.T) {
	priv := privateKey(t)
	exp := New(&fakeHistory{threads: sampleThreads()}, staticKey{key: &priv.PublicKey}, nil)

	a, err := exp.Export(context.Background(), "u1")
	require.NoError(t, err)
	b, err := exp.Export(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, bytes.Equal(a.Data, b.Data))
}

func TestExport_EmptyHistory(t *testing.T) {
	priv := privateKey(t)
	exp := New(&fakeHistory{}, staticKey{key: &priv.PublicKey}, nil)

	art, err := exp.Export(context.Background(), "nobody")
	require.NoError(t, err)

	raw, err := OpenRaw(priv, art.Data)
	require.NoError(t, err)
	require.JSONEq(t, `{"user_id":"nobody","threads":[]}`, string(raw))
}

func TestExport_KeyLoadFailsBeforeRead(t *testing.T) {
	history := &fakeHistory{threads: sampleThreads()}
	keyErr := vaulterr.Errorf(vaulterr.KindKeyLoad, "test", "no key")
	exp := New(history, staticKey{err: keyErr}, nil)

	art, err := exp.Export(context.Background(), "u1")
	require.Nil(t, art)
	require.True(t, errors.Is(err, vaulterr.ErrKeyLoad))
	require.Zero(t, history.calls)
}

func TestExport_StorageError(t *testing.T) {
	priv := privateKey(t)
	storeErr := vaulterr.Errorf(vaulterr.KindStorage, "test", "disk gone")
	exp := New(&fakeHistory{err: storeErr}, staticKey{key: &priv.PublicKey}, nil)

	art, err := exp.Export(context.Background(), "u1")
	require.Nil(t, art)
	require.Equal(t, vaulterr.KindStorage, vaulterr.KindOf(err))
}

func TestExport_SerializationError(t *testing.T) {
	priv := privateKey(t)
	threads := sampleThreads()
	threads[0].Steps[1].Generation = model.RawJSON(`{broken`)
	exp := New(&fakeHistory{threads: threads}, staticKey{key: &priv.PublicKey}, nil)

	art, err := exp.Export(context.Background(), "u1")
	require.Nil(t, art)
	require.True(t, errors.Is(err, vaulterr.ErrSerialization))
}

func TestExport_Metrics(t *testing.T) {
	priv := privateKey(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	ok := New(&fakeHistory{}, staticKey{key: &priv.PublicKey}, &Options{Metrics: metrics})
	_, err := ok.Export(context.Background(), "u1")
	require.NoError(t, err)

	bad := New(&fakeHistory{}, staticKey{err: vaulterr.E(vaulterr.KindKeyLoad, "test", nil)}, &Options{Metrics: metrics})
	_, err = bad.Export(context.Background(), "u1")
	require.Error(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.exports.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.exports.WithLabelValues("key_load")))
	require.Equal(t, 2, testutil.CollectAndCount(metrics.exports))
}

// =============================================================================
// TAMPERING
// =============================================================================

func TestOpen_Tampered(t *testing.T) {
	priv := privateKey(t)
	exp := New(&fakeHistory{threads: sampleThreads()}, staticKey{key: &priv.PublicKey}, nil)
	art, err := exp.Export(context.Background(), "u1")
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		_, err := Open(priv, art.Data[:3])
		require.True(t, errors.Is(err, vaulterr.ErrMalformedEnvelope))
	})

	t.Run("length past end", func(t *testing.T) {
		blob := bytes.Clone(art.Data)
		binary.BigEndian.PutUint32(blob, uint32(len(blob)))
		_, err := Open(priv, blob)
		require.True(t, errors.Is(err, vaulterr.ErrMalformedEnvelope))
	})

	t.Run("wrapped key flipped", func(t *testing.T) {
		blob := bytes.Clone(art.Data)
		blob[4+10] ^= 0xFF
		_, err := Open(priv, blob)
		require.True(t, errors.Is(err, vaulterr.ErrDecryption))
	})

	t.Run("ciphertext truncated", func(t *testing.T) {
		_, err := Open(priv, art.Data[:len(art.Data)-8])
		require.True(t, errors.Is(err, vaulterr.ErrDecryption))
	})
}

// =============================================================================
// STORE INTEGRATION
// =============================================================================

// TestExport_FromStore runs the full pipeline against SQLite: two threads,
// one with three steps (one nested), one with none.
func TestExport_FromStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := store.Open(ctx, filepath.Join(dir, "chat.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.InitSchema(ctx))

	user, err := db.EnsureUser(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	th := &model.Thread{Name: model.Ref("with steps"), UserID: model.Ref(user.ID), UserIdentifier: model.Ref(user.Identifier)}
	require.NoError(t, db.CreateThread(ctx, th))
	q := &model.Step{Name: "user", Type: model.StepUserMessage, ThreadID: th.ID, Output: model.Ref("hi")}
	require.NoError(t, db.AddStep(ctx, q))
	require.NoError(t, db.AddStep(ctx, &model.Step{Name: "assistant", Type: model.StepAssistantMessage, ThreadID: th.ID, Output: model.Ref("hello")}))
	require.NoError(t, db.AddStep(ctx, &model.Step{Name: "tool", Type: model.StepTool, ThreadID: th.ID, ParentID: model.Ref(q.ID)}))

	empty := &model.Thread{Name: model.Ref("empty"), UserID: model.Ref(user.ID)}
	require.NoError(t, db.CreateThread(ctx, empty))

	priv := privateKey(t)
	_, pubPath, err := security.WriteKeyPair(filepath.Join(dir, "keys"), priv, nil)
	require.NoError(t, err)
	keys := security.NewKeyProvider(pubPath, security.MinRSABits, nil)

	exp := New(db, keys, &Options{OutputDir: filepath.Join(dir, "out")})
	art, err := exp.Export(ctx, user.ID)
	require.NoError(t, err)

	path, err := exp.WriteFile(art)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "out", DefaultArtifactName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	archive, err := Open(priv, data)
	require.NoError(t, err)
	require.Equal(t, user.ID, archive.UserID)
	require.Len(t, archive.Threads, 2)

	first, second := archive.Threads[0], archive.Threads[1]
	require.Equal(t, th.ID, first.ID)
	require.Len(t, first.Steps, 3)
	require.Equal(t, q.ID, *first.Steps[2].ParentID)
	require.Equal(t, empty.ID, second.ID)
	require.NotNil(t, second.Steps)
	require.Empty(t, second.Steps)
}
