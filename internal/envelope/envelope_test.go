// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package envelope

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/jeranaias/chatvault/internal/vaulterr"
)

func TestEncode_Layout(t *testing.T) {
	blob, err := Encode([]byte{0xAA, 0xBB}, []byte("xyz"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []byte{0, 0, 0, 2, 0xAA, 0xBB, 'x', 'y', 'z'}
	if !bytes.Equal(blob, want) {
		t.Errorf("Encode() = %x, want %x", blob, want)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
		ct   []byte
	}{
		{"typical", bytes.Repeat([]byte{7}, 256), []byte("gAAAAAB-token")},
		{"empty key", []byte{}, []byte("ciphertext")},
		{"empty ciphertext", []byte("key"), []byte{}},
		{"both empty", []byte{}, []byte{}},
		{"4096-bit key", bytes.Repeat([]byte{1}, 512), bytes.Repeat([]byte{2}, 1<<16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := Encode(tt.key, tt.ct)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(blob) != HeaderSize+len(tt.key)+len(tt.ct) {
				t.Errorf("len(blob) = %d, want %d", len(blob), HeaderSize+len(tt.key)+len(tt.ct))
			}

			env, err := Decode(blob)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !bytes.Equal(env.WrappedKey, tt.key) {
				t.Errorf("WrappedKey = %x, want %x", env.WrappedKey, tt.key)
			}
			if !bytes.Equal(env.Ciphertext, tt.ct) {
				t.Errorf("Ciphertext length = %d, want %d", len(env.Ciphertext), len(tt.ct))
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"nil", nil},
		{"three bytes", []byte{0, 0, 0}},
		{"length past end", []byte{0, 0, 0, 5, 1, 2, 3}},
		{"huge length", []byte{0xFF, 0xFF, 0xFF, 0xFF, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.blob)
			if err == nil {
				t.Fatal("Decode() error = nil, want malformed envelope")
			}
			if !errors.Is(err, vaulterr.ErrMalformedEnvelope) {
				t.Errorf("Decode() error = %v, want kind %v", err, vaulterr.KindMalformedEnvelope)
			}
		})
	}
}

func TestDecode_ExactLength(t *testing.T) {
	// A header whose key consumes the rest leaves an empty ciphertext.
	env, err := Decode([]byte{0, 0, 0, 2, 9, 9})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(env.Ciphertext) != 0 {
		t.Errorf("Ciphertext = %x, want empty", env.Ciphertext)
	}
}

func TestDecode_DoesNotAlias(t *testing.T) {
	blob, _ := Encode([]byte("key"), []byte("ct"))
	env, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	for i := range blob {
		blob[i] = 0
	}
	if string(env.WrappedKey) != "key" || string(env.Ciphertext) != "ct" {
		t.Errorf("decoded slices changed with the input: %q %q", env.WrappedKey, env.Ciphertext)
	}
}

func TestEnvelope_Encode(t *testing.T) {
	env := &Envelope{WrappedKey: []byte("k"), Ciphertext: []byte("c")}
	blob, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(blob, []byte{0, 0, 0, 1, 'k', 'c'}) {
		t.Errorf("Encode() = %x", blob)
	}
}

func TestCheckKeyLength(t *testing.T) {
	if err := checkKeyLength(math.MaxUint32); err != nil {
		t.Fatalf("checkKeyLength(MaxUint32) error = %v", err)
	}
	err := checkKeyLength(math.MaxUint32 + 1)
	if !errors.Is(err, vaulterr.ErrMalformedEnvelope) {
		t.Errorf("checkKeyLength(MaxUint32+1) = %v, want kind %v", err, vaulterr.KindMalformedEnvelope)
	}
}
