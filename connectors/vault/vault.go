// Copyright 2025 OmniFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vault encrypts connector credentials at rest with
// AES-256-GCM. Ciphertexts carry a key version prefix ("v1:") so keys
// can be rotated without re-encrypting stored tokens in one pass.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"omniflow/platform/connectors/base"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// activeVersion is the key version new ciphertexts are written under.
const activeVersion = "v1"

// Vault seals and opens credential strings. Safe for concurrent use;
// keys are fixed at construction.
type Vault struct {
	keys map[string]cipher.AEAD
}

// New builds a Vault from the active key plus any retired keys kept
// around for decrypting old ciphertexts. retired maps version id to
// raw key bytes.
func New(active []byte, retired map[string][]byte) (*Vault, error) {
	keys := make(map[string]cipher.AEAD, len(retired)+1)

	aead, err := newAEAD(active)
	if err != nil {
		return nil, err
	}
	keys[activeVersion] = aead

	for version, key := range retired {
		if version == activeVersion {
			return nil, &base.ConfigError{Field: "retired_keys", Message: fmt.Sprintf("version %s conflicts with the active key", version)}
		}
		aead, err := newAEAD(key)
		if err != nil {
			return nil, err
		}
		keys[version] = aead
	}

	return &Vault{keys: keys}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, &base.ConfigError{Field: "encryption_key", Message: fmt.Sprintf("must be %d bytes, got %d", KeySize, len(key))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the active key. Output is
// "v1:" + base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead := v.keys[activeVersion]

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return activeVersion + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a versioned ciphertext. Tampered data, a truncated
// blob, or an unknown key version all surface as *base.IntegrityError
// so callers can flag the account for re-auth instead of retrying.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	version, encoded, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", &base.IntegrityError{Err: fmt.Errorf("ciphertext missing key version prefix")}
	}

	aead, exists := v.keys[version]
	if !exists {
		return "", &base.IntegrityError{Err: fmt.Errorf("unknown key version %q", version)}
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &base.IntegrityError{Err: fmt.Errorf("decode ciphertext: %w", err)}
	}

	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize {
		return "", &base.IntegrityError{Err: fmt.Errorf("ciphertext shorter than nonce")}
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &base.IntegrityError{Err: fmt.Errorf("open ciphertext: %w", err)}
	}

	return string(plaintext), nil
}
