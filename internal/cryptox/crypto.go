// Copyright (c) 2026 John Earle
//
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

// Package cryptox provides AES-GCM encryption for token material held at
// rest. Each Encrypt call generates a fresh random IV; ciphertext and IV are
// stored separately and both are required to decrypt.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeySize is the required key length (AES-256).
const KeySize = 32

// Cipher encrypts and decrypts short secrets with a fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a hex-encoded 32-byte key.
func New(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext and returns the ciphertext with the random IV
// used for this call.
func (c *Cipher) Encrypt(plaintext string) (ciphertext, iv []byte, err error) {
	iv = make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate IV: %w", err)
	}

	ciphertext = c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return ciphertext, iv, nil
}

// Decrypt opens a ciphertext produced by Encrypt with its IV.
func (c *Cipher) Decrypt(ciphertext, iv []byte) (string, error) {
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
