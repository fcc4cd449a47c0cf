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

package cryptox

import (
	"bytes"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRoundTrip(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, plaintext := range []string{"", "short", strings.Repeat("token-material-", 100)} {
		ct, iv, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := c.Decrypt(ct, iv)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ct1, iv1, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct2, iv2, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if bytes.Equal(iv1, iv2) {
		t.Error("IV reused across calls")
	}
	if bytes.Equal(ct1, ct2) {
		t.Error("identical ciphertext for two encryptions of the same plaintext")
	}
}

func TestDecrypt_RejectsTampering(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ct, iv, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	ct[0] ^= 0xff
	if _, err := c.Decrypt(ct, iv); err == nil {
		t.Error("Decrypt succeeded on tampered ciphertext")
	}

	ct[0] ^= 0xff
	iv[0] ^= 0xff
	if _, err := c.Decrypt(ct, iv); err == nil {
		t.Error("Decrypt succeeded with the wrong IV")
	}
}

func TestNew_RejectsBadKeys(t *testing.T) {
	for _, key := range []string{
		"",
		"zz",           // not hex
		"0001020304",   // too short
		testKey + "00", // too long
	} {
		if _, err := New(key); err == nil {
			t.Errorf("New(%q) succeeded, want error", key)
		}
	}
}
