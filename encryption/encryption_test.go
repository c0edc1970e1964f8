/*
 * Copyright 2020 Kopano and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package encryption

import (
	"bytes"
	"testing"
)

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}

	if len(nonce) != NonceSize {
		t.Fatalf("nonce has wrong size: got %v want %v", len(nonce), NonceSize)
	}
}

func TestGenerateKey(t *testing.T) {
	secretKey, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	if len(secretKey) != KeySize {
		t.Fatalf("secret key has wrong size: got %v want %v", len(secretKey), KeySize)
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	secretKey, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("AuthSP issued credential blob which must never be stored in the clear.")
	encrypted, err := Encrypt(msg, secretKey)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(encrypted[NonceSize:], msg) {
		t.Fatal("encrypted text matches plain text")
	}

	decrypted, err := Decrypt(encrypted, secretKey)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(decrypted, msg) {
		t.Fatalf("decrypted text does not match expected value, got %v", decrypted)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	secretKey, _ := GenerateKey()
	otherKey, _ := GenerateKey()

	encrypted, err := Encrypt([]byte("credential"), secretKey)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(encrypted, otherKey); err == nil {
		t.Fatal("decryption with wrong key did not fail")
	}
}

func TestDecryptTooShort(t *testing.T) {
	secretKey, _ := GenerateKey()

	if _, err := Decrypt([]byte("short"), secretKey); err == nil {
		t.Fatal("decryption of truncated ciphertext did not fail")
	}
}
