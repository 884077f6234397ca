// Copyright © 2020 Ispirata Srl
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

package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func generateTestECKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func TestGeneratePairingJWTRoundtrip(t *testing.T) {
	keyPEM := generateTestECKeyPEM(t)

	token, err := GeneratePairingJWTFromPEMKey(keyPEM, []string{"GET::.*", "POST::.*"}, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := GetJWTPairingClaims(token)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims.Pairing) != 2 {
		t.Fatalf("expected 2 pairing claims, got %v", claims.Pairing)
	}

	valid, err := IsJWTValidForPairing(token)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("expected token to be valid for pairing")
	}
}

func TestGeneratePairingJWTDefaultsClaim(t *testing.T) {
	keyPEM := generateTestECKeyPEM(t)

	token, err := GeneratePairingJWTFromPEMKey(keyPEM, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := GetJWTPairingClaims(token)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims.Pairing) != 1 || claims.Pairing[0] != ".*::.*" {
		t.Fatalf("expected default wildcard claim, got %v", claims.Pairing)
	}
}

func TestParsePrivateKeyFromPEMRejectsGarbage(t *testing.T) {
	if _, err := ParsePrivateKeyFromPEM([]byte("not a pem")); err != ErrKeyMustBePEMEncoded {
		t.Fatalf("expected ErrKeyMustBePEMEncoded, got %v", err)
	}
}
