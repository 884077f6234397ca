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

// Package auth generates and inspects the Pairing-scoped JWTs a device uses to register itself
// and request credentials, without the management-API claim surface a device never needs.
package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"time"

	jwt "github.com/cristalhq/jwt/v3"
)

var (
	// ErrKeyMustBePEMEncoded is returned when the key is not encoded in PEM format.
	ErrKeyMustBePEMEncoded = errors.New("invalid key: key must be PEM encoded private key")
	// ErrNotPrivateKey is returned when the private key is not valid.
	ErrNotPrivateKey = errors.New("key is not a valid private key")
	// ErrUnsupportedPrivateKey is returned when the chosen private key is not supported for JWT generation.
	ErrUnsupportedPrivateKey = errors.New("key is not supported for JWT generation")
)

// PairingClaims is the JWT claim set a device presents to the Pairing API: registration,
// certificate issuance and protocol info all live behind a single "a_pa" claim.
type PairingClaims struct {
	jwt.StandardClaims

	Pairing []string `json:"a_pa,omitempty"`
}

func (c *PairingClaims) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// GeneratePairingJWTFromKeyFile generates a Pairing JWT out of a PEM-encoded private key file.
// An empty claims slice grants unrestricted access to the Pairing API tree.
func GeneratePairingJWTFromKeyFile(privateKeyFile string, claims []string, ttlSeconds int64) (string, error) {
	keyPEM, err := os.ReadFile(privateKeyFile)
	if err != nil {
		return "", err
	}
	return GeneratePairingJWTFromPEMKey(keyPEM, claims, ttlSeconds)
}

// ParsePrivateKeyFromPEM parses a PEM encoded RSA or EC private key.
func ParsePrivateKeyFromPEM(key []byte) (interface{}, error) {
	block, _ := pem.Decode(key)
	if block == nil {
		return nil, ErrKeyMustBePEMEncoded
	}

	var parsedKey interface{}
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsedKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsedKey, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		parsedKey, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, ErrNotPrivateKey
	}
	if err != nil {
		return nil, err
	}

	switch parsedKey.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		return parsedKey, nil
	default:
		return nil, ErrUnsupportedPrivateKey
	}
}

// GeneratePairingJWTFromPEMKey generates a Pairing JWT out of a PEM-encoded private key
// bytearray. An empty claims slice grants unrestricted access to the Pairing API tree.
func GeneratePairingJWTFromPEMKey(privateKeyPEM []byte, claims []string, ttlSeconds int64) (string, error) {
	key, err := ParsePrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return "", err
	}

	if len(claims) == 0 {
		claims = []string{".*::.*"}
	}

	pairingClaims := PairingClaims{Pairing: claims}
	now := time.Now()
	pairingClaims.IssuedAt = jwt.NewNumericDate(now)
	if ttlSeconds > 0 {
		pairingClaims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second))
	}

	signer, err := getJWTSigner(key)
	if err != nil {
		return "", err
	}

	token, err := jwt.NewBuilder(signer).Build(&pairingClaims)
	if err != nil {
		return "", err
	}
	return token.String(), nil
}

// GetJWTPairingClaims returns the Pairing claim set of a JWT, without verifying its signature.
func GetJWTPairingClaims(rawToken string) (PairingClaims, error) {
	token, err := jwt.ParseString(rawToken)
	if err != nil {
		return PairingClaims{}, err
	}

	var claims PairingClaims
	if err := json.Unmarshal(token.RawClaims(), &claims); err != nil {
		return PairingClaims{}, err
	}
	return claims, nil
}

// IsJWTValidForPairing returns whether a JWT carries any Pairing claim at all.
func IsJWTValidForPairing(rawToken string) (bool, error) {
	claims, err := GetJWTPairingClaims(rawToken)
	if err != nil {
		return false, err
	}
	return len(claims.Pairing) > 0, nil
}

func getJWTSigner(key interface{}) (jwt.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jwt.NewSignerRS(jwt.RS256, k)
	case *ecdsa.PrivateKey:
		switch k.PublicKey.Curve.Params().Name {
		case "P-256":
			return jwt.NewSignerES(jwt.ES256, k)
		case "P-384":
			return jwt.NewSignerES(jwt.ES384, k)
		case "P-521":
			return jwt.NewSignerES(jwt.ES512, k)
		default:
			return nil, ErrUnsupportedPrivateKey
		}
	default:
		return nil, ErrUnsupportedPrivateKey
	}
}
