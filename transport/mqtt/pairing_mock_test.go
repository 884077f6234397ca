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

package mqtt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var (
	testRealmName         = "test"
	testDeviceID          = "fhd0WHcgSjWeVqPGKZv_KA"
	testTokenValue        = "ah yes, the token"
	testCredentialsSecret = "ah yes, the credentials secret"
	testClientCrt         = "ah yes, the certificate"
	testBrokerURL         = "ssl://ah.yes.the.broker:8883"
)

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// signCSR signs csrPEM with a throwaway CA key, mimicking the pairing API's role in the CSR
// credential flow closely enough to exercise tls.X509KeyPair end-to-end in tests.
func signCSR(csrPEM []byte) (string, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil {
		return "", fmt.Errorf("invalid CSR PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return "", err
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: csr.Subject.CommonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, csr.PublicKey, caKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}

func pairingAPIMock(w http.ResponseWriter, req *http.Request) {
	authorization := req.Header.Get("Authorization")
	if authorization != "Bearer "+testTokenValue {
		http.Error(w, "Wrong token supplied", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	var reply map[string]any
	switch {
	case req.URL.Path == fmt.Sprintf("/v1/%s/agent/devices", testRealmName):
		reply = map[string]any{"data": map[string]any{"credentials_secret": testCredentialsSecret}}
		w.WriteHeader(http.StatusCreated)
	case req.URL.Path == fmt.Sprintf("/v1/%s/devices/%s/protocols/astarte_mqtt_v1/credentials", testRealmName, testDeviceID):
		var body struct {
			Data struct {
				CSR string `json:"csr"`
			} `json:"data"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		clientCrt := testClientCrt
		if body.Data.CSR != "" {
			if signed, err := signCSR([]byte(body.Data.CSR)); err == nil {
				clientCrt = signed
			}
		}
		reply = map[string]any{"data": map[string]any{"client_crt": clientCrt}}
		w.WriteHeader(http.StatusCreated)
	case req.URL.Path == fmt.Sprintf("/v1/%s/devices/%s", testRealmName, testDeviceID):
		reply = map[string]any{"data": map[string]any{
			"protocols": map[string]any{"astarte_mqtt_v1": map[string]any{"broker_url": testBrokerURL}},
		}}
	default:
		http.NotFound(w, req)
		return
	}
	json.NewEncoder(w).Encode(reply)
}

func newPairingTestServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(pairingAPIMock))
}
