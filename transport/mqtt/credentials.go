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
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"sync"
)

// CredentialProvider supplies the TLS client certificate a Transport presents to the broker.
// Transport.Connect calls EnsureCertificate before opening the connection and
// InvalidateCertificate when that connection attempt fails with a certificate/TLS error, so the
// next Connect negotiates a fresh certificate rather than retrying with a known-bad credential.
// paho's automatic reconnects reuse the TLS configuration built by Connect and call neither.
type CredentialProvider interface {
	EnsureCertificate(ctx context.Context) (tls.Certificate, error)
	InvalidateCertificate()
}

// CSRCredentialProvider is the default CredentialProvider: it generates an ECDSA P-256 key once,
// keeps it in memory only (it is not written to disk), reuses it across renewals, and exchanges a CSR for a signed certificate through the pairing
// collaborator whenever no valid certificate is cached.
type CSRCredentialProvider struct {
	realm             string
	deviceID          string
	credentialsSecret string
	pairing           *pairingClient

	mu   sync.Mutex
	key  *ecdsa.PrivateKey
	cert *tls.Certificate
}

// NewCSRCredentialProvider builds a CSRCredentialProvider that authenticates pairing API calls
// with credentialsSecret, the value obtained from RegisterDeviceWithJWT/RegisterDeviceWithPrivateKey.
func NewCSRCredentialProvider(pairingURL, realm, deviceID, credentialsSecret string) (*CSRCredentialProvider, error) {
	client, err := newPairingClient(pairingURL, credentialsSecret)
	if err != nil {
		return nil, err
	}
	return &CSRCredentialProvider{
		realm:             realm,
		deviceID:          deviceID,
		credentialsSecret: credentialsSecret,
		pairing:           client,
	}, nil
}

// EnsureCertificate returns the cached certificate, or negotiates a fresh one with the pairing
// collaborator if none is cached.
func (p *CSRCredentialProvider) EnsureCertificate(ctx context.Context) (tls.Certificate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cert != nil {
		return *p.cert, nil
	}

	if p.key == nil {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("mqtt: generate device key: %w", err)
		}
		p.key = key
	}

	csrPEM, err := buildCSR(p.realm, p.deviceID, p.key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("mqtt: build CSR: %w", err)
	}

	clientCrtPEM, err := p.pairing.obtainCertificate(ctx, p.realm, p.deviceID, string(csrPEM))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("mqtt: obtain certificate: %w", err)
	}

	keyPKCS8, err := x509.MarshalPKCS8PrivateKey(p.key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("mqtt: marshal device key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyPKCS8})

	cert, err := tls.X509KeyPair([]byte(clientCrtPEM), keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("mqtt: build TLS certificate: %w", err)
	}
	p.cert = &cert
	return cert, nil
}

// InvalidateCertificate drops the cached certificate; the next EnsureCertificate call renegotiates
// one against the existing key.
func (p *CSRCredentialProvider) InvalidateCertificate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cert = nil
}

// BrokerURL fetches the astarte_mqtt_v1 broker URL for the device from pairing.
func (p *CSRCredentialProvider) BrokerURL(ctx context.Context) (string, error) {
	return p.pairing.protocolInformation(ctx, p.realm, p.deviceID)
}

func buildCSR(realm, deviceID string, key *ecdsa.PrivateKey) ([]byte, error) {
	template := x509.CertificateRequest{
		Subject: pkix.Name{
			Organization: []string{"Devices"},
			CommonName:   realm + "/" + deviceID,
		},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

var _ CredentialProvider = (*CSRCredentialProvider)(nil)
