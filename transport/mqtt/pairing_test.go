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
	"testing"
)

func TestRegisterDevice(t *testing.T) {
	server := newPairingTestServer()
	defer server.Close()

	secret, err := RegisterDeviceWithJWT(context.Background(), server.URL, testRealmName, testDeviceID, testTokenValue)
	if err != nil {
		t.Fatal(err)
	}
	if secret != testCredentialsSecret {
		t.Errorf("got credentials secret %q, want %q", secret, testCredentialsSecret)
	}
}

func TestRegisterDeviceWrongToken(t *testing.T) {
	server := newPairingTestServer()
	defer server.Close()

	_, err := RegisterDeviceWithJWT(context.Background(), server.URL, testRealmName, testDeviceID, "not the right token")
	if err != ErrPairingUnauthorized {
		t.Errorf("got error %v, want ErrPairingUnauthorized", err)
	}
}

func TestObtainCertificate(t *testing.T) {
	server := newPairingTestServer()
	defer server.Close()

	client, err := newPairingClient(server.URL, testTokenValue)
	if err != nil {
		t.Fatal(err)
	}
	crt, err := client.obtainCertificate(context.Background(), testRealmName, testDeviceID, "a csr")
	if err != nil {
		t.Fatal(err)
	}
	if crt != testClientCrt {
		t.Errorf("got certificate %q, want %q", crt, testClientCrt)
	}
}

func TestProtocolInformation(t *testing.T) {
	server := newPairingTestServer()
	defer server.Close()

	client, err := newPairingClient(server.URL, testTokenValue)
	if err != nil {
		t.Fatal(err)
	}
	brokerURL, err := client.protocolInformation(context.Background(), testRealmName, testDeviceID)
	if err != nil {
		t.Fatal(err)
	}
	if brokerURL != testBrokerURL {
		t.Errorf("got broker URL %q, want %q", brokerURL, testBrokerURL)
	}
}
