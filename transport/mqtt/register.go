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

	"github.com/astarte-platform/astarte-device-sdk-go/auth"
)

// RegisterDeviceWithJWT registers deviceID into realm using jwt as the agent credential, returning
// the credentials secret the device will use for every subsequent pairing call.
func RegisterDeviceWithJWT(ctx context.Context, pairingURL, realm, deviceID, jwt string) (string, error) {
	client, err := newPairingClient(pairingURL, jwt)
	if err != nil {
		return "", err
	}
	return client.registerDevice(ctx, realm, deviceID)
}

// RegisterDeviceWithPrivateKey registers deviceID using a short-lived Pairing JWT minted from the
// realm's private key, equivalent to RegisterDeviceWithJWT but for a caller that holds the realm
// key rather than a pre-issued token.
func RegisterDeviceWithPrivateKey(ctx context.Context, pairingURL, realm, deviceID string, privateKeyPEM []byte) (string, error) {
	token, err := auth.GeneratePairingJWTFromPEMKey(privateKeyPEM, nil, 60)
	if err != nil {
		return "", err
	}
	return RegisterDeviceWithJWT(ctx, pairingURL, realm, deviceID, token)
}
