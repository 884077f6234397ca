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

// Package mqtt implements the device.Transport contract over an MQTT v3.1.1 broker connection,
// using astarte_mqtt_v1 topic and payload conventions, plus the narrow pairing HTTP surface a
// device needs to register itself and obtain broker credentials.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"moul.io/http2curl"
)

var (
	// ErrAlreadyRegistered is returned by RegisterDeviceWithJWT/RegisterDeviceWithPrivateKey when the device was previously registered.
	ErrAlreadyRegistered error = errors.New("device is already registered")
	// ErrPairingUnauthorized is returned when the pairing credential (JWT or credentials secret) is
	// rejected by the server.
	ErrPairingUnauthorized error = errors.New("pairing request was not authorized")
)

// ErrPairingAPI wraps a non-2xx pairing API response that isn't one of the recognized cases above.
func ErrPairingAPI(statusCode int, body string) error {
	return fmt.Errorf("pairing API returned status %d: %s", statusCode, body)
}

// pairingClient is a minimal HTTP client for the three pairing endpoints a device needs: register,
// obtain an MQTT v1 certificate, and read MQTT v1 protocol information. It mirrors the teacher's
// newclient.Client request/response-object shape without the rest of the management API surface.
type pairingClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	token      string
	userAgent  string
}

func newPairingClient(baseURL string, token string) (*pairingClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt: invalid pairing base URL: %w", err)
	}
	return &pairingClient{
		httpClient: &http.Client{},
		baseURL:    parsed,
		token:      token,
		userAgent:  "astarte-device-sdk-go",
	}, nil
}

func (c *pairingClient) makeRequest(ctx context.Context, method string, callPath string, payload any) (*http.Request, error) {
	callURL, _ := url.Parse(c.baseURL.String())
	callURL.Path = path.Join(callURL.Path, callPath)

	var body io.Reader
	if payload != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(struct {
			Data any `json:"data"`
		}{Data: payload}); err != nil {
			return nil, err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, callURL.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// pairingRequest is the Run/ToCurl request-object contract, mirroring the teacher's AstarteRequest.
type pairingRequest struct {
	req     *http.Request
	expects int
}

func (r pairingRequest) run(c *pairingClient) (*http.Response, []byte, error) {
	res, err := c.httpClient.Do(r.req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return res, nil, err
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return res, raw, ErrPairingUnauthorized
	}
	if res.StatusCode == http.StatusUnprocessableEntity {
		return res, raw, ErrAlreadyRegistered
	}
	if res.StatusCode != r.expects {
		return res, raw, ErrPairingAPI(res.StatusCode, string(raw))
	}
	return res, raw, nil
}

func (r pairingRequest) toCurl() string {
	command, err := http2curl.GetCurlCommand(r.req)
	if err != nil {
		return ""
	}
	return fmt.Sprint(command)
}

type registerDevicePayload struct {
	HwID string `json:"hw_id"`
}

type registerDeviceResponseBody struct {
	Data struct {
		CredentialsSecret string `json:"credentials_secret"`
	} `json:"data"`
}

// registerDevice builds and runs the agent registration request, returning the credentials secret.
func (c *pairingClient) registerDevice(ctx context.Context, realm, deviceID string) (string, error) {
	req, err := c.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/%s/agent/devices", realm), registerDevicePayload{HwID: deviceID})
	if err != nil {
		return "", err
	}

	_, raw, err := pairingRequest{req: req, expects: http.StatusCreated}.run(c)
	if err != nil {
		return "", err
	}

	var body registerDeviceResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("mqtt: decode registration response: %w", err)
	}
	return body.Data.CredentialsSecret, nil
}

type getCertificatePayload struct {
	CSR string `json:"csr"`
}

type getCertificateResponseBody struct {
	Data struct {
		ClientCrt string `json:"client_crt"`
	} `json:"data"`
}

// obtainCertificate exchanges csr (PEM-encoded) for a signed client certificate chain (PEM).
func (c *pairingClient) obtainCertificate(ctx context.Context, realm, deviceID, csrPEM string) (string, error) {
	req, err := c.makeRequest(ctx, http.MethodPost,
		fmt.Sprintf("/v1/%s/devices/%s/protocols/astarte_mqtt_v1/credentials", realm, deviceID),
		getCertificatePayload{CSR: csrPEM})
	if err != nil {
		return "", err
	}

	_, raw, err := pairingRequest{req: req, expects: http.StatusCreated}.run(c)
	if err != nil {
		return "", err
	}

	var body getCertificateResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("mqtt: decode certificate response: %w", err)
	}
	return body.Data.ClientCrt, nil
}

type protocolInfoResponseBody struct {
	Data struct {
		Protocols struct {
			AstarteMQTTV1 struct {
				BrokerURL string `json:"broker_url"`
			} `json:"astarte_mqtt_v1"`
		} `json:"protocols"`
	} `json:"data"`
}

// protocolInformation fetches the broker URL the device should connect to.
func (c *pairingClient) protocolInformation(ctx context.Context, realm, deviceID string) (brokerURL string, err error) {
	req, err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/%s/devices/%s", realm, deviceID), nil)
	if err != nil {
		return "", err
	}

	_, raw, err := pairingRequest{req: req, expects: http.StatusOK}.run(c)
	if err != nil {
		return "", err
	}

	var body protocolInfoResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("mqtt: decode protocol information response: %w", err)
	}
	return body.Data.Protocols.AstarteMQTTV1.BrokerURL, nil
}
