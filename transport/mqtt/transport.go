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
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/device"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// aggregationAware is implemented by a resolver that can also tell object-aggregated interfaces
// apart from individual ones, which Transport needs to choose a wire decode path for a message it
// cannot otherwise self-describe.
type aggregationAware interface {
	IsObjectAggregated(interfaceName string) (isObject bool, known bool)
}

// Transport implements device.Transport and device.IntrospectionAware over an MQTT v3.1.1
// connection using astarte_mqtt_v1 conventions: one TLS client certificate per device, topics
// rooted at "<realm>/<device_id>", and the control/* subtree for empty-cache, purge-properties and
// producer/consumer properties framing.
type Transport struct {
	brokerURL string
	cred      CredentialProvider

	clientID        string
	keepAlive       time.Duration
	ignoreSSLErrors bool
	logger          zerolog.Logger

	mu             sync.Mutex
	client         paho.Client
	resolver       device.MappingResolver
	handlers       device.TransportHandlers
	sessionPresent bool
}

// NewTransport builds a Transport that connects to brokerURL, authenticating with the TLS
// certificate credProvider supplies.
func NewTransport(brokerURL string, credProvider CredentialProvider, opts ...Option) (*Transport, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("mqtt: broker URL must not be empty")
	}
	if credProvider == nil {
		return nil, fmt.Errorf("mqtt: credential provider must not be nil")
	}

	t := &Transport{
		brokerURL: brokerURL,
		cred:      credProvider,
		keepAlive: 30 * time.Second,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetIntrospectionResolver implements device.IntrospectionAware.
func (t *Transport) SetIntrospectionResolver(resolver device.MappingResolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolver = resolver
}

// SetHandlers implements device.Transport.
func (t *Transport) SetHandlers(h device.TransportHandlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// Connect negotiates a client certificate and opens the MQTT connection. It returns once the
// underlying paho client has accepted the connect attempt; OnLinkUp/OnLinkDown report the actual
// session outcome asynchronously, from paho's own callback goroutine.
func (t *Transport) Connect(ctx context.Context) error {
	cert, err := t.cred.EnsureCertificate(ctx)
	if err != nil {
		return fmt.Errorf("mqtt: ensure certificate: %w", err)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(t.brokerURL)
	opts.SetClientID(t.clientIDOrDefault())
	opts.SetTLSConfig(&tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: t.ignoreSSLErrors,
	})
	opts.SetKeepAlive(t.keepAlive)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(t.onConnect)
	opts.SetConnectionLostHandler(t.onConnectionLost)

	t.mu.Lock()
	t.client = paho.NewClient(opts)
	client := t.client
	t.mu.Unlock()

	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		if isCertificateError(err) {
			t.cred.InvalidateCertificate()
		}
		return fmt.Errorf("mqtt: connect: %w", err)
	}

	if connectToken, ok := token.(*paho.ConnectToken); ok {
		t.mu.Lock()
		t.sessionPresent = connectToken.SessionPresent()
		t.mu.Unlock()
	}
	return nil
}

// Disconnect gracefully closes the connection, waiting up to 250ms for in-flight work to drain,
// then reports the user-requested disconnect through OnLinkDown(nil); paho does not call the
// connection-lost handler for a requested disconnect.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	onLinkDown := t.handlers.OnLinkDown
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	client.Disconnect(250)
	if onLinkDown != nil {
		onLinkDown(nil)
	}
	return nil
}

// Subscribe subscribes to topic at QoS 2, the reliability the control/properties subtree and
// server-owned data both require.
func (t *Transport) Subscribe(topic string) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	token := client.Subscribe(topic, 2, t.onMessage)
	token.Wait()
	return token.Error()
}

// Unsubscribe removes a subscription previously established with Subscribe.
func (t *Transport) Unsubscribe(topic string) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	token := client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Publish publishes payload to topic at the given QoS, retained or not.
func (t *Transport) Publish(topic string, payload []byte, qos int, retain bool) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	token := client.Publish(topic, byte(qos), retain, payload)
	token.Wait()
	return token.Error()
}

func (t *Transport) clientIDOrDefault() string {
	if t.clientID != "" {
		return t.clientID
	}
	return "astarte-device-sdk-go"
}

// onConnect reports the session-present flag paho captured on the *ConnectToken returned by the
// most recent Connect call; paho's auto-reconnect does not hand the reconnect's own token back to
// this callback, so an automatic reconnect replays the last known value rather than a fresh one.
func (t *Transport) onConnect(client paho.Client) {
	t.mu.Lock()
	onLinkUp := t.handlers.OnLinkUp
	sessionPresent := t.sessionPresent
	t.mu.Unlock()
	if onLinkUp != nil {
		onLinkUp(sessionPresent)
	}
}

func (t *Transport) onConnectionLost(client paho.Client, err error) {
	t.mu.Lock()
	onLinkDown := t.handlers.OnLinkDown
	t.mu.Unlock()
	if onLinkDown != nil {
		onLinkDown(err)
	}
}

// onMessage is paho's single inbound message callback. It classifies topic into a control message
// or a "<interfaceName><path>" data message, decodes the BSON payload accordingly and dispatches
// the matching device.TransportHandlers entry.
func (t *Transport) onMessage(client paho.Client, msg paho.Message) {
	t.mu.Lock()
	resolver := t.resolver
	handlers := t.handlers
	t.mu.Unlock()

	route, ok := stripBaseTopic(msg.Topic())
	if !ok {
		t.logger.Warn().Str("topic", msg.Topic()).Msg("received message outside of the device's base topic, dropping")
		return
	}

	if route == "control/consumer/properties" {
		entries, err := device.DecodePropertiesList(msg.Payload())
		if err != nil {
			t.logger.Warn().Err(err).Msg("failed to decode purge-properties frame")
			return
		}
		if handlers.OnPurgeProperties != nil {
			handlers.OnPurgeProperties(entries)
		}
		return
	}

	interfaceName, path, ok := splitInterfaceRoute(route)
	if !ok {
		t.logger.Warn().Str("topic", msg.Topic()).Msg("unrecognized topic route, dropping")
		return
	}
	if resolver == nil {
		t.logger.Warn().Str("topic", msg.Topic()).Msg("no introspection resolver configured, dropping")
		return
	}

	isObject := false
	if ar, ok := resolver.(aggregationAware); ok {
		if known, isKnown := ar.IsObjectAggregated(interfaceName); isKnown {
			isObject = known
		}
	}

	if isObject {
		values, hasTimestamp, timestamp, err := decodeObject(resolver, interfaceName, path, msg.Payload())
		if err != nil {
			t.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("failed to decode object payload")
			return
		}
		if handlers.OnServerObjectData != nil {
			handlers.OnServerObjectData(interfaceName, path, values, hasTimestamp, timestamp)
		}
		return
	}

	value, hasTimestamp, timestamp, err := decodeIndividual(resolver, interfaceName, path, msg.Payload())
	if err != nil {
		t.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("failed to decode payload")
		return
	}
	if handlers.OnServerData != nil {
		handlers.OnServerData(interfaceName, path, value, hasTimestamp, timestamp)
	}
}

// stripBaseTopic strips the first two segments, the "<realm>/<device_id>/" prefix, off an inbound
// topic, leaving the route relative to the device's own subtree. The stripped segments are not
// compared with this device's realm and ID; only topics with fewer than three segments are
// rejected.
func stripBaseTopic(topic string) (route string, ok bool) {
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) < 3 {
		return "", false
	}
	return parts[2], true
}

// splitInterfaceRoute splits a data-message route into its interface name and path.
func splitInterfaceRoute(route string) (interfaceName, path string, ok bool) {
	idx := strings.Index(route, "/")
	if idx < 0 {
		return "", "", false
	}
	return route[:idx], route[idx:], true
}

func isCertificateError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "certificate") ||
		strings.Contains(strings.ToLower(err.Error()), "tls")
}

var (
	_ device.Transport          = (*Transport)(nil)
	_ device.IntrospectionAware = (*Transport)(nil)
)
