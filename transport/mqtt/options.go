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
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Transport at construction time.
type Option func(t *Transport)

// WithClientID overrides the default client ID, which is the fixed string "astarte-device-sdk-go".
func WithClientID(clientID string) Option {
	return func(t *Transport) { t.clientID = clientID }
}

// WithKeepAlive overrides the default MQTT keepalive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(t *Transport) { t.keepAlive = d }
}

// WithIgnoreSSLErrors disables broker certificate verification. It exists for development
// against a broker with a self-signed or untrusted certificate and must never be used in
// production.
func WithIgnoreSSLErrors() Option {
	return func(t *Transport) { t.ignoreSSLErrors = true }
}

// WithLogger routes the transport's structured logging through logger instead of a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}
