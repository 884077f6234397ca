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

package device

import (
	"context"
	"sync"
)

// publishedMessage records a single fakeTransport.Publish call for assertions.
type publishedMessage struct {
	topic   string
	payload []byte
	qos     int
	retain  bool
}

// fakeTransport is a synchronous, in-process Transport double. Connect/Disconnect/Subscribe/
// Unsubscribe/Publish record what happened; tests drive OnLinkUp/OnLinkDown/OnPurgeProperties/
// OnServerData directly to simulate adapter-reported events.
type fakeTransport struct {
	mu sync.Mutex

	connectErr error
	published  []publishedMessage
	subscribed []string

	handlers TransportHandlers
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeTransport) Disconnect() error {
	return nil
}

func (f *fakeTransport) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte, qos int, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload, qos: qos, retain: retain})
	return nil
}

func (f *fakeTransport) SetHandlers(h TransportHandlers) {
	f.handlers = h
}

func (f *fakeTransport) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

var _ Transport = (*fakeTransport)(nil)
