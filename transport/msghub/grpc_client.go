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

package msghub

import (
	"context"

	"google.golang.org/grpc"
)

const (
	methodAttach = "/astarteplatform.msghub.MessageHub/Attach"
	methodSend   = "/astarteplatform.msghub.MessageHub/Send"
	methodDetach = "/astarteplatform.msghub.MessageHub/Detach"
)

// GRPCClient implements Client directly against a grpc.ClientConnInterface, for callers who have
// a gRPC connection to the hub but no generated MessageHub stub to go with it. conn must be dialed
// with a codec that can marshal/unmarshal Node, AstarteMessage and MessageHubEvent - the codec a
// real generated stub would register - since this package vendors none.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// NewGRPCClient wraps conn as a Client.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// Attach opens the server-streaming Attach RPC and sends node as its single request message.
func (c *GRPCClient) Attach(ctx context.Context, node *Node) (MessageStream, error) {
	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Attach", ServerStreams: true}, methodAttach)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(node); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &grpcMessageStream{stream: stream}, nil
}

// Send invokes the unary Send RPC.
func (c *GRPCClient) Send(ctx context.Context, msg *AstarteMessage) error {
	return c.conn.Invoke(ctx, methodSend, msg, &struct{}{})
}

// Detach invokes the unary Detach RPC.
func (c *GRPCClient) Detach(ctx context.Context) error {
	return c.conn.Invoke(ctx, methodDetach, &struct{}{}, &struct{}{})
}

var _ Client = (*GRPCClient)(nil)

// grpcMessageStream adapts a grpc.ClientStream to MessageStream.
type grpcMessageStream struct {
	stream grpc.ClientStream
}

func (s *grpcMessageStream) Recv() (*MessageHubEvent, error) {
	event := &MessageHubEvent{}
	if err := s.stream.RecvMsg(event); err != nil {
		return nil, err
	}
	return event, nil
}

var _ MessageStream = (*grpcMessageStream)(nil)
