package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the envelope service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call sends one serialised envelope and returns the serialised reply.
func (c *Client) Call(ctx context.Context, envelope []byte, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, CallMethod, wrapperspb.Bytes(envelope), out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}
