// Package client speaks the envelope protocol to a weldon server over any
// of its transports.
package client

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"weldon/internal/crypto/hybrid"
	"weldon/internal/wire"
)

// Client sends commands and decodes their responses. Requests are encrypted
// once the server key is known; responses are decrypted with Keys.
type Client struct {
	transport Transport
	keys      *hybrid.KeyPair
	serverKey *rsa.PublicKey
}

// New wraps t. keys may be nil, in which case the server answers in
// plaintext.
func New(t Transport, keys *hybrid.KeyPair) *Client {
	return &Client{transport: t, keys: keys}
}

// PublicKeyPEM returns the client key to hand over at registration, or "".
func (c *Client) PublicKeyPEM() string {
	if c.keys == nil {
		return ""
	}
	return c.keys.PublicKeyPEM()
}

// ServerKey returns the cached server key.
func (c *Client) ServerKey() *rsa.PublicKey {
	return c.serverKey
}

// FetchServerKey asks the server for its key and encrypts every later request.
func (c *Client) FetchServerKey(ctx context.Context) error {
	var pem string
	if err := c.Do(ctx, &pem, "publicKey"); err != nil {
		return fmt.Errorf("fetch server key: %w", err)
	}
	key, err := hybrid.ParsePublicKeyPEM(pem)
	if err != nil {
		return fmt.Errorf("parse server key: %w", err)
	}
	c.serverKey = key
	return nil
}

// Call sends command with positional args and keyword args. A non-nil
// error means the exchange failed; a failed command is reported through
// the returned response status.
func (c *Client) Call(ctx context.Context, command string, args []interface{}, kwargs map[string]interface{}) (wire.RawResponse, error) {
	req, err := wire.NewRequest(command, args, kwargs)
	if err != nil {
		return wire.RawResponse{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return wire.RawResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	env, err := wire.Seal(payload, c.serverKey)
	if err != nil {
		return wire.RawResponse{}, err
	}
	data, err := wire.EncodeEnvelope(env)
	if err != nil {
		return wire.RawResponse{}, err
	}

	reply, err := c.transport.RoundTrip(ctx, data)
	if err != nil {
		return wire.RawResponse{}, err
	}
	replyEnv, err := wire.DecodeEnvelope(reply)
	if err != nil {
		return wire.RawResponse{}, err
	}
	plain, _, err := wire.Open(replyEnv, c.keys)
	if err != nil {
		return wire.RawResponse{}, err
	}
	var resp wire.RawResponse
	if err := json.Unmarshal(plain, &resp); err != nil {
		return wire.RawResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Do calls command with positional args and decodes a successful payload
// into out. A failed command returns *wire.RemoteError.
func (c *Client) Do(ctx context.Context, out interface{}, command string, args ...interface{}) error {
	resp, err := c.Call(ctx, command, args, nil)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
