package wire

import (
	"encoding/json"
	"testing"

	"weldon/internal/crypto/hybrid"
	"weldon/pkg/errors"
)

func TestRequestDecodeForms(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		command string
		args    int
		kwargs  int
		wantErr bool
	}{
		{name: "full", input: `["submitSolution",["tok",1],{"source":"x"}]`, command: "submitSolution", args: 2, kwargs: 1},
		{name: "command only", input: `["publicKey"]`, command: "publicKey"},
		{name: "null members", input: `["describeApi",null,null]`, command: "describeApi"},
		{name: "not array", input: `{"command":"x"}`, wantErr: true},
		{name: "empty array", input: `[]`, wantErr: true},
		{name: "numeric command", input: `[1,[],{}]`, wantErr: true},
		{name: "empty command", input: `["",[],{}]`, wantErr: true},
		{name: "kwargs array", input: `["x",[],[]]`, wantErr: true},
		{name: "garbage", input: `not json`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				if errors.KindOf(err) != errors.KindProtocol {
					t.Fatalf("expected protocol error, got %v", errors.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if req.Command != tt.command || len(req.Args) != tt.args || len(req.Kwargs) != tt.kwargs {
				t.Fatalf("unexpected request: %+v", req)
			}
		})
	}
}

func TestRequestMarshalShape(t *testing.T) {
	req, err := NewRequest("retrieveProblem", []interface{}{"tok", 3}, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["retrieveProblem",["tok",3],{}]` {
		t.Fatalf("unexpected encoding: %s", data)
	}
}

func TestEnvelopePlaintext(t *testing.T) {
	env, err := Seal([]byte(`["publicKey"]`), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if env.Encrypted() {
		t.Fatalf("expected plaintext envelope")
	}
	data, _ := EncodeEnvelope(env)
	if string(data) != `{"encryptionKey":null,"payload":"[\"publicKey\"]"}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
	payload, encrypted, err := Open(env, nil)
	if err != nil || encrypted || string(payload) != `["publicKey"]` {
		t.Fatalf("open plaintext: %q %v %v", payload, encrypted, err)
	}
}

func TestEnvelopeEncrypted(t *testing.T) {
	kp, err := hybrid.GenerateKeyPair(hybrid.MinKeyBits)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	env, err := Seal([]byte("hello"), kp.PublicKey())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !env.Encrypted() {
		t.Fatalf("expected encrypted envelope")
	}
	data, _ := EncodeEnvelope(env)
	decoded, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	payload, encrypted, err := Open(decoded, kp)
	if err != nil || !encrypted || string(payload) != "hello" {
		t.Fatalf("open: %q %v %v", payload, encrypted, err)
	}
}

func TestEnvelopeOpenFailuresAreProtocolErrors(t *testing.T) {
	kp, _ := hybrid.GenerateKeyPair(hybrid.MinKeyBits)
	bad := "!!!"
	cases := []Envelope{
		{EncryptionKey: &bad, Payload: "aGVsbG8="},
		{EncryptionKey: strPtr("aGVsbG8="), Payload: "%%%"},
		{EncryptionKey: strPtr("aGVsbG8="), Payload: "aGVsbG8="},
	}
	for i, env := range cases {
		_, _, err := Open(env, kp)
		if err == nil {
			t.Fatalf("case %d: expected error", i)
		}
		if errors.KindOf(err) != errors.KindProtocol {
			t.Fatalf("case %d: expected protocol error, got %v", i, errors.KindOf(err))
		}
	}
	if _, _, err := Open(Envelope{EncryptionKey: strPtr("x")}, nil); errors.KindOf(err) != errors.KindProtocol {
		t.Fatalf("expected protocol error without keys")
	}
}

func TestRawResponseDecode(t *testing.T) {
	var ok RawResponse
	_ = json.Unmarshal([]byte(`{"status":"succeed","payload":{"id":1}}`), &ok)
	var out struct{ ID int }
	if err := ok.Decode(&out); err != nil || out.ID != 1 {
		t.Fatalf("decode succeed: %v %+v", err, out)
	}

	var failed RawResponse
	_ = json.Unmarshal([]byte(`{"status":"failed","payload":"Problem 7 does not exist"}`), &failed)
	err := failed.Decode(&out)
	if err == nil || err.Error() != "Problem 7 does not exist" {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestFailCarriesMessage(t *testing.T) {
	resp := Fail(errors.PermissionError("nope"))
	if resp.Status != StatusFailed || resp.Payload != "nope" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func strPtr(s string) *string { return &s }
