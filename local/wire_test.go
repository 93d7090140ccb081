package local

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-zeromq/zmq4"

	"github.com/dmora/kernelrun"
)

func testFile(key string) connFile {
	return connFile{Key: key, SignatureScheme: signatureScheme}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sig, err := newSigner(testFile("secret"))
	if err != nil {
		t.Fatalf("newSigner() = %v", err)
	}
	msg, err := kernelrun.NewMessage(kernelrun.MsgTypeExecuteRequest, "sess", "user",
		kernelrun.ExecuteRequest{Code: "1 + 1", StoreHistory: true})
	if err != nil {
		t.Fatalf("NewMessage() = %v", err)
	}

	wire, err := encodeMessage(msg, sig)
	if err != nil {
		t.Fatalf("encodeMessage() = %v", err)
	}
	got, err := decodeMessage(wire, sig)
	if err != nil {
		t.Fatalf("decodeMessage() = %v", err)
	}

	if got.Header != msg.Header {
		t.Errorf("header = %+v, want %+v", got.Header, msg.Header)
	}
	var req kernelrun.ExecuteRequest
	if err := got.DecodeContent(&req); err != nil {
		t.Fatalf("DecodeContent() = %v", err)
	}
	if req.Code != "1 + 1" || !req.StoreHistory {
		t.Errorf("content = %+v", req)
	}
}

func TestDecodeSkipsIdentityFrames(t *testing.T) {
	sig, _ := newSigner(testFile("secret"))
	msg, _ := kernelrun.NewMessage(kernelrun.MsgTypeStatus, "sess", "user",
		kernelrun.StatusContent{ExecutionState: "idle"})
	wire, err := encodeMessage(msg, sig)
	if err != nil {
		t.Fatalf("encodeMessage() = %v", err)
	}

	// Routed frames carry socket identities before the delimiter.
	frames := append([][]byte{[]byte("router-identity")}, wire.Frames...)
	got, err := decodeMessage(zmq4.NewMsgFrom(frames...), sig)
	if err != nil {
		t.Fatalf("decodeMessage() = %v", err)
	}
	if got.Header.MsgID != msg.Header.MsgID {
		t.Errorf("msg id = %q, want %q", got.Header.MsgID, msg.Header.MsgID)
	}
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	signKey, _ := newSigner(testFile("right-key"))
	verifyKey, _ := newSigner(testFile("wrong-key"))
	msg, _ := kernelrun.NewMessage(kernelrun.MsgTypeKernelInfoRequest, "sess", "user", nil)

	wire, err := encodeMessage(msg, signKey)
	if err != nil {
		t.Fatalf("encodeMessage() = %v", err)
	}
	if _, err := decodeMessage(wire, verifyKey); !errors.Is(err, errBadSignature) {
		t.Errorf("decodeMessage() = %v, want errBadSignature", err)
	}
}

func TestEmptyKeySkipsSigning(t *testing.T) {
	sig, err := newSigner(connFile{})
	if err != nil {
		t.Fatalf("newSigner() = %v", err)
	}
	msg, _ := kernelrun.NewMessage(kernelrun.MsgTypeKernelInfoRequest, "sess", "user", nil)
	wire, err := encodeMessage(msg, sig)
	if err != nil {
		t.Fatalf("encodeMessage() = %v", err)
	}
	if len(wire.Frames[1]) != 0 {
		t.Errorf("signature frame = %q, want empty for unsigned transport", wire.Frames[1])
	}
	if _, err := decodeMessage(wire, sig); err != nil {
		t.Errorf("decodeMessage() = %v, want nil", err)
	}
}

func TestNewSignerRejectsUnknownScheme(t *testing.T) {
	_, err := newSigner(connFile{Key: "k", SignatureScheme: "hmac-md5"})
	if err == nil {
		t.Fatal("expected error for unsupported signature scheme")
	}
}

func TestDecodeMalformed(t *testing.T) {
	sig, _ := newSigner(testFile("secret"))
	tests := []struct {
		name   string
		frames [][]byte
	}{
		{"no delimiter", [][]byte{[]byte("a"), []byte("b")}},
		{"truncated", [][]byte{msgDelim, []byte("sig"), []byte("{}")}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeMessage(zmq4.NewMsgFrom(tt.frames...), sig); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestEncodeDefaultsEmptySections(t *testing.T) {
	sig, _ := newSigner(testFile("secret"))
	wire, err := encodeMessage(kernelrun.Message{
		Header: kernelrun.Header{MsgID: "x", MsgType: kernelrun.MsgTypeKernelInfoRequest},
	}, sig)
	if err != nil {
		t.Fatalf("encodeMessage() = %v", err)
	}
	// frames: delim, sig, header, parent, metadata, content
	for _, i := range []int{4, 5} {
		if !json.Valid(wire.Frames[i]) || string(wire.Frames[i]) != "{}" {
			t.Errorf("frame %d = %q, want empty object", i, wire.Frames[i])
		}
	}
}
