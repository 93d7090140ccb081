package local

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/dmora/kernelrun"
)

// msgDelim separates ZeroMQ routing identities from the signed message
// frames.
var msgDelim = []byte("<IDS|MSG>")

var errBadSignature = errors.New("local: message signature mismatch")

// signer authenticates wire messages with HMAC-SHA256. A signer with no
// key passes everything unsigned, for kernels launched with an empty
// key.
type signer struct {
	key []byte
}

func newSigner(f connFile) (*signer, error) {
	if f.Key != "" && f.SignatureScheme != signatureScheme {
		return nil, fmt.Errorf("local: unsupported signature scheme %q", f.SignatureScheme)
	}
	return &signer{key: []byte(f.Key)}, nil
}

// sign computes the hex signature over the four message frames.
func (s *signer) sign(frames [][]byte) []byte {
	if len(s.key) == 0 {
		return []byte{}
	}
	mac := hmac.New(sha256.New, s.key)
	for _, f := range frames {
		mac.Write(f)
	}
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

// verify checks a received signature in constant time.
func (s *signer) verify(sig []byte, frames [][]byte) bool {
	if len(s.key) == 0 {
		return true
	}
	return hmac.Equal(sig, s.sign(frames))
}

// encodeMessage renders msg as signed wire frames:
// delimiter, signature, header, parent header, metadata, content.
func encodeMessage(msg kernelrun.Message, s *signer) (zmq4.Msg, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return zmq4.Msg{}, fmt.Errorf("local: marshal header: %w", err)
	}
	parent, err := json.Marshal(msg.Parent)
	if err != nil {
		return zmq4.Msg{}, fmt.Errorf("local: marshal parent header: %w", err)
	}
	metadata := []byte(msg.Metadata)
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	content := []byte(msg.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}
	signed := [][]byte{header, parent, metadata, content}
	frames := append([][]byte{msgDelim, s.sign(signed)}, signed...)
	return zmq4.NewMsgFrom(frames...), nil
}

// decodeMessage parses signed wire frames back into a Message, skipping
// any routing identities before the delimiter and verifying the
// signature.
func decodeMessage(m zmq4.Msg, s *signer) (kernelrun.Message, error) {
	frames := m.Frames
	start := -1
	for i, f := range frames {
		if bytes.Equal(f, msgDelim) {
			start = i + 1
			break
		}
	}
	if start < 0 || len(frames) < start+5 {
		return kernelrun.Message{}, fmt.Errorf("local: malformed wire message (%d frames)", len(frames))
	}
	sig := frames[start]
	signed := frames[start+1 : start+5]
	if !s.verify(sig, signed) {
		return kernelrun.Message{}, errBadSignature
	}
	var msg kernelrun.Message
	if err := json.Unmarshal(signed[0], &msg.Header); err != nil {
		return kernelrun.Message{}, fmt.Errorf("local: parse header: %w", err)
	}
	if err := json.Unmarshal(signed[1], &msg.Parent); err != nil {
		return kernelrun.Message{}, fmt.Errorf("local: parse parent header: %w", err)
	}
	msg.Metadata = append(json.RawMessage(nil), signed[2]...)
	msg.Content = append(json.RawMessage(nil), signed[3]...)
	return msg, nil
}
