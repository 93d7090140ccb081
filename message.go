package kernelrun

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel identifies one of the kernel's message channels.
type Channel string

const (
	// ChannelShell carries request/reply traffic: execution, completion,
	// introspection, history.
	ChannelShell Channel = "shell"

	// ChannelIOPub is the broadcast channel: output streams, display
	// data, and execution-state changes, published to all clients.
	ChannelIOPub Channel = "iopub"

	// ChannelStdin carries input requests from the kernel back to the
	// client while user code reads from standard input.
	ChannelStdin Channel = "stdin"

	// ChannelControl carries out-of-band lifecycle requests (interrupt,
	// shutdown). Transports use it; request operations do not.
	ChannelControl Channel = "control"
)

// Header identifies a message and the session that produced it.
type Header struct {
	// MsgID uniquely identifies the message.
	MsgID string `json:"msg_id,omitempty"`

	// MsgType names the payload shape, e.g. "execute_request".
	MsgType string `json:"msg_type,omitempty"`

	// Username is the user the message acts for.
	Username string `json:"username,omitempty"`

	// Session identifies the sending session.
	Session string `json:"session,omitempty"`

	// Date is an RFC 3339 timestamp of when the message was created.
	// Kept as a string: kernels disagree on sub-second and zone syntax,
	// and the client never computes with received dates.
	Date string `json:"date,omitempty"`

	// Version is the messaging protocol version of the sender.
	Version string `json:"version,omitempty"`
}

// Message is one decoded protocol message. Transports deliver fully decoded
// messages; once received a Message is treated as immutable.
type Message struct {
	// Header identifies this message.
	Header Header `json:"header"`

	// Parent echoes the header of the request that caused this message.
	// Replies and broadcast output are correlated by Parent.MsgID.
	Parent Header `json:"parent_header"`

	// Metadata carries type- and transport-specific annotations.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Content is the payload; its shape depends on Header.MsgType.
	Content json.RawMessage `json:"content,omitempty"`
}

// ParentID returns the id of the request this message responds to, or ""
// when the message has no parent.
func (m Message) ParentID() string { return m.Parent.MsgID }

// DecodeContent unmarshals the message content into v.
func (m Message) DecodeContent(v any) error {
	return json.Unmarshal(m.Content, v)
}

var emptyJSON = json.RawMessage("{}")

// NewMessage assembles an outbound message of the given type. The header
// carries a fresh uuid, the sender's session identity, the current time,
// and the protocol version. content is marshaled into the message; nil
// content becomes an empty object.
func NewMessage(msgType, session, username string, content any) (Message, error) {
	raw := emptyJSON
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			return Message{}, err
		}
		raw = b
	}
	return Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			MsgType:  msgType,
			Username: username,
			Session:  session,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  ProtocolVersion,
		},
		Metadata: emptyJSON,
		Content:  raw,
	}, nil
}
