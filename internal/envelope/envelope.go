// Package envelope defines the JSON message frames exchanged between the
// agent, the server, and viewers. Every frame is a text message carrying a
// JSON object with a mandatory "type" field. Parse returns an error only for
// malformed JSON; a frame with an unknown type decodes without error. The
// caller drops both kinds, never treating them as fatal.
package envelope

import "encoding/json"

// Frame types recognized by the relay. See the wire-format table in the
// project's session-relay design doc for the payload carried by each.
const (
	TypeRegister   = "register"
	TypeSession    = "session"
	TypeOutput     = "output"
	TypeInput      = "input"
	TypeResize     = "resize"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeMeta       = "meta"
	TypeDisconnect = "disconnect"
	TypeError      = "error"
)

// Message is the envelope shared by every frame type. Only the fields
// relevant to Type are populated; the rest are left zero. Using one struct
// for all types keeps (un)marshalling trivial and matches how small relay
// protocols like this are normally represented in Go.
type Message struct {
	Type string `json:"type"`

	// register
	Name  string `json:"name,omitempty"`
	Shell string `json:"shell,omitempty"`

	// session
	SID string `json:"sid,omitempty"`
	URL string `json:"url,omitempty"`

	// output / input
	Data string `json:"data,omitempty"`

	// resize / register / meta
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	// meta
	Viewers int `json:"viewers,omitempty"`

	// disconnect / error
	Message string `json:"message,omitempty"`
}

// Parse decodes a raw frame. The caller is expected to ignore both decode
// errors and unrecognized Type values rather than treat them as fatal,
// per the protocol's "never fatal on malformed input" rule.
func Parse(raw []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(raw, &m)
	return m, err
}

// Encode serializes a frame for transmission.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Register(name, shell string, rows, cols int) Message {
	return Message{Type: TypeRegister, Name: name, Shell: shell, Rows: rows, Cols: cols}
}

func Session(sid, url string) Message {
	return Message{Type: TypeSession, SID: sid, URL: url}
}

func Output(data string) Message {
	return Message{Type: TypeOutput, Data: data}
}

func Input(data string) Message {
	return Message{Type: TypeInput, Data: data}
}

func Resize(rows, cols int) Message {
	return Message{Type: TypeResize, Rows: rows, Cols: cols}
}

func Ping() Message {
	return Message{Type: TypePing}
}

func Pong() Message {
	return Message{Type: TypePong}
}

func Meta(name string, viewers, rows, cols int) Message {
	return Message{Type: TypeMeta, Name: name, Viewers: viewers, Rows: rows, Cols: cols}
}

func Disconnect(message string) Message {
	return Message{Type: TypeDisconnect, Message: message}
}

func Error(message string) Message {
	return Message{Type: TypeError, Message: message}
}
