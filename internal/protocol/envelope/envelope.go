// Package envelope owns the JSON text-frame shapes exchanged by the harness.
//
// Two protocols share the codec:
// - handshake: {"id","action","body"} replies from the auth simulator
// - receive: {"id","content","djb2_hash","filename"} transfers and {"id"} acks
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/wsharness/internal/integrity"
)

const (
	ActionHandshake      = "auth/handshake"
	ActionAuthenticate   = "auth/authenticate"
	ActionPublish        = "rtm/publish"
	ActionHandshakeOK    = "auth/handshake/ok"
	ActionAuthenticateOK = "auth/authenticate/ok"

	// Reply ids are fixed by the simulated platform.
	HandshakeReplyID    = 1
	AuthenticateReplyID = 2

	DefaultNonce   = "MTI0Njg4NTAyMjYxMzgxMzgzMg=="
	DefaultVersion = "0.0.24"
)

var ErrMalformedEnvelope = errors.New("envelope: malformed envelope")

// Handshake is the generic handshake-protocol envelope. Body stays raw; the
// simulator never interprets it.
type Handshake struct {
	ID     *int64          `json:"id,omitempty"`
	Action string          `json:"action,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// HandshakeData is the payload of auth/handshake/ok.
type HandshakeData struct {
	Nonce   string `json:"nonce"`
	Version string `json:"version"`
}

type handshakeOKBody struct {
	Data HandshakeData `json:"data"`
}

// Reply is an outbound handshake-protocol envelope. Field order is the wire
// order.
type Reply struct {
	ID     int    `json:"id"`
	Action string `json:"action"`
	Body   any    `json:"body"`
}

// HandshakeOK builds the first simulator reply.
func HandshakeOK(nonce, version string) Reply {
	return Reply{
		ID:     HandshakeReplyID,
		Action: ActionHandshakeOK,
		Body:   handshakeOKBody{Data: HandshakeData{Nonce: nonce, Version: version}},
	}
}

// Request builds a client-side handshake-protocol envelope.
func Request(id int, action string, body any) Reply {
	if body == nil {
		body = struct{}{}
	}
	return Reply{ID: id, Action: action, Body: body}
}

// HandshakeDataOf extracts nonce and version from an auth/handshake/ok body.
func HandshakeDataOf(env Handshake) (HandshakeData, error) {
	if env.Action != ActionHandshakeOK {
		return HandshakeData{}, fmt.Errorf("%w: unexpected action %q", ErrMalformedEnvelope, env.Action)
	}
	var body handshakeOKBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return HandshakeData{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return body.Data, nil
}

// AuthenticateOK builds the second simulator reply.
func AuthenticateOK() Reply {
	return Reply{
		ID:     AuthenticateReplyID,
		Action: ActionAuthenticateOK,
		Body:   struct{}{},
	}
}

// Transfer is the receiver-protocol inbound envelope.
type Transfer struct {
	ID       json.RawMessage   `json:"id,omitempty"`
	Content  *string           `json:"content"`
	Digest   *integrity.Digest `json:"djb2_hash"`
	Filename *string           `json:"filename"`
}

// NewTransfer builds a well-formed transfer for content.
func NewTransfer(id json.RawMessage, filename string, content []byte) Transfer {
	encoded := base64.StdEncoding.EncodeToString(content)
	digest := integrity.Sum(content)
	return Transfer{
		ID:       id,
		Content:  &encoded,
		Digest:   &digest,
		Filename: &filename,
	}
}

// Bytes decodes the base64 content.
func (t Transfer) Bytes() ([]byte, error) {
	if t.Content == nil {
		return nil, fmt.Errorf("%w: missing content", ErrMalformedEnvelope)
	}
	out, err := base64.StdEncoding.DecodeString(*t.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: content is not base64: %v", ErrMalformedEnvelope, err)
	}
	return out, nil
}

// Name returns the destination resource name.
func (t Transfer) Name() string {
	if t.Filename == nil {
		return ""
	}
	return *t.Filename
}

// IDString renders the id for logs.
func (t Transfer) IDString() string {
	if len(t.ID) == 0 {
		return "-"
	}
	return string(t.ID)
}

// Validate enforces the receiver-protocol required fields.
func (t Transfer) Validate() error {
	if t.Content == nil {
		return fmt.Errorf("%w: missing content", ErrMalformedEnvelope)
	}
	if t.Digest == nil {
		return fmt.Errorf("%w: missing djb2_hash", ErrMalformedEnvelope)
	}
	if t.Filename == nil || strings.TrimSpace(*t.Filename) == "" {
		return fmt.Errorf("%w: missing filename", ErrMalformedEnvelope)
	}
	if len(t.ID) > 0 {
		switch t.ID[0] {
		case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		default:
			if !bytes.Equal(t.ID, []byte("null")) {
				return fmt.Errorf("%w: id must be a number or string", ErrMalformedEnvelope)
			}
		}
	}
	return nil
}

// Ack is the receiver-protocol reply. Only the id is echoed.
type Ack struct {
	ID json.RawMessage `json:"id,omitempty"`
}

// AckFor acknowledges t.
func AckFor(t Transfer) Ack {
	return Ack{ID: t.ID}
}

// DecodeHandshake parses a handshake-protocol frame. Errors never gate the
// simulator; they only describe what was observed.
func DecodeHandshake(raw []byte) (Handshake, error) {
	var env Handshake
	if err := json.Unmarshal(raw, &env); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

// DecodeTransfer parses and validates a receiver-protocol frame.
func DecodeTransfer(raw []byte) (Transfer, error) {
	var env Transfer
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&env); err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if dec.More() {
		return Transfer{}, fmt.Errorf("%w: trailing data after envelope", ErrMalformedEnvelope)
	}
	if err := env.Validate(); err != nil {
		return Transfer{}, err
	}
	return env, nil
}

// DecodeAck parses a receiver-protocol acknowledgment.
func DecodeAck(raw []byte) (Ack, error) {
	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return ack, nil
}

// DecodeReply parses a handshake-protocol reply.
func DecodeReply(raw []byte) (Handshake, error) {
	env, err := DecodeHandshake(raw)
	if err != nil {
		return Handshake{}, err
	}
	if env.ID == nil || env.Action == "" {
		return Handshake{}, fmt.Errorf("%w: reply missing id or action", ErrMalformedEnvelope)
	}
	return env, nil
}

// Encode serializes an outbound envelope without a trailing newline.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
