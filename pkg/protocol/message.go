// Package protocol defines the JSON envelope exchanged between sync clients
// and the relay, and between federated relays.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/tidwall/gjson"
)

type Type string

const (
	// TypeSync carries the sender's full state and asks for the receiver's.
	TypeSync Type = "sync"
	// TypeState answers a sync with the receiver's converged state.
	TypeState Type = "state"
	// TypeUpdate carries incremental ops.
	TypeUpdate Type = "update"
	// TypePresence lists the peers connected to a room.
	TypePresence Type = "presence"
)

var ErrNoType = errors.New("message has no type")

// Message is the envelope. Update holds a codec-encoded crdt.Update and is
// base64 in JSON.
type Message struct {
	Type   Type     `json:"type"`
	Room   string   `json:"room,omitempty"`
	Peer   string   `json:"peer,omitempty"`
	Update []byte   `json:"update,omitempty"`
	Peers  []string `json:"peers,omitempty"`
}

// NewUpdateMessage builds a message of type t carrying u.
func NewUpdateMessage(t Type, room, peer string, u crdt.Update) (Message, error) {
	data, err := u.Encode()
	if err != nil {
		return Message{}, fmt.Errorf("encode %s update: %w", t, err)
	}
	return Message{Type: t, Room: room, Peer: peer, Update: data}, nil
}

// DecodeUpdate parses the carried update. A message without one yields an
// empty update.
func (m Message) DecodeUpdate() (crdt.Update, error) {
	if len(m.Update) == 0 {
		return crdt.Update{}, nil
	}
	return crdt.DecodeUpdate(m.Update)
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// EncodeUpdate is NewUpdateMessage followed by Encode.
func EncodeUpdate(t Type, room, peer string, u crdt.Update) ([]byte, error) {
	m, err := NewUpdateMessage(t, room, peer, u)
	if err != nil {
		return nil, err
	}
	return Encode(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, ErrNoType
	}
	return m, nil
}

// PeekType reads the type field without decoding the rest of the frame.
func PeekType(data []byte) (Type, error) {
	if !gjson.ValidBytes(data) {
		return "", errors.New("message is not valid JSON")
	}
	v := gjson.GetBytes(data, "type")
	if !v.Exists() || v.String() == "" {
		return "", ErrNoType
	}
	return Type(v.String()), nil
}

// PeekPeer reads the peer field without decoding the rest of the frame.
func PeekPeer(data []byte) string {
	return gjson.GetBytes(data, "peer").String()
}
