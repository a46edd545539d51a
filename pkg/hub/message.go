// Package hub fans messages out to websocket clients with a channel-based
// broadcast loop. The avatar uses it to stream rig poses to renderers.
package hub

import "encoding/json"

// Message is one text frame. Seq is assigned by Broadcast and increases
// monotonically per hub; zero means unsequenced.
type Message struct {
	Seq  uint64
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// Encode marshals v into a message.
func Encode(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}

// stale reports whether msg was already delivered to a client that last
// wrote seq. Replay of the last pose on connect can race a queued
// broadcast of the same pose.
func (msg Message) stale(seq uint64) bool {
	return msg.Seq != 0 && msg.Seq <= seq
}
