package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types the session produces or interprets.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdate          = "session.update"
	EventSessionUpdated         = "session.updated"
	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
	EventResponseDone           = "response.done"
	EventResponseAudioDelta     = "response.audio.delta"
	EventInputAudioAppend       = "input_audio_buffer.append"
	EventError                  = "error"
)

// ContinuationInstructions asks the model to resume after a tool call.
const ContinuationInstructions = "Please respond to what the user last said to you."

// Category groups event types for observers and metrics.
type Category string

const (
	CategorySession      Category = "session"
	CategoryMessage      Category = "message"
	CategoryToolCall     Category = "tool_call"
	CategoryToolResponse Category = "tool_response"
	CategoryResponse     Category = "response"
	CategoryOther        Category = "other"
)

// Event is one protocol message. Payload fields other than type, event_id
// and timestamp are kept raw and flattened back on the wire.
type Event struct {
	Type      string
	EventID   string
	Timestamp string
	Fields    map[string]json.RawMessage
}

// NewEvent builds an event of type typ from payload fields.
func NewEvent(typ string, fields map[string]any) Event {
	ev := Event{Type: typ, Fields: make(map[string]json.RawMessage, len(fields))}
	for k, v := range fields {
		ev.Set(k, v)
	}
	return ev
}

// Stamp assigns a fresh event id and a timestamp taken from now when they
// are absent.
func (e *Event) Stamp(now time.Time) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = now.Format(time.RFC3339Nano)
	}
}

// Set stores a payload field. Values that cannot be encoded are stored as null.
func (e *Event) Set(key string, v any) {
	if e.Fields == nil {
		e.Fields = make(map[string]json.RawMessage)
	}
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("null")
	}
	e.Fields[key] = data
}

// Field decodes the payload field key into v.
func (e Event) Field(key string, v any) error {
	raw, ok := e.Fields[key]
	if !ok {
		return fmt.Errorf("realtime: event %s has no field %q", e.Type, key)
	}
	return json.Unmarshal(raw, v)
}

// Category classifies the event type.
func (e Event) Category() Category {
	switch e.Type {
	case EventSessionCreated, EventSessionUpdate, EventSessionUpdated:
		return CategorySession
	case EventConversationItemCreate:
		if e.itemType() == "function_call_output" {
			return CategoryToolResponse
		}
		return CategoryMessage
	case "response.function_call_arguments.delta", "response.function_call_arguments.done":
		return CategoryToolCall
	case EventResponseDone:
		if len(FunctionCalls(e)) > 0 {
			return CategoryToolCall
		}
		return CategoryResponse
	}
	if strings.HasPrefix(e.Type, "response.") {
		return CategoryResponse
	}
	return CategoryOther
}

func (e Event) itemType() string {
	var item struct {
		Type string `json:"type"`
	}
	if e.Field("item", &item) != nil {
		return ""
	}
	return item.Type
}

// MarshalJSON flattens the event into {type, event_id, timestamp?, ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	var err error
	if out["type"], err = json.Marshal(e.Type); err != nil {
		return nil, err
	}
	if e.EventID != "" {
		out["event_id"], _ = json.Marshal(e.EventID)
	}
	if e.Timestamp != "" {
		out["timestamp"], _ = json.Marshal(e.Timestamp)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses a flat event. A missing or non-string type is an
// ErrMalformedEvent.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	var typ string
	if err := json.Unmarshal(raw["type"], &typ); err != nil || typ == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	delete(raw, "type")

	*e = Event{Type: typ}
	if v, ok := raw["event_id"]; ok {
		if json.Unmarshal(v, &e.EventID) == nil {
			delete(raw, "event_id")
		}
	}
	if v, ok := raw["timestamp"]; ok {
		if json.Unmarshal(v, &e.Timestamp) == nil {
			delete(raw, "timestamp")
		}
	}
	e.Fields = raw
	return nil
}

// ParseEvent decodes one inbound message.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Keys returns the payload field names in sorted order.
func (e Event) Keys() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FunctionCall is a function_call item from a response.done output.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type outputItem struct {
	Type string `json:"type"`
	FunctionCall
}

// FunctionCalls returns the function_call entries of a response.done event,
// in output order. Other events yield nil.
func FunctionCalls(e Event) []FunctionCall {
	if e.Type != EventResponseDone {
		return nil
	}
	var resp struct {
		Output []outputItem `json:"output"`
	}
	if err := e.Field("response", &resp); err != nil {
		return nil
	}
	var calls []FunctionCall
	for _, item := range resp.Output {
		if item.Type == "function_call" {
			calls = append(calls, item.FunctionCall)
		}
	}
	return calls
}

// UserMessage is a conversation.item.create carrying user text.
func UserMessage(text string) Event {
	return NewEvent(EventConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// ResponseCreate requests a response in the given modalities.
func ResponseCreate(modalities ...string) Event {
	if len(modalities) == 0 {
		modalities = []string{"text", "audio"}
	}
	return NewEvent(EventResponseCreate, map[string]any{
		"response": map[string]any{"modalities": modalities},
	})
}

// ResponseContinue requests a response guided by instructions.
func ResponseContinue(instructions string) Event {
	return NewEvent(EventResponseCreate, map[string]any{
		"response": map[string]any{"instructions": instructions},
	})
}

// InputAudioAppend carries base64 PCM16 microphone audio.
func InputAudioAppend(audio string) Event {
	return NewEvent(EventInputAudioAppend, map[string]any{"audio": audio})
}
