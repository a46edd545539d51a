package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teslashibe/go-avatar/pkg/audioio"
)

func TestEvent_MarshalFlat(t *testing.T) {
	ev := ResponseCreate()
	ev.EventID = "evt_1"

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["type"] != "response.create" || flat["event_id"] != "evt_1" {
		t.Errorf("flat = %v", flat)
	}
	if _, ok := flat["timestamp"]; ok {
		t.Error("empty timestamp should be omitted")
	}
	if _, ok := flat["response"]; !ok {
		t.Error("payload field missing")
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"session.created","event_id":"e1","timestamp":"t","session":{"id":"s"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventSessionCreated || ev.EventID != "e1" || ev.Timestamp != "t" {
		t.Errorf("ev = %+v", ev)
	}
	if keys := ev.Keys(); len(keys) != 1 || keys[0] != "session" {
		t.Errorf("Keys() = %v", keys)
	}

	for _, raw := range []string{`{}`, `{"type":""}`, `{"type":3}`, `[1,2]`, `oops`} {
		if _, err := ParseEvent([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("ParseEvent(%s) = %v, want ErrMalformedEvent", raw, err)
		}
	}
}

func TestEvent_Category(t *testing.T) {
	tests := []struct {
		raw  string
		want Category
	}{
		{`{"type":"session.update"}`, CategorySession},
		{`{"type":"conversation.item.create","item":{"type":"message"}}`, CategoryMessage},
		{`{"type":"conversation.item.create","item":{"type":"function_call_output"}}`, CategoryToolResponse},
		{`{"type":"response.done","response":{"output":[]}}`, CategoryResponse},
		{`{"type":"response.done","response":{"output":[{"type":"function_call","name":"emote"}]}}`, CategoryToolCall},
		{`{"type":"response.audio.delta"}`, CategoryResponse},
		{`{"type":"rate_limits.updated"}`, CategoryOther},
	}
	for _, tt := range tests {
		ev, err := ParseEvent([]byte(tt.raw))
		if err != nil {
			t.Fatal(err)
		}
		if got := ev.Category(); got != tt.want {
			t.Errorf("%s: Category() = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestFunctionCalls_NonResponseDone(t *testing.T) {
	if calls := FunctionCalls(UserMessage("hi")); calls != nil {
		t.Errorf("FunctionCalls() = %v, want nil", calls)
	}
}

func TestDecodeTool(t *testing.T) {
	tests := []struct {
		name    string
		fc      FunctionCall
		want    ToolCall
		wantErr error
	}{
		{"nod", FunctionCall{Name: ToolEmote, Arguments: `{"emote":"nod"}`}, EmoteCall{Emote: "nod"}, nil},
		{"shake", FunctionCall{Name: ToolEmote, Arguments: `{"emote":"shake"}`}, EmoteCall{Emote: "shake"}, nil},
		{"angry", FunctionCall{Name: ToolChangeExpression, Arguments: `{"expression":"angry"}`}, ExpressionCall{Expression: "angry"}, nil},
		{"unknown", FunctionCall{Name: "wave", Arguments: `{}`}, nil, ErrUnknownTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTool(tt.fc)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeTool() = %#v, want %#v", got, tt.want)
			}
		})
	}

	if _, err := DecodeTool(FunctionCall{Name: ToolEmote, Arguments: `{"emote":"wink"}`}); err == nil {
		t.Error("out-of-enum emote should fail")
	}
	if _, err := DecodeTool(FunctionCall{Name: ToolChangeExpression, Arguments: `not json`}); err == nil {
		t.Error("bad JSON should fail")
	}
}

func TestSessionUpdateSchema(t *testing.T) {
	data, err := json.Marshal(SessionUpdate())
	if err != nil {
		t.Fatal(err)
	}
	var msg struct {
		Type    string `json:"type"`
		Session struct {
			ToolChoice string `json:"tool_choice"`
			Tools      []struct {
				Name       string `json:"name"`
				Parameters struct {
					Required   []string                  `json:"required"`
					Properties map[string]map[string]any `json:"properties"`
				} `json:"parameters"`
			} `json:"tools"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != EventSessionUpdate || msg.Session.ToolChoice != "auto" {
		t.Fatalf("msg = %+v", msg)
	}
	expr := msg.Session.Tools[1]
	if expr.Name != ToolChangeExpression || len(expr.Parameters.Required) != 1 || expr.Parameters.Required[0] != "expression" {
		t.Errorf("changeExpression = %+v", expr)
	}
	if _, ok := msg.Session.Tools[0].Parameters.Properties["emote"]["enum"]; !ok {
		t.Error("emote enum missing")
	}
}

func TestHTTPCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Prompt != "be nice" || req.Voice != "male" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"client_secret":{"value":"ek_123","expires_at":1734429600},"voice":"ash"}`)
	}))
	defer srv.Close()

	c := &HTTPCredentials{URL: srv.URL}
	cred, err := c.Fetch(context.Background(), "be nice", "male")
	if err != nil {
		t.Fatal(err)
	}
	if cred.Secret != "ek_123" || cred.Voice != "ash" || cred.ExpiresAt.Unix() != 1734429600 {
		t.Errorf("cred = %+v", cred)
	}
}

func TestHTTPCredentials_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `nope`},
		{"missing secret", http.StatusOK, `{"voice":"ash"}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := (&HTTPCredentials{URL: srv.URL}).Fetch(context.Background(), "", "")
			var ce *CredentialError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want CredentialError", err)
			}
			if ce.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", ce.StatusCode, tt.status)
			}
		})
	}
}

func TestWebRTCSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("model"); got != "gpt-test" {
			t.Errorf("model = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ek_abc" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/sdp" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "v=0 offer" {
			t.Errorf("body = %q", body)
		}
		_, _ = io.WriteString(w, "v=0 answer")
	}))
	defer srv.Close()

	tr := &WebRTCTransport{BaseURL: srv.URL}
	answer, status, err := tr.signal(context.Background(), ConnectRequest{
		Credential: Credential{Secret: "ek_abc"},
		Model:      "gpt-test",
	}, "v=0 offer")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "v=0 answer" || status != http.StatusOK {
		t.Errorf("answer = %q, status = %d", answer, status)
	}
}

func TestWebRTCSignal_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := &WebRTCTransport{BaseURL: srv.URL}
	_, status, err := tr.signal(context.Background(), ConnectRequest{}, "v=0")
	if err == nil || status != http.StatusUnauthorized {
		t.Errorf("status = %d, err = %v", status, err)
	}
}

func TestAudioDelta(t *testing.T) {
	pcm := audioio.SamplesToBytes([]int16{1, -2, 300})
	raw, _ := json.Marshal(map[string]string{
		"type":  EventResponseAudioDelta,
		"delta": base64.StdEncoding.EncodeToString(pcm),
	})
	samples, ok := audioDelta(raw)
	if !ok || len(samples) != 3 || samples[1] != -2 || samples[2] != 300 {
		t.Errorf("audioDelta() = %v, %v", samples, ok)
	}
	if _, ok := audioDelta([]byte(`{"type":"response.done"}`)); ok {
		t.Error("non-audio event decoded as audio")
	}
}

func TestPumpFrames(t *testing.T) {
	mic := newFakeMic()
	done := make(chan struct{})

	mic.stream <- audioio.AudioChunk{Samples: make([]int16, 300), SampleRate: 24000, Channels: 1}
	mic.stream <- audioio.AudioChunk{Samples: make([]int16, 700), SampleRate: 24000, Channels: 1}
	close(mic.stream)

	var sizes []int
	err := pumpFrames(mic, 24000, 480, done, func(f []int16) error {
		sizes = append(sizes, len(f))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sizes) != 2 || sizes[0] != 480 || sizes[1] != 480 {
		t.Errorf("frames = %v, want two 480-sample frames", sizes)
	}
}

func TestPumpFrames_StopsOnDone(t *testing.T) {
	mic := newFakeMic()
	done := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- pumpFrames(mic, 24000, 480, done, func([]int16) error { return nil })
	}()
	close(done)
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}
