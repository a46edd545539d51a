package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/realtime"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Realtime.Model != realtime.DefaultModel {
		t.Errorf("model = %q", cfg.Realtime.Model)
	}
	if cfg.Realtime.Transport != TransportWebRTC {
		t.Errorf("transport = %q", cfg.Realtime.Transport)
	}
	if cfg.Realtime.Voice != VoiceMale {
		t.Errorf("voice = %q", cfg.Realtime.Voice)
	}
	if !strings.HasPrefix(cfg.Realtime.Prompt, "You are a witty and friendly AI chatbot") {
		t.Errorf("prompt = %q", cfg.Realtime.Prompt)
	}
	if cfg.Realtime.ContinuationDelay != 500*time.Millisecond {
		t.Errorf("continuation delay = %v", cfg.Realtime.ContinuationDelay)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Audio.Backend != audioio.BackendAuto {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Avatar.FrameInterval() != time.Second/60 {
		t.Errorf("frame interval = %v", cfg.Avatar.FrameInterval())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AVATAR_SERVER_ADDR", ":9999")
	t.Setenv("AVATAR_REALTIME_TRANSPORT", "websocket")
	t.Setenv("AVATAR_REALTIME_VOICE", "female")
	t.Setenv("AVATAR_REALTIME_OPEN_TIMEOUT", "3s")
	t.Setenv("AVATAR_AUDIO_BACKEND", "mock")
	t.Setenv("AVATAR_AVATAR_MOUTH_GAIN", "2.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Realtime.Transport != TransportWebSocket {
		t.Errorf("transport = %q", cfg.Realtime.Transport)
	}
	if cfg.Realtime.Voice != VoiceFemale {
		t.Errorf("voice = %q", cfg.Realtime.Voice)
	}
	if cfg.Realtime.OpenTimeout != 3*time.Second {
		t.Errorf("open timeout = %v", cfg.Realtime.OpenTimeout)
	}
	if cfg.Audio.Backend != audioio.BackendMock {
		t.Errorf("backend = %q", cfg.Audio.Backend)
	}
	if cfg.Avatar.MouthGain != 2.5 {
		t.Errorf("mouth gain = %v", cfg.Avatar.MouthGain)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avatar.yaml")
	data := `
server:
  addr: ":7000"
avatar:
  frame_rate: 30
  model_path: /models/head.glb
realtime:
  max_events: 50
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AVATAR_SERVER_ADDR", ":7001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7001" {
		t.Errorf("env should beat file, addr = %q", cfg.Server.Addr)
	}
	if cfg.Avatar.FrameRate != 30 || cfg.Avatar.FrameInterval() != time.Second/30 {
		t.Errorf("frame rate = %d", cfg.Avatar.FrameRate)
	}
	if cfg.Avatar.ModelPath != "/models/head.glb" {
		t.Errorf("model path = %q", cfg.Avatar.ModelPath)
	}
	if cfg.Realtime.MaxEvents != 50 {
		t.Errorf("max events = %d", cfg.Realtime.MaxEvents)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"transport", map[string]string{"AVATAR_REALTIME_TRANSPORT": "carrier-pigeon"}},
		{"voice", map[string]string{"AVATAR_REALTIME_VOICE": "robot"}},
		{"viewport", map[string]string{"AVATAR_AVATAR_VIEWPORT_WIDTH": "0"}},
		{"audio", map[string]string{"AVATAR_AUDIO_SAMPLE_RATE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
