package audioio

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestResample(t *testing.T) {
	ramp := func(n int) []int16 {
		s := make([]int16, n)
		for i := range s {
			s[i] = int16(i)
		}
		return s
	}

	tests := []struct {
		name     string
		in       []int16
		from, to int
		wantLen  int
	}{
		{"same rate", ramp(5), 24000, 24000, 5},
		{"48k to 24k", ramp(960), 48000, 24000, 480},
		{"16k to 24k", ramp(320), 16000, 24000, 480},
		{"empty", nil, 24000, 48000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resample(tt.in, tt.from, tt.to)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	got := Resample([]int16{0, 100, 200, 300}, 24000, 48000)
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d (%v)", i, got[i], want[i], got)
		}
	}
}

func TestPCMConversions(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := SamplesToBytes(samples)
	if len(data) != 10 {
		t.Fatalf("bytes = %d, want 10", len(data))
	}
	if data[4] != 0xff || data[5] != 0xff {
		t.Errorf("-1 encoded as %x %x", data[4], data[5])
	}
	back := BytesToSamples(append(data, 0x7f))
	if len(back) != len(samples) {
		t.Fatalf("odd trailing byte should be ignored, got %d samples", len(back))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, back[i], samples[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	got := StereoToMono([]int16{100, 200, -50, 50, 32767, 32767})
	want := []int16{150, 0, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.BufferSize() != 480 || cfg.BufferBytes() != 960 {
		t.Errorf("buffer = %d frames / %d bytes, want 480 / 960", cfg.BufferSize(), cfg.BufferBytes())
	}

	for name, mutate := range map[string]func(*Config){
		"rate":     func(c *Config) { c.SampleRate = 0 },
		"channels": func(c *Config) { c.Channels = -1 },
		"buffer":   func(c *Config) { c.BufferDuration = 0 },
		"backend":  func(c *Config) { c.Backend = "jack" },
	} {
		c := DefaultConfig()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestAudioChunkDuration(t *testing.T) {
	c := AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	if d := c.Duration(); d != 0.02 {
		t.Errorf("duration = %v, want 0.02", d)
	}
	if d := (&AudioChunk{}).Duration(); d != 0 {
		t.Errorf("empty duration = %v", d)
	}
}

func TestMockSourceStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 5 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(chunk.Samples) != cfg.BufferSize() {
		t.Errorf("samples = %d, want %d", len(chunk.Samples), cfg.BufferSize())
	}
	var peak int16
	for _, s := range chunk.Samples {
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		t.Error("sine chunk is silent")
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for range src.Stream() {
	}
	if _, err := src.Read(ctx); err != io.EOF {
		t.Errorf("Read after Stop = %v, want EOF", err)
	}
	if src.Stats().Running {
		t.Error("stats report running after Stop")
	}
}

func TestMockSourceRestartAndClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 5 * time.Millisecond
	src := NewMockSource(cfg, nil)

	for i := 0; i < 2; i++ {
		if err := src.Start(context.Background()); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if err := src.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Start(context.Background()); err != io.ErrClosedPipe {
		t.Errorf("Start after Close = %v, want ErrClosedPipe", err)
	}
}

func TestMockSourceStopsWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 5 * time.Millisecond
	src := NewMockSource(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := src.Stream()
	cancel()

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				if src.Stats().Running {
					t.Error("still running after context cancel")
				}
				return
			}
		case <-timeout:
			t.Fatal("stream not closed after context cancel")
		}
	}
}

func TestMockSink(t *testing.T) {
	sink := NewMockSink()
	if err := sink.Write(AudioChunk{}); err != io.ErrClosedPipe {
		t.Errorf("Write before Start = %v", err)
	}
	if err := sink.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	samples := []int16{1, 2, 3}
	if err := sink.Write(AudioChunk{Samples: samples, SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatal(err)
	}
	samples[0] = 99
	got := sink.Chunks()
	if len(got) != 1 || got[0].Samples[0] != 1 {
		t.Fatalf("chunks = %+v", got)
	}

	_ = sink.Clear()
	if len(sink.Chunks()) != 0 {
		t.Error("Clear left chunks")
	}
	_ = sink.Close()
	if err := sink.Start(context.Background()); err != io.ErrClosedPipe {
		t.Errorf("Start after Close = %v", err)
	}
}

func TestNewSourceBackends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "mock" {
		t.Errorf("name = %q", src.Name())
	}

	cfg.Backend = BackendALSA
	src, err = NewSource(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	cs, ok := src.(*CommandSource)
	if !ok || cs.path != "arecord" {
		t.Errorf("alsa source = %T %+v", src, src)
	}

	cfg.Backend = BackendSoX
	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := sink.(*CommandSink); !ok || s.path != "play" {
		t.Errorf("sox sink = %T", sink)
	}

	cfg.SampleRate = 0
	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("expected invalid config error")
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandSourceReadsPCM(t *testing.T) {
	requireShell(t)

	cfg := DefaultConfig()
	cfg.SampleRate = 1000
	cfg.BufferDuration = 2 * time.Millisecond // two frames per chunk
	src := NewCommandSource(cfg, nil, "test", "sh", "-c", `printf '\001\000\002\000\003\000\004\000'`)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []int16
	for chunk := range src.Stream() {
		got = append(got, chunk.Samples...)
	}
	want := []int16{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
	if src.Stats().Running {
		t.Error("source still running after recorder exit")
	}
	if err := src.Stop(); err != nil {
		t.Errorf("Stop after exit: %v", err)
	}
}

func TestCommandSourceStopKillsRecorder(t *testing.T) {
	requireShell(t)

	src := NewCommandSource(DefaultConfig(), nil, "test", "sh", "-c", "sleep 10")
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = src.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestCommandSourceMissingBinary(t *testing.T) {
	src := NewCommandSource(DefaultConfig(), nil, "test", "/nonexistent/recorder")
	if err := src.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
}

func TestCommandSinkWritesPCM(t *testing.T) {
	requireShell(t)

	out := filepath.Join(t.TempDir(), "out.raw")
	sink := NewCommandSink(DefaultConfig(), nil, "test", "sh", "-c", "cat > "+out)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sink.Write(AudioChunk{Samples: []int16{1, -1}, SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, _ := os.ReadFile(out)
		if len(data) == 4 {
			if data[0] != 1 || data[2] != 0xff {
				t.Errorf("data = %x", data)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("player got %d bytes, want 4", len(data))
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := sink.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := sink.Write(AudioChunk{Samples: []int16{1}}); err != io.ErrClosedPipe {
		t.Errorf("Write after Close = %v", err)
	}
}
