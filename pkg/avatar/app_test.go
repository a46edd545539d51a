package avatar

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/realtime"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Audio.Backend = audioio.BackendMock
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Realtime.Transport = "smoke-signals"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestInitWiresComponents(t *testing.T) {
	app, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	defer app.Shutdown()

	assert.Equal(t, realtime.StateIdle, app.Session().State())

	app.sched.Tick(time.Now())
	app.sched.Tick(time.Now())
	assert.NotNil(t, app.Rig().Pose().Head, "built-in head should resolve")

	resp, err := app.Server().App().Test(httptest.NewRequest("GET", "/api/session", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestInitWebSocketTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Realtime.Transport = config.TransportWebSocket
	cfg.Realtime.Speaker = true

	app, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	defer app.Shutdown()

	assert.NotNil(t, app.speaker)
}

func TestInitMissingModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Avatar.ModelPath = "/nonexistent/head.glb"

	app, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, app.Init(context.Background()))
}

func TestDefaultModelCarriesRigTargets(t *testing.T) {
	m := DefaultModel()
	_, ok := m.Bone("head")
	assert.True(t, ok)
	require.Len(t, m.Meshes(), 1)
	assert.Contains(t, m.Meshes()[0].MorphTargets(), "MouthOpen")
	assert.Contains(t, m.Meshes()[0].MorphTargets(), "LeftLid")
}

func TestRunRequiresInit(t *testing.T) {
	app, err := New(testConfig(t), nil)
	require.NoError(t, err)
	assert.Error(t, app.Run(context.Background()))
}
