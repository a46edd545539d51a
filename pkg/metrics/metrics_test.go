package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventSent("session.update")
		m.EventReceived("session.created")
		m.DroppedSend()
		m.MalformedEvent()
		m.ToolCall("emote")
		m.Continuation()
		m.SessionState(2)
		m.ObserveFrame(time.Millisecond)
		m.PoseClients(1)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.EventSent("response.create")
	m.EventSent("response.create")
	m.ToolCall("emote")
	m.Continuation()
	m.SessionState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsSent.WithLabelValues("response.create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("emote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.continuations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionState))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.MalformedEvent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "avatar_realtime_malformed_events_total 1"))
}
