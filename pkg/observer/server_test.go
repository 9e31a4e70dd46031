package observer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/broadcaster"
	"github.com/NotCoffee418/oxygen_monitor/pkg/interpreter"
	"github.com/NotCoffee418/oxygen_monitor/pkg/metrics"
	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*broadcaster.Broadcaster, *Server, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	b := broadcaster.New()
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	s := NewServer(b, func() string { return "listening" }, logger)
	ts := httptest.NewServer(s.Handler(reg))
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return b, s, ts
}

func at(oxygen, heartRate int) types.Measurement {
	return types.Measurement{Oxygen: oxygen, HeartRate: heartRate, CapturedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStatusRoute(t *testing.T) {
	_, _, ts := newTestServer(t)

	code, body := get(t, ts.URL+"/")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"device":"listening"`)

	code, _ = get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLatestAndHistory(t *testing.T) {
	b, _, ts := newTestServer(t)

	code, body := get(t, ts.URL+"/latest")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "No measurements available yet")

	b.Publish(at(97, 72))
	b.Publish(at(96, 70))

	code, body = get(t, ts.URL+"/latest")
	require.Equal(t, http.StatusOK, code)
	var latest types.Measurement
	require.NoError(t, json.Unmarshal([]byte(body), &latest))
	assert.Equal(t, 96, latest.Oxygen)

	code, body = get(t, ts.URL+"/history")
	require.Equal(t, http.StatusOK, code)
	var history []types.Measurement
	require.NoError(t, json.Unmarshal([]byte(body), &history))
	require.Len(t, history, 2)
	assert.Equal(t, 97, history[0].Oxygen)
}

func TestWebSocketReceivesCurrentAndNewMeasurements(t *testing.T) {
	b, s, ts := newTestServer(t)
	b.Publish(at(95, 65))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	m, err := interpreter.DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, 95, m.Oxygen)

	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish(at(99, 55))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	m, err = interpreter.DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, 99, m.Oxygen)
	assert.Equal(t, 55, m.HeartRate)
}

func TestMetricsRoute(t *testing.T) {
	_, _, ts := newTestServer(t)

	code, body := get(t, ts.URL+"/metrics")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "oxygen_monitor_connected")
}

func TestStopUnsubscribes(t *testing.T) {
	b := broadcaster.New()
	s := NewServer(b, nil, nil)
	require.Equal(t, 1, b.Subscribers())

	s.Stop()
	s.Stop()

	assert.Zero(t, b.Subscribers())
	assert.NotPanics(t, func() { b.Publish(at(90, 60)) })
}

func TestPublishNeverBlocksOnFullQueue(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b := broadcaster.New()
	s := &Server{
		broadcaster: b,
		logger:      logger,
		updates:     make(chan types.Measurement, 1),
	}
	b.Subscribe(s.onPublish)

	done := make(chan struct{})
	go func() {
		b.Publish(at(90, 60))
		b.Publish(at(91, 60))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full observer queue")
	}
	assert.Len(t, hook.AllEntries(), 1)
}
