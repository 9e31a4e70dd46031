package interpreter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestStartListenerDeliversMeasurements(t *testing.T) {
	upgrader := websocket.Upgrader{}
	sent := types.Measurement{Oxygen: 98, HeartRate: 64, CapturedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		conn.WriteMessage(websocket.TextMessage, EncodeMessage(sent))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	logger, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *types.Measurement, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		StartListener(ctx, strings.TrimPrefix(server.URL, "http://"), func(m *types.Measurement) {
			received <- m
		}, logger)
	}()

	select {
	case m := <-received:
		assert.Equal(t, 98, m.Oxygen)
		assert.Equal(t, 64, m.HeartRate)
	case <-time.After(5 * time.Second):
		t.Fatal("no measurement received")
	}

	cancel()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}

	var dropped bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Dropping measurement message" && entry.Level == logrus.WarnLevel {
			dropped = true
		}
	}
	assert.True(t, dropped)
}

func TestStartListenerStopsWhenContextDone(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		StartListener(ctx, "127.0.0.1:1", func(*types.Measurement) {}, logger)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener kept running with a cancelled context")
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(0))
	assert.Equal(t, 4*time.Second, backoff(1))
	assert.Equal(t, 32*time.Second, backoff(4))
	assert.Equal(t, maxRetryDelay, backoff(5))
	assert.Equal(t, maxRetryDelay, backoff(80))
}
