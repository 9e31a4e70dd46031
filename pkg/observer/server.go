// Package observer exposes the broadcaster over HTTP and websockets.
// It subscribes like any other observer and moves notifications onto its own
// goroutine so a slow client never stalls the serial delivery path.
package observer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/broadcaster"
	"github.com/NotCoffee418/oxygen_monitor/pkg/interpreter"
	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	updateQueueSize = 64
	writeTimeout    = 5 * time.Second
)

type StatusFunc func() string

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type Server struct {
	broadcaster *broadcaster.Broadcaster
	logger      logrus.FieldLogger
	status      StatusFunc
	upgrader    websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client

	updates      chan types.Measurement
	subscription broadcaster.SubscriptionID
	stop         chan struct{}
	stopped      chan struct{}
	stopOnce     sync.Once
}

// NewServer subscribes to b immediately. status reports the controller state for "/".
func NewServer(b *broadcaster.Broadcaster, status StatusFunc, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		broadcaster: b,
		logger:      logger,
		status:      status,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins, the monitor runs on a local network
			},
		},
		clients: make(map[*websocket.Conn]*client),
		updates: make(chan types.Measurement, updateQueueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.subscription = b.Subscribe(s.onPublish)
	go s.run()
	return s
}

// Called on the delivery goroutine, must not block.
func (s *Server) onPublish() {
	m, ok := s.broadcaster.MostRecent()
	if !ok {
		return
	}
	select {
	case s.updates <- m:
	default:
		s.logger.Warn("Observer queue full, skipping websocket update")
	}
}

func (s *Server) run() {
	defer close(s.stopped)
	for {
		select {
		case m := <-s.updates:
			s.BroadcastToWebSockets(m)
		case <-s.stop:
			return
		}
	}
}

// Stop unsubscribes and disconnects every websocket client.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.broadcaster.Unsubscribe(s.subscription)
		close(s.stop)
		<-s.stopped

		s.clientsMu.Lock()
		defer s.clientsMu.Unlock()
		for conn := range s.clients {
			conn.Close()
			delete(s.clients, conn)
		}
	})
}

func (s *Server) BroadcastToWebSockets(m types.Measurement) {
	data := interpreter.EncodeMessage(m)

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			s.RemoveWebSocketClient(c.conn)
		}
	}
}

func (s *Server) addWebSocketClient(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	s.clientsMu.Lock()
	s.clients[conn] = c
	s.clientsMu.Unlock()
	return c
}

func (s *Server) RemoveWebSocketClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	conn.Close()
}

func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Handler serves the observer routes. gatherer may be nil to leave out /metrics.
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		response := map[string]any{
			"message":      "Oxygen Monitor API",
			"status":       "running",
			"measurements": s.broadcaster.Len(),
		}
		if s.status != nil {
			response["device"] = s.status()
		}
		writeJSON(w, http.StatusOK, response)
	})

	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.broadcaster.MostRecent()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "No measurements available yet",
			})
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.broadcaster.History())
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("WebSocket upgrade error")
			return
		}

		c := s.addWebSocketClient(conn)

		// Send current measurement immediately if available
		if m, ok := s.broadcaster.MostRecent(); ok {
			c.write(interpreter.EncodeMessage(m))
		}

		// Keep connection alive, this also answers pings
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.RemoveWebSocketClient(conn)
				break
			}
		}
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
