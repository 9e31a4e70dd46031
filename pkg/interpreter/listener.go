package interpreter

import (
	"context"
	"net/url"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second
	readTimeout    = 10 * time.Second
	pingInterval   = readTimeout / 2
)

// StartListener subscribes to a monitor's /ws feed and calls handle for each measurement.
// Reconnects with exponential backoff until ctx is done or maxRetries is reached.
func StartListener(ctx context.Context, host string, handle func(m *types.Measurement), logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	log := logger.WithField("url", u.String())

	retryCount := 0
	for {
		if ctx.Err() != nil {
			log.Info("Shutdown requested, stopping listener")
			return
		}

		if retryCount > 0 {
			retryDelay := backoff(retryCount - 1)
			log.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				log.Info("Shutdown requested during retry wait")
				return
			}
		}

		log.Info("Connecting")
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			log.WithError(err).Warn("Connection failed")
			retryCount++
			if retryCount >= maxRetries {
				log.Errorf("Max retries (%d) reached. Giving up.", maxRetries)
				return
			}
			continue
		}

		log.Info("Connected! Accepting measurements.")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, handle, log)
		c.Close()
		if !connectionBroken {
			return
		}
		log.Warn("Connection lost, will retry...")
	}
}

func backoff(attempt int) time.Duration {
	delay := baseRetryDelay << attempt
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}

// Returns true when the connection broke, false on a clean shutdown.
func handleConnection(
	ctx context.Context,
	c *websocket.Conn,
	handle func(m *types.Measurement),
	log logrus.FieldLogger,
) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Error("WebSocket error")
				} else {
					log.WithError(err).Info("Connection closed")
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				log.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			m, err := DecodeMessage(message)
			if err != nil {
				log.WithError(err).Warn("Dropping measurement message")
				continue
			}
			handle(m)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				log.WithError(err).Warn("Failed to send ping")
			}
		case <-ctx.Done():
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.WithError(err).Warn("Error sending close message")
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
