// Package monitor wires a serial transport to the frame scanner, the parser,
// the broadcaster and the measurement log.
//
// Accepted measurements are published first and persisted second. The two
// sinks don't depend on each other: a failed write never stops a publish.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/framescanner"
	"github.com/NotCoffee418/oxygen_monitor/pkg/interpreter"
	"github.com/NotCoffee418/oxygen_monitor/pkg/metrics"
	"github.com/NotCoffee418/oxygen_monitor/pkg/port_reader"
	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrAttach = errors.New("could not attach transport")
	ErrClosed = errors.New("controller closed")
)

type State int

const (
	Disconnected State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "disconnected"
}

// Transport is the serial link, port_reader.SerialPort in production.
type Transport interface {
	Configure(settings port_reader.Settings)
	Open(handler port_reader.Handler) error
	Close() error
}

type Publisher interface {
	Publish(m types.Measurement)
}

// Sink persists measurements. Append must not fail loudly.
type Sink interface {
	Append(m types.Measurement)
	Close() error
}

type Controller struct {
	publisher Publisher
	sink      Sink
	settings  port_reader.Settings
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
	now       func() time.Time

	// deliveryMu keeps a single writer on the publisher and the sink.
	// Nothing else takes it, so subscribers may call Close or Attach.
	deliveryMu sync.Mutex

	mu         sync.Mutex
	state      State
	transport  Transport
	attachment uint64
	closed     bool
	// delivering is set while a chunk is being published; a Close in that
	// window leaves the sink to the delivery to close.
	delivering       bool
	sinkClosePending bool

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Controller)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock sets the capture time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithSettings(settings port_reader.Settings) Option {
	return func(c *Controller) {
		c.settings = settings
	}
}

// New builds a controller and attaches transport when it is not nil.
// sink may be nil when the data file could not be opened; measurements are then only published.
// A failed attach is logged and leaves the controller disconnected.
func New(transport Transport, publisher Publisher, sink Sink, opts ...Option) *Controller {
	c := &Controller{
		publisher: publisher,
		sink:      sink,
		settings:  port_reader.DefaultSettings,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if transport != nil {
		if err := c.Attach(transport); err != nil {
			c.logger.WithError(err).Error("Monitor started without a device")
		}
	}
	return c
}

// Attach closes any current transport, then configures the new one, installs a
// fresh frame scanner and opens it with this controller as its handler.
func (c *Controller) Attach(transport Transport) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	previous := c.transport
	c.attachment++
	id := c.attachment
	c.transport = transport
	c.state = Disconnected
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close previous transport")
		}
	}

	transport.Configure(c.settings)
	if err := transport.Open(&attachment{c: c, id: id, scanner: framescanner.New()}); err != nil {
		c.detach(id)
		return fmt.Errorf("%w: %w", ErrAttach, err)
	}
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close detaches the transport and closes the sink. Safe to call more than once.
// When a chunk is being delivered, the sink is closed once that delivery
// returns and its close error is logged instead of returned.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.attachment++
		transport := c.transport
		c.transport = nil
		c.state = Disconnected
		closeSink := c.sink != nil && !c.delivering
		if c.sink != nil && c.delivering {
			c.sinkClosePending = true
		}
		c.mu.Unlock()
		c.metrics.SetConnected(false)

		var errs []error
		if transport != nil {
			if err := transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close transport: %w", err))
			}
		}

		if closeSink {
			if err := c.sink.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close measurement log: %w", err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Controller) current(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment == id && c.state == Listening
}

func (c *Controller) opened(id uint64) {
	c.mu.Lock()
	if c.attachment != id {
		c.mu.Unlock()
		return
	}
	c.state = Listening
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	c.logger.Info("Device opened, listening for measurements")
}

func (c *Controller) removed(id uint64, err error) {
	if !c.detach(id) {
		return
	}
	c.logger.WithError(err).Warn("Device removed, monitor disconnected")
}

// detach drops the transport reference if id is still the current attachment.
func (c *Controller) detach(id uint64) bool {
	c.mu.Lock()
	if c.attachment != id {
		c.mu.Unlock()
		return false
	}
	c.attachment++
	c.transport = nil
	c.state = Disconnected
	c.mu.Unlock()

	c.metrics.SetConnected(false)
	return true
}

// beginDelivery marks a delivery in flight if id is still listening.
// The check and the mark share one lock so Close can't slip between them.
func (c *Controller) beginDelivery(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachment != id || c.state != Listening {
		return false
	}
	c.delivering = true
	return true
}

func (c *Controller) endDelivery() {
	c.mu.Lock()
	c.delivering = false
	closeSink := c.sinkClosePending
	c.sinkClosePending = false
	c.mu.Unlock()

	if closeSink {
		if err := c.sink.Close(); err != nil {
			c.logger.WithError(err).Error("Failed to close measurement log")
		}
	}
}

func (c *Controller) deliver(a *attachment, chunk []byte) {
	c.deliveryMu.Lock()
	defer c.deliveryMu.Unlock()

	if !c.beginDelivery(a.id) {
		return
	}
	defer c.endDelivery()
	c.metrics.AddBytes(len(chunk))

	frames := a.scanner.Consume(chunk)
	a.reportScannerDrops()

	for _, frame := range frames {
		// Detached mid-chunk, nothing after this point counts
		if !c.current(a.id) {
			return
		}
		c.metrics.FrameReceived()

		m, err := interpreter.ParseMeasurement(frame, c.now())
		if err != nil {
			c.metrics.ParseFailed(interpreter.FailureReason(err))
			c.logger.WithError(err).Debug("Dropping frame")
			continue
		}

		c.metrics.Accepted(m.Oxygen, m.HeartRate)
		c.publisher.Publish(m)
		if c.sink != nil {
			c.sink.Append(m)
		}
	}
}

// attachment is the handler given to one transport. Events from an attachment
// that has since been replaced or removed are ignored.
type attachment struct {
	c  *Controller
	id uint64

	// Only touched under the controller's deliveryMu.
	scanner   *framescanner.Scanner
	overflows uint64
	restarts  uint64
}

func (a *attachment) reportScannerDrops() {
	overflows, restarts := a.scanner.Overflows(), a.scanner.Restarts()
	if overflows > a.overflows {
		a.c.logger.WithField("max_frame_size", framescanner.MaxFrameSize).Warn("Dropped oversized frame")
	}
	a.c.metrics.AddScannerDrops(overflows-a.overflows, restarts-a.restarts)
	a.overflows, a.restarts = overflows, restarts
}

func (a *attachment) OnOpened() {
	a.c.opened(a.id)
}

func (a *attachment) OnBytes(chunk []byte) {
	a.c.deliver(a, chunk)
}

func (a *attachment) OnRemoved(err error) {
	a.c.removed(a.id, err)
}
