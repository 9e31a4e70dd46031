package port_reader

import (
	"errors"
	"fmt"
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
)

const readBufferSize = 256

var ErrAlreadyOpen = errors.New("serial port already open")

type Option func(*SerialPort)

// WithOpener replaces serial.Open, mostly for tests.
func WithOpener(open Opener) Option {
	return func(p *SerialPort) {
		p.open = open
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *SerialPort) {
		p.logger = logger
	}
}

// Initialize a new serial port client. Nothing is opened until Open.
func NewSerialPort(port string, opts ...Option) *SerialPort {
	p := &SerialPort{
		port:     port,
		settings: DefaultSettings,
		open:     serial.Open,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SerialPort) Name() string {
	return p.port
}

// Configure takes effect on the next Open.
func (p *SerialPort) Configure(settings Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings
}

func (p *SerialPort) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Open connects to the device and starts delivering chunks to handler from a goroutine.
// A read error means the device went away and is reported once through OnRemoved.
func (p *SerialPort) Open(handler Handler) error {
	p.mu.Lock()
	if p.serialPort != nil {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}

	options := serial.OpenOptions{
		PortName:        p.port,
		BaudRate:        p.settings.BaudRate,
		DataBits:        p.settings.DataBits,
		StopBits:        p.settings.StopBits,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	}

	conn, err := p.open(options)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	p.serialPort = conn
	p.stopSignal = false
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"port":      p.port,
		"baudrate":  options.BaudRate,
		"stop_bits": options.StopBits,
	}).Info("Serial port opened")
	handler.OnOpened()

	go p.readLoop(conn, handler)
	return nil
}

func (p *SerialPort) readLoop(conn io.ReadWriteCloser, handler Handler) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			handler.OnBytes(chunk)
		}
		if err == nil {
			continue
		}

		p.mu.Lock()
		stopped := p.stopSignal || p.serialPort != conn
		if !stopped {
			p.serialPort = nil
		}
		p.mu.Unlock()

		if stopped {
			return
		}
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("device removed: %w", err)
		}
		p.logger.WithError(err).WithField("port", p.port).Warn("Serial port was removed")
		conn.Close()
		handler.OnRemoved(err)
		return
	}
}

// Close stops delivery without reporting OnRemoved.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.serialPort == nil {
		return nil
	}
	p.stopSignal = true
	err := p.serialPort.Close()
	p.serialPort = nil
	p.logger.WithField("port", p.port).Info("Disconnected from serial port")
	return err
}

func (p *SerialPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serialPort != nil
}
