package port_reader

import (
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
)

// Handler receives transport events. OnBytes is called sequentially from a single goroutine.
type Handler interface {
	OnOpened()
	OnBytes(chunk []byte)
	OnRemoved(err error)
}

// Settings the oximeter needs on the line.
type Settings struct {
	BaudRate uint
	DataBits uint
	StopBits uint
}

var DefaultSettings = Settings{
	BaudRate: 9600,
	DataBits: 8,
	StopBits: 2,
}

type Opener func(options serial.OpenOptions) (io.ReadWriteCloser, error)

type SerialPort struct {
	port     string
	settings Settings
	open     Opener
	logger   logrus.FieldLogger

	mu         sync.Mutex
	serialPort io.ReadWriteCloser
	stopSignal bool
}
