package servo

import (
	"io"

	"go.bug.st/serial"
)

// Porter is the minimal surface needed from a serial port.
type Porter interface {
	io.Writer
	io.Closer
}

// Opener opens the device at path.
type Opener func(path string, opts PortOptions) (Porter, error)

// OpenSerial opens a real serial port.
func OpenSerial(path string, opts PortOptions) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
