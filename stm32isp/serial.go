package stm32isp

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/gentam/envflash"
)

// Port is a serial port whose reads fail with ErrTimeout instead of
// returning nothing when the bootloader stays silent.
type Port struct {
	serial.Port
}

func (p Port) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

// Open opens the serial device the bootloader listens on. The bootloader
// wants 8 data bits, even parity and one stop bit [AN3155|1].
func Open(name string, baud int, g envflash.Geometry) (*Client, *Port, error) {
	mode := &serial.Mode{
		BaudRate:          baud,
		DataBits:          8,
		StopBits:          serial.OneStopBit,
		Parity:            serial.EvenParity,
		InitialStatusBits: &serial.ModemOutputBits{RTS: false, DTR: false},
	}
	sp, err := serial.Open(name, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := sp.SetReadTimeout(time.Second); err != nil {
		sp.Close()
		return nil, nil, err
	}
	p := &Port{Port: sp}
	return New(p, g), p, nil
}

// Ports lists serial devices, for the CLI's info output.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
