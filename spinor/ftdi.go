package spinor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// Bridge is an FT2232H in MPSSE mode wired to a SPI flash, as on iCEstick
// and iCEBreaker boards.
type Bridge struct {
	FTDI  *ftdi.FT232H
	Flash *Flash

	cs    gpio.PinIO // ADBUS4 Chip Select
	reset gpio.PinIO // ADBUS7 Reset

	clock physic.Frequency
	port  spi.PortCloser
	conn  spi.Conn
}

var hostInitialized atomic.Bool

// OpenBridge finds the FT2232H and opens its MPSSE/SPI connection.
func OpenBridge() (*Bridge, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	b := &Bridge{
		clock: 30 * physic.MegaHertz, // [FTDI-AN_135|3.2.1 Divisors]
	}
	if err := b.findFT2232H(); err != nil {
		return nil, err
	}

	// [EB82|Appendix A. Sheet 2 of 5 (USB to SPI/RS232)] / [iCEBreaker]
	// ADBUS0 | iCE_SCK
	// ADBUS1 | iCE_MOSI / FLASH_MOSI
	// ADBUS2 | iCE_MISO / FLASH_MISO
	// ADBUS4 | iCE_SS_B
	// ADBUS7 | iCE_CRESET / iCE_RESET
	b.cs = b.FTDI.D4
	b.reset = b.FTDI.D7

	if err := b.connectSPI(); err != nil {
		return nil, err
	}
	b.Flash = New(b.conn, b.cs)
	return b, nil
}

// HoldReset keeps the FPGA in reset so it does not drive the SPI bus as a
// master while the host talks to the flash.
func (b *Bridge) HoldReset() error {
	return b.reset.Out(gpio.Low)
}

// ReleaseReset lets the FPGA boot from flash again.
func (b *Bridge) ReleaseReset() error {
	return b.reset.Out(gpio.High)
}

func (b *Bridge) Close() error {
	if b.port == nil {
		return nil
	}
	return b.port.Close()
}

func (b *Bridge) findFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			b.FTDI = ft
			return nil
		}
	}

	return errors.New("FT2232H not found")
}

func (b *Bridge) connectSPI() (err error) {
	b.port, err = b.FTDI.SPI()
	if err != nil {
		return fmt.Errorf("failed to get SPI port: %w", err)
	}

	// [FTDI-AN_114|1.2]> FTDI device can only support mode 0 and mode 2 due to the limitation of MPSSE engine
	// [N25Q32|Table 7: SPI Modes] mode 0 and mode 3 are supported
	b.conn, err = b.port.Connect(b.clock, spi.Mode0, 8)
	return err
}
