// Package spinor drives a SPI NOR flash as an envflash.Device. Pages are the
// 4KB subsectors; words are programmed little-endian so the image matches
// what a memory-mapped MCU would see.
//
// # References:
//
// FTDI (https://ftdichip.com/document/application-notes/)
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
//
// Boards
//   - [EB82]: iCEstick User Manual (https://www.latticesemi.com/view_document?document_id=50701)
//   - [iCEBreaker]: iCEBreaker FPGA (https://github.com/icebreaker-fpga/icebreaker/blob/master/hardware/v1.0e/icebreaker-sch.pdf)
//
// SPI Flash
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
package spinor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/gentam/envflash"
)

var (
	ErrBusyTimeout  = errors.New("flash busy timeout")
	ErrEraseFailed  = errors.New("flash reported erase failure")
	ErrProgramFail  = errors.New("flash reported program failure")
	ErrProtected    = errors.New("flash area is protected")
	ErrNotWritable  = errors.New("write enable latch not set")
	ErrUnknownChip  = errors.New("unknown flash ID")
	errAddressRange = errors.New("address out of 24-bit range")
)

// Flash is one SPI NOR chip behind a chip-select line.
type Flash struct {
	conn spi.Conn
	cs   gpio.PinOut
	id   [3]byte // JEDEC ID of the flash chip
	pr   *chipParams

	// protect holds the block-protect bits Unlock cleared, restored by Lock.
	protect StatusRegister
}

func New(conn spi.Conn, cs gpio.PinOut) *Flash {
	return &Flash{
		conn: conn,
		cs:   cs,
	}
}

// Flash commands:
//   - [N25Q32|Table 16: Command Set]
//   - [W25Q128|8.1.2 Instruction Set Table 1]
const (
	cmdPowerUp             = 0xAB // Release Power Down
	cmdPowerDown           = 0xB9
	cmdReadID              = 0x9F
	cmdRead                = 0x03
	cmdWriteEnable         = 0x06
	cmdWriteDisable        = 0x04
	cmdPageProgram         = 0x02
	cmdErase4KB            = 0x20 // Subsector Erase / Sector Erase (4KB)
	cmdReadStatusRegister  = 0x05
	cmdWriteStatusRegister = 0x01
	cmdReadFlagStatus      = 0x70 // N25Q only
	cmdClearFlagStatus     = 0x50 // N25Q only
)

// SubsectorSize is the erase unit used as the envflash page.
const SubsectorSize = 4 << 10

// tx wraps SPI transaction with CS assertion.
func (f *Flash) tx(buf []byte) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = f.conn.Tx(buf, buf)
	return
}

func (f *Flash) cmd(op byte) error {
	return f.tx([]byte{op})
}

func (f *Flash) PowerUp() error {
	if err := f.cmd(cmdPowerUp); err != nil {
		return err
	}
	time.Sleep(f.tRES1())
	return nil
}

func (f *Flash) PowerDown() error {
	if err := f.cmd(cmdPowerDown); err != nil {
		return err
	}
	time.Sleep(f.tDP())
	return nil
}

// ReadID returns the JEDEC ID of the flash chip and configures its parameters.
// It returns a non-empty name for known IDs. The extended device string is ignored.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	buf := make([]byte, 4)
	buf[0] = cmdReadID

	if err = f.tx(buf); err != nil {
		return
	}

	f.id = [3]byte(buf[1:])
	if params, ok := knownChips[f.id]; ok {
		f.pr = &params
		name = params.name
	}
	return f.id, name, err
}

// Probe wakes the chip and returns the envflash variant matching its ID.
func (f *Flash) Probe() (envflash.Geometry, error) {
	if err := f.PowerUp(); err != nil {
		return envflash.Geometry{}, fmt.Errorf("power up: %w", err)
	}
	id, _, err := f.ReadID()
	if err != nil {
		return envflash.Geometry{}, fmt.Errorf("read ID: %w", err)
	}
	if f.pr == nil {
		return envflash.Geometry{}, fmt.Errorf("%w: %X", ErrUnknownChip, id)
	}
	g, err := envflash.LookupVariant(f.pr.variant)
	if err != nil {
		return envflash.Geometry{}, err
	}
	if g.PageSize != SubsectorSize {
		return envflash.Geometry{}, fmt.Errorf("%w: %s pages are %d bytes, chip erases %d",
			envflash.ErrGeometry, g.Name, g.PageSize, SubsectorSize)
	}
	return g, nil
}

func addr24(buf []byte, op byte, addr uint32) error {
	const max24 = 1<<24 - 1 // 0xFFFFFF
	if addr > max24 {
		return fmt.Errorf("%w: 0x%X", errAddressRange, addr)
	}
	buf[0] = op
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	return nil
}

// Read performs a read operation, splitting it into multiple transactions if needed
// to stay within the maximum transaction size.
func (f *Flash) Read(addr uint32, n int) ([]byte, error) {
	const (
		maxTx    = 65536 // [FTDI-AN_108]
		cmdBytes = 4     // opRead + 24-bit address
		maxData  = maxTx - cmdBytes
	)

	out := make([]byte, n)
	off := 0
	for remaining := n; remaining > 0; {
		chunk := min(remaining, maxData)
		buf := make([]byte, cmdBytes+chunk)
		if err := addr24(buf, cmdRead, addr); err != nil {
			return nil, err
		}
		// buf[4:] dummy bytes

		if err := f.tx(buf); err != nil {
			return nil, err
		}

		copy(out[off:], buf[cmdBytes:])

		addr += uint32(chunk)
		off += chunk
		remaining -= chunk
	}
	return out, nil
}

func (f *Flash) writeEnable() error {
	if err := f.cmd(cmdWriteEnable); err != nil {
		return err
	}
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return err
	}
	if !sr.WriteEnabled() {
		return ErrNotWritable
	}
	return nil
}

// pageProgram programs data (max 256 bytes, not crossing a page) at addr.
func (f *Flash) pageProgram(addr uint32, data []byte) error {
	if len(data) > 256 {
		return errors.New("data must not exceed 256 bytes")
	}
	buf := make([]byte, 4+len(data))
	if err := addr24(buf, cmdPageProgram, addr); err != nil {
		return err
	}
	copy(buf[4:], data)

	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.tx(buf); err != nil {
		return err
	}
	if err := f.BusyWait(100*time.Microsecond, 2*f.tPP()); err != nil {
		return err
	}
	return f.checkFlags(ErrProgramFail)
}

// Erase4KB erases the subsector containing addr.
func (f *Flash) Erase4KB(addr uint32) error {
	buf := make([]byte, 4)
	if err := addr24(buf, cmdErase4KB, addr); err != nil {
		return err
	}

	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.tx(buf); err != nil {
		return err
	}
	if err := f.BusyWait(10*time.Millisecond, 2*f.tErase4KB()); err != nil {
		return err
	}
	return f.checkFlags(ErrEraseFailed)
}

// BusyWait waits for the flash to become ready by polling the status register's
// bit 0 with specified intervals. It returns ErrBusyTimeout once timeout
// expires; set timeout to 0 to wait indefinitely.
func (f *Flash) BusyWait(interval, timeout time.Duration) error {
	// Fast path
	if sr, err := f.ReadStatusRegister(); err == nil && !sr.Busy() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-expired:
			return fmt.Errorf("%w after %v", ErrBusyTimeout, timeout)
		case <-ticker.C:
			sr, err := f.ReadStatusRegister()
			if err != nil {
				return err
			}
			if !sr.Busy() {
				return nil
			}
		}
	}
}

func (f *Flash) ReadStatusRegister() (StatusRegister, error) {
	buf := []byte{cmdReadStatusRegister, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}

func (f *Flash) writeStatusRegister(sr StatusRegister) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.tx([]byte{cmdWriteStatusRegister, byte(sr)}); err != nil {
		return err
	}
	return f.BusyWait(time.Millisecond, 2*f.tW())
}

func (f *Flash) hasFlagStatus() bool {
	return f.pr != nil && f.pr.flagStatus
}

// ReadFlagStatus reads the N25Q flag status register.
func (f *Flash) ReadFlagStatus() (FlagStatus, error) {
	buf := []byte{cmdReadFlagStatus, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return FlagStatus(buf[1]), nil
}

// checkFlags turns latched N25Q failure flags into an error. Chips without a
// flag status register report nothing here; the read-back catches them.
func (f *Flash) checkFlags(failed error) error {
	if !f.hasFlagStatus() {
		return nil
	}
	fs, err := f.ReadFlagStatus()
	if err != nil {
		return err
	}
	switch {
	case fs.Protection():
		return fmt.Errorf("%w (%s)", ErrProtected, fs)
	case fs.EraseError() && failed == ErrEraseFailed, fs.ProgramError() && failed == ErrProgramFail:
		return fmt.Errorf("%w (%s)", failed, fs)
	}
	return nil
}

// Unlock clears the block-protect bits, if any are set. Lock puts them back.
func (f *Flash) Unlock() error {
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return err
	}
	f.protect = 0
	if !sr.Protected() {
		return nil
	}
	f.protect = sr & blockProtectMask
	if err := f.writeStatusRegister(sr &^ blockProtectMask); err != nil {
		// The cleared bits may have landed before the failure. No Lock
		// follows a failed Unlock, so put them back here.
		f.Lock()
		return err
	}
	return nil
}

func (f *Flash) Lock() error {
	err := f.cmd(cmdWriteDisable)
	if f.protect != 0 {
		sr, srErr := f.ReadStatusRegister()
		if srErr == nil {
			srErr = f.writeStatusRegister(sr | f.protect)
		}
		if srErr == nil {
			srErr = f.cmd(cmdWriteDisable)
		}
		if err == nil {
			err = srErr
		}
		f.protect = 0
	}
	return err
}

// ClearStatus clears the N25Q flag status register. Other chips have no
// sticky flags.
func (f *Flash) ClearStatus() error {
	if !f.hasFlagStatus() {
		return nil
	}
	return f.cmd(cmdClearFlagStatus)
}

func (f *Flash) ErasePage(addr uint32) error {
	return f.Erase4KB(addr)
}

func (f *Flash) ProgramWord(addr, v uint32) error {
	var b [envflash.WordSize]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return f.pageProgram(addr, b[:])
}

func (f *Flash) ReadWords(addr uint32, buf []uint32) error {
	raw, err := f.Read(addr, len(buf)*envflash.WordSize)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = binary.LittleEndian.Uint32(raw[i*envflash.WordSize:])
	}
	return nil
}
