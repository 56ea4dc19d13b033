// Package stm32isp reaches the internal flash of an STM32 through its ROM
// bootloader over USART [AN3155] and exposes it as an envflash.Device.
//
// The bootloader unlocks and relocks the flash controller itself around every
// command, so Unlock only makes sure the link is synchronized.
package stm32isp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/gentam/envflash"
)

var (
	ErrNACK       = errors.New("bootloader NACK")
	ErrUnexpected = errors.New("unexpected bootloader reply")
	ErrTimeout    = errors.New("bootloader timeout")
)

const (
	ack      = 0x79
	nack     = 0x1F
	syncByte = 0x7F
)

// Command is a bootloader command byte [AN3155|Table 2].
type Command byte

const (
	CommandGet            Command = 0x00
	CommandGetVersion     Command = 0x01
	CommandGetID          Command = 0x02
	CommandReadMemory     Command = 0x11
	CommandGo             Command = 0x21
	CommandWriteMemory    Command = 0x31
	CommandErase          Command = 0x43
	CommandExtendedErase  Command = 0x44
	CommandWriteProtect   Command = 0x63
	CommandWriteUnprotect Command = 0x73
)

// MaxTransfer is the largest Read/Write Memory payload.
const MaxTransfer = 256

// lines is implemented by serial ports that can drive BOOT0/NRST through
// DTR/RTS.
type lines interface {
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Client talks to one bootloader.
type Client struct {
	rw       io.ReadWriter
	base     uint32
	pageSize uint32

	synced   bool
	version  byte
	commands []Command

	// Settle is how long Activate and Reset hold each line state.
	Settle time.Duration
}

// New returns a client for a chip laid out as g.
func New(rw io.ReadWriter, g envflash.Geometry) *Client {
	return &Client{
		rw:       rw,
		base:     g.Base,
		pageSize: g.PageSize,
		Settle:   100 * time.Millisecond,
	}
}

func checksum(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

func (c *Client) write(frame []byte) error {
	_, err := c.rw.Write(frame)
	return err
}

func (c *Client) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.rw, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Client) waitACK() error {
	b, err := c.readByte()
	if err != nil {
		return err
	}
	switch b {
	case ack:
		return nil
	case nack:
		return ErrNACK
	}
	return fmt.Errorf("%w: 0x%02X", ErrUnexpected, b)
}

// send writes frame and waits for the bootloader to acknowledge it.
func (c *Client) send(frame []byte) error {
	if err := c.write(frame); err != nil {
		return err
	}
	return c.waitACK()
}

func (c *Client) command(cmd Command) error {
	if err := c.send([]byte{byte(cmd), 0xFF ^ byte(cmd)}); err != nil {
		return fmt.Errorf("command 0x%02X: %w", byte(cmd), err)
	}
	return nil
}

func (c *Client) sendAddress(addr uint32) error {
	frame := make([]byte, 5)
	binary.BigEndian.PutUint32(frame, addr)
	frame[4] = checksum(frame[:4])
	if err := c.send(frame); err != nil {
		return fmt.Errorf("address 0x%08X: %w", addr, err)
	}
	return nil
}

// Activate starts the chip in the bootloader: BOOT0 on DTR, NRST on RTS.
// It does nothing if the link has no modem lines.
func (c *Client) Activate() error {
	l, ok := c.rw.(lines)
	if !ok {
		return nil
	}
	steps := []struct{ dtr, rts bool }{
		{true, true},  // BOOT0 high, hold reset
		{true, false}, // release reset, ROM samples BOOT0
	}
	for _, s := range steps {
		if err := l.SetDTR(s.dtr); err != nil {
			return err
		}
		if err := l.SetRTS(s.rts); err != nil {
			return err
		}
		time.Sleep(c.Settle)
	}
	c.synced = false
	return nil
}

// Reset restarts the chip into the application.
func (c *Client) Reset() error {
	l, ok := c.rw.(lines)
	if !ok {
		return nil
	}
	if err := l.SetDTR(false); err != nil {
		return err
	}
	if err := l.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(c.Settle)
	c.synced = false
	return l.SetRTS(false)
}

// Sync sends the baud-rate detection byte.
func (c *Client) Sync() error {
	if err := c.send([]byte{syncByte}); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	c.synced = true
	return nil
}

// Get reads the bootloader version and its supported commands.
func (c *Client) Get() (version byte, commands []Command, err error) {
	if err = c.command(CommandGet); err != nil {
		return
	}
	n, err := c.readByte()
	if err != nil {
		return
	}
	buf := make([]byte, int(n)+1)
	if _, err = io.ReadFull(c.rw, buf); err != nil {
		return
	}
	if err = c.waitACK(); err != nil {
		return
	}
	c.version = buf[0]
	c.commands = c.commands[:0]
	for _, b := range buf[1:] {
		c.commands = append(c.commands, Command(b))
	}
	return c.version, slices.Clone(c.commands), nil
}

// Supports reports whether the last Get listed cmd.
func (c *Client) Supports(cmd Command) bool {
	return slices.Contains(c.commands, cmd)
}

// GetID returns the product ID.
func (c *Client) GetID() (uint16, error) {
	if err := c.command(CommandGetID); err != nil {
		return 0, err
	}
	n, err := c.readByte()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, int(n)+1)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return 0, err
	}
	if err := c.waitACK(); err != nil {
		return 0, err
	}
	if len(buf) < 2 {
		return 0, fmt.Errorf("%w: short product ID", ErrUnexpected)
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ReadMemory reads n bytes (1..256) at addr.
func (c *Client) ReadMemory(addr uint32, n int) ([]byte, error) {
	if n < 1 || n > MaxTransfer {
		return nil, fmt.Errorf("read of %d bytes: must be 1..%d", n, MaxTransfer)
	}
	if err := c.command(CommandReadMemory); err != nil {
		return nil, err
	}
	if err := c.sendAddress(addr); err != nil {
		return nil, err
	}
	if err := c.send([]byte{byte(n - 1), 0xFF ^ byte(n-1)}); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(c.rw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteMemory writes data (a multiple of 4, at most 256 bytes) at addr.
func (c *Client) WriteMemory(addr uint32, data []byte) error {
	if len(data) == 0 || len(data) > MaxTransfer || len(data)%4 != 0 {
		return fmt.Errorf("write of %d bytes: must be 4..%d in steps of 4", len(data), MaxTransfer)
	}
	if err := c.command(CommandWriteMemory); err != nil {
		return err
	}
	if err := c.sendAddress(addr); err != nil {
		return err
	}
	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, byte(len(data)-1))
	frame = append(frame, data...)
	frame = append(frame, checksum(frame))
	if err := c.send(frame); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// ErasePages erases the given page numbers, with Extended Erase when the
// bootloader offers it.
func (c *Client) ErasePages(pages []uint16) error {
	if len(pages) == 0 {
		return nil
	}
	if c.Supports(CommandExtendedErase) {
		if err := c.command(CommandExtendedErase); err != nil {
			return err
		}
		frame := make([]byte, 2, 2+2*len(pages)+1)
		binary.BigEndian.PutUint16(frame, uint16(len(pages)-1))
		for _, p := range pages {
			frame = binary.BigEndian.AppendUint16(frame, p)
		}
		frame = append(frame, checksum(frame))
		return c.send(frame)
	}

	if len(pages) > 255 {
		return fmt.Errorf("erase of %d pages: standard erase takes at most 255", len(pages))
	}
	frame := make([]byte, 0, len(pages)+2)
	frame = append(frame, byte(len(pages)-1))
	for _, p := range pages {
		if p > 0xFF {
			return fmt.Errorf("page %d needs extended erase", p)
		}
		frame = append(frame, byte(p))
	}
	frame = append(frame, checksum(frame))
	if err := c.command(CommandErase); err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Client) ensureSync() error {
	if c.synced {
		return nil
	}
	if err := c.Sync(); err != nil {
		return err
	}
	_, _, err := c.Get()
	return err
}

// Unlock synchronizes with the bootloader on first use.
func (c *Client) Unlock() error { return c.ensureSync() }

func (c *Client) Lock() error { return nil }

func (c *Client) ClearStatus() error { return nil }

func (c *Client) ErasePage(addr uint32) error {
	page := (addr - c.base) / c.pageSize
	if page > 0xFFFF {
		return fmt.Errorf("page %d out of range", page)
	}
	if err := c.ErasePages([]uint16{uint16(page)}); err != nil {
		return fmt.Errorf("erase page %d: %w", page, err)
	}
	return nil
}

func (c *Client) ProgramWord(addr, v uint32) error {
	var b [envflash.WordSize]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.WriteMemory(addr, b[:])
}

func (c *Client) ReadWords(addr uint32, buf []uint32) error {
	if err := c.ensureSync(); err != nil {
		return err
	}
	const perRead = MaxTransfer / envflash.WordSize
	for len(buf) > 0 {
		n := min(len(buf), perRead)
		raw, err := c.ReadMemory(addr, n*envflash.WordSize)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			buf[i] = binary.LittleEndian.Uint32(raw[i*envflash.WordSize:])
		}
		buf = buf[n:]
		addr += uint32(n * envflash.WordSize)
	}
	return nil
}
