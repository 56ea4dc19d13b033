// Package blockdev runs the flash port on a tinyfs.BlockDevice, such as the
// on-chip flash TinyGo exposes as machine.Flash or an SPI flash driver.
package blockdev

import (
	"encoding/binary"
	"fmt"

	"tinygo.org/x/tinyfs"

	"github.com/gentam/envflash"
)

// Device adapts a block device to envflash.Device. Erase blocks are the
// pages. Writes narrower than the device's write block are widened with a
// read-modify-write of that block.
type Device struct {
	bd     tinyfs.BlockDevice
	base   uint32
	locked bool
}

// New maps bd at base. The device starts locked.
func New(bd tinyfs.BlockDevice, base uint32) *Device {
	return &Device{bd: bd, base: base, locked: true}
}

// Geometry describes bd with the environment partition at envOffset.
func (d *Device) Geometry(name string, envOffset, envSize uint32) (envflash.Geometry, error) {
	size, page := d.bd.Size(), d.bd.EraseBlockSize()
	if size <= 0 || page <= 0 || uint64(size) > 1<<32-uint64(d.base) {
		return envflash.Geometry{}, fmt.Errorf("%w: block device of %d bytes at 0x%08X",
			envflash.ErrGeometry, size, d.base)
	}
	g := envflash.Geometry{
		Name:      name,
		Base:      d.base,
		Size:      uint32(size),
		PageSize:  uint32(page),
		WordSize:  envflash.WordSize,
		Reserved:  envOffset,
		EnvOffset: envOffset,
		EnvSize:   envSize,
	}
	return g, g.Validate()
}

func (d *Device) Unlock() error {
	d.locked = false
	return nil
}

func (d *Device) Lock() error {
	d.locked = true
	return nil
}

func (d *Device) ClearStatus() error { return nil }

func (d *Device) ErasePage(addr uint32) error {
	if d.locked {
		return envflash.ErrLocked
	}
	bs := d.bd.EraseBlockSize()
	return d.bd.EraseBlocks(int64(addr-d.base)/bs, 1)
}

func (d *Device) ProgramWord(addr, v uint32) error {
	if d.locked {
		return envflash.ErrLocked
	}
	off := int64(addr - d.base)
	wb := d.bd.WriteBlockSize()
	if wb <= envflash.WordSize {
		var b [envflash.WordSize]byte
		binary.LittleEndian.PutUint32(b[:], v)
		_, err := d.bd.WriteAt(b[:], off)
		return err
	}

	start := off - off%wb
	blk := make([]byte, wb)
	if _, err := d.bd.ReadAt(blk, start); err != nil {
		return fmt.Errorf("read write block at %d: %w", start, err)
	}
	at := off - start
	old := binary.LittleEndian.Uint32(blk[at:])
	binary.LittleEndian.PutUint32(blk[at:], old&v)
	_, err := d.bd.WriteAt(blk, start)
	return err
}

func (d *Device) ReadWords(addr uint32, buf []uint32) error {
	raw := make([]byte, len(buf)*envflash.WordSize)
	if _, err := d.bd.ReadAt(raw, int64(addr-d.base)); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = binary.LittleEndian.Uint32(raw[i*envflash.WordSize:])
	}
	return nil
}
