package blockdev

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"tinygo.org/x/tinyfs"

	"github.com/gentam/envflash"
)

// norDevice is a tinyfs.BlockDevice with NOR semantics that insists on
// aligned writes, like machine.Flash.
type norDevice struct {
	mem        []byte
	writeBlock int64
	eraseBlock int64
	erased     []int64
	writes     int
}

var _ tinyfs.BlockDevice = (*norDevice)(nil)

func newNORDevice(size, writeBlock, eraseBlock int64) *norDevice {
	return &norDevice{
		mem:        bytes.Repeat([]byte{0xFF}, int(size)),
		writeBlock: writeBlock,
		eraseBlock: eraseBlock,
	}
}

func (d *norDevice) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(buf)) > int64(len(d.mem)) {
		return 0, fmt.Errorf("read %d bytes at %d out of range", len(buf), off)
	}
	return copy(buf, d.mem[off:]), nil
}

func (d *norDevice) WriteAt(buf []byte, off int64) (int, error) {
	if off%d.writeBlock != 0 || int64(len(buf))%d.writeBlock != 0 {
		return 0, fmt.Errorf("unaligned write of %d bytes at %d", len(buf), off)
	}
	if off < 0 || off+int64(len(buf)) > int64(len(d.mem)) {
		return 0, fmt.Errorf("write %d bytes at %d out of range", len(buf), off)
	}
	for i, b := range buf {
		d.mem[off+int64(i)] &= b
	}
	d.writes++
	return len(buf), nil
}

func (d *norDevice) Size() int64           { return int64(len(d.mem)) }
func (d *norDevice) WriteBlockSize() int64 { return d.writeBlock }
func (d *norDevice) EraseBlockSize() int64 { return d.eraseBlock }

func (d *norDevice) EraseBlocks(start, n int64) error {
	for b := start; b < start+n; b++ {
		off := b * d.eraseBlock
		copy(d.mem[off:off+d.eraseBlock], bytes.Repeat([]byte{0xFF}, int(d.eraseBlock)))
		d.erased = append(d.erased, b)
	}
	return nil
}

func TestPortOverBlockDevice(t *testing.T) {
	tests := []struct {
		name       string
		writeBlock int64
		writes     int // device writes for three words
	}{
		{"word writes", 4, 3},
		{"page writes", 256, 3},
		{"byte writes", 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd := newNORDevice(64<<10, tt.writeBlock, 4<<10)
			dev := New(bd, 0x10000000)
			g, err := dev.Geometry("rp2040", 32<<10, 4<<10)
			if err != nil {
				t.Fatal(err)
			}
			p, err := envflash.New(dev, g)
			if err != nil {
				t.Fatal(err)
			}
			part, _, err := p.Init()
			if err != nil {
				t.Fatal(err)
			}
			if part.Start != 0x10008000 {
				t.Fatalf("partition starts at 0x%08X", part.Start)
			}

			if err := p.Erase(part.Start, 10); err != nil {
				t.Fatal(err)
			}
			if len(bd.erased) != 1 || bd.erased[0] != 8 {
				t.Errorf("erased blocks = %v, want [8]", bd.erased)
			}

			want := []uint32{0x11223344, 0x00000000, 0xFFFF0000}
			if err := p.Write(part.Start+8, want); err != nil {
				t.Fatal(err)
			}
			if bd.writes != tt.writes {
				t.Errorf("device writes = %d, want %d", bd.writes, tt.writes)
			}
			if !bytes.Equal(bd.mem[0x8000:0x8008], bytes.Repeat([]byte{0xFF}, 8)) {
				t.Errorf("bytes before the write changed: % X", bd.mem[0x8000:0x8008])
			}
			got := make([]uint32, 3)
			if err := p.Read(part.Start+8, got); err != nil {
				t.Fatal(err)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("word %d = 0x%08X, want 0x%08X", i, got[i], want[i])
				}
			}
		})
	}
}

func TestLockedDevice(t *testing.T) {
	dev := New(newNORDevice(8<<10, 4, 4<<10), 0)
	if err := dev.ProgramWord(0, 0); !errors.Is(err, envflash.ErrLocked) {
		t.Errorf("ProgramWord while locked = %v", err)
	}
	if err := dev.ErasePage(0); !errors.Is(err, envflash.ErrLocked) {
		t.Errorf("ErasePage while locked = %v", err)
	}
	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := dev.ProgramWord(0, 0); err != nil {
		t.Errorf("ProgramWord after Unlock = %v", err)
	}
}

func TestGeometryRejects(t *testing.T) {
	tests := []struct {
		name              string
		size, erase       int64
		envOffset, envLen uint32
	}{
		{"partition past end", 16 << 10, 4 << 10, 16 << 10, 4 << 10},
		{"partition off page", 16 << 10, 4 << 10, 2 << 10, 4 << 10},
		{"empty device", 0, 4 << 10, 0, 4 << 10},
	}
	for _, tt := range tests {
		dev := New(newNORDevice(tt.size, 4, tt.erase), 0)
		if _, err := dev.Geometry(tt.name, tt.envOffset, tt.envLen); !errors.Is(err, envflash.ErrGeometry) {
			t.Errorf("%s: error = %v, want ErrGeometry", tt.name, err)
		}
	}
}
