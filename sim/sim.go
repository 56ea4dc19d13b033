// Package sim models a NOR flash in memory or in an image file. Erase fills
// a page with 0xFF, programming ANDs the new word into the cells so it can
// only clear bits, and the controller refuses to erase or program while
// locked.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gentam/envflash"
)

// ErrInjected is returned for pages marked with FailErase.
var ErrInjected = errors.New("injected fault")

type image interface {
	io.ReaderAt
	io.WriterAt
}

type memImage []byte

func (m memImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m memImage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m)) {
		return 0, fmt.Errorf("write %d bytes at %d: %w", len(p), off, os.ErrInvalid)
	}
	return copy(m[off:], p), nil
}

// Flash is a simulated NOR device laid out as a Geometry.
type Flash struct {
	img      image
	file     *os.File
	base     uint32
	size     uint32
	pageSize uint32

	locked bool
	status Status

	eraseCount map[uint32]int
	failErase  map[uint32]bool
	stuck      map[uint32]uint32 // addr -> bits that will not clear

	// Ops counts Unlock and Lock calls; tests check the bracketing.
	Unlocks, Locks int
}

// New returns an erased in-memory flash for g.
func New(g envflash.Geometry) *Flash {
	m := make(memImage, g.Size)
	for i := range m {
		m[i] = 0xFF
	}
	return newFlash(m, g)
}

// Open maps g onto an image file, creating it erased if it does not exist.
// An existing image must match the flash size.
func Open(path string, g envflash.Geometry) (*Flash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	switch st.Size() {
	case 0:
		page := make([]byte, g.PageSize)
		for i := range page {
			page[i] = 0xFF
		}
		for off := int64(0); off < int64(g.Size); off += int64(g.PageSize) {
			if _, err := f.WriteAt(page, off); err != nil {
				f.Close()
				return nil, fmt.Errorf("format image %s: %w", path, err)
			}
		}
	case int64(g.Size):
	default:
		f.Close()
		return nil, fmt.Errorf("image %s is %d bytes, %s needs %d", path, st.Size(), g.Name, g.Size)
	}

	fl := newFlash(f, g)
	fl.file = f
	return fl, nil
}

func newFlash(img image, g envflash.Geometry) *Flash {
	return &Flash{
		img:        img,
		base:       g.Base,
		size:       g.Size,
		pageSize:   g.PageSize,
		locked:     true,
		eraseCount: make(map[uint32]int),
		failErase:  make(map[uint32]bool),
		stuck:      make(map[uint32]uint32),
	}
}

// Close releases the image file, if any.
func (f *Flash) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

// Locked reports whether programming access is revoked.
func (f *Flash) Locked() bool { return f.locked }

// Status returns the controller flags.
func (f *Flash) Status() Status { return f.status }

// EraseCount returns how many times the page containing addr was erased.
func (f *Flash) EraseCount(addr uint32) int {
	return f.eraseCount[f.pageOf(addr)]
}

// Erasures returns the total number of page erases.
func (f *Flash) Erasures() int {
	n := 0
	for _, c := range f.eraseCount {
		n += c
	}
	return n
}

// FailErase makes erasing the page containing addr report an error.
func (f *Flash) FailErase(addr uint32) {
	f.failErase[f.pageOf(addr)] = true
}

// StickBits keeps mask set in the word at addr no matter what is
// programmed, like a worn cell.
func (f *Flash) StickBits(addr, mask uint32) {
	f.stuck[addr] |= mask
}

func (f *Flash) pageOf(addr uint32) uint32 {
	return addr - (addr-f.base)%f.pageSize
}

func (f *Flash) offset(addr uint32, n uint32) (int64, error) {
	if addr < f.base || uint64(addr-f.base)+uint64(n) > uint64(f.size) {
		return 0, fmt.Errorf("0x%08X+%d: %w", addr, n, envflash.ErrAddress)
	}
	return int64(addr - f.base), nil
}

func (f *Flash) Unlock() error {
	f.Unlocks++
	f.locked = false
	return nil
}

func (f *Flash) Lock() error {
	f.Locks++
	f.locked = true
	return nil
}

func (f *Flash) ClearStatus() error {
	f.status = 0
	return nil
}

func (f *Flash) ErasePage(addr uint32) error {
	if f.locked {
		f.status |= StatusWriteProtectErr
		return envflash.ErrLocked
	}
	page := f.pageOf(addr)
	off, err := f.offset(page, f.pageSize)
	if err != nil {
		return err
	}
	if f.failErase[page] {
		f.status |= StatusWriteProtectErr
		return fmt.Errorf("page 0x%08X: %w", page, ErrInjected)
	}

	buf := make([]byte, f.pageSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	if _, err := f.img.WriteAt(buf, off); err != nil {
		return err
	}
	f.eraseCount[page]++
	f.status |= StatusEndOfOperation
	return nil
}

func (f *Flash) ProgramWord(addr, v uint32) error {
	if f.locked {
		f.status |= StatusWriteProtectErr
		return envflash.ErrLocked
	}
	off, err := f.offset(addr, envflash.WordSize)
	if err != nil {
		return err
	}
	var b [4]byte
	if _, err := f.img.ReadAt(b[:], off); err != nil {
		return err
	}
	old := binary.LittleEndian.Uint32(b[:])
	if old&v != v {
		f.status |= StatusProgramErr
	}
	binary.LittleEndian.PutUint32(b[:], old&v|f.stuck[addr])
	if _, err := f.img.WriteAt(b[:], off); err != nil {
		return err
	}
	f.status |= StatusEndOfOperation
	return nil
}

func (f *Flash) ReadWords(addr uint32, buf []uint32) error {
	off, err := f.offset(addr, uint32(len(buf))*envflash.WordSize)
	if err != nil {
		return err
	}
	raw := make([]byte, len(buf)*envflash.WordSize)
	if _, err := f.img.ReadAt(raw, off); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = binary.LittleEndian.Uint32(raw[i*envflash.WordSize:])
	}
	return nil
}
