package envflash

import "fmt"

// Region is the mapped flash window of one device. It is the only way the
// port touches the device. Every access must be word aligned and stay inside
// [Base, Base+Size); an erase must start on a page boundary.
type Region struct {
	dev  Device
	geo  Geometry
	base uint64
	end  uint64
}

// NewRegion maps g onto dev. The geometry must be valid.
func NewRegion(dev Device, g Geometry) *Region {
	return &Region{
		dev:  dev,
		geo:  g,
		base: uint64(g.Base),
		end:  uint64(g.Base) + uint64(g.Size),
	}
}

// Contains reports whether n bytes starting at addr are inside the window.
func (r *Region) Contains(addr uint32, n uint64) bool {
	a := uint64(addr)
	return a >= r.base && a+n <= r.end
}

func (r *Region) check(addr uint32, n uint64, align uint32) error {
	if addr%align != 0 {
		return fmt.Errorf("%w: 0x%08X is not %d-byte aligned", ErrAddress, addr, align)
	}
	if !r.Contains(addr, n) {
		return fmt.Errorf("%w: 0x%08X+%d not in 0x%08X-0x%08X", ErrAddress, addr, n, r.base, r.end)
	}
	return nil
}

// ReadWords loads len(buf) words starting at addr.
func (r *Region) ReadWords(addr uint32, buf []uint32) error {
	if len(buf) == 0 {
		return nil
	}
	if err := r.check(addr, uint64(len(buf))*uint64(r.geo.WordSize), r.geo.WordSize); err != nil {
		return err
	}
	return r.dev.ReadWords(addr, buf)
}

// ReadWord loads the word at addr.
func (r *Region) ReadWord(addr uint32) (uint32, error) {
	var w [1]uint32
	err := r.ReadWords(addr, w[:])
	return w[0], err
}

// ProgramWord programs the word at addr.
func (r *Region) ProgramWord(addr, v uint32) error {
	if err := r.check(addr, uint64(r.geo.WordSize), r.geo.WordSize); err != nil {
		return err
	}
	return r.dev.ProgramWord(addr, v)
}

// ErasePage erases the page starting at addr.
func (r *Region) ErasePage(addr uint32) error {
	if err := r.check(addr, uint64(r.geo.PageSize), r.geo.WordSize); err != nil {
		return err
	}
	if (uint64(addr)-r.base)%uint64(r.geo.PageSize) != 0 {
		return fmt.Errorf("%w: 0x%08X is not a page start", ErrAddress, addr)
	}
	return r.dev.ErasePage(addr)
}

// session brackets fn with Unlock/ClearStatus and a deferred Lock. A Lock
// error is returned only if fn succeeded.
func (r *Region) session(fn func() error) (err error) {
	if err = r.dev.Unlock(); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	defer func() {
		if lockErr := r.dev.Lock(); lockErr != nil && err == nil {
			err = fmt.Errorf("lock: %w", lockErr)
		}
	}()
	if err = r.dev.ClearStatus(); err != nil {
		return fmt.Errorf("clear status: %w", err)
	}
	return fn()
}
