package envflash

import (
	"errors"
	"fmt"
)

// Port is the flash port used by the environment-variable store. It holds no
// lock of its own; callers must not run two operations at once.
type Port struct {
	region   *Region
	geo      Geometry
	defaults []Entry
	log      Logger
}

type config struct {
	envOffset, envSize uint32
	partition          bool
	defaults           []Entry
	log                Logger
}

// Option configures a Port.
type Option func(*config)

// WithPartition moves the environment partition to offset (relative to the
// flash base) with the given size.
func WithPartition(offset, size uint32) Option {
	return func(c *config) {
		c.envOffset, c.envSize = offset, size
		c.partition = true
	}
}

// WithDefaults replaces the default entry set.
func WithDefaults(entries []Entry) Option {
	return func(c *config) {
		c.defaults = append([]Entry(nil), entries...)
	}
}

// WithLogger sets the diagnostics sink.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a port for dev laid out as g.
func New(dev Device, g Geometry, opts ...Option) (*Port, error) {
	c := config{defaults: DefaultEntries(), log: NopLogger}
	for _, opt := range opts {
		opt(&c)
	}
	if c.partition {
		g.EnvOffset, g.EnvSize = c.envOffset, c.envSize
	}
	if g.WordSize == 0 {
		g.WordSize = WordSize
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := validateEntries(c.defaults); err != nil {
		return nil, err
	}
	return &Port{
		region:   NewRegion(dev, g),
		geo:      g,
		defaults: c.defaults,
		log:      c.log,
	}, nil
}

// Geometry returns the resolved layout.
func (p *Port) Geometry() Geometry { return p.geo }

// Init returns the environment partition and the entries that seed it.
func (p *Port) Init() (Partition, []Entry, error) {
	part := p.geo.Partition()
	if part.Size%p.geo.WordSize != 0 {
		return Partition{}, nil, fmt.Errorf("%w: partition size %d", ErrMisaligned, part.Size)
	}
	p.log.Info("flash port ready", "device", p.geo.Name, "partition", part.String(),
		"page_size", p.geo.PageSize, "defaults", len(p.defaults))
	return part, append([]Entry(nil), p.defaults...), nil
}

// Read fills buf with the words starting at addr.
func (p *Port) Read(addr uint32, buf []uint32) error {
	if err := p.region.ReadWords(addr, buf); err != nil {
		return fmt.Errorf("read %d words at 0x%08X: %w", len(buf), addr, err)
	}
	return nil
}

// Span is the range an erase really clears.
type Span struct {
	Start uint32
	End   uint32 // first address past the last erased page
	Pages uint32
	Extra uint32 // bytes erased beyond the requested size
}

// EraseSpan reports what Erase(addr, size) would clear, without touching
// the device. addr must be page aligned and the covered pages must lie inside
// flash.
func (p *Port) EraseSpan(addr, size uint32) (Span, error) {
	if addr < p.geo.Base || (addr-p.geo.Base)%p.geo.PageSize != 0 {
		return Span{}, fmt.Errorf("%w: 0x%08X is not on a %d-byte page boundary",
			ErrAddress, addr, p.geo.PageSize)
	}
	pages := p.geo.Pages(size)
	covered := uint64(pages) * uint64(p.geo.PageSize)
	if !p.region.Contains(addr, covered) {
		return Span{}, fmt.Errorf("%w: %d pages at 0x%08X", ErrAddress, pages, addr)
	}
	return Span{
		Start: addr,
		End:   uint32(uint64(addr) + covered),
		Pages: pages,
		Extra: uint32(covered - uint64(size)),
	}, nil
}

// Erase erases ceil(size/PageSize) pages starting at the page boundary addr.
// The whole of the last page is erased even if size ends inside it.
func (p *Port) Erase(addr, size uint32) error {
	span, err := p.EraseSpan(addr, size)
	if err != nil {
		return &EraseError{Addr: addr, Err: err}
	}
	if span.Pages == 0 {
		return nil
	}
	p.log.Debug("erase", "addr", fmt.Sprintf("0x%08X", addr), "size", size,
		"pages", span.Pages, "extra", span.Extra)

	erased := 0
	err = p.region.session(func() error {
		for i := uint32(0); i < span.Pages; i++ {
			page := addr + i*p.geo.PageSize
			if err := p.region.ErasePage(page); err != nil {
				return &EraseError{Addr: page, Erased: erased, Err: err}
			}
			erased++
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var ee *EraseError
	if !errors.As(err, &ee) {
		err = &EraseError{Addr: addr, Erased: erased, Err: err}
	}
	p.log.Info("erase failed", "err", err)
	return err
}

// Write programs words starting at addr and reads each one back. The range
// must have been erased.
func (p *Port) Write(addr uint32, words []uint32) error {
	if len(words) == 0 {
		return nil
	}
	if !p.region.Contains(addr, uint64(len(words))*uint64(p.geo.WordSize)) {
		return &WriteError{Addr: addr, Want: words[0],
			Err: fmt.Errorf("%w: %d words at 0x%08X", ErrAddress, len(words), addr)}
	}
	p.log.Debug("write", "addr", fmt.Sprintf("0x%08X", addr), "words", len(words))

	written := 0
	err := p.region.session(func() error {
		for i, want := range words {
			at := addr + uint32(i)*p.geo.WordSize
			if err := p.region.ProgramWord(at, want); err != nil {
				return &WriteError{Addr: at, Want: want, Written: written, Err: err}
			}
			got, err := p.region.ReadWord(at)
			if err != nil {
				return &WriteError{Addr: at, Want: want, Written: written, Err: err}
			}
			if got != want {
				return &WriteError{Addr: at, Want: want, Got: got, Written: written}
			}
			written++
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var we *WriteError
	if !errors.As(err, &we) {
		err = &WriteError{Addr: addr, Want: words[0], Written: written, Err: err}
	}
	p.log.Info("write failed", "err", err)
	return err
}
