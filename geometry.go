package envflash

import (
	"fmt"
	"slices"
	"strings"
)

// WordSize is the programming quantum in bytes.
const WordSize = 4

// Geometry describes one flash device and where the environment partition
// sits inside it. Offsets are relative to Base; everything handed to the
// store is absolute.
type Geometry struct {
	Name string

	Base     uint32 // address of flash byte 0
	Size     uint32 // flash bytes
	PageSize uint32 // erase unit
	WordSize uint32

	// Reserved is the number of bytes from Base owned by code and bootloader.
	Reserved uint32

	EnvOffset uint32
	EnvSize   uint32
}

// Partition is the absolute address range of the environment variables.
type Partition struct {
	Start uint32
	Size  uint32
}

// End returns the first address past the partition.
func (p Partition) End() uint32 { return p.Start + p.Size }

func (p Partition) String() string {
	return fmt.Sprintf("0x%08X-0x%08X (%d bytes)", p.Start, p.End(), p.Size)
}

const stm32FlashBase = 0x08000000 // [RM0008|3.3.3 Embedded Flash memory]

// variants are the known devices, read through LookupVariant.
// STM32 pages: [PM0075|Table 2..5]. The partition defaults to one page
// 100 KiB into flash, or the last page on parts too small for that.
var variants = map[string]Geometry{
	"stm32f10x-ld": {
		Name: "STM32F10x low-density", Base: stm32FlashBase,
		Size: 32 << 10, PageSize: 1 << 10, WordSize: WordSize,
		Reserved: 31 << 10, EnvOffset: 31 << 10, EnvSize: 1 << 10,
	},
	"stm32f10x-md": {
		Name: "STM32F10x medium-density", Base: stm32FlashBase,
		Size: 128 << 10, PageSize: 1 << 10, WordSize: WordSize,
		Reserved: 100 << 10, EnvOffset: 100 << 10, EnvSize: 1 << 10,
	},
	"stm32f10x-hd": {
		Name: "STM32F10x high-density", Base: stm32FlashBase,
		Size: 512 << 10, PageSize: 2 << 10, WordSize: WordSize,
		Reserved: 100 << 10, EnvOffset: 100 << 10, EnvSize: 2 << 10,
	},
	"stm32f10x-xl": {
		Name: "STM32F10x XL-density", Base: stm32FlashBase,
		Size: 1 << 20, PageSize: 2 << 10, WordSize: WordSize,
		Reserved: 100 << 10, EnvOffset: 100 << 10, EnvSize: 2 << 10,
	},
	"stm32f10x-cl": {
		Name: "STM32F10x connectivity line", Base: stm32FlashBase,
		Size: 256 << 10, PageSize: 2 << 10, WordSize: WordSize,
		Reserved: 100 << 10, EnvOffset: 100 << 10, EnvSize: 2 << 10,
	},

	// SPI NOR, erased by 4KB subsector. The first 1MiB holds the FPGA
	// bitstream.
	"n25q32": {
		Name: "Micron N25Q 32Mb", Base: 0,
		Size: 4 << 20, PageSize: 4 << 10, WordSize: WordSize,
		Reserved: 1 << 20, EnvOffset: 1 << 20, EnvSize: 4 << 10,
	},
	"w25q128": {
		Name: "Winbond W25Q 128Mb", Base: 0,
		Size: 16 << 20, PageSize: 4 << 10, WordSize: WordSize,
		Reserved: 1 << 20, EnvOffset: 1 << 20, EnvSize: 4 << 10,
	},
}

// VariantNames returns the known variant names in sorted order.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LookupVariant returns the geometry registered under name.
func LookupVariant(name string) (Geometry, error) {
	g, ok := variants[name]
	if !ok {
		return Geometry{}, fmt.Errorf("%w: unknown variant %q (known: %s)",
			ErrGeometry, name, strings.Join(VariantNames(), ", "))
	}
	return g, nil
}

// Partition returns the absolute environment range.
func (g Geometry) Partition() Partition {
	return Partition{Start: g.Base + g.EnvOffset, Size: g.EnvSize}
}

// End returns the first address past the flash.
func (g Geometry) End() uint32 { return g.Base + g.Size }

// Pages returns how many erase units cover size bytes.
func (g Geometry) Pages(size uint32) uint32 {
	n := size / g.PageSize
	if size%g.PageSize != 0 {
		n++
	}
	return n
}

// Validate checks that the partition tiles whole pages inside flash and
// stays clear of the reserved area.
func (g Geometry) Validate() error {
	if g.WordSize == 0 || g.PageSize == 0 || g.Size == 0 {
		return fmt.Errorf("%w: %s: zero word, page or flash size", ErrGeometry, g.Name)
	}
	if g.PageSize%g.WordSize != 0 {
		return fmt.Errorf("%w: %s: page size %d is not a multiple of word size %d",
			ErrGeometry, g.Name, g.PageSize, g.WordSize)
	}
	if g.Base%g.WordSize != 0 {
		return fmt.Errorf("%w: %s: base 0x%08X is not word aligned", ErrGeometry, g.Name, g.Base)
	}
	if uint64(g.Base)+uint64(g.Size) > 1<<32 {
		return fmt.Errorf("%w: %s: flash exceeds the 32-bit address space", ErrGeometry, g.Name)
	}
	if g.EnvSize%g.WordSize != 0 {
		return fmt.Errorf("%w: %s: partition size %d", ErrMisaligned, g.Name, g.EnvSize)
	}
	if g.EnvSize == 0 {
		return fmt.Errorf("%w: %s: empty partition", ErrGeometry, g.Name)
	}
	if g.EnvSize%g.PageSize != 0 || g.EnvOffset%g.PageSize != 0 {
		return fmt.Errorf("%w: %s: partition 0x%X+%d does not tile %d-byte pages",
			ErrGeometry, g.Name, g.EnvOffset, g.EnvSize, g.PageSize)
	}
	if uint64(g.EnvOffset)+uint64(g.EnvSize) > uint64(g.Size) {
		return fmt.Errorf("%w: %s: partition 0x%X+%d exceeds flash size %d",
			ErrGeometry, g.Name, g.EnvOffset, g.EnvSize, g.Size)
	}
	if g.EnvOffset < g.Reserved {
		return fmt.Errorf("%w: %s: partition at 0x%X overlaps %d reserved bytes",
			ErrGeometry, g.Name, g.EnvOffset, g.Reserved)
	}
	return nil
}
