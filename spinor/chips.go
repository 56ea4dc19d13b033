package spinor

import "time"

type chipParams struct {
	name    string
	variant string // envflash.LookupVariant name

	// flagStatus is set for parts with a Flag Status Register that latches
	// program/erase failures.
	flagStatus bool

	tRES1     time.Duration
	tDP       time.Duration
	tW        time.Duration // status register write
	tPP       time.Duration
	tErase4KB time.Duration
}

var (
	idMicronN25Q32   = [3]byte{0x20, 0xBA, 0x16}
	idWinbondW25Q128 = [3]byte{0xEF, 0x70, 0x18}
)

var knownChips = map[[3]byte]chipParams{
	idMicronN25Q32: {
		name:       "Micron N25Q 32Mb",
		variant:    "n25q32",
		flagStatus: true,

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		// tW: WRITE STATUS REGISTER cycle time
		tW: time.Duration(8 * time.Millisecond),
		// tPP: PAGE PROGRAM cycle time (256 bytes)
		tPP: time.Duration(5 * time.Millisecond),
		// tSSE: Subsector ERASE cycle time
		tErase4KB: time.Duration(800 * time.Millisecond),
	},

	idWinbondW25Q128: {
		name:    "Winbond W25Q 128Mb",
		variant: "w25q128",

		// [W25Q128|9.6 AC Electrical Characteristics]:
		// tRES1: /CS High to Standby Mode without ID Read
		tRES1: time.Duration(3 * time.Microsecond),
		// tDP: /CS High to Power-down Mode
		tDP: time.Duration(3 * time.Microsecond),
		// tW: Write Status Register Time
		tW: time.Duration(15 * time.Millisecond),
		// tPP: Page Program Time
		tPP: time.Duration(3 * time.Millisecond),
		// tSE: Sector Erase Time (4KB)
		tErase4KB: time.Duration(400 * time.Millisecond),
	},
}

// paramOrMax returns the probed chip's value, or the worst case over every
// known chip before ReadID has run.
func (f *Flash) paramOrMax(get func(*chipParams) time.Duration) time.Duration {
	if f.pr != nil {
		return get(f.pr)
	}
	var tmax time.Duration
	for _, param := range knownChips {
		tmax = max(tmax, get(&param))
	}
	return tmax
}

func (f *Flash) tRES1() time.Duration {
	return f.paramOrMax(func(p *chipParams) time.Duration { return p.tRES1 })
}
func (f *Flash) tDP() time.Duration {
	return f.paramOrMax(func(p *chipParams) time.Duration { return p.tDP })
}
func (f *Flash) tW() time.Duration {
	return f.paramOrMax(func(p *chipParams) time.Duration { return p.tW })
}
func (f *Flash) tPP() time.Duration {
	return f.paramOrMax(func(p *chipParams) time.Duration { return p.tPP })
}
func (f *Flash) tErase4KB() time.Duration {
	return f.paramOrMax(func(p *chipParams) time.Duration { return p.tErase4KB })
}
