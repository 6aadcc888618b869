package spiflash

import "time"

type flashParams struct {
	name string

	tRES1      time.Duration
	tDP        time.Duration
	tPP        time.Duration
	tErase4KB  time.Duration
	tErase32KB time.Duration
	tErase64KB time.Duration
	tEraseChip time.Duration
}

// JEDEC manufacturer+device IDs as returned by the Read ID (0x9F) command.
const (
	FlashIDAtmelAT25DF041A = 0x1F44
	FlashIDWinbondW25X40CL = 0xEF30
	FlashIDWinbondW25Q64   = 0xEF40
)

var knownFlash = map[uint16]flashParams{
	FlashIDAtmelAT25DF041A: {
		name: "Atmel-Adesto AT25DF041A 4Mb",

		// [AT25DF041A|Table 13. AC Characteristics]
		// tRDPD: Resume from Deep Power-Down
		tRES1: time.Duration(3 * time.Microsecond),
		// tEDPD: Enter Deep Power-Down
		tDP: time.Duration(3 * time.Microsecond),
		// tPP: Page Program cycle time
		tPP: time.Duration(3 * time.Millisecond),
		// tBLKE4: 4KB Block Erase cycle time
		tErase4KB: time.Duration(200 * time.Millisecond),
		// tBLKE32: 32KB Block Erase cycle time
		tErase32KB: time.Duration(600 * time.Millisecond),
		// tBLKE64: 64KB Block Erase cycle time
		tErase64KB: time.Duration(950 * time.Millisecond),
		// tCHPE: Chip Erase cycle time
		tEraseChip: time.Duration(7 * time.Second),
	},

	FlashIDWinbondW25X40CL: {
		name: "Winbond W25X40CL 4Mb",

		// [W25X40CL|9.6 AC Electrical Characteristics]
		// tRES1: /CS High to Standby Mode without ID Read
		tRES1: time.Duration(3 * time.Microsecond),
		// tDP: /CS High to Power-down Mode
		tDP: time.Duration(3 * time.Microsecond),
		// tPP: Page Program Time
		tPP: time.Duration(3 * time.Millisecond),
		// tSE: Sector Erase Time (4KB)
		tErase4KB: time.Duration(300 * time.Millisecond),
		// tBE1: Block Erase Time (32KB)
		tErase32KB: time.Duration(800 * time.Millisecond),
		// tBE2: Block Erase Time (64KB)
		tErase64KB: time.Duration(1000 * time.Millisecond),
		// tCE: Chip Erase Time
		tEraseChip: time.Duration(4 * time.Second),
	},

	FlashIDWinbondW25Q64: {
		name: "Winbond W25Q64 64Mb",

		// [W25Q64FV|9.6 AC Electrical Characteristics]
		tRES1: time.Duration(3 * time.Microsecond),
		tDP:   time.Duration(3 * time.Microsecond),
		tPP:   time.Duration(3 * time.Millisecond),
		// tSE: Sector Erase Time (4KB)
		tErase4KB: time.Duration(400 * time.Millisecond),
		// tBE1: Block Erase Time (32KB)
		tErase32KB: time.Duration(1600 * time.Millisecond),
		// tBE2: Block Erase Time (64KB)
		tErase64KB: time.Duration(2000 * time.Millisecond),
		// tCE: Chip Erase Time
		tEraseChip: time.Duration(100 * time.Second),
	},
}

// ChipName returns the part name for a known JEDEC ID, or "".
func ChipName(id uint16) string {
	if p, ok := knownFlash[id]; ok {
		return p.name
	}
	return ""
}

func (f *Flash) paramOrMax(get func(*flashParams) time.Duration) time.Duration {
	// get parameter if configured
	if f.pr != nil {
		return get(f.pr)
	}

	// fall back to maximum duration from all known flash parameters
	var tmax time.Duration
	for _, param := range knownFlash {
		tmax = max(tmax, get(&param))
	}
	return tmax
}

func (f *Flash) tRES1() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tRES1 })
}
func (f *Flash) tDP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tDP })
}
func (f *Flash) tPP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tPP })
}
func (f *Flash) tErase4KB() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tErase4KB })
}
func (f *Flash) tErase32KB() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tErase32KB })
}
func (f *Flash) tErase64KB() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tErase64KB })
}
func (f *Flash) tEraseChip() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tEraseChip })
}
