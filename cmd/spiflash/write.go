package main

import (
	"flag"
	"os"
	"time"
)

func writeCmd(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	df := addDeviceFlags(fs)
	var (
		addr     int
		filename string
		erase    bool
	)
	fs.IntVar(&addr, "addr", 0, "start address")
	fs.StringVar(&filename, "f", "", "input file")
	fs.BoolVar(&erase, "e", false, "erase the covered range first")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("input file is required")
	}

	input, err := os.Open(filename)
	if err != nil {
		fatalf("failed to open file: %v", err)
	}
	defer input.Close()

	st, err := input.Stat()
	if err != nil {
		fatalf("failed to stat file: %v", err)
	}

	d := df.open()
	defer d.Close()

	if err := d.Flash.Wakeup(); err != nil {
		fatalf("flash wakeup failed: %v", err)
	}

	if erase {
		// round the covered range out to 4KB sectors
		const sectorSize = 4 << 10
		base := addr &^ (sectorSize - 1)
		end := addr + int(st.Size())
		size := (end - base + sectorSize - 1) &^ (sectorSize - 1)
		if err := d.Flash.Erase(base, size); err != nil {
			fatalf("erase flash failed: %v", err)
		}
	}

	if _, err := d.Flash.WriteFrom(addr, input); err != nil {
		fatalf("write flash failed: %v", err)
	}

	// the last page program is still draining inside the chip
	if err := d.Flash.BusyWait(100*time.Microsecond, 0); err != nil {
		fatalf("wait for completion failed: %v", err)
	}
}
