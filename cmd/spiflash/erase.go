package main

import (
	"flag"
	"time"
)

func eraseCmd(args []string) {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	df := addDeviceFlags(fs)
	var (
		addr    int
		size    int
		chip    bool
		timeout time.Duration
	)
	fs.IntVar(&addr, "addr", 0, "start address (4KB aligned)")
	fs.IntVar(&size, "size", 4<<10, "number of bytes to erase (multiple of 4KB)")
	fs.BoolVar(&chip, "chip", false, "erase the entire chip")
	fs.DurationVar(&timeout, "timeout", 0, "completion deadline (0 waits forever)")
	fs.Parse(args)

	d := df.open()
	defer d.Close()

	if err := d.Flash.Wakeup(); err != nil {
		fatalf("flash wakeup failed: %v", err)
	}

	if chip {
		if err := d.Flash.EraseChip(); err != nil {
			fatalf("chip erase failed: %v", err)
		}
	} else {
		if err := d.Flash.Erase(addr, size); err != nil {
			fatalf("erase flash failed: %v", err)
		}
	}

	if err := d.Flash.BusyWait(time.Millisecond, timeout); err != nil {
		fatalf("wait for completion failed: %v", err)
	}
}
