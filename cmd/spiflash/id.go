package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/embeddedbits/spiflash"
)

func idCmd(args []string) {
	fs := flag.NewFlagSet("id", flag.ExitOnError)
	df := addDeviceFlags(fs)
	var unique bool
	fs.BoolVar(&unique, "u", false, "also print the 8-byte unique ID")
	fs.Parse(args)

	d := df.open()
	defer d.Close()

	if err := d.Flash.Wakeup(); err != nil {
		fatalf("flash wakeup failed: %v", err)
	}

	id, err := d.Flash.ReadDeviceID()
	if err != nil {
		fatalf("read flash ID failed: %v", err)
	}
	name := spiflash.ChipName(id)
	if name == "" {
		fmt.Fprintf(os.Stderr, "unknown flash ID (%04X)\n", id)
	}
	fmt.Printf("%04X\t%s\n", id, name)

	if unique {
		uid, err := d.Flash.ReadUniqueID()
		if err != nil {
			fatalf("read unique ID failed: %v", err)
		}
		fmt.Printf("%X\n", uid)
	}
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	df := addDeviceFlags(fs)
	fs.Parse(args)

	d := df.open()
	defer d.Close()

	if err := d.Flash.Wakeup(); err != nil {
		fatalf("flash wakeup failed: %v", err)
	}

	sr, err := d.Flash.ReadStatusRegister()
	if err != nil {
		fatalf("read flash status register failed: %v", err)
	}
	fmt.Println(sr)
}
