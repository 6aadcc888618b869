package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
)

func readCmd(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	df := addDeviceFlags(fs)
	var (
		addr    int
		nread   int
		fast    bool
		outFile string
	)
	fs.IntVar(&addr, "addr", 0, "start address")
	fs.IntVar(&nread, "n", 256, "number of bytes to read")
	fs.BoolVar(&fast, "fast", false, "use the fast-read command")
	fs.StringVar(&outFile, "o", "", "output file (default: hexdump)")
	fs.Parse(args)

	d := df.open()
	defer d.Close()

	if err := d.Flash.Wakeup(); err != nil {
		fatalf("flash wakeup failed: %v", err)
	}

	data := make([]byte, nread)
	var err error
	if fast {
		err = d.Flash.ReadBytesFast(addr, data)
	} else {
		err = d.Flash.ReadBytes(addr, data)
	}
	if err != nil {
		fatalf("read flash failed: %v", err)
	}

	if outFile == "" {
		fmt.Println(hex.Dump(data))
		return
	}
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		fmt.Fprintln(os.Stderr, "write file failed:", err)
	}
}
