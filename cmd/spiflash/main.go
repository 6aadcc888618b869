package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/embeddedbits/spiflash"
	"periph.io/x/conn/v3/physic"
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func fatalUsage(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	spiflash <command> [arguments]

Commands:
	id	 print JEDEC and unique ID
	status	 print status register
	read	 read flash memory
	write	 write flash memory
	erase	 erase flash blocks
	sleep	 enter deep power-down
	wake	 release deep power-down
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	switch cmd := flag.Arg(0); cmd {
	case "id":
		idCmd(flag.Args()[1:])
	case "status":
		statusCmd(flag.Args()[1:])
	case "read":
		readCmd(flag.Args()[1:])
	case "write":
		writeCmd(flag.Args()[1:])
	case "erase":
		eraseCmd(flag.Args()[1:])
	case "sleep":
		powerCmd(flag.Args()[1:], false)
	case "wake":
		powerCmd(flag.Args()[1:], true)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", cmd)
		usage()
	}
}

type deviceFlags struct {
	port string
	cs   string
	hz   int
}

func addDeviceFlags(fs *flag.FlagSet) *deviceFlags {
	df := &deviceFlags{}
	fs.StringVar(&df.port, "spi", "", "SPI port name (default: first available)")
	fs.StringVar(&df.cs, "cs", "GPIO8", "chip-select pin name")
	fs.IntVar(&df.hz, "hz", 0, "SPI clock in Hz (default: 8MHz)")
	return df
}

func (df *deviceFlags) open() *spiflash.Device {
	d, err := spiflash.NewDevice(spiflash.Options{
		Port:  df.port,
		CS:    df.cs,
		Clock: physic.Frequency(df.hz) * physic.Hertz,
	})
	if err != nil {
		fatalf("%v", err)
	}
	return d
}
