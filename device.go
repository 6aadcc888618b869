package spiflash

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultClock is used when Options.Clock is zero. Both supported chips
// accept the low-frequency read command up to at least 25MHz.
const DefaultClock = 8 * physic.MegaHertz

// Options selects the SPI port and chip-select pin for a Device.
type Options struct {
	// Port is a spireg port name such as "SPI0.0" or "" for the first
	// available port.
	Port string
	// CS is the gpioreg name of the chip-select pin, e.g. "GPIO8". The pin
	// is driven manually so the select bracket can span command framing.
	CS string
	// Clock is the SPI clock frequency; DefaultClock when zero.
	Clock physic.Frequency
}

// Device owns the SPI transport for one flash chip.
type Device struct {
	Flash *Flash

	port  spi.PortCloser
	cs    gpio.PinIO
	clock physic.Frequency
	conn  spi.Conn
}

var hostInitialized atomic.Bool

// NewDevice initializes the host drivers, opens the SPI port and the
// chip-select pin, and connects at opts.Clock in mode 0.
func NewDevice(opts Options) (*Device, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	d := &Device{clock: opts.Clock}
	if d.clock == 0 {
		d.clock = DefaultClock
	}

	port, err := spireg.Open(opts.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", opts.Port, err)
	}
	d.port = port

	if opts.CS == "" {
		port.Close()
		return nil, errors.New("chip-select pin name is required")
	}
	d.cs = gpioreg.ByName(opts.CS)
	if d.cs == nil {
		port.Close()
		return nil, fmt.Errorf("chip-select pin %q not found", opts.CS)
	}
	if err := d.cs.Out(gpio.High); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to deassert chip select: %w", err)
	}

	if err := d.connectSPI(); err != nil {
		port.Close()
		return nil, err
	}

	d.Flash = NewFlash(d.conn, d.cs)

	return d, nil
}

func (d *Device) connectSPI() (err error) {
	// Mode 0 is the least common denominator: every supported chip and
	// controller handles it. [W25X40CL|6.1 SPI Operations]
	mode := spi.Mode0
	d.conn, err = d.port.Connect(d.clock, mode, 8)
	if err != nil {
		return fmt.Errorf("SPI connection failed: %w", err)
	}
	return nil
}

// Close releases the SPI port. The Flash handle must not be used after
// Close returns.
func (d *Device) Close() error {
	return d.port.Close()
}
