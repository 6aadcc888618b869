package spiflash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// PageSize is the program granularity. A single page-program command must
// not cross a page boundary: the chip's internal address counter wraps to
// the start of the same page instead of advancing.
const PageSize = 256

const addrMax = 1<<24 - 1 // 3-byte addressing

// Flash commands:
//   - [AT25DF041A|Table 1. Command Listing]
//   - [W25X40CL|7.2 Instruction Set Table]
const (
	cmdWriteEnable  = 0x06
	cmdWriteDisable = 0x04
	cmdErase4KB     = 0x20
	cmdErase32KB    = 0x52
	cmdErase64KB    = 0xD8
	cmdEraseChip    = 0x60
	cmdReadStatus   = 0x05
	cmdWriteStatus  = 0x01
	cmdReadFast     = 0x0B // needs 1 dummy byte after the address
	cmdRead         = 0x03 // low frequency read, no dummy byte
	cmdPowerDown    = 0xB9
	cmdPowerUp      = 0xAB // Release Deep Power-Down
	cmdPageProgram  = 0x02
	cmdReadID       = 0x9F // JEDEC manufacturer + device ID
	cmdReadUniqueID = 0x4B // factory serial number, 4 dummy bytes then 8 bytes
)

// busyPollInterval is the status register polling period while waiting for
// an in-flight program/erase to drain.
const busyPollInterval = 100 * time.Microsecond

var (
	// ErrBusyTimeout is returned when the status register BUSY bit does not
	// clear within the configured deadline.
	ErrBusyTimeout = errors.New("spiflash: busy wait timed out")

	// ErrPoweredDown is returned for any command other than Wakeup while the
	// chip is in deep power-down.
	ErrPoweredDown = errors.New("spiflash: chip is in deep power-down")
)

// IDMismatchError reports a JEDEC ID that differs from the one Initialize
// was told to expect. The chip may still be usable; the caller decides.
type IDMismatchError struct {
	Got, Want uint16
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("spiflash: JEDEC ID %#04x, expected %#04x", e.Got, e.Want)
}

// PageBoundaryError reports a program payload that would cross a 256-byte
// page boundary and silently wrap on the chip.
type PageBoundaryError struct {
	Addr, Len int
}

func (e *PageBoundaryError) Error() string {
	return fmt.Sprintf("spiflash: write of %d bytes at %#06x crosses a page boundary", e.Len, e.Addr)
}

type chipState uint8

const (
	stateReady chipState = iota
	stateBusy            // a program/erase is draining inside the chip
	statePowerDown
)

// Flash drives one SPI NOR/NAND flash chip. It owns the chip-select line
// for its lifetime and must not be shared between goroutines without
// external locking: every command is a multi-step select/transfer/deselect
// bracket that must not interleave with another transaction on the bus.
type Flash struct {
	conn spi.Conn
	cs   gpio.PinIO

	id    uint16  // last JEDEC ID read, 0 until ReadDeviceID
	uid   [8]byte // unique ID cache, all 0xFF until read
	pr    *flashParams
	state chipState

	// cycle time of the in-flight program/erase, bounds the next busy wait
	drain time.Duration
}

func NewFlash(conn spi.Conn, cs gpio.PinIO) *Flash {
	f := &Flash{conn: conn, cs: cs}
	for i := range f.uid {
		f.uid[i] = 0xFF
	}
	return f
}

// tx wraps one full-duplex SPI transaction with CS assertion. buf is
// transmitted in place and overwritten with the bytes clocked in.
func (f *Flash) tx(buf []byte) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = f.conn.Tx(buf, buf)
	return
}

// Initialize pulses the chip select to terminate any partial command left
// over from a reset, reads the JEDEC ID and verifies it against expectedID.
// A mismatch is reported as *IDMismatchError; callers that accept unknown
// chips may ignore it and proceed, or use ReadDeviceID directly.
func (f *Flash) Initialize(expectedID uint16) error {
	if err := f.cs.Out(gpio.Low); err != nil {
		return err
	}
	if err := f.cs.Out(gpio.High); err != nil {
		return err
	}
	f.state = stateReady

	id, err := f.ReadDeviceID()
	if err != nil {
		return fmt.Errorf("read device ID: %w", err)
	}
	if id != expectedID {
		return &IDMismatchError{Got: id, Want: expectedID}
	}
	return nil
}

// ready blocks until the chip can accept a new command: commands are
// rejected during deep power-down, and any in-flight program/erase is
// drained first so that a command is never clocked into a busy chip.
func (f *Flash) ready() error {
	if f.state == statePowerDown {
		return ErrPoweredDown
	}
	if f.state != stateBusy {
		return nil
	}
	timeout := f.drain
	if timeout == 0 {
		timeout = f.tEraseChip()
	}
	return f.BusyWait(busyPollInterval, timeout)
}

// writeCommand issues one write-class frame: drain any prior operation, set
// the write-enable latch in its own select bracket, then transmit buf.
// cycle is the operation's datasheet completion time; it bounds the busy
// wait performed before the next command. The chip clears the latch itself
// when the operation completes, so every mutating command repeats this
// sequence.
func (f *Flash) writeCommand(buf []byte, cycle time.Duration) error {
	if err := f.ready(); err != nil {
		return err
	}
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.tx(buf); err != nil {
		return err
	}
	f.state = stateBusy
	f.drain = cycle
	return nil
}

func (f *Flash) writeEnable() error {
	buf := []byte{cmdWriteEnable}
	return f.tx(buf)
}

// WriteDisable clears the write-enable latch. Rarely needed: the chip
// clears the latch on its own after every completed program/erase.
func (f *Flash) WriteDisable() error {
	if err := f.ready(); err != nil {
		return err
	}
	buf := []byte{cmdWriteDisable}
	return f.tx(buf)
}

// BusyWait polls the status register with the given interval until the BUSY
// bit clears, returning ErrBusyTimeout once timeout expires. Set timeout to
// 0 to wait indefinitely. Program and erase commands return as soon as the
// chip accepts them; call BusyWait to get a hard completion barrier.
func (f *Flash) BusyWait(interval, timeout time.Duration) error {
	if f.state == statePowerDown {
		return ErrPoweredDown
	}

	// Fast path
	if sr, err := f.ReadStatusRegister(); err == nil && !sr.Busy() {
		f.state = stateReady
		return nil
	}

	timer := time.NewTimer(timeout)
	if timeout == 0 {
		timer.Stop() // disable timer for unconfigured timeout
	}
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return ErrBusyTimeout
		case <-ticker.C:
			sr, err := f.ReadStatusRegister()
			if err != nil {
				return err
			}
			if !sr.Busy() {
				f.state = stateReady
				return nil
			}
		}
	}
}

// ReadByte reads a single byte from addr.
func (f *Flash) ReadByte(addr int) (byte, error) {
	var p [1]byte
	err := f.ReadBytes(addr, p[:])
	return p[0], err
}

// ReadBytes fills p starting from addr using the low-frequency read
// command. The chip auto-increments its internal address counter, so reads
// cross page boundaries freely. Long reads are split to stay within the
// maximum transaction size of the transport.
func (f *Flash) ReadBytes(addr int, p []byte) error {
	return f.readArray(cmdRead, 0, addr, p)
}

// ReadBytesFast is ReadBytes using the fast-read command, which inserts one
// dummy byte after the address and is valid at higher clock rates.
func (f *Flash) ReadBytesFast(addr int, p []byte) error {
	return f.readArray(cmdReadFast, 1, addr, p)
}

func (f *Flash) readArray(op byte, dummy, addr int, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := checkAddr(addr, len(p)); err != nil {
		return err
	}
	if err := f.ready(); err != nil {
		return err
	}

	const maxTx = 65536 // [FTDI-AN_108]
	cmdBytes := 4 + dummy
	maxData := maxTx - cmdBytes

	off := 0
	for remaining := len(p); remaining > 0; {
		chunk := min(remaining, maxData)
		buf := make([]byte, cmdBytes+chunk)
		buf[0] = op
		putAddr(buf[1:], addr)
		// buf[4:cmdBytes] dummy bytes

		if err := f.tx(buf); err != nil {
			return err
		}

		copy(p[off:], buf[cmdBytes:])

		addr += chunk
		off += chunk
		remaining -= chunk
	}
	return nil
}

// WriteByte programs a single byte at addr. The program runs asynchronously
// inside the chip; the next write-class command busy-waits for it.
func (f *Flash) WriteByte(addr int, b byte) error {
	return f.WriteBytes(addr, []byte{b})
}

// WriteBytes programs 1 to 256 bytes at addr. The whole payload must lie
// within one 256-byte page: the chip's progress counter wraps within the
// page, so a crossing payload would corrupt the page start. Crossing
// payloads are rejected with *PageBoundaryError; use Write to have them
// split automatically.
func (f *Flash) WriteBytes(addr int, p []byte) error {
	if len(p) == 0 || len(p) > PageSize {
		return fmt.Errorf("spiflash: payload must be 1 to %d bytes, got %d", PageSize, len(p))
	}
	if err := checkAddr(addr, len(p)); err != nil {
		return err
	}
	if addr/PageSize != (addr+len(p)-1)/PageSize {
		return &PageBoundaryError{Addr: addr, Len: len(p)}
	}

	buf := make([]byte, 4+len(p))
	buf[0] = cmdPageProgram
	putAddr(buf[1:], addr)
	copy(buf[4:], p)
	return f.writeCommand(buf, f.tPP())
}

// Write programs an arbitrary-length payload at addr, splitting it at page
// boundaries so no single program command wraps.
func (f *Flash) Write(addr int, p []byte) error {
	for len(p) > 0 {
		chunk := PageSize - addr%PageSize
		if chunk > len(p) {
			chunk = len(p)
		}
		if err := f.WriteBytes(addr, p[:chunk]); err != nil {
			return err
		}
		addr += chunk
		p = p[chunk:]
	}
	return nil
}

// WriteFrom programs the contents of r starting at addr, one page at a
// time. It returns the number of bytes programmed.
func (f *Flash) WriteFrom(addr int, r io.Reader) (int, error) {
	buf := [PageSize]byte{}
	written := 0
	for {
		n, err := r.Read(buf[:])
		if err != nil && err != io.EOF {
			return written, err
		}
		if n == 0 {
			break
		}
		if err := f.Write(addr, buf[:n]); err != nil {
			return written, err
		}
		addr += n
		written += n
	}
	return written, nil
}

// Erase4KB erases the 4KB sector containing addr.
func (f *Flash) Erase4KB(addr int) error {
	return f.eraseBlock(cmdErase4KB, addr, f.tErase4KB())
}

// Erase32KB erases the 32KB block containing addr.
func (f *Flash) Erase32KB(addr int) error {
	return f.eraseBlock(cmdErase32KB, addr, f.tErase32KB())
}

// Erase64KB erases the 64KB block containing addr.
func (f *Flash) Erase64KB(addr int) error {
	return f.eraseBlock(cmdErase64KB, addr, f.tErase64KB())
}

func (f *Flash) eraseBlock(op byte, addr int, cycle time.Duration) error {
	if err := checkAddr(addr, 1); err != nil {
		return err
	}
	buf := make([]byte, 4)
	buf[0] = op
	putAddr(buf[1:], addr)
	return f.writeCommand(buf, cycle)
}

// EraseChip erases the entire array. The erase may take seconds; like the
// block erases it returns once the chip accepts the command.
func (f *Flash) EraseChip() error {
	buf := []byte{cmdEraseChip}
	return f.writeCommand(buf, f.tEraseChip())
}

// Erase erases size bytes starting at baseAddr using the largest block
// erase that fits at each step. baseAddr should be 4KB aligned and size a
// multiple of 4KB; a partial trailing sector is erased in full.
func (f *Flash) Erase(baseAddr, size int) error {
	const (
		blockSize64 = 64 << 10
		blockSize32 = 32 << 10
		sectorSize  = 4 << 10
	)

	remaining := size
	addr := baseAddr

	for remaining >= blockSize64 {
		if err := f.Erase64KB(addr); err != nil {
			return err
		}
		addr += blockSize64
		remaining -= blockSize64
	}
	for remaining >= blockSize32 {
		if err := f.Erase32KB(addr); err != nil {
			return err
		}
		addr += blockSize32
		remaining -= blockSize32
	}
	for remaining > 0 {
		if err := f.Erase4KB(addr); err != nil {
			return err
		}
		addr += sectorSize
		remaining -= sectorSize
	}
	return nil
}

// ReadDeviceID reads the 2-byte JEDEC manufacturer+device ID, e.g. 0x1F44
// for an Atmel AT25DF041A or 0xEF30 for a Winbond W25X40CL. Known IDs also
// configure the chip's timing parameters.
func (f *Flash) ReadDeviceID() (uint16, error) {
	if err := f.ready(); err != nil {
		return 0, err
	}
	buf := []byte{cmdReadID, 0, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}

	f.id = binary.BigEndian.Uint16(buf[1:])
	if params, ok := knownFlash[f.id]; ok {
		f.pr = &params
	}
	return f.id, nil
}

// ReadUniqueID returns the chip's factory-programmed 8-byte serial number.
// The value is read once per handle and cached; the all-0xFF reset value of
// the cache marks it as not yet read.
func (f *Flash) ReadUniqueID() ([8]byte, error) {
	cached := false
	for _, b := range f.uid {
		if b != 0xFF {
			cached = true
			break
		}
	}
	if cached {
		return f.uid, nil
	}

	if err := f.ready(); err != nil {
		return f.uid, err
	}
	buf := make([]byte, 1+4+8)
	buf[0] = cmdReadUniqueID
	// buf[1:5] dummy bytes
	if err := f.tx(buf); err != nil {
		return f.uid, err
	}
	copy(f.uid[:], buf[5:])
	return f.uid, nil
}

// Sleep puts the chip into deep power-down. Every command except Wakeup is
// rejected with ErrPoweredDown until then.
func (f *Flash) Sleep() error {
	if err := f.ready(); err != nil {
		return err
	}
	buf := []byte{cmdPowerDown}
	if err := f.tx(buf); err != nil {
		return err
	}
	time.Sleep(f.tDP())
	f.state = statePowerDown
	return nil
}

// Wakeup releases deep power-down. The chip does not guarantee valid status
// reads until tRES1 after deselection, so the recovery time is enforced
// with a fixed delay rather than polling.
func (f *Flash) Wakeup() error {
	buf := []byte{cmdPowerUp}
	if err := f.tx(buf); err != nil {
		return err
	}
	time.Sleep(f.tRES1())
	f.state = stateReady
	return nil
}

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [AT25DF041A|Table 10]    | [W25X40CL|7.1 Status Register]
//	----+--------------------------+-------------------------------
//	7   | SPRL: Sector Prot. Lock  | SRP: Status Register Protect
//	6   | Reserved                 | Reserved
//	5   | EPE: Erase/Program Error | Reserved
//	4   | WPP: /WP Pin Status      | BP2: Block Protect bit 2
//	3:2 | SWP: Software Protection | BP1-0: Block Protect bits 1-0
//	1   | WEL: Write Enable Latch  | WEL: Write Enable Latch
//	0   | BSY: Busy                | BUSY: Erase/Write in progress
type StatusRegister byte

func (sr StatusRegister) ProtectLocked() bool   { return sr&(1<<7) != 0 }
func (sr StatusRegister) EraseProgramErr() bool { return sr&(1<<5) != 0 }
func (sr StatusRegister) WriteProtectPin() bool { return sr&(1<<4) != 0 }
func (sr StatusRegister) BlockProtect1() bool   { return sr&(1<<3) != 0 }
func (sr StatusRegister) BlockProtect0() bool   { return sr&(1<<2) != 0 }
func (sr StatusRegister) WriteEnabled() bool    { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool            { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.ProtectLocked() {
		s = append(s, "SPRL")
	}
	if sr.EraseProgramErr() {
		s = append(s, "EPE")
	}
	if sr.WriteProtectPin() {
		s = append(s, "WPP")
	}
	if sr.BlockProtect1() {
		s = append(s, "BP1")
	}
	if sr.BlockProtect0() {
		s = append(s, "BP0")
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// ReadStatusRegister reads the status register. It is the only command the
// chip accepts while a program/erase is in progress.
func (f *Flash) ReadStatusRegister() (StatusRegister, error) {
	if f.state == statePowerDown {
		return 0, ErrPoweredDown
	}
	buf := []byte{cmdReadStatus, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}

// tSRWrite is the status register write cycle time; neither supported
// datasheet specifies more than 15ms.
const tSRWrite = 15 * time.Millisecond

// WriteStatusRegister writes the status register, e.g. to clear block
// protection bits. This is a write-class command like program and erase.
func (f *Flash) WriteStatusRegister(sr StatusRegister) error {
	buf := []byte{cmdWriteStatus, byte(sr)}
	return f.writeCommand(buf, tSRWrite)
}

// Busy reports whether an erase or program is still in progress.
func (f *Flash) Busy() (bool, error) {
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return false, err
	}
	return sr.Busy(), nil
}

func checkAddr(addr, n int) error {
	if addr < 0 || addr+n-1 > addrMax {
		return fmt.Errorf("spiflash: address range [%#x, %#x] outside 24-bit space", addr, addr+n-1)
	}
	return nil
}

// putAddr writes the 3 address bytes, most significant first.
func putAddr(dst []byte, addr int) {
	dst[0] = byte(addr >> 16)
	dst[1] = byte(addr >> 8)
	dst[2] = byte(addr)
}
