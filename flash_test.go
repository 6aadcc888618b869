package spiflash

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

// playbackFlash returns a Flash driving a scripted bus. Each conntest.IO is
// one select/deselect bracket: W is the exact byte sequence the driver must
// clock out, R is what the chip answers in the same positions.
func playbackFlash(t *testing.T, ops []conntest.IO) (*Flash, *spitest.Playback, *gpiotest.Pin) {
	t.Helper()
	p := &spitest.Playback{
		Playback: conntest.Playback{Ops: ops, DontPanic: true},
	}
	c, err := p.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)
	cs := &gpiotest.Pin{N: "CS", Num: 8, L: gpio.High}
	return NewFlash(c, cs), p, cs
}

func zeros(n int) []byte {
	return make([]byte, n)
}

// statusOp scripts one status register read returning sr.
func statusOp(sr byte) conntest.IO {
	return conntest.IO{W: []byte{0x05, 0x00}, R: []byte{0x00, sr}}
}

func TestReadDeviceID(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x9F, 0x00, 0x00}, R: []byte{0x00, 0x1F, 0x44}},
	})

	id, err := f.ReadDeviceID()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1F44), id)
	assert.Equal(t, "Atmel-Adesto AT25DF041A 4Mb", ChipName(id))
	assert.NoError(t, p.Close())
}

func TestInitialize(t *testing.T) {
	f, p, cs := playbackFlash(t, []conntest.IO{
		{W: []byte{0x9F, 0x00, 0x00}, R: []byte{0x00, 0x1F, 0x44}},
	})

	require.NoError(t, f.Initialize(0x1F44))
	assert.Equal(t, gpio.High, cs.L)
	assert.NoError(t, p.Close())
}

func TestInitializeMismatch(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x9F, 0x00, 0x00}, R: []byte{0x00, 0x1F, 0x44}},
	})

	err := f.Initialize(0x0000)
	var mismatch *IDMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint16(0x1F44), mismatch.Got)
	assert.Equal(t, uint16(0x0000), mismatch.Want)
	assert.NoError(t, p.Close())
}

func TestWriteBytesIssuesWriteEnable(t *testing.T) {
	f, p, cs := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x02, 0x00, 0x01, 0x00, 0xAA, 0xBB, 0xCC}, R: zeros(7)},
	})

	require.NoError(t, f.WriteBytes(0x000100, []byte{0xAA, 0xBB, 0xCC}))
	assert.Equal(t, gpio.High, cs.L)
	// all scripted ops consumed: 0x06 got its own bracket before 0x02
	assert.NoError(t, p.Close())
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x9F, 0x00, 0x00}, R: []byte{0x00, 0x1F, 0x44}},
		{W: []byte{0x06}, R: zeros(1)},
		{W: append([]byte{0x02, 0x00, 0x01, 0x00}, payload...), R: zeros(7)},
		statusOp(0x00), // program drained before the read is framed
		{W: []byte{0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}, R: append(zeros(4), payload...)},
	})

	require.NoError(t, f.Initialize(0x1F44))
	require.NoError(t, f.WriteBytes(0x000100, payload))

	got := make([]byte, 3)
	require.NoError(t, f.ReadBytes(0x000100, got))
	assert.Equal(t, payload, got)
	assert.NoError(t, p.Close())
}

func TestWriteBytesPageBoundary(t *testing.T) {
	f, p, _ := playbackFlash(t, nil)

	err := f.WriteBytes(0x0001FE, []byte{1, 2, 3, 4})
	var boundary *PageBoundaryError
	require.ErrorAs(t, err, &boundary)
	assert.Equal(t, 0x0001FE, boundary.Addr)
	assert.Equal(t, 4, boundary.Len)
	// rejected before any bus traffic
	assert.NoError(t, p.Close())
}

func TestWriteBytesLength(t *testing.T) {
	f, p, _ := playbackFlash(t, nil)

	assert.Error(t, f.WriteBytes(0, nil))
	assert.Error(t, f.WriteBytes(0, bytes.Repeat([]byte{0xFF}, PageSize+1)))
	assert.NoError(t, p.Close())
}

func TestWriteSplitsAtPageBoundary(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x02, 0x00, 0x00, 0xFE, 0x11, 0x22}, R: zeros(6)},
		statusOp(0x00),
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x02, 0x00, 0x01, 0x00, 0x33, 0x44}, R: zeros(6)},
	})

	require.NoError(t, f.Write(0x0000FE, []byte{0x11, 0x22, 0x33, 0x44}))
	assert.NoError(t, p.Close())
}

func TestWriteFrom(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x02, 0x00, 0x02, 0x00, 0xDE, 0xAD}, R: zeros(6)},
	})

	n, err := f.WriteFrom(0x000200, bytes.NewReader([]byte{0xDE, 0xAD}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, p.Close())
}

func TestBusyWaitPollsUntilClear(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x02, 0x00, 0x00, 0x00, 0x55}, R: zeros(5)},
		statusOp(0x03), // WEL+BUSY, still programming
		statusOp(0x03),
		statusOp(0x00),
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x02, 0x00, 0x00, 0x01, 0x66}, R: zeros(5)},
	})

	// generous page-program time so the poll loop cannot hit the deadline
	f.pr = &flashParams{tPP: time.Minute}

	require.NoError(t, f.WriteByte(0x000000, 0x55))
	// second program must drain the first one through the status poll
	require.NoError(t, f.WriteByte(0x000001, 0x66))
	assert.NoError(t, p.Close())
}

func TestBusyWaitTimeout(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		statusOp(0x01),
	})

	err := f.BusyWait(time.Second, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrBusyTimeout)
	assert.NoError(t, p.Close())
}

func TestBusyReflectsStatusBit(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		statusOp(0x01),
		statusOp(0x00),
	})

	busy, err := f.Busy()
	require.NoError(t, err)
	assert.True(t, busy)

	busy, err = f.Busy()
	require.NoError(t, err)
	assert.False(t, busy)
	assert.NoError(t, p.Close())
}

func TestReadByte(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x03, 0x12, 0x34, 0x56, 0x00}, R: []byte{0, 0, 0, 0, 0x5A}},
	})

	b, err := f.ReadByte(0x123456)
	require.NoError(t, err)
	assert.Equal(t, byte(0x5A), b)
	assert.NoError(t, p.Close())
}

func TestReadBytesFastInsertsDummy(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x0B, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00}, R: []byte{0, 0, 0, 0, 0, 0xCA, 0xFE}},
	})

	got := make([]byte, 2)
	require.NoError(t, f.ReadBytesFast(0x000010, got))
	assert.Equal(t, []byte{0xCA, 0xFE}, got)
	assert.NoError(t, p.Close())
}

func TestAddressRange(t *testing.T) {
	f, p, _ := playbackFlash(t, nil)

	_, err := f.ReadByte(-1)
	assert.Error(t, err)
	assert.Error(t, f.ReadBytes(0xFFFFFF, make([]byte, 2)))
	assert.Error(t, f.WriteByte(1<<24, 0x00))
	assert.Error(t, f.Erase4KB(1<<24))
	assert.NoError(t, p.Close())
}

func TestEraseBlocks(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x20, 0x00, 0x10, 0x00}, R: zeros(4)},
		statusOp(0x00),
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x52, 0x00, 0x80, 0x00}, R: zeros(4)},
		statusOp(0x00),
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0xD8, 0x01, 0x00, 0x00}, R: zeros(4)},
	})

	require.NoError(t, f.Erase4KB(0x001000))
	require.NoError(t, f.Erase32KB(0x008000))
	require.NoError(t, f.Erase64KB(0x010000))
	assert.NoError(t, p.Close())
}

func TestEraseLadder(t *testing.T) {
	// 32K + 4K: one 32KB block then one 4KB sector
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x52, 0x00, 0x00, 0x00}, R: zeros(4)},
		statusOp(0x00),
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x20, 0x00, 0x80, 0x00}, R: zeros(4)},
	})

	require.NoError(t, f.Erase(0x000000, 0x9000))
	assert.NoError(t, p.Close())
}

func TestEraseChip(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x60}, R: zeros(1)},
	})

	require.NoError(t, f.EraseChip())
	assert.NoError(t, p.Close())
}

func TestWriteStatusRegister(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x06}, R: zeros(1)},
		{W: []byte{0x01, 0x00}, R: zeros(2)},
	})

	require.NoError(t, f.WriteStatusRegister(0))
	assert.NoError(t, p.Close())
}

func TestWriteDisable(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0x04}, R: zeros(1)},
	})

	require.NoError(t, f.WriteDisable())
	assert.NoError(t, p.Close())
}

func TestReadUniqueIDCaches(t *testing.T) {
	uid := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	// 0x4B + 4 dummy bytes, then 8 clocked in
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: append([]byte{0x4B}, zeros(12)...), R: append(zeros(5), uid...)},
	})

	got, err := f.ReadUniqueID()
	require.NoError(t, err)
	assert.Equal(t, uid, got[:])

	// second call served from the handle's cache, no bus traffic
	got, err = f.ReadUniqueID()
	require.NoError(t, err)
	assert.Equal(t, uid, got[:])
	assert.NoError(t, p.Close())
}

func TestSleepGatesCommands(t *testing.T) {
	f, p, _ := playbackFlash(t, []conntest.IO{
		{W: []byte{0xB9}, R: zeros(1)},
		{W: []byte{0xAB}, R: zeros(1)},
		statusOp(0x00),
	})

	require.NoError(t, f.Sleep())

	_, err := f.ReadByte(0)
	assert.ErrorIs(t, err, ErrPoweredDown)
	assert.ErrorIs(t, f.WriteByte(0, 0xFF), ErrPoweredDown)
	assert.ErrorIs(t, f.EraseChip(), ErrPoweredDown)
	_, err = f.Busy()
	assert.ErrorIs(t, err, ErrPoweredDown)

	require.NoError(t, f.Wakeup())
	busy, err := f.Busy()
	require.NoError(t, err)
	assert.False(t, busy)
	assert.NoError(t, p.Close())
}

func TestStatusRegisterDecode(t *testing.T) {
	sr := StatusRegister(0x03)
	assert.True(t, sr.Busy())
	assert.True(t, sr.WriteEnabled())
	assert.False(t, sr.ProtectLocked())
	assert.Contains(t, sr.String(), "WEL")
	assert.Contains(t, sr.String(), "BUSY")

	assert.Equal(t, "00000000", StatusRegister(0).String())
	assert.Contains(t, StatusRegister(1<<7).String(), "SPRL")
	assert.Contains(t, StatusRegister(1<<5).String(), "EPE")
}
