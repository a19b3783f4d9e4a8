package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/sermon/internal/config"
)

func TestLoopbackEchoesWrites(t *testing.T) {
	l := NewLoopback("loop", 4)

	data, err := l.PollRead()
	require.NoError(t, err)
	assert.Nil(t, data, "nothing pending")

	require.NoError(t, l.EnqueueWrite([]byte("ping\n")))
	select {
	case <-l.Readable():
	default:
		t.Fatal("expected readable signal after write")
	}

	data, err = l.PollRead()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping\n"), data)
	assert.Equal(t, []byte("ping\n"), l.Sent())
}

func TestLoopbackOverflowRejectsExactlyTheExcess(t *testing.T) {
	l := NewLoopback("loop", 2)
	l.Stall()

	var accepted, overflowed int
	for i := 0; i < 5; i++ {
		err := l.EnqueueWrite([]byte{byte('a' + i)})
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrWriteOverflow):
			overflowed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, 3, overflowed)

	l.Resume()
	data, err := l.PollRead()
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), data, "only accepted writes are delivered, in order")
}

func TestLoopbackUnplugAndReconnect(t *testing.T) {
	l := NewLoopback("loop", 4)
	l.Inject([]byte("tail"))
	l.Unplug()

	// Data received before the failure is still delivered first.
	data, err := l.PollRead()
	require.NoError(t, err)
	assert.Equal(t, []byte("tail"), data)

	_, err = l.PollRead()
	require.True(t, IsIOError(err))
	assert.ErrorIs(t, err, ErrUnplugged)

	err = l.EnqueueWrite([]byte("x"))
	assert.True(t, IsIOError(err), "writes fail while disconnected")

	err = l.Reconnect()
	assert.ErrorIs(t, err, ErrNotFound)

	l.Plug()
	require.NoError(t, l.Reconnect())
	assert.Equal(t, 1, l.Reopened())

	require.NoError(t, l.EnqueueWrite([]byte("back")))
	data, err = l.PollRead()
	require.NoError(t, err)
	assert.Equal(t, []byte("back"), data)
}

func TestLoopbackCloseFlushesStalledWrites(t *testing.T) {
	l := NewLoopback("loop", 4)
	l.Stall()
	require.NoError(t, l.EnqueueWrite([]byte("bye")))
	require.NoError(t, l.Close())
	assert.Equal(t, []byte("bye"), l.Sent())

	_, err := l.PollRead()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.EnqueueWrite([]byte("x")), ErrClosed)
	assert.NoError(t, l.Close())
}

func TestOpenSelectsLoopback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Loopback = true
	ch, err := Open(cfg)
	require.NoError(t, err)
	_, ok := ch.(*Loopback)
	assert.True(t, ok)
}

func TestPortErrorMatching(t *testing.T) {
	err := error(&PortError{Kind: Busy, Path: "/dev/ttyUSB0", Err: errors.New("resource busy")})
	assert.ErrorIs(t, err, ErrBusy)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "/dev/ttyUSB0")
	assert.Contains(t, err.Error(), "busy")
}

func TestPortInfoDescribe(t *testing.T) {
	usb := PortInfo{Path: "/dev/ttyUSB0", VID: "0403", PID: "6001", Manufacturer: "FTDI", Product: "FT232R"}
	assert.Equal(t, "/dev/ttyUSB0 (0403:6001) FTDI FT232R", usb.Describe())
	assert.Equal(t, "/dev/ttyS0", PortInfo{Path: "/dev/ttyS0"}.Describe())
	assert.Equal(t, []PortInfo{usb}, USBOnly([]PortInfo{{Path: "/dev/ttyS0"}, usb}))
}
