//go:build linux

package device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Mr-Dark-debug/sermon/internal/config"
)

func ptyConfig(t *testing.T) (*os.File, config.Config) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg := config.DefaultConfig()
	cfg.Port = slave.Name()
	cfg.ShutdownTimeout = 200 * time.Millisecond
	return master, cfg
}

// readAll polls the channel until want bytes arrived or the deadline hits.
func readAll(t *testing.T, ch Channel, want int) []byte {
	t.Helper()
	var got []byte
	deadline := time.After(time.Second)
	for len(got) < want {
		select {
		case <-ch.Readable():
			data, err := ch.PollRead()
			require.NoError(t, err)
			got = append(got, data...)
		case <-deadline:
			t.Fatalf("timeout: got %q, want %d bytes", got, want)
		}
	}
	return got
}

func TestSerialReadAndWrite(t *testing.T) {
	master, cfg := ptyConfig(t)
	s, err := OpenSerial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	data, err := s.PollRead()
	require.NoError(t, err)
	assert.Empty(t, data, "PollRead never blocks")

	_, err = master.Write([]byte("hello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\r\n"), readAll(t, s, 7))

	require.NoError(t, s.EnqueueWrite([]byte("pong\n")))
	buf := make([]byte, 16)
	master.SetReadDeadline(time.Now().Add(time.Second))
	n, err := master.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong\n", string(buf[:n]), "raw mode writes bytes unchanged")
}

func TestSerialBinaryIsEightBitClean(t *testing.T) {
	master, cfg := ptyConfig(t)
	s, err := OpenSerial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	payload := []byte{0x00, 0x03, 0x04, 0x11, 0x13, 0x7F, 0x80, 0xFF}
	_, err = master.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, readAll(t, s, len(payload)))
}

func TestSerialHangupIsPersistentIOError(t *testing.T) {
	master, cfg := ptyConfig(t)
	s, err := OpenSerial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, master.Close())

	var ioErr error
	require.Eventually(t, func() bool {
		_, ioErr = s.PollRead()
		return ioErr != nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, IsIOError(ioErr))

	_, again := s.PollRead()
	assert.Equal(t, ioErr, again, "the error is persistent")
	assert.True(t, IsIOError(s.EnqueueWrite([]byte("x"))))
}

func TestSerialWriteOverflow(t *testing.T) {
	_, cfg := ptyConfig(t)
	cfg.WriteQueueSize = 2
	cfg.ShutdownTimeout = 10 * time.Millisecond
	s, err := OpenSerial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Nobody reads the master side, so the writer stalls once the pty
	// buffer is full and the queue backs up.
	chunk := bytes.Repeat([]byte("x"), 256*1024)
	overflowed := false
	for i := 0; i < 10 && !overflowed; i++ {
		err := s.EnqueueWrite(chunk)
		if errors.Is(err, ErrWriteOverflow) {
			overflowed = true
			continue
		}
		require.NoError(t, err)
	}
	assert.True(t, overflowed)
}

func TestSerialCloseIsIdempotent(t *testing.T) {
	_, cfg := ptyConfig(t)
	s, err := OpenSerial(cfg)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.PollRead()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Reconnect(), ErrClosed)
}

func TestSerialReconnect(t *testing.T) {
	master, cfg := ptyConfig(t)
	s, err := OpenSerial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Reconnect())
	_, err = master.Write([]byte("again"))
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), readAll(t, s, 5))
}

func TestOpenErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Port = "/dev/sermon-does-not-exist"
	_, err := OpenSerial(cfg)
	assert.ErrorIs(t, err, ErrNotFound)

	regular := filepath.Join(t.TempDir(), "not-a-tty")
	require.NoError(t, os.WriteFile(regular, nil, 0o600))
	cfg.Port = regular
	_, err = OpenSerial(cfg)
	assert.ErrorIs(t, err, ErrConfigUnsupported)

	_, ptyCfg := ptyConfig(t)
	ptyCfg.Baud = 12345
	_, err = OpenSerial(ptyCfg)
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}

func TestPortErrorMapping(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		want  error
	}{
		{unix.ENOENT, ErrNotFound},
		{unix.ENXIO, ErrNotFound},
		{unix.EACCES, ErrPermissionDenied},
		{unix.EPERM, ErrPermissionDenied},
		{unix.EBUSY, ErrBusy},
		{unix.ENOTTY, ErrConfigUnsupported},
	}
	for _, tc := range cases {
		err := portError("/dev/ttyX", tc.errno)
		assert.ErrorIs(t, err, tc.want, tc.errno.Error())
		assert.ErrorIs(t, err, tc.errno)
	}
}

func TestDescribeUSB(t *testing.T) {
	root := t.TempDir()
	usb := filepath.Join(root, "1-1")
	tty := filepath.Join(usb, "1-1:1.0", "ttyUSB0")
	require.NoError(t, os.MkdirAll(tty, 0o755))
	for name, v := range map[string]string{
		"idVendor":     "0403\n",
		"idProduct":    "6001\n",
		"manufacturer": "FTDI\n",
		"product":      "FT232R USB UART\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(usb, name), []byte(v), 0o644))
	}

	var info PortInfo
	describeUSB(tty, &info)
	assert.Equal(t, "0403", info.VID)
	assert.Equal(t, "6001", info.PID)
	assert.Equal(t, "FT232R USB UART", info.Product)
	assert.True(t, info.IsUSB())
}
