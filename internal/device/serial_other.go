//go:build !linux

package device

import (
	"errors"

	"github.com/Mr-Dark-debug/sermon/internal/config"
)

func openSerial(cfg config.Config) (Channel, error) {
	return nil, &PortError{
		Kind: ConfigUnsupported,
		Path: cfg.Port,
		Err:  errors.New("serial ports are only supported on Linux; use -loopback"),
	}
}
