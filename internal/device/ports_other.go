//go:build !linux

package device

import "errors"

// ListPorts is only implemented on Linux.
func ListPorts() ([]PortInfo, error) {
	return nil, &PortError{Kind: ConfigUnsupported, Err: errors.New("port discovery is only supported on Linux")}
}
