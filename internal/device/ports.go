package device

import "fmt"

// PortInfo describes one serial device found by ListPorts.
type PortInfo struct {
	Path         string `json:"path"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// IsUSB reports whether the port sits on a USB device with known ids.
func (p PortInfo) IsUSB() bool { return p.VID != "" && p.PID != "" }

// Describe renders the one-line form used by -list and the port chooser.
func (p PortInfo) Describe() string {
	if !p.IsUSB() {
		return p.Path
	}
	s := fmt.Sprintf("%s (%s:%s)", p.Path, p.VID, p.PID)
	switch {
	case p.Manufacturer != "" && p.Product != "":
		s += " " + p.Manufacturer + " " + p.Product
	case p.Product != "":
		s += " " + p.Product
	}
	return s
}

// USBOnly filters ports down to USB devices.
func USBOnly(ports []PortInfo) []PortInfo {
	var out []PortInfo
	for _, p := range ports {
		if p.IsUSB() {
			out = append(out, p)
		}
	}
	return out
}
