//go:build linux

package device

import (
	"os"
	"path/filepath"
	"strings"
)

var portPatterns = []string{
	"/dev/ttyS*",
	"/dev/ttyUSB*",
	"/dev/ttyXRUSB*",
	"/dev/ttyACM*",
	"/dev/ttyAMA*",
	"/dev/rfcomm*",
	"/dev/ttyAP*",
}

const sysfsRoot = "/sys/class/tty"

// ListPorts returns serial devices that have a backing driver in sysfs,
// with USB identification where available.
func ListPorts() ([]PortInfo, error) {
	var ports []PortInfo
	for _, pattern := range portPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, dev := range matches {
			sysPath := filepath.Join(sysfsRoot, filepath.Base(dev), "device")
			if _, err := os.Stat(sysPath); err != nil {
				continue
			}
			info := PortInfo{Path: dev}
			describeUSB(sysPath, &info)
			ports = append(ports, info)
		}
	}
	return ports, nil
}

// describeUSB walks up from the tty's device node looking for the USB
// interface's parent, which carries idVendor and idProduct.
func describeUSB(sysPath string, info *PortInfo) {
	dir, err := filepath.EvalSymlinks(sysPath)
	if err != nil {
		return
	}
	for i := 0; i < 4 && dir != "/" && dir != "."; i++ {
		vid := readAttr(dir, "idVendor")
		pid := readAttr(dir, "idProduct")
		if vid != "" && pid != "" {
			info.VID, info.PID = vid, pid
			info.Manufacturer = readAttr(dir, "manufacturer")
			info.Product = readAttr(dir, "product")
			info.SerialNumber = readAttr(dir, "serial")
			return
		}
		dir = filepath.Dir(dir)
	}
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
