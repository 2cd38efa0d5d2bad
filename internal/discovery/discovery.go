// Package discovery enumerates candidate input device nodes. It exists for
// operator-facing error messages only: when the configured descriptor is
// missing at startup, the daemon lists what it can see instead of failing
// silently.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	libudev "github.com/jochenvg/go-udev"

	"k8s.io/klog/v2"
)

const byIDDir = "/dev/input/by-id"

// Candidate is one usable input device node.
type Candidate struct {
	Path string
	Name string
}

func (c Candidate) String() string {
	if c.Name == "" {
		return c.Path
	}
	return fmt.Sprintf("%s (%s)", c.Path, c.Name)
}

// InputDevices enumerates the udev input subsystem and returns every device
// with an event node, with its human-readable name where udev knows one.
func InputDevices() ([]Candidate, error) {
	var u libudev.Udev
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem("input"); err != nil {
		return nil, fmt.Errorf("discovery: match input subsystem: %w", err)
	}

	devs, err := enum.Devices()
	if err != nil {
		return nil, fmt.Errorf("discovery: enumerate devices: %w", err)
	}

	candidates := make([]Candidate, 0, len(devs))
	for _, dev := range devs {
		if dev == nil {
			klog.Error("udev device is nil!")
			continue
		}
		node := dev.Devnode()
		if !strings.HasPrefix(filepath.Base(node), "event") {
			continue
		}
		candidates = append(candidates, Candidate{
			Path: node,
			Name: deviceName(dev),
		})
	}

	return candidates, nil
}

// deviceName walks up to the input device that carries the name attribute;
// eventN nodes themselves usually do not.
func deviceName(dev *libudev.Device) string {
	if name := strings.Trim(dev.PropertyValue("NAME"), `"`); name != "" {
		return name
	}
	if parent := dev.Parent(); parent != nil {
		if name := strings.Trim(parent.SysattrValue("name"), `"`); name != "" {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// StableAliases lists /dev/input/by-id, the preferred way to name a
// descriptor since those paths survive re-enumeration.
func StableAliases() ([]string, error) {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return nil, fmt.Errorf("discovery: list %s: %w", byIDDir, err)
	}

	aliases := make([]string, 0, len(entries))
	for _, entry := range entries {
		aliases = append(aliases, filepath.Join(byIDDir, entry.Name()))
	}
	return aliases, nil
}
