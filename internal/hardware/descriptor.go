// Package hardware detects the host facts the monitoring dashboard needs and
// writes them into the runtime settings document.
package hardware

import (
	"path/filepath"
	"strings"
)

// Standard Ethernet MTU; camera links run jumbo frames above it.
const standardMTU = 1500

const (
	GPUNone   = "none"
	GPUNvidia = "nvidia"
	GPUIntel  = "intel"
	GPUAMD    = "amd"
)

type Interface struct {
	Name     string
	MTU      int
	Up       bool
	Loopback bool
	Addrs    []string
}

// Virtual reports whether the interface belongs to a bridge, container or
// tunnel rather than a physical port.
func (i Interface) Virtual() bool {
	for _, p := range []string{"docker", "veth", "br-", "virbr", "vnet", "tun", "tap", "wg", "cni", "flannel", "vxlan", "lxc"} {
		if strings.HasPrefix(i.Name, p) {
			return true
		}
	}
	return false
}

type Disk struct {
	Device     string
	Mountpoint string
	Total      uint64
}

// Facts is everything a Probe reports.
type Facts struct {
	CPUCores   int
	Interfaces []Interface
	Disks      []Disk
	Sensors    int
	GPU        string
}

type Options struct {
	// PrimaryInterface overrides interface detection when set.
	PrimaryInterface string
	// DataMount is the mount point whose disk is preferred.
	DataMount string
	// MinDiskBytes is the size a fallback disk must exceed.
	MinDiskBytes uint64
}

// Panel is one dashboard widget.
type Panel struct {
	Type   string `json:"type"`
	Source string `json:"source,omitempty"`
}

// Descriptor is the document stored under the hardware key of the settings.
type Descriptor struct {
	CPUCores           int       `json:"cpu_cores"`
	PrimaryInterface   string    `json:"primary_interface"`
	CameraInterface    string    `json:"camera_interface,omitempty"`
	Disk               string    `json:"disk"`
	GPU                string    `json:"gpu"`
	TemperatureSensors int       `json:"temperature_sensors"`
	Layout             [][]Panel `json:"layout"`
}

// Build derives the descriptor from facts.
func Build(f Facts, opts Options) Descriptor {
	d := Descriptor{
		CPUCores:           f.CPUCores,
		PrimaryInterface:   primaryInterface(f.Interfaces, opts.PrimaryInterface),
		Disk:               pickDisk(f.Disks, opts.DataMount, opts.MinDiskBytes),
		GPU:                f.GPU,
		TemperatureSensors: f.Sensors,
	}
	if d.GPU == "" {
		d.GPU = GPUNone
	}
	d.CameraInterface = cameraInterface(f.Interfaces, d.PrimaryInterface)
	d.Layout = layout(d)
	return d
}

func primaryInterface(ifaces []Interface, configured string) string {
	if configured != "" {
		return configured
	}
	for _, i := range ifaces {
		if i.Up && !i.Loopback && !i.Virtual() && len(i.Addrs) > 0 {
			return i.Name
		}
	}
	return ""
}

func cameraInterface(ifaces []Interface, primary string) string {
	for _, i := range ifaces {
		if i.Loopback || i.Name == primary {
			continue
		}
		if i.MTU > standardMTU {
			return i.Name
		}
	}
	return ""
}

func pickDisk(disks []Disk, mount string, minBytes uint64) string {
	if mount != "" {
		for _, d := range disks {
			if filepath.Clean(d.Mountpoint) == filepath.Clean(mount) {
				return filepath.Base(d.Device)
			}
		}
	}
	for _, d := range disks {
		if d.Total > minBytes {
			return filepath.Base(d.Device)
		}
	}
	return ""
}

// layout puts host load on the first row and I/O on the second.
func layout(d Descriptor) [][]Panel {
	top := []Panel{{Type: "cpu"}, {Type: "memory"}}
	if d.TemperatureSensors > 0 {
		top = append(top, Panel{Type: "temperature"})
	}
	if d.GPU != GPUNone {
		top = append(top, Panel{Type: "gpu", Source: d.GPU})
	}

	var bottom []Panel
	if d.PrimaryInterface != "" {
		bottom = append(bottom, Panel{Type: "network", Source: d.PrimaryInterface})
	}
	if d.CameraInterface != "" {
		bottom = append(bottom, Panel{Type: "network", Source: d.CameraInterface})
	}
	if d.Disk != "" {
		bottom = append(bottom, Panel{Type: "disk", Source: d.Disk})
	}
	return [][]Panel{top, bottom}
}
