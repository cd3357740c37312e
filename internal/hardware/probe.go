package hardware

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/rowjay/esdb-backup/internal/util"
)

// Probe gathers host facts.
type Probe interface {
	Facts(ctx context.Context) (Facts, error)
}

// System probes the running host through gopsutil.
type System struct {
	// DRMRoot is where graphics cards are listed, /sys/class/drm by default.
	DRMRoot string
	Log     zerolog.Logger
}

func NewSystem(log zerolog.Logger) *System {
	return &System{DRMRoot: "/sys/class/drm", Log: log}
}

func (s *System) Facts(ctx context.Context) (Facts, error) {
	var f Facts

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return f, err
	}
	f.CPUCores = cores

	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return f, err
	}
	for _, i := range ifaces {
		iface := Interface{Name: i.Name, MTU: i.MTU}
		for _, flag := range i.Flags {
			switch flag {
			case "up":
				iface.Up = true
			case "loopback":
				iface.Loopback = true
			}
		}
		for _, a := range i.Addrs {
			iface.Addrs = append(iface.Addrs, a.Addr)
		}
		f.Interfaces = append(f.Interfaces, iface)
	}

	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return f, err
	}
	for _, p := range parts {
		d := Disk{Device: p.Device, Mountpoint: p.Mountpoint}
		if usage, err := disk.UsageWithContext(ctx, p.Mountpoint); err == nil {
			d.Total = usage.Total
		}
		f.Disks = append(f.Disks, d)
	}

	// Sensor reads may fail for some chips while returning the others.
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		s.Log.Warn().Err(err).Msg("temperature sensors unavailable")
	}
	f.Sensors = len(temps)

	f.GPU = s.gpu()
	return f, nil
}

var pciVendors = map[string]string{
	"0x10de": GPUNvidia,
	"0x8086": GPUIntel,
	"0x1002": GPUAMD,
}

// gpu prefers the NVIDIA tooling and otherwise reads the PCI vendor of the
// first graphics card.
func (s *System) gpu() string {
	if util.RequireBinary("nvidia-smi") == nil {
		return GPUNvidia
	}
	return vendorFromDRM(s.DRMRoot)
}

func vendorFromDRM(root string) string {
	cards, err := filepath.Glob(filepath.Join(root, "card[0-9]*", "device", "vendor"))
	if err != nil {
		return GPUNone
	}
	for _, path := range cards {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if gpu, ok := pciVendors[strings.ToLower(strings.TrimSpace(string(raw)))]; ok {
			return gpu
		}
	}
	return GPUNone
}
