package probe

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoDevice is returned by adapter sources when no compute device exists.
var ErrNoDevice = errors.New("no compute device available")

// HostAdapter describes the host CPU. Vendor is left empty so that Probe
// always measures instead of guessing.
func HostAdapter() (*AdapterInfo, error) {
	if runtime.NumCPU() < 1 {
		return nil, ErrNoDevice
	}
	return &AdapterInfo{
		Architecture:  runtime.GOARCH,
		MemoryMB:      availableMemoryMB(),
		DispatchWidth: runtime.NumCPU(),
	}, nil
}

// StaticAdapter reports fixed metadata, e.g. from configuration.
func StaticAdapter(info AdapterInfo) AdapterSource {
	return func() (*AdapterInfo, error) {
		copied := info
		return &copied, nil
	}
}

// NoDevice is the source for relay-only nodes.
func NoDevice() (*AdapterInfo, error) {
	return nil, ErrNoDevice
}

// availableMemoryMB reads MemAvailable from /proc/meminfo, 0 elsewhere.
func availableMemoryMB() float64 {
	b, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

// vendorBaseline 厂商基准吞吐 (GFLOPS)
var vendorBaseline = map[string]float64{
	"nvidia":   12000,
	"amd":      8000,
	"apple":    4000,
	"intel":    1500,
	"qualcomm": 1000,
	"arm":      600,
}

// architectureScale adjusts the vendor baseline for known generations.
// Checked in order; the first substring match wins.
var architectureScale = []struct {
	match string
	scale float64
}{
	{"integrated", 0.3},
	{"hopper", 4.0},
	{"ada", 2.5},
	{"ampere", 1.8},
	{"turing", 1.0},
	{"rdna3", 1.8},
	{"rdna2", 1.2},
	{"m3", 1.5},
	{"m2", 1.2},
	{"m1", 1.0},
}

// estimateThroughput returns a heuristic estimate, or false for unknown vendors.
func estimateThroughput(vendor, architecture string) (float64, bool) {
	base, ok := vendorBaseline[strings.ToLower(vendor)]
	if !ok {
		return 0, false
	}
	arch := strings.ToLower(architecture)
	for _, a := range architectureScale {
		if strings.Contains(arch, a.match) {
			return base * a.scale, true
		}
	}
	return base, true
}
