package host

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/otghcd/pkg"
)

// Params are the core parameters of the host controller driver.
//
// Params can be loaded from YAML:
//
//	host_channels: 8
//	dma_enable: true
//	uframe_sched: false
//	max_transfer_size: 65535
//	periodic_bandwidth_percent: 80
//	port_reset_hold: 50ms
type Params struct {
	// HostChannels limits the number of channels the scheduler uses.
	// Zero uses every channel the hardware implements.
	HostChannels int `yaml:"host_channels"`

	// DMAEnable selects buffer DMA mode; false selects slave (FIFO) mode.
	DMAEnable bool `yaml:"dma_enable"`

	// DMADescEnable selects descriptor DMA mode. Not supported.
	DMADescEnable bool `yaml:"dma_desc_enable"`

	// UFrameSched enables per-micro-frame channel accounting instead of
	// the non-periodic channel budget.
	UFrameSched bool `yaml:"uframe_sched"`

	// MaxTransferSize is the largest transfer one channel can carry, and
	// the size of the per-endpoint alignment buffer.
	MaxTransferSize uint32 `yaml:"max_transfer_size"`

	// PeriodicBandwidthPercent is the share of a high-speed micro-frame
	// that periodic endpoints may claim. Full- and low-speed frames are
	// limited to 90%.
	PeriodicBandwidthPercent int `yaml:"periodic_bandwidth_percent"`

	// OTGPort is the root hub port number of the OTG port.
	OTGPort uint16 `yaml:"otg_port"`

	// PortResetHold is how long SetPortFeature(RESET) holds reset.
	PortResetHold time.Duration `yaml:"port_reset_hold"`
}

// Parameter limits.
const (
	minMaxTransferSize = 2047
	maxMaxTransferSize = 524287
	minPortResetHold   = 10 * time.Millisecond
)

// DefaultParams returns the default parameters: buffer DMA, channel budget
// accounting, all hardware channels.
func DefaultParams() Params {
	return Params{
		DMAEnable:                true,
		MaxTransferSize:          65535,
		PeriodicBandwidthPercent: 80,
		OTGPort:                  1,
		PortResetHold:            50 * time.Millisecond,
	}
}

// Validate checks the parameters for consistency.
func (p *Params) Validate() error {
	if p.HostChannels < 0 || p.HostChannels > MaxChannels {
		return fmt.Errorf("%w: host_channels %d out of range 0..%d",
			pkg.ErrInvalidParameter, p.HostChannels, MaxChannels)
	}
	if p.DMADescEnable {
		return fmt.Errorf("%w: descriptor DMA", pkg.ErrNotSupported)
	}
	if p.MaxTransferSize < minMaxTransferSize || p.MaxTransferSize > maxMaxTransferSize {
		return fmt.Errorf("%w: max_transfer_size %d out of range %d..%d",
			pkg.ErrInvalidParameter, p.MaxTransferSize, minMaxTransferSize, maxMaxTransferSize)
	}
	if p.PeriodicBandwidthPercent < 1 || p.PeriodicBandwidthPercent > 100 {
		return fmt.Errorf("%w: periodic_bandwidth_percent %d",
			pkg.ErrInvalidParameter, p.PeriodicBandwidthPercent)
	}
	if p.OTGPort != 1 {
		return fmt.Errorf("%w: otg_port %d, root hub has one port",
			pkg.ErrInvalidParameter, p.OTGPort)
	}
	if p.PortResetHold < minPortResetHold {
		return fmt.Errorf("%w: port_reset_hold %v below %v",
			pkg.ErrInvalidParameter, p.PortResetHold, minPortResetHold)
	}
	return nil
}

// ParseParams decodes YAML over the default parameters and validates the
// result. Keys not present keep their defaults.
func ParseParams(data []byte) (Params, error) {
	p := DefaultParams()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("%w: %v", pkg.ErrInvalidParameter, err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// LoadParams reads parameters from a YAML file.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}
	return ParseParams(data)
}
