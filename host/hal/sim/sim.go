package sim

import (
	"sync"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// frameMask is the width of the frame number counter.
const frameMask = 0x3fff

// Default Tx FIFO status when nothing is configured: plenty of room.
var defaultTxStatus = hal.TxStatus{QueueSpace: 8, FIFOSpace: 1024}

type channel struct {
	params   hal.ChannelParams
	enabled  bool
	halting  bool
	starts   int
	requests int
	halts    int
}

// Controller is a software model of a dual-role controller in host mode.
//
// The scheduler drives it through the [hal.Controller] methods; a test or
// simulation drives the "hardware side" through Connect, Complete,
// AckHalts, AdvanceFrame and friends. Every method is safe for concurrent
// use.
type Controller struct {
	mu sync.Mutex

	hw       hal.HWConfig
	hostMode bool
	frame    uint16

	status hal.Interrupt
	mask   hal.Interrupt

	ptx  hal.TxStatus
	nptx hal.TxStatus

	port         hal.PortReg
	hnp          bool
	clockStopped bool

	channels []channel
	halted   []hal.ChannelResult
}

// New creates a controller model with numChannels host channels, a
// UTMI high-speed PHY and no dedicated full-speed PHY.
func New(numChannels int) *Controller {
	return NewWithConfig(hal.HWConfig{
		NumChannels: numChannels,
		FSPHYType:   hal.PHYNotSupported,
		HSPHYType:   hal.PHYUTMI,
	})
}

// NewWithConfig creates a controller model with the given configuration.
func NewWithConfig(hw hal.HWConfig) *Controller {
	c := &Controller{
		hw:       hw,
		hostMode: true,
		ptx:      defaultTxStatus,
		nptx:     defaultTxStatus,
		channels: make([]channel, hw.NumChannels),
	}
	for i := range c.channels {
		c.channels[i].params.Num = i
	}
	return c
}

// =============================================================================
// hal.Controller
// =============================================================================

// HWConfig implements [hal.Controller].
func (c *Controller) HWConfig() hal.HWConfig {
	return c.hw
}

// IsHostMode implements [hal.Controller].
func (c *Controller) IsHostMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostMode
}

// FrameNumber implements [hal.Controller].
func (c *Controller) FrameNumber() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// InterruptStatus implements [hal.Controller].
func (c *Controller) InterruptStatus() hal.Interrupt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ClearInterrupts implements [hal.Controller].
func (c *Controller) ClearInterrupts(i hal.Interrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status &^= i
}

// InterruptMask implements [hal.Controller].
func (c *Controller) InterruptMask() hal.Interrupt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mask
}

// SetInterruptMask implements [hal.Controller].
func (c *Controller) SetInterruptMask(i hal.Interrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mask = i
}

// PeriodicTxStatus implements [hal.Controller].
func (c *Controller) PeriodicTxStatus() hal.TxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ptx
}

// NonPeriodicTxStatus implements [hal.Controller].
func (c *Controller) NonPeriodicTxStatus() hal.TxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nptx
}

// ReadPort implements [hal.Controller].
func (c *Controller) ReadPort() hal.PortReg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// WritePort implements [hal.Controller].
func (c *Controller) WritePort(p hal.PortReg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.ConnectDetected {
		c.port.ConnectDetected = false
	}
	if p.EnableChanged {
		c.port.EnableChanged = false
	}
	if p.OverCurrentChanged {
		c.port.OverCurrentChanged = false
	}
	if !p.Enabled && c.port.Enabled {
		c.port.Enabled = false
		c.port.EnableChanged = true
	}

	wasReset := c.port.Reset
	c.port.Reset = p.Reset
	c.port.Suspended = p.Suspended
	c.port.Resume = p.Resume
	c.port.Power = p.Power
	c.port.TestMode = p.TestMode

	if !c.port.Power {
		c.port.Enabled = false
	}

	// Reset release enables a connected port.
	if wasReset && !p.Reset && c.port.Connected && c.port.Power {
		c.port.Enabled = true
		c.port.EnableChanged = true
		c.status |= hal.IntrPort
	}
}

// StopPHYClock implements [hal.Controller].
func (c *Controller) StopPHYClock(stop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clockStopped = stop
}

// SetHostHNPEnable implements [hal.Controller].
func (c *Controller) SetHostHNPEnable(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hnp = enable
}

// InitChannel implements [hal.Controller].
func (c *Controller) InitChannel(p *hal.ChannelParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &c.channels[p.Num]
	ch.params = *p
	ch.enabled = false
	ch.halting = false
	ch.requests = 0
}

// StartTransfer implements [hal.Controller].
func (c *Controller) StartTransfer(p *hal.ChannelParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &c.channels[p.Num]
	ch.params = *p
	ch.enabled = true
	ch.requests = 1
	ch.starts++
}

// ContinueTransfer implements [hal.Controller].
func (c *Controller) ContinueTransfer(p *hal.ChannelParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[p.Num].requests++
}

// HaltChannel implements [hal.Controller].
func (c *Controller) HaltChannel(num int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &c.channels[num]
	ch.halts++
	if ch.enabled {
		ch.halting = true
	}
}

// ChannelEnabled implements [hal.Controller].
func (c *Controller) ChannelEnabled(num int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[num].enabled
}

// CleanupChannel implements [hal.Controller].
func (c *Controller) CleanupChannel(num int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &c.channels[num]
	ch.enabled = false
	ch.halting = false
	ch.requests = 0
}

// HaltedChannels implements [hal.Controller].
func (c *Controller) HaltedChannels() []hal.ChannelResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.halted
	c.halted = nil
	return out
}

// =============================================================================
// Hardware side
// =============================================================================

// Connect attaches a device of the given speed to the root port and raises
// the port interrupt.
func (c *Controller) Connect(speed hal.Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port.Connected = true
	c.port.ConnectDetected = true
	c.port.Power = true
	c.port.Speed = speed
	c.status |= hal.IntrPort
	pkg.LogDebug(pkg.ComponentHAL, "sim device connected", "speed", speed)
}

// Disconnect detaches the device and raises the disconnect interrupt.
// Enabled channels stop without reporting a halt.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port.Connected = false
	c.port.Enabled = false
	c.port.Speed = hal.SpeedUnknown
	c.status |= hal.IntrDisconnect
	for i := range c.channels {
		c.channels[i].enabled = false
		c.channels[i].halting = false
	}
	pkg.LogDebug(pkg.ComponentHAL, "sim device disconnected")
}

// SetHostMode switches the modelled core between host and device mode.
func (c *Controller) SetHostMode(host bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostMode = host
}

// SetOverCurrent drives the port over-current indication.
func (c *Controller) SetOverCurrent(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port.OverCurrent != active {
		c.port.OverCurrent = active
		c.port.OverCurrentChanged = true
		c.status |= hal.IntrPort
	}
}

// SetFrame sets the frame counter.
func (c *Controller) SetFrame(frame uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = frame & frameMask
}

// AdvanceFrame moves the frame counter forward and raises SOF.
func (c *Controller) AdvanceFrame(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = uint16((int(c.frame) + n) & frameMask)
	c.status |= hal.IntrSOF
}

// SetTxStatus sets the periodic and non-periodic Tx FIFO status.
func (c *Controller) SetTxStatus(periodic, nonPeriodic hal.TxStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ptx = periodic
	c.nptx = nonPeriodic
}

// Raise sets pending interrupt sources.
func (c *Controller) Raise(i hal.Interrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status |= i
}

// Complete halts channel num with the given result and raises the channel
// interrupt. It reports false if the channel was not enabled.
func (c *Controller) Complete(num int, status hal.HaltStatus, count uint32, next hal.PID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &c.channels[num]
	if !ch.enabled {
		return false
	}
	ch.enabled = false
	ch.halting = false
	c.halted = append(c.halted, hal.ChannelResult{
		Num:       num,
		Status:    status,
		XferCount: count,
		NextPID:   next,
	})
	c.status |= hal.IntrHostChannel
	return true
}

// AckHalts acknowledges every requested halt and returns the number of
// channels that stopped.
func (c *Controller) AckHalts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.channels {
		ch := &c.channels[i]
		if !ch.halting {
			continue
		}
		ch.enabled = false
		ch.halting = false
		c.halted = append(c.halted, hal.ChannelResult{
			Num:     i,
			Status:  hal.HaltNone,
			NextPID: ch.params.DataPIDStart,
		})
		n++
	}
	if n > 0 {
		c.status |= hal.IntrHostChannel
	}
	return n
}

// Channel returns the parameters last programmed into channel num.
func (c *Controller) Channel(num int) hal.ChannelParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[num].params
}

// Starts returns how many times channel num was started.
func (c *Controller) Starts(num int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[num].starts
}

// Requests returns how many requests the current transfer on channel num
// has queued.
func (c *Controller) Requests(num int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[num].requests
}

// Halts returns how many halt requests channel num received.
func (c *Controller) Halts(num int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[num].halts
}

// Busy returns the numbers of the enabled channels.
func (c *Controller) Busy() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for i := range c.channels {
		if c.channels[i].enabled {
			out = append(out, i)
		}
	}
	return out
}

// HNPEnabled reports whether host HNP signalling is armed.
func (c *Controller) HNPEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hnp
}

// PHYClockStopped reports whether the PHY clock is gated.
func (c *Controller) PHYClockStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockStopped
}

var _ hal.Controller = (*Controller)(nil)
