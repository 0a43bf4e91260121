package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// LxState is the link power state of the root port.
type LxState uint8

// Link power states.
const (
	LxL0 LxState = iota // On
	LxL1                // LPM sleep
	LxL2                // Suspend
	LxL3                // Off
)

// String returns "L0" through "L3".
func (s LxState) String() string {
	return fmt.Sprintf("L%d", uint8(s))
}

// OTGState is the OTG role the controller currently plays.
type OTGState uint8

// OTG states relevant to host operation.
const (
	OTGAHost OTGState = iota
	OTGASuspend
	OTGBHost
	OTGBPeripheral
)

// Delays of deferred work.
const (
	hostStartDelay   = 50 * time.Millisecond
	wakeupClearDelay = 70 * time.Millisecond
	resumeSettle     = 20 * time.Millisecond
	resumeHold       = 100 * time.Millisecond
	hnpSuspendHold   = 200 * time.Millisecond
)

// portFlags are the root hub status and change flags reported by
// GetPortStatus. Change flags are cleared only by ClearPortFeature.
type portFlags struct {
	connect           bool
	connectChange     bool
	enableChange      bool
	suspendChange     bool
	overCurrentChange bool
	resetChange       bool
	l1Change          bool
}

type giveback struct {
	urb *URB
	err error
}

// HCD is the host-mode transfer scheduler of one controller.
//
// All scheduler state is guarded by one mutex. Public methods and
// HandleInterrupt take it; URB completion callbacks run after it is
// released.
type HCD struct {
	mutex sync.Mutex

	ctrl   hal.Controller
	dma    hal.DMA
	params Params
	clock  Clock
	hw     hal.HWConfig

	numChannels  int
	channels     []*Channel
	freeChannels []int

	schedule  [numSchedules][]qhHandle
	npCursor  int
	qhs       qhArena
	endpoints map[endpointKey]qhHandle

	// Channel accounting. Micro-frame scheduling uses
	// availableHostChannels; otherwise non-periodic QHs may only use the
	// channels periodic QHs have not reserved.
	availableHostChannels int
	nonPeriodicChannels   int
	periodicChannels      int
	periodicUsecs         int
	periodicQHCount       int

	queuingHighBandwidth bool

	flags      portFlags
	lx         LxState
	otgState   OTGState
	hnpEnabled bool

	statusBuf []byte
	statusMem hal.Mem

	running bool
	closed  bool

	pending []giveback
}

// New creates a scheduler for ctrl. dma supplies the status buffer and
// alignment buffers in buffer DMA mode.
func New(ctrl hal.Controller, dma hal.DMA, opts ...Option) (*HCD, error) {
	h := &HCD{
		ctrl:      ctrl,
		dma:       dma,
		params:    DefaultParams(),
		clock:     systemClock{},
		hw:        ctrl.HWConfig(),
		endpoints: make(map[endpointKey]qhHandle),
		lx:        LxL3,
		otgState:  OTGAHost,
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.params.Validate(); err != nil {
		return nil, err
	}

	n := h.params.HostChannels
	if n == 0 {
		n = h.hw.NumChannels
	}
	if n < 1 || n > h.hw.NumChannels {
		return nil, fmt.Errorf("%w: %d host channels, hardware has %d",
			pkg.ErrInvalidParameter, n, h.hw.NumChannels)
	}
	h.numChannels = n
	h.channels = make([]*Channel, n)
	for i := range h.channels {
		h.channels[i] = &Channel{qh: noQH}
		h.channels[i].Num = i
	}

	if h.params.DMAEnable {
		if dma == nil {
			return nil, fmt.Errorf("%w: buffer DMA without allocator", pkg.ErrInvalidParameter)
		}
		mem, err := dma.Alloc(statusBufSize)
		if err != nil {
			return nil, fmt.Errorf("status buffer: %w", err)
		}
		h.statusMem = mem
		h.statusBuf = mem.Buf()
	} else {
		h.statusBuf = make([]byte, statusBufSize)
	}

	h.reinit()

	pkg.LogInfo(pkg.ComponentHCD, "scheduler created",
		"channels", h.numChannels,
		"dma", h.params.DMAEnable,
		"uframe_sched", h.params.UFrameSched)
	return h, nil
}

// lock acquires the scheduler lock.
func (h *HCD) lock() {
	h.mutex.Lock()
}

// unlock releases the scheduler lock and then gives back every URB
// completed while it was held.
func (h *HCD) unlock() {
	done := h.pending
	h.pending = nil
	h.mutex.Unlock()

	for _, g := range done {
		if g.urb.Complete != nil {
			g.urb.Complete(g.urb, g.err)
		}
	}
}

// complete records the final status of u. The callback runs at unlock.
// The QTD must already be unlinked, which detaches it from u.
func (h *HCD) complete(u *URB, err error) {
	u.Status = err
	h.pending = append(h.pending, giveback{urb: u, err: err})

	pkg.LogDebug(pkg.ComponentURB, "urb complete",
		"dev", u.Pipe.DevAddr,
		"ep", u.Pipe.EPNum,
		"type", u.Pipe.Type,
		"actual", u.ActualLength,
		"length", u.Length,
		"errno", pkg.Errno(err))
}

// reinit returns every channel to the free list and clears the port
// flags and channel accounting.
func (h *HCD) reinit() {
	h.flags = portFlags{}
	h.npCursor = 0
	h.queuingHighBandwidth = false

	if h.params.UFrameSched {
		h.availableHostChannels = h.numChannels
	} else {
		h.nonPeriodicChannels = 0
		h.periodicChannels = 0
		for _, q := range h.qhs.live() {
			if q.reserved {
				h.periodicChannels++
			}
		}
	}

	h.freeChannels = h.freeChannels[:0]
	for _, ch := range h.channels {
		h.ctrl.CleanupChannel(ch.Num)
		ch.reset()
		h.putChannel(ch)
	}
}

// Reinit reinitializes the dynamic scheduler state. It must only be used
// while no channel is in use.
func (h *HCD) Reinit() {
	h.lock()
	defer h.unlock()
	h.reinit()
}

// Start starts host operation. A B-host asserts port reset immediately;
// the rest of the start-up runs after a delay.
func (h *HCD) Start() error {
	h.lock()
	defer h.unlock()

	if h.closed {
		return pkg.ErrNotRunning
	}
	if h.otgState == OTGBHost {
		p := h.ctrl.ReadPort().Masked()
		p.Reset = true
		h.ctrl.WritePort(p)
	}
	h.clock.AfterFunc(hostStartDelay, h.startFunc)

	pkg.LogInfo(pkg.ComponentHCD, "host start scheduled", "otg", h.otgState)
	return nil
}

func (h *HCD) startFunc() {
	h.lock()
	defer h.unlock()

	if h.closed {
		return
	}
	h.lx = LxL0
	if h.ctrl.IsHostMode() {
		h.reinit()
	}
	h.running = true

	mask := hal.IntrPort | hal.IntrHostChannel | hal.IntrDisconnect | hal.IntrWakeup
	if h.periodicQHCount > 0 {
		mask |= hal.IntrSOF
	}
	h.ctrl.SetInterruptMask(mask)

	pkg.LogInfo(pkg.ComponentHCD, "host started")
}

// Stop turns off host interrupts and port power. The root port should be
// disconnected first so that no transfer is left in the schedule.
func (h *HCD) Stop() {
	h.lock()
	defer h.unlock()

	h.disarmInterrupt(hal.IntrHostMask)
	h.ctrl.WritePort(hal.PortReg{})
	h.running = false

	pkg.LogInfo(pkg.ComponentHCD, "host stopped")
}

// Close stops the scheduler for good. Every outstanding URB completes
// with [pkg.ErrNotRunning] and every QH and buffer is released.
func (h *HCD) Close() error {
	h.lock()
	defer h.unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.running = false
	h.ctrl.SetInterruptMask(0)

	for _, ch := range h.channels {
		if !ch.onFreeList {
			h.freeChannel(ch)
		}
	}
	h.killAll(pkg.ErrNotRunning)
	for _, q := range h.qhs.live() {
		h.qhFree(q)
	}

	var err error
	if h.statusMem != nil {
		err = h.statusMem.Close()
		h.statusMem = nil
	}
	h.statusBuf = nil

	pkg.LogInfo(pkg.ComponentHCD, "scheduler closed")
	return err
}

// FrameNumber returns the current (micro)frame number.
func (h *HCD) FrameNumber() uint16 {
	h.lock()
	defer h.unlock()
	return h.ctrl.FrameNumber()
}

// SetOTGState records the OTG role, as reported by the dual-role core.
func (h *HCD) SetOTGState(s OTGState) {
	h.lock()
	defer h.unlock()
	h.otgState = s
}

// IsBHost reports whether the controller is host after HNP.
func (h *HCD) IsBHost() bool {
	h.lock()
	defer h.unlock()
	return h.otgState == OTGBHost
}

// SetHNPEnabled records whether the device granted B-HNP.
func (h *HCD) SetHNPEnabled(enabled bool) {
	h.lock()
	defer h.unlock()
	h.hnpEnabled = enabled
}

// Running reports whether the host is started.
func (h *HCD) Running() bool {
	h.lock()
	defer h.unlock()
	return h.running
}

// statusDMA returns the bus address of the control status bit bucket.
func (h *HCD) statusDMA() uint64 {
	if h.statusMem == nil {
		return 0
	}
	return h.statusMem.DMAAddr()
}
