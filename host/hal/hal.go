package hal

import "io"

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// TransferType indicates the type of USB transfer.
type TransferType uint8

// Transfer type constants (bmAttributes encoding).
const (
	TransferControl     TransferType = 0 // Control transfer
	TransferIsochronous TransferType = 1 // Isochronous transfer
	TransferBulk        TransferType = 2 // Bulk transfer
	TransferInterrupt   TransferType = 3 // Interrupt transfer
)

// String returns a short transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isoc"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "intr"
	default:
		return "unknown"
	}
}

// IsPeriodic reports whether the transfer type reserves bus time
// (isochronous and interrupt).
func (t TransferType) IsPeriodic() bool {
	return t == TransferIsochronous || t == TransferInterrupt
}

// PID is the data PID a channel starts a transfer with.
type PID uint8

// Channel PID encodings.
const (
	PIDData0 PID = 0
	PIDData2 PID = 1
	PIDData1 PID = 2
	PIDMData PID = 3
	PIDSetup PID = 3
)

// XactPos is the split transaction position of an isochronous OUT payload.
type XactPos uint8

// Split transaction positions.
const (
	XactPosMid   XactPos = 0
	XactPosEnd   XactPos = 1
	XactPosBegin XactPos = 2
	XactPosAll   XactPos = 3
)

// HaltStatus is the reason a channel stopped.
type HaltStatus uint8

// Channel halt reasons.
const (
	HaltNone HaltStatus = iota
	HaltComplete
	HaltURBComplete
	HaltACK
	HaltNAK
	HaltNYET
	HaltStall
	HaltXactErr
	HaltFrameOverrun
	HaltBabbleErr
	HaltDataToggleErr
	HaltAHBErr
	HaltPeriodicIncomplete
	HaltURBDequeue
)

var haltStatusNames = [...]string{
	HaltNone:               "none",
	HaltComplete:           "complete",
	HaltURBComplete:        "urb-complete",
	HaltACK:                "ack",
	HaltNAK:                "nak",
	HaltNYET:               "nyet",
	HaltStall:              "stall",
	HaltXactErr:            "xact-err",
	HaltFrameOverrun:       "frame-overrun",
	HaltBabbleErr:          "babble",
	HaltDataToggleErr:      "data-toggle-err",
	HaltAHBErr:             "ahb-err",
	HaltPeriodicIncomplete: "periodic-incomplete",
	HaltURBDequeue:         "urb-dequeue",
}

// String returns a short name for the halt status.
func (h HaltStatus) String() string {
	if int(h) < len(haltStatusNames) {
		return haltStatusNames[h]
	}
	return "unknown"
}

// Interrupt is a set of global (core) interrupt sources.
type Interrupt uint32

// Global interrupt sources used by the host scheduler.
const (
	IntrSOF Interrupt = 1 << iota
	IntrNPTxFEmpty
	IntrPTxFEmpty
	IntrHostChannel
	IntrPort
	IntrDisconnect
	IntrWakeup

	// IntrHostMask is the set of host-only sources.
	IntrHostMask = IntrSOF | IntrNPTxFEmpty | IntrPTxFEmpty | IntrHostChannel | IntrPort
)

// TxStatus is a snapshot of a transmit FIFO status register.
type TxStatus struct {
	QueueSpace int // Free request queue entries
	FIFOSpace  int // Free FIFO space in 32-bit words
}

// PortReg is the decoded host port control and status register.
//
// The Detected/Changed fields are write-one-to-clear latches: writing the
// register back with one of them set clears it in hardware. Writing
// Enabled as false disables the port.
type PortReg struct {
	Connected          bool
	ConnectDetected    bool
	Enabled            bool
	EnableChanged      bool
	Suspended          bool
	Resume             bool
	OverCurrent        bool
	OverCurrentChanged bool
	Reset              bool
	Power              bool
	Speed              Speed
	TestMode           uint8
}

// Latches returns a copy of p with only the write-one-to-clear latches kept.
func (p PortReg) Latches() PortReg {
	return PortReg{
		ConnectDetected:    p.ConnectDetected,
		EnableChanged:      p.EnableChanged,
		OverCurrentChanged: p.OverCurrentChanged,
	}
}

// Masked returns a copy of p with the latches zeroed and Enabled kept, so
// that it can be written back without clearing change bits or disabling
// the port by accident.
func (p PortReg) Masked() PortReg {
	p.ConnectDetected = false
	p.EnableChanged = false
	p.OverCurrentChanged = false
	return p
}

// PHYType identifies a PHY interface option of the core.
type PHYType uint8

// PHY options.
const (
	PHYNotSupported PHYType = iota
	PHYDedicated
	PHYUTMI
	PHYULPI
	PHYUTMIULPI
)

// HWConfig describes fixed hardware configuration read at attach.
type HWConfig struct {
	NumChannels int
	FSPHYType   PHYType
	HSPHYType   PHYType
}

// ChannelParams are the transfer parameters programmed into one channel.
type ChannelParams struct {
	Num int

	DevAddr    uint8
	EPNum      uint8
	EPIsIn     bool
	EPType     TransferType
	Speed      Speed
	MaxPacket  uint16
	MultiCount uint8

	DataPIDStart PID
	DoPing       bool

	DoSplit       bool
	CompleteSplit bool
	XactPos       XactPos
	HubAddr       uint8
	HubPort       uint8

	XferLen   uint32
	XferCount uint32
	XferDMA   uint64 // Buffer DMA mode
	XferBuf   []byte // Slave mode
	AlignBuf  uint64 // Scratch buffer DMA address for unaligned transfers
}

// ChannelResult reports a halted channel to the scheduler.
type ChannelResult struct {
	Num       int
	Status    HaltStatus
	XferCount uint32 // Bytes transferred before the halt
	NextPID   PID    // Data toggle to use on the next transfer
}

// Controller is the register-level interface of a dual-role controller in
// host mode. Implementations are called with the scheduler lock held and
// must not block.
type Controller interface {
	// Configuration

	// HWConfig returns the hardware configuration.
	HWConfig() HWConfig

	// IsHostMode reports whether the core currently operates in host mode.
	IsHostMode() bool

	// FrameNumber returns the current (micro)frame number, 14 bits.
	FrameNumber() uint16

	// Interrupts

	// InterruptStatus returns the pending global interrupt sources.
	InterruptStatus() Interrupt

	// ClearInterrupts acknowledges the given sources.
	ClearInterrupts(Interrupt)

	// InterruptMask returns the enabled global interrupt sources.
	InterruptMask() Interrupt

	// SetInterruptMask replaces the enabled global interrupt sources.
	SetInterruptMask(Interrupt)

	// Transmit FIFOs

	// PeriodicTxStatus returns the periodic Tx FIFO status.
	PeriodicTxStatus() TxStatus

	// NonPeriodicTxStatus returns the non-periodic Tx FIFO status.
	NonPeriodicTxStatus() TxStatus

	// Port and power

	// ReadPort reads the host port register.
	ReadPort() PortReg

	// WritePort writes the host port register.
	WritePort(PortReg)

	// StopPHYClock gates (true) or ungates (false) the PHY clock.
	StopPHYClock(stop bool)

	// SetHostHNPEnable arms or disarms host-side HNP signalling.
	SetHostHNPEnable(enable bool)

	// Channels

	// InitChannel programs the characteristic, split and interrupt
	// registers of channel p.Num.
	InitChannel(p *ChannelParams)

	// StartTransfer enables the channel. In slave mode it also writes the
	// first request (and OUT payload) into the Tx FIFO.
	StartTransfer(p *ChannelParams)

	// ContinueTransfer queues the next slave-mode request of a started
	// transfer, writing the next packet into the Tx FIFO for OUT.
	ContinueTransfer(p *ChannelParams)

	// HaltChannel requests a halt; completion is reported later through
	// HaltedChannels.
	HaltChannel(num int)

	// ChannelEnabled reports whether the channel is enabled in hardware.
	ChannelEnabled(num int) bool

	// CleanupChannel clears the channel's interrupt state.
	CleanupChannel(num int)

	// HaltedChannels drains the channels that halted since the last call.
	HaltedChannels() []ChannelResult
}

// Mem is a region of memory usable by the controller's DMA engine.
type Mem interface {
	io.Closer

	// Buf returns the CPU view of the region.
	Buf() []byte

	// DMAAddr returns the bus address of the region.
	DMAAddr() uint64

	// SyncForDevice makes CPU writes visible to the device.
	SyncForDevice()

	// SyncForCPU makes device writes visible to the CPU.
	SyncForCPU()
}

// DMA allocates DMA-capable memory.
type DMA interface {
	// Alloc returns a dword-aligned region of at least size bytes.
	Alloc(size int) (Mem, error)
}
