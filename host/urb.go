package host

import (
	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// Direction is the data direction of a pipe.
type Direction uint8

// Pipe directions.
const (
	DirOut Direction = 0 // Host to device
	DirIn  Direction = 1 // Device to host
)

// String returns "in" or "out".
func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// PipeInfo identifies the endpoint a URB targets.
type PipeInfo struct {
	DevAddr uint8
	EPNum   uint8
	Type    hal.TransferType
	Dir     Direction

	// MPS is wMaxPacketSize, including the high-bandwidth multiplier in
	// bits 12:11.
	MPS uint16
}

// IsIn reports whether the pipe moves data toward the host.
func (p PipeInfo) IsIn() bool { return p.Dir == DirIn }

// IsoPacketDesc describes one isochronous packet of a URB.
type IsoPacketDesc struct {
	Offset       uint32
	Length       uint32
	ActualLength uint32
	Status       error
}

// URBFlags modify how a URB is scheduled.
type URBFlags uint32

// URB flags.
const (
	// FlagGiveBackASAP marks the last URB of a bulk batch; it lets Enqueue
	// start the batch without waiting for the next scheduling event.
	FlagGiveBackASAP URBFlags = 1 << iota
)

// URB describes one USB transfer. The caller owns it; the scheduler keeps
// a reference only while the transfer is queued.
type URB struct {
	Pipe PipeInfo

	// Device attachment: speed and, for split transactions, the address
	// and port of the transaction translator hub.
	Speed   hal.Speed
	HubAddr uint8
	HubPort uint8

	// Buf is the CPU view of the data buffer, DMA its bus address.
	Buf          []byte
	DMA          uint64
	Length       uint32
	ActualLength uint32

	// Setup is the 8-byte SETUP packet of a control transfer.
	Setup    []byte
	SetupDMA uint64

	// IsoDescs holds one descriptor per isochronous packet.
	IsoDescs   []IsoPacketDesc
	ErrorCount int

	// Interval is the polling interval of a periodic endpoint in
	// (micro)frames.
	Interval int
	Flags    URBFlags

	// Status is the final status, set before Complete runs.
	Status error

	// Complete is called exactly once when the transfer finishes, fails
	// or is cancelled. It runs without the scheduler lock held and may
	// enqueue new URBs.
	Complete func(u *URB, err error)

	// Context is for the caller's use.
	Context any

	qtd *qtd
}

// URBAlloc returns a URB with room for isoPackets isochronous packet
// descriptors.
func URBAlloc(isoPackets int) *URB {
	u := &URB{}
	if isoPackets > 0 {
		u.IsoDescs = make([]IsoPacketDesc, isoPackets)
	}
	return u
}

// SetPipeInfo sets the endpoint the URB targets.
func (u *URB) SetPipeInfo(devAddr, epNum uint8, typ hal.TransferType, dir Direction, mps uint16) {
	u.Pipe = PipeInfo{
		DevAddr: devAddr,
		EPNum:   epNum,
		Type:    typ,
		Dir:     dir,
		MPS:     mps,
	}
	pkg.LogDebug(pkg.ComponentURB, "pipe info set",
		"dev", devAddr,
		"ep", epNum,
		"type", typ,
		"dir", dir,
		"mps", mps)
}

// SetBuffer sets the data buffer and its bus address.
func (u *URB) SetBuffer(buf []byte, dma uint64) {
	u.Buf = buf
	u.DMA = dma
	u.Length = uint32(len(buf))
}

// SetIsoPacket sets the layout of isochronous packet i.
func (u *URB) SetIsoPacket(i int, offset, length uint32) {
	u.IsoDescs[i].Offset = offset
	u.IsoDescs[i].Length = length
}
