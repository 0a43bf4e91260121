package host

import "github.com/ardnew/otghcd/host/hal"

// Request types (bmRequestType).
const (
	RequestTypeOut    = 0x00 // Host to device
	RequestTypeIn     = 0x80 // Device to host
	RequestTypeClass  = 0x20 // Class-specific request
	RequestTypeDevice = 0x00 // Recipient: device
	RequestTypeOther  = 0x03 // Recipient: other (port)
)

// Standard request codes used by the hub class.
const (
	RequestGetStatus     = 0x00
	RequestClearFeature  = 0x01
	RequestSetFeature    = 0x03
	RequestGetDescriptor = 0x06
)

// Hub class requests, encoded as bmRequestType<<8 | bRequest.
const (
	ClearHubFeature  = (RequestTypeOut|RequestTypeClass|RequestTypeDevice)<<8 | RequestClearFeature
	ClearPortFeature = (RequestTypeOut|RequestTypeClass|RequestTypeOther)<<8 | RequestClearFeature
	GetHubDescriptor = (RequestTypeIn|RequestTypeClass|RequestTypeDevice)<<8 | RequestGetDescriptor
	GetHubStatus     = (RequestTypeIn|RequestTypeClass|RequestTypeDevice)<<8 | RequestGetStatus
	GetPortStatus    = (RequestTypeIn|RequestTypeClass|RequestTypeOther)<<8 | RequestGetStatus
	SetHubFeature    = (RequestTypeOut|RequestTypeClass|RequestTypeDevice)<<8 | RequestSetFeature
	SetPortFeature   = (RequestTypeOut|RequestTypeClass|RequestTypeOther)<<8 | RequestSetFeature
)

// Hub feature selectors.
const (
	HubFeatureCLocalPower  = 0
	HubFeatureCOverCurrent = 1
)

// Port feature selectors (USB 2.0 Table 11-17).
const (
	PortFeatConnection   = 0
	PortFeatEnable       = 1
	PortFeatSuspend      = 2
	PortFeatOverCurrent  = 3
	PortFeatReset        = 4
	PortFeatL1           = 5
	PortFeatPower        = 8
	PortFeatLowSpeed     = 9
	PortFeatCConnection  = 16
	PortFeatCEnable      = 17
	PortFeatCSuspend     = 18
	PortFeatCOverCurrent = 19
	PortFeatCReset       = 20
	PortFeatTest         = 21
	PortFeatIndicator    = 22
	PortFeatCPortL1      = 23
)

// wPortStatus bits.
const (
	PortStatConnection  = 0x0001
	PortStatEnable      = 0x0002
	PortStatSuspend     = 0x0004
	PortStatOverCurrent = 0x0008
	PortStatReset       = 0x0010
	PortStatL1          = 0x0020
	PortStatPower       = 0x0100
	PortStatLowSpeed    = 0x0200
	PortStatHighSpeed   = 0x0400
	PortStatTest        = 0x0800
	PortStatIndicator   = 0x1000
)

// wPortChange bits.
const (
	PortStatCConnection  = 0x0001
	PortStatCEnable      = 0x0002
	PortStatCSuspend     = 0x0004
	PortStatCOverCurrent = 0x0008
	PortStatCReset       = 0x0010
	PortStatCL1          = 0x0020
)

// Hub descriptor layout.
const (
	DescriptorTypeHub = 0x29

	// HubDescriptorSize is the size of the single-port hub descriptor.
	HubDescriptorSize = 9

	// PortStatusSize is the size of a GetPortStatus or GetHubStatus reply.
	PortStatusSize = 4

	hubCharIndividualOverCurrent = 0x0008
)

// Frame number arithmetic.
const (
	frameNumMask = 0x3fff
	nakFrameNone = 0xffff

	// scheduleSlop is how many (micro)frames ahead a new periodic QH is
	// first scheduled.
	scheduleSlop = 10
)

// Transfer limits.
const (
	// MaxChannels is the largest channel count the core can implement.
	MaxChannels = 16

	setupPacketSize   = 8
	statusBufSize     = 64
	isoAlignBufSize   = 4096
	splitMaxPayload   = 188
	maxTransactionErr = 3
)

// frameNumLE reports whether frame a is at or before frame b, accounting
// for wraparound of the 14-bit counter.
func frameNumLE(a, b uint16) bool {
	return (b-a)&frameNumMask <= frameNumMask>>1
}

// frameNumInc advances a frame number by inc with wraparound.
func frameNumInc(frame, inc uint16) uint16 {
	return (frame + inc) & frameNumMask
}

// fullFrameNum converts a micro-frame number to its full frame.
func fullFrameNum(frame uint16) uint16 {
	return (frame & frameNumMask) >> 3
}

// maxPacket extracts the packet size from a wMaxPacketSize value.
func maxPacket(mps uint16) uint16 {
	return mps & 0x7ff
}

// hbMult returns the high-bandwidth transactions per micro-frame encoded
// in a wMaxPacketSize value.
func hbMult(mps uint16) uint8 {
	return uint8(1 + (mps>>11)&3)
}

// Bus time constants, in nanoseconds (USB 2.0 section 5.11.3).
const (
	bwHostDelay   = 1000
	bwHubLSSetup  = 333
	usb2HostDelay = 5
)

// bitTime is the worst-case bit count for a payload, with bit stuffing.
func bitTime(bytes int) int {
	return 7 * 8 * bytes / 6
}

// busTimeNS returns the bus time of one periodic transaction.
func busTimeNS(speed hal.Speed, in, iso bool, bytes int) int {
	switch speed {
	case hal.SpeedLow:
		if in {
			return 64060 + 2*bwHubLSSetup + bwHostDelay + 67667*(31+10*bitTime(bytes))/1000
		}
		return 64107 + 2*bwHubLSSetup + bwHostDelay + 66700*(31+10*bitTime(bytes))/1000
	case hal.SpeedFull:
		tmp := 8354 * (31 + 10*bitTime(bytes)) / 1000
		if !iso {
			return 9107 + bwHostDelay + tmp
		}
		if in {
			return 7268 + bwHostDelay + tmp
		}
		return 6265 + bwHostDelay + tmp
	default:
		if iso {
			return (38*8*2083+2083*(3+bitTime(bytes)))/1000 + usb2HostDelay
		}
		return (55*8*2083+2083*(3+bitTime(bytes)))/1000 + usb2HostDelay
	}
}

// busTimeUS rounds busTimeNS up to microseconds.
func busTimeUS(speed hal.Speed, in, iso bool, bytes int) int {
	return (busTimeNS(speed, in, iso, bytes) + 999) / 1000
}
