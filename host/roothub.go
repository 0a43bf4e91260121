package host

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ardnew/otghcd/host/hal"
	"github.com/ardnew/otghcd/pkg"
)

// HubControl answers a hub class request addressed to the root hub.
// typeReq is bmRequestType<<8 | bRequest. Replies are written to buf.
//
// Port reset, suspend and resume wait with the scheduler lock released.
// Unknown requests, features and port numbers return
// [pkg.ErrInvalidRequest].
func (h *HCD) HubControl(typeReq, wValue, wIndex uint16, buf []byte) error {
	h.lock()
	defer h.unlock()

	switch typeReq {
	case ClearHubFeature, SetHubFeature:
		// The root hub has no hub-level state behind these selectors.
		switch wValue {
		case HubFeatureCLocalPower, HubFeatureCOverCurrent:
			return nil
		}
		return fmt.Errorf("%w: hub feature %#x", pkg.ErrInvalidRequest, wValue)

	case ClearPortFeature:
		if wIndex != 1 {
			return badPort("ClearPortFeature", wIndex)
		}
		return h.clearPortFeature(wValue)

	case GetHubDescriptor:
		if len(buf) < HubDescriptorSize {
			return fmt.Errorf("%w: hub descriptor needs %d bytes", pkg.ErrInvalidParameter, HubDescriptorSize)
		}
		buf[0] = HubDescriptorSize
		buf[1] = DescriptorTypeHub
		buf[2] = 1 // bNbrPorts
		binary.LittleEndian.PutUint16(buf[3:5], hubCharIndividualOverCurrent)
		buf[5] = 1 // bPwrOn2PwrGood
		buf[6] = 0 // bHubContrCurrent
		buf[7] = 0 // DeviceRemovable
		buf[8] = 0xff
		return nil

	case GetHubStatus:
		if len(buf) < PortStatusSize {
			return fmt.Errorf("%w: hub status needs %d bytes", pkg.ErrInvalidParameter, PortStatusSize)
		}
		clear(buf[:PortStatusSize])
		return nil

	case GetPortStatus:
		if wIndex != 1 {
			return badPort("GetPortStatus", wIndex)
		}
		if len(buf) < PortStatusSize {
			return fmt.Errorf("%w: port status needs %d bytes", pkg.ErrInvalidParameter, PortStatusSize)
		}
		status, change := h.portStatus()
		binary.LittleEndian.PutUint16(buf[0:2], status)
		binary.LittleEndian.PutUint16(buf[2:4], change)
		return nil

	case SetPortFeature:
		switch wValue {
		case PortFeatSuspend, PortFeatPower, PortFeatReset, PortFeatIndicator, PortFeatTest:
		default:
			return fmt.Errorf("%w: SetPortFeature %d", pkg.ErrInvalidRequest, wValue)
		}
		if wValue != PortFeatTest && wIndex != 1 {
			return badPort("SetPortFeature", wIndex)
		}
		if !h.flags.connect {
			// Port registers are unusable once the core leaves host mode.
			return nil
		}
		return h.setPortFeature(wValue, wIndex)
	}

	return fmt.Errorf("%w: request %#04x wValue %#x wIndex %#x",
		pkg.ErrInvalidRequest, typeReq, wValue, wIndex)
}

func badPort(req string, wIndex uint16) error {
	return fmt.Errorf("%w: %s port %d", pkg.ErrInvalidRequest, req, wIndex)
}

// portStatus composes wPortStatus and wPortChange.
func (h *HCD) portStatus() (status, change uint16) {
	if h.flags.connectChange {
		change |= PortStatCConnection
	}
	if h.flags.enableChange {
		change |= PortStatCEnable
	}
	if h.flags.suspendChange {
		change |= PortStatCSuspend
	}
	if h.flags.l1Change {
		change |= PortStatCL1
	}
	if h.flags.resetChange {
		change |= PortStatCReset
	}
	if h.flags.overCurrentChange {
		change |= PortStatCOverCurrent
	}

	if !h.flags.connect {
		// Disconnected: the port register may belong to device mode.
		return 0, change
	}

	p := h.ctrl.ReadPort()
	if p.Connected {
		status |= PortStatConnection
	}
	if p.Enabled {
		status |= PortStatEnable
	}
	if p.Suspended {
		status |= PortStatSuspend
	}
	if p.OverCurrent {
		status |= PortStatOverCurrent
	}
	if p.Reset {
		status |= PortStatReset
	}
	if p.Power {
		status |= PortStatPower
	}
	switch p.Speed {
	case hal.SpeedHigh:
		status |= PortStatHighSpeed
	case hal.SpeedLow:
		status |= PortStatLowSpeed
	}
	if p.TestMode != 0 {
		status |= PortStatTest
	}
	return status, change
}

func (h *HCD) clearPortFeature(feature uint16) error {
	switch feature {
	case PortFeatEnable:
		p := h.ctrl.ReadPort().Masked()
		p.Enabled = false
		h.ctrl.WritePort(p)

	case PortFeatSuspend:
		h.ctrl.StopPHYClock(false)
		h.sleepUnlocked(resumeSettle)

		p := h.ctrl.ReadPort().Masked()
		p.Resume = true
		h.ctrl.WritePort(p)
		h.sleepUnlocked(resumeHold)

		p = h.ctrl.ReadPort().Masked()
		p.Resume = false
		p.Suspended = false
		h.ctrl.WritePort(p)
		h.lx = LxL0

	case PortFeatPower:
		p := h.ctrl.ReadPort().Masked()
		p.Power = false
		h.ctrl.WritePort(p)

	case PortFeatIndicator:
		// Not supported.

	case PortFeatCConnection:
		h.flags.connectChange = false
	case PortFeatCReset:
		h.flags.resetChange = false
	case PortFeatCEnable:
		h.flags.enableChange = false
	case PortFeatCSuspend:
		h.flags.suspendChange = false
	case PortFeatCPortL1:
		h.flags.l1Change = false
	case PortFeatCOverCurrent:
		h.flags.overCurrentChange = false

	default:
		return fmt.Errorf("%w: ClearPortFeature %d", pkg.ErrInvalidRequest, feature)
	}

	pkg.LogDebug(pkg.ComponentRootHub, "port feature cleared", "feature", feature)
	return nil
}

func (h *HCD) setPortFeature(feature, wIndex uint16) error {
	switch feature {
	case PortFeatSuspend:
		if wIndex != h.params.OTGPort {
			return badPort("SetPortFeature(SUSPEND)", wIndex)
		}
		h.portSuspend(wIndex)

	case PortFeatPower:
		p := h.ctrl.ReadPort().Masked()
		p.Power = true
		h.ctrl.WritePort(p)

	case PortFeatReset:
		h.ctrl.StopPHYClock(false)
		p := h.ctrl.ReadPort().Masked()
		p.Suspended = false
		// A B-host asserted reset when it started.
		if h.otgState != OTGBHost {
			p.Power = true
			p.Reset = true
		}
		h.ctrl.WritePort(p)

		h.sleepUnlocked(h.params.PortResetHold)

		p = h.ctrl.ReadPort().Masked()
		p.Reset = false
		h.ctrl.WritePort(p)
		h.lx = LxL0
		h.flags.resetChange = true
		pkg.LogInfo(pkg.ComponentRootHub, "port reset", "hold", h.params.PortResetHold)

	case PortFeatIndicator:
		// Not supported.

	case PortFeatTest:
		p := h.ctrl.ReadPort().Masked()
		p.TestMode = uint8(wIndex >> 8)
		h.ctrl.WritePort(p)
	}

	pkg.LogDebug(pkg.ComponentRootHub, "port feature set", "feature", feature)
	return nil
}

// portSuspend suspends the root port and, if the device granted B-HNP,
// arms host HNP and holds the suspend long enough for the role swap.
func (h *HCD) portSuspend(wIndex uint16) {
	if wIndex == h.params.OTGPort && h.hnpEnabled {
		h.ctrl.SetHostHNPEnable(true)
		h.otgState = OTGASuspend
	}

	p := h.ctrl.ReadPort().Masked()
	p.Suspended = true
	h.ctrl.WritePort(p)
	h.lx = LxL2
	h.ctrl.StopPHYClock(true)

	if h.hnpEnabled {
		h.ctrl.StopPHYClock(false)
		h.sleepUnlocked(hnpSuspendHold)
	}
	pkg.LogInfo(pkg.ComponentRootHub, "port suspended", "hnp", h.hnpEnabled)
}

// sleepUnlocked waits with the scheduler lock released. Completions
// collected so far are given back before the wait.
func (h *HCD) sleepUnlocked(d time.Duration) {
	h.unlock()
	h.clock.Sleep(d)
	h.lock()
}

// remoteWakeup latches the change a remote wakeup reports.
func (h *HCD) remoteWakeup() {
	if h.lx == LxL2 {
		h.flags.suspendChange = true
	} else {
		h.flags.l1Change = true
	}
}

// WakeupDetected finishes resume signalling after a remote wakeup and
// returns the port to L0.
func (h *HCD) WakeupDetected() {
	h.lock()
	defer h.unlock()

	p := h.ctrl.ReadPort().Masked()
	p.Resume = false
	h.ctrl.WritePort(p)

	h.remoteWakeup()
	h.lx = LxL0
	pkg.LogInfo(pkg.ComponentRootHub, "remote wakeup")
}

// ResetComplete ends a port reset started outside HubControl, such as
// the one a B-host asserts at start.
func (h *HCD) ResetComplete() {
	h.lock()
	defer h.unlock()

	p := h.ctrl.ReadPort().Masked()
	p.Reset = false
	h.ctrl.WritePort(p)
	h.flags.resetChange = true
}
